// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestParseSize(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"500", 500},
		{"2k", 2_000},
		{"2K", 2_000},
		{"3M", 3_000_000},
		{"1M", 1_000_000},
		{"1G", 1_000_000_000},
	} {
		got, err := parseSize(tc.in)
		if err != nil {
			t.Errorf("%v: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%v: got %v, want %v", tc.in, got, tc.want)
		}
	}
	for _, in := range []string{"", "M", "12x", "k9"} {
		if _, err := parseSize(in); err == nil {
			t.Errorf("%q: expected an error", in)
		}
	}
}

var gzsortBinOnce sync.Once
var gzsortBinPath string
var gzsortBinErr error

func gzsortBin(t *testing.T) string {
	t.Helper()
	gzsortBinOnce.Do(func() {
		dir, err := os.MkdirTemp("", "gzsort-bin")
		if err != nil {
			gzsortBinErr = err
			return
		}
		gzsortBinPath = filepath.Join(dir, "gzsort")
		cmd := exec.Command("go", "build", "-o", gzsortBinPath, ".")
		out, err := cmd.CombinedOutput()
		if err != nil {
			gzsortBinErr = fmt.Errorf("%s: %v", out, err)
		}
	})
	if gzsortBinErr != nil {
		t.Fatal(gzsortBinErr)
	}
	return gzsortBinPath
}

func gzsortCmd(t *testing.T, args ...string) (string, int, error) {
	t.Helper()
	cmd := exec.Command(gzsortBin(t), args...)
	output, err := cmd.CombinedOutput()
	code := 0
	if exit, ok := err.(*exec.ExitError); ok {
		code = exit.ExitCode()
	}
	return string(output), code, err
}

func writeGzLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	for _, l := range lines {
		if _, err := zw.Write(append([]byte(l), '\n')); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func readGzLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := zr.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	text := strings.TrimSuffix(sb.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestCmdSort(t *testing.T) {
	tmpdir := t.TempDir()
	src := filepath.Join(tmpdir, "in.gz")
	dst := filepath.Join(tmpdir, "out.gz")
	writeGzLines(t, src, []string{"b", "a", "c", "a"})

	out, _, err := gzsortCmd(t, src, dst)
	if err != nil {
		t.Fatalf("%v: %v", out, err)
	}
	if got, want := readGzLines(t, dst), []string{"a", "a", "b", "c"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}

	out, _, err = gzsortCmd(t, "-u", "-S", "1k", src, dst)
	if err != nil {
		t.Fatalf("%v: %v", out, err)
	}
	if !strings.Contains(out, "removed 1 non-unique lines") {
		t.Errorf("missing removed-lines report: %v", out)
	}
	if got, want := readGzLines(t, dst), []string{"a", "b", "c"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCmdParallelSort(t *testing.T) {
	tmpdir := t.TempDir()
	src := filepath.Join(tmpdir, "in.gz")
	dst := filepath.Join(tmpdir, "out.gz")
	writeGzLines(t, src, []string{"e", "c", "d", "a", "b"})

	out, _, err := gzsortCmd(t, "-P", "2", src, dst)
	if err != nil {
		t.Fatalf("%v: %v", out, err)
	}
	if got, want := readGzLines(t, dst), []string{"a", "b", "c", "d", "e"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCmdUsage(t *testing.T) {
	out, code, err := gzsortCmd(t, "only-one-arg")
	if err == nil {
		t.Fatal("expected a usage failure")
	}
	if code != 2 {
		t.Errorf("got exit code %v, want 2", code)
	}
	if !strings.Contains(out, "use: gzsort") {
		t.Errorf("missing usage text: %v", out)
	}

	out, code, err = gzsortCmd(t, "-S", "nonsense", "a.gz", "b.gz")
	if err == nil || code != 2 {
		t.Fatalf("got exit code %v (%v), want 2", code, err)
	}
	if !strings.Contains(out, "bad presort size") {
		t.Errorf("missing or wrong error message: %v", out)
	}
}

func TestCmdErrors(t *testing.T) {
	tmpdir := t.TempDir()
	plain := filepath.Join(tmpdir, "plain.gz")
	if err := os.WriteFile(plain, []byte("not compressed\n"), 0600); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(tmpdir, "out.gz")

	out, code, err := gzsortCmd(t, plain, dst)
	if err == nil || !strings.Contains(out, "not a gzip stream") {
		t.Fatalf("missing or wrong error message: %v: %v", out, err)
	}
	if code != 1 {
		t.Errorf("got exit code %v, want 1", code)
	}

	missing := filepath.Join(tmpdir, "missing.gz")
	out, code, err = gzsortCmd(t, missing, dst)
	if err == nil || code != 1 {
		t.Fatalf("got exit code %v (%v: %v), want 1", code, out, err)
	}
}

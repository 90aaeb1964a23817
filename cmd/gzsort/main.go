// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cloudeng.io/cmdutil"
	"cloudeng.io/cmdutil/flags"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/cosnicolaou/gzsort"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/schollz/progressbar/v2"
	"golang.org/x/crypto/ssh/terminal"
)

type mainFlags struct {
	Unique      bool   `subcmd:"u,false,'emit only the first occurrence of each distinct line'"`
	Size        string `subcmd:"S,1M,'presort byte budget with optional k/M/G suffix'"`
	Parallel    int    `subcmd:"P,0,'number of parallel workers (max 64); 0 for single-threaded'"`
	PassThrough bool   `subcmd:"T,false,'decompress and recompress without sorting (codec baseline)'"`
	Verbose     bool   `subcmd:"v,false,'verbose debug/trace information'"`
}

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(fs.Output(),
			"perform a merge sort over a multi-GB gz compressed file\n\n"+
				"use: gzsort [-u] [-S n] [-P n] [-T] source.gz dest.gz\n\n"+
				"source.gz may be a local path, an s3 path or a URL;\n"+
				"dest.gz and its temporaries are local\n\n"+
				"options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(),
			"\nestimated disk use: 2x source.gz\n")
	}
}

// parseSize parses an integer with an optional k/K (1e3), M (1e6) or
// G (1e9) suffix.
func parseSize(v string) (int64, error) {
	mult := int64(1)
	switch {
	case strings.HasSuffix(v, "k"), strings.HasSuffix(v, "K"):
		mult, v = 1_000, v[:len(v)-1]
	case strings.HasSuffix(v, "M"):
		mult, v = 1_000_000, v[:len(v)-1]
	case strings.HasSuffix(v, "G"):
		mult, v = 1_000_000_000, v[:len(v)-1]
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmdutil.HandleSignals(cancel, os.Interrupt)

	fs := flag.NewFlagSet("gzsort", flag.ExitOnError)
	cl := &mainFlags{}
	if err := flags.RegisterFlagsInStruct(fs, "subcmd", cl, nil, nil); err != nil {
		panic(err)
	}
	fs.Usage = usage(fs)
	fs.Parse(os.Args[1:])
	args := fs.Args()
	if len(args) != 2 {
		fs.Usage()
		os.Exit(2)
	}
	source, dest := args[0], args[1]

	budget, err := parseSize(cl.Size)
	if err != nil || budget <= 0 {
		fmt.Fprintf(os.Stderr, "gzsort: bad presort size %q\n", cl.Size)
		fs.Usage()
		os.Exit(2)
	}
	if cl.Parallel < 0 || cl.Parallel > gzsort.MaxWorkers {
		fmt.Fprintf(os.Stderr, "gzsort: -P must be between 0 and %v\n", gzsort.MaxWorkers)
		fs.Usage()
		os.Exit(2)
	}
	budget = gzsort.AdjustPresortBytes(budget)

	if cl.PassThrough {
		if err := passThrough(ctx, cl, source, dest); err != nil {
			fmt.Fprintf(os.Stderr, "gzsort: %v\n", err)
			os.Exit(1)
		}
		return
	}

	res, err := gzsort.Sort(ctx, source, dest,
		gzsort.Unique(cl.Unique),
		gzsort.PresortBytes(budget),
		gzsort.Parallelism(cl.Parallel),
		gzsort.Verbose(cl.Verbose))
	if err != nil {
		fmt.Fprintf(os.Stderr, "gzsort: %v\n", err)
		os.Exit(1)
	}
	if cl.Unique {
		fmt.Printf("removed %d non-unique lines\n", res.Removed)
	}
}

func passThrough(ctx context.Context, cl *mainFlags, source, dest string) error {
	opts := []gzsort.Option{gzsort.Verbose(cl.Verbose)}
	if terminal.IsTerminal(int(os.Stderr.Fd())) {
		if info, err := file.Stat(ctx, source); err == nil {
			size := info.Size()
			bar := progressbar.NewOptions64(size,
				progressbar.OptionSetBytes64(size),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetPredictTime(true))
			bar.RenderBlank()
			opts = append(opts, gzsort.ReadProgress(func(n int) {
				bar.Add(n)
			}))
			defer fmt.Fprintln(os.Stderr)
		}
	}
	_, err := gzsort.PassThrough(ctx, source, dest, opts...)
	return err
}

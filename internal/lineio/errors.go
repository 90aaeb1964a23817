// Copyright 2024 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package lineio

import "errors"

// ErrNotGzip is wrapped into the error returned by Open when the
// source exists but is not a valid gzip stream.
var ErrNotGzip = errors.New("not a gzip stream")

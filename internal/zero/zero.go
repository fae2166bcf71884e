// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero contains functions to clear sensitive data from memory.
package zero

// Bytes sets all bytes in the passed slice to zero.  This is used to
// explicitly clear private key material from memory.  The range form compiles
// to an optimized memclr.
func Bytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

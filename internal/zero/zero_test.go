// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zero

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	t.Parallel()

	b := []byte{1, 2, 3, 4, 5}
	Bytes(b)
	require.Equal(t, make([]byte, 5), b)

	// Zeroing an empty slice must not panic.
	Bytes(nil)
}

// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const validWIF = "5HueCGU8rMjxEXxiPuD5BDku4MkFqeZyd4dZ1jvhTVqvbTLvyTJ"

func TestPublisherKeyRetriesUntilValid(t *testing.T) {
	t.Parallel()

	input := strings.NewReader("\nnot-a-key\n" + validWIF + "\n")
	key, err := PublisherKey(input)
	require.NoError(t, err)
	require.Equal(t, validWIF, key)
}

func TestPublisherKeyNoTrailingNewline(t *testing.T) {
	t.Parallel()

	key, err := PublisherKey(strings.NewReader(validWIF))
	require.NoError(t, err)
	require.Equal(t, validWIF, key)
}

func TestPublisherKeyExhaustedInput(t *testing.T) {
	t.Parallel()

	_, err := PublisherKey(strings.NewReader("garbage\n"))
	require.Error(t, err)
}

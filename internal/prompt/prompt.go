// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prompt provides interactive prompts for secrets that should be kept
// out of config files and command lines.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"golang.org/x/term"

	"github.com/swvote/creatord/internal/zero"
)

// PublisherKey prompts for the WIF-encoded private key of the publishing
// account.  The prompt is repeated until a decodable key is entered.  When r
// is an interactive terminal the key is read with echo disabled.
func PublisherKey(r io.Reader) (string, error) {
	reader := bufio.NewReader(r)
	for {
		fmt.Print("Enter the publishing account's private key (WIF): ")
		keyStr, err := readSecretLine(r, reader)
		if err != nil {
			return "", err
		}
		fmt.Print("\n")

		keyStr = strings.TrimSpace(keyStr)
		if keyStr == "" {
			continue
		}
		if _, err := btcutil.DecodeWIF(keyStr); err != nil {
			fmt.Printf("Invalid key specified: %v\n", err)
			continue
		}
		return keyStr, nil
	}
}

// readSecretLine reads a single line without echo when r is a terminal, and
// from the buffered reader otherwise.  The raw bytes of a terminal read are
// zeroed before returning.
func readSecretLine(r io.Reader, reader *bufio.Reader) (string, error) {
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		line := string(secret)
		zero.Bytes(secret)
		return line, nil
	}

	line, err := reader.ReadString('\n')
	if err == io.EOF && line == "" {
		// Exhausted input can never satisfy the prompt loop.
		return "", io.ErrUnexpectedEOF
	}
	if err != nil && err != io.EOF {
		return "", err
	}
	return line, nil
}

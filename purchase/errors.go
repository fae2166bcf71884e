// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package purchase

import (
	"errors"
	"fmt"
)

var (
	// ErrPublisherKeyInvalid means the configured publishing key is
	// missing or cannot be decoded.  This is a server misconfiguration:
	// it is reported, never retried.
	ErrPublisherKeyInvalid = errors.New(
		"publishing key is missing or invalid",
	)

	// ErrSessionReleased is returned when quoting or subscribing on a
	// session after its owner released it.
	ErrSessionReleased = errors.New("purchase session was released")
)

// ConfigurationFault wraps a server-side misconfiguration discovered while
// operating: an unregistered publishing account or payment asset, or an
// unusable publishing key.  Retrying cannot fix missing configuration, so
// callers log it and fail the affected operation.
type ConfigurationFault struct {
	Detail string
	Err    error
}

func (f *ConfigurationFault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("server misconfiguration: %s: %v",
			f.Detail, f.Err)
	}
	return fmt.Sprintf("server misconfiguration: %s", f.Detail)
}

func (f *ConfigurationFault) Unwrap() error { return f.Err }

func configFault(detail string, err error) error {
	return &ConfigurationFault{Detail: detail, Err: err}
}

// Copyright (c) 2016 The swvote developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"strings"
)

// semverAlphabet is an alphabet of all characters allowed in semver prerelease
// identifiers, and the . separator.
const semverAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

// Constants defining the application version number.
const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

// appPreRelease MUST only contain characters from semverAlphabet per the
// semantic versioning spec.
var appPreRelease = "beta"

// appBuild is defined as a variable so it can be overridden during the build
// process with '-ldflags "-X main.appBuild=foo"' if needed.  It MUST only
// contain characters from semverAlphabet per the semantic versioning spec.
var appBuild string

// version returns the application version as a properly formed string per the
// semantic versioning 2.0.0 spec (http://semver.org/).
func version() string {
	// Start with the major, minor, and patch versions.
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)

	// Append pre-release version if there is one.  The hyphen called for
	// by the semantic versioning spec is automatically appended and should
	// not be contained in the pre-release string.
	if appPreRelease != "" {
		version = fmt.Sprintf("%s-%s",
			version, normalizeVerString(appPreRelease))
	}

	// Append build metadata if there is any.  The plus called for
	// by the semantic versioning spec is automatically appended and should
	// not be contained in the build metadata string.
	if appBuild != "" {
		version = fmt.Sprintf("%s+%s",
			version, normalizeVerString(appBuild))
	}

	return version
}

// normalizeVerString returns the passed string stripped of all characters
// which are not valid according to the semantic versioning guidelines for
// pre-release and build metadata strings.
func normalizeVerString(str string) string {
	var result bytes.Buffer
	for _, r := range str {
		if strings.ContainsRune(semverAlphabet, r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

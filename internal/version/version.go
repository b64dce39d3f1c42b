// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version houses the version information of anond.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// semanticAlphabet defines the allowed characters for the pre-release and
// build metadata portions of a semantic version string.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

var (
	// Version is the application version per the semantic versioning 2.0.0
	// spec (https://semver.org/).  It may be overridden at build time with:
	// '-ldflags "-X github.com/anonsend/anond/internal/version.Version=fullsemver"'
	//
	// It MUST be a full semantic version or the package will panic at
	// runtime.
	Version = "0.12.1-pre"

	// The semantic version components parsed from Version by init.
	Major         uint
	Minor         uint
	Patch         uint
	PreRelease    string
	BuildMetadata string
)

// parseSemVer parses the components of the semantic version s.
func parseSemVer(s string) (major, minor, patch uint, pre, build string, err error) {
	core := s
	if i := strings.IndexByte(core, '+'); i >= 0 {
		core, build = core[:i], core[i+1:]
		if build == "" {
			return 0, 0, 0, "", "", fmt.Errorf("malformed version %q: "+
				"empty build metadata", s)
		}
	}
	if i := strings.IndexByte(core, '-'); i >= 0 {
		core, pre = core[:i], core[i+1:]
		if pre == "" {
			return 0, 0, 0, "", "", fmt.Errorf("malformed version %q: "+
				"empty pre-release", s)
		}
	}
	for _, field := range []string{pre, build} {
		if strings.ContainsRune(field, '+') {
			return 0, 0, 0, "", "", fmt.Errorf("malformed version %q", s)
		}
		for _, r := range field {
			if !strings.ContainsRune(semanticAlphabet, r) {
				return 0, 0, 0, "", "", fmt.Errorf("malformed version "+
					"%q: %q invalid", s, r)
			}
		}
	}

	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return 0, 0, 0, "", "", fmt.Errorf("malformed version %q: want "+
			"MAJOR.MINOR.PATCH", s)
	}
	var nums [3]uint
	for i, part := range parts {
		if len(part) > 1 && part[0] == '0' {
			return 0, 0, 0, "", "", fmt.Errorf("malformed version %q: "+
				"leading zero", s)
		}
		v, err := strconv.ParseUint(part, 10, 0)
		if err != nil {
			return 0, 0, 0, "", "", fmt.Errorf("malformed version %q: %w",
				s, err)
		}
		nums[i] = uint(v)
	}
	return nums[0], nums[1], nums[2], pre, build, nil
}

func init() {
	var err error
	Major, Minor, Patch, PreRelease, BuildMetadata, err = parseSemVer(Version)
	if err != nil {
		panic(err)
	}
	if BuildMetadata == "" {
		BuildMetadata = vcsCommitID()
		if BuildMetadata != "" {
			Version = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
			if PreRelease != "" {
				Version += "-" + PreRelease
			}
			Version += "+" + BuildMetadata
		}
	}
}

// String returns the application version.
func String() string {
	return Version
}

// UserAgent returns the user agent advertised to peers.
func UserAgent() string {
	return fmt.Sprintf("/anond:%d.%d.%d/", Major, Minor, Patch)
}

// NormalizeString returns str stripped of all characters that are not valid
// in pre-release and build metadata strings.
func NormalizeString(str string) string {
	var b strings.Builder
	for _, r := range str {
		if strings.ContainsRune(semanticAlphabet, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

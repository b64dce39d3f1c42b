// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import (
	"strings"
	"testing"
)

// TestParseSemVer ensures semantic version strings are parsed into their
// components and malformed ones are rejected.
func TestParseSemVer(t *testing.T) {
	tests := []struct {
		name    string
		s       string
		major   uint
		minor   uint
		patch   uint
		pre     string
		build   string
		invalid bool
	}{{
		name:  "release",
		s:     "1.2.3",
		major: 1, minor: 2, patch: 3,
	}, {
		name:  "pre-release",
		s:     "0.12.1-pre",
		major: 0, minor: 12, patch: 1,
		pre: "pre",
	}, {
		name:  "pre-release and build",
		s:     "10.20.30-rc.1+release.local",
		major: 10, minor: 20, patch: 30,
		pre: "rc.1", build: "release.local",
	}, {
		name:  "build only",
		s:     "1.0.0+abc123",
		major: 1, build: "abc123",
	}, {
		name:    "missing patch",
		s:       "1.2",
		invalid: true,
	}, {
		name:    "leading zero",
		s:       "01.2.3",
		invalid: true,
	}, {
		name:    "not a number",
		s:       "1.x.3",
		invalid: true,
	}, {
		name:    "empty pre-release",
		s:       "1.2.3-",
		invalid: true,
	}, {
		name:    "invalid pre-release character",
		s:       "1.2.3-pre_1",
		invalid: true,
	}, {
		name:    "second build separator",
		s:       "1.2.3+a+b",
		invalid: true,
	}}

	for _, test := range tests {
		major, minor, patch, pre, build, err := parseSemVer(test.s)
		if test.invalid {
			if err == nil {
				t.Errorf("%q: expected error", test.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", test.name, err)
			continue
		}
		if major != test.major || minor != test.minor ||
			patch != test.patch || pre != test.pre || build != test.build {

			t.Errorf("%q: got %d.%d.%d-%s+%s", test.name, major, minor,
				patch, pre, build)
		}
	}
}

// TestNormalizeString ensures characters outside the semantic alphabet are
// removed.
func TestNormalizeString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "abc123", want: "abc123"},
		{in: "a b_c!d", want: "abcd"},
		{in: "rc.1-x", want: "rc.1-x"},
		{in: "", want: ""},
	}
	for _, test := range tests {
		if got := NormalizeString(test.in); got != test.want {
			t.Errorf("%q: got %q, want %q", test.in, got, test.want)
		}
	}
}

// TestUserAgent ensures the user agent carries the numeric version.
func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "/anond:") || !strings.HasSuffix(ua, "/") {
		t.Fatalf("malformed user agent %q", ua)
	}
	if !strings.HasPrefix(String(), strings.Trim(ua[len("/anond:"):], "/")) {
		t.Fatalf("user agent %q does not match version %q", ua, String())
	}
}

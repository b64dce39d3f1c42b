// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import "runtime/debug"

// vcsCommitID returns the short commit the binary was built from, if the
// toolchain recorded one.
func vcsCommitID() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var vcs, revision string
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs":
			vcs = bs.Value
		case "vcs.revision":
			revision = bs.Value
		}
	}
	if vcs == "git" && len(revision) > 9 {
		revision = revision[:9]
	}
	if vcs == "" {
		return ""
	}
	return NormalizeString(revision)
}

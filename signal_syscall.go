// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.
//
//go:build aix || android || darwin || dragonfly || freebsd || illumos || ios || linux || netbsd || openbsd || solaris

package main

import (
	"syscall"
)

func init() {
	interruptSignals = append(interruptSignals, syscall.SIGTERM, syscall.SIGHUP)
}

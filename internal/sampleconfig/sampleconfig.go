// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package sampleconfig provides the commented example config for anond.
package sampleconfig

import (
	_ "embed"
)

// sampleAnondConf is a string containing the commented example config for
// anond.
//
//go:embed sample-anond.conf
var sampleAnondConf string

// Anond returns a string containing the commented example config for anond.
func Anond() string {
	return sampleAnondConf
}

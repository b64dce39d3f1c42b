// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"fmt"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrUnknownCmd indicates a message with an unknown command.
	ErrUnknownCmd = ErrorKind("ErrUnknownCmd")

	// ErrMalformedCmd indicates a command that is not strict ASCII.
	ErrMalformedCmd = ErrorKind("ErrMalformedCmd")

	// ErrWrongNetwork indicates a message for a different network.
	ErrWrongNetwork = ErrorKind("ErrWrongNetwork")

	// ErrPayloadTooLarge indicates a payload that exceeds the maximum
	// allowed for the message type.
	ErrPayloadTooLarge = ErrorKind("ErrPayloadTooLarge")

	// ErrPayloadChecksum indicates a payload that does not match the
	// header checksum.
	ErrPayloadChecksum = ErrorKind("ErrPayloadChecksum")

	// ErrTooManyInputs indicates a message with more inputs than allowed.
	ErrTooManyInputs = ErrorKind("ErrTooManyInputs")

	// ErrTooManyOutputs indicates a message with more outputs than allowed.
	ErrTooManyOutputs = ErrorKind("ErrTooManyOutputs")

	// ErrMsgInvalidForPVer indicates a message that may not be sent at the
	// negotiated protocol version.
	ErrMsgInvalidForPVer = ErrorKind("ErrMsgInvalidForPVer")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// MessageError describes an issue with a message.
type MessageError struct {
	Func        string // Function name
	Err         error  // Underlying error
	Description string // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e MessageError) Error() string {
	if e.Func != "" {
		return fmt.Sprintf("%v: %v", e.Func, e.Description)
	}
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e MessageError) Unwrap() error {
	return e.Err
}

// messageError creates a MessageError given a set of arguments.
func messageError(fn string, kind ErrorKind, desc string) MessageError {
	return MessageError{Func: fn, Err: kind, Description: desc}
}

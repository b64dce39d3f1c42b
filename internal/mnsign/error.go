// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnsign

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrSigningFailed indicates a message could not be signed.
	ErrSigningFailed = ErrorKind("ErrSigningFailed")

	// ErrMalformedSignature indicates a signature from which no public key
	// can be recovered.
	ErrMalformedSignature = ErrorKind("ErrMalformedSignature")

	// ErrKeyMismatch indicates the recovered key does not match the key the
	// message was expected to be signed by.
	ErrKeyMismatch = ErrorKind("ErrKeyMismatch")

	// ErrInvalidKey indicates a private or public key that could not be
	// decoded.
	ErrInvalidKey = ErrorKind("ErrInvalidKey")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to message signing.  It has full
// support for errors.Is and errors.As, so the caller can ascertain the
// specific reason for the error by checking the underlying error.
type Error struct {
	Err         error
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// signError creates an Error given a set of arguments.
func signError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}

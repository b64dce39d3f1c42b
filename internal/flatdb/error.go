// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package flatdb

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrFileNotFound indicates the cache file does not exist.
	ErrFileNotFound = ErrorKind("ErrFileNotFound")

	// ErrChecksumMismatch indicates the trailing checksum does not match
	// the file contents.
	ErrChecksumMismatch = ErrorKind("ErrChecksumMismatch")

	// ErrIncorrectMagic indicates the file was written for a different
	// table.
	ErrIncorrectMagic = ErrorKind("ErrIncorrectMagic")

	// ErrIncorrectNetwork indicates the file was written for a different
	// network.
	ErrIncorrectNetwork = ErrorKind("ErrIncorrectNetwork")

	// ErrMalformedBody indicates the table could not be deserialized.
	ErrMalformedBody = ErrorKind("ErrMalformedBody")

	// ErrIO indicates a failure reading or writing the file.
	ErrIO = ErrorKind("ErrIO")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a cache persistence error.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason
// for the error by checking the underlying error.
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

// dbError creates an Error given a set of arguments.
func dbError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}

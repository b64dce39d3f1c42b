// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payments

import (
	"errors"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrUnknownBlock indicates a vote for a height whose scoring block is
	// not known.
	ErrUnknownBlock = ErrorKind("ErrUnknownBlock")

	// ErrOutOfRange indicates a vote for a height outside of the window of
	// heights that are tracked.
	ErrOutOfRange = ErrorKind("ErrOutOfRange")

	// ErrUnknownMasternode indicates a vote cast by a masternode that is
	// not in the registry.
	ErrUnknownMasternode = ErrorKind("ErrUnknownMasternode")

	// ErrObsoleteVersion indicates a vote cast by a masternode running a
	// protocol version that may not vote.
	ErrObsoleteVersion = ErrorKind("ErrObsoleteVersion")

	// ErrNotRanked indicates a vote cast by a masternode ranked outside of
	// the voting quorum for the height.
	ErrNotRanked = ErrorKind("ErrNotRanked")

	// ErrBadSignature indicates a vote signature that does not verify.
	ErrBadSignature = ErrorKind("ErrBadSignature")

	// ErrAlreadyVoted indicates a second vote by the same masternode for
	// the same height.
	ErrAlreadyVoted = ErrorKind("ErrAlreadyVoted")

	// ErrMissingPayment indicates a block that does not pay a payee that
	// reached the signature quorum.
	ErrMissingPayment = ErrorKind("ErrMissingPayment")

	// ErrNoWinner indicates no masternode is eligible for payment.
	ErrNoWinner = ErrorKind("ErrNoWinner")

	// ErrRateLimited indicates a peer asked for the vote list again.
	ErrRateLimited = ErrorKind("ErrRateLimited")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rejected vote or block.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason
// for the error by checking the underlying error.
type RuleError struct {
	Err         error
	Description string
	BanScore    uint32
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e RuleError) Unwrap() error {
	return e.Err
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc}
}

// BanScore returns the misbehavior score carried by err, if any.
func BanScore(err error) uint32 {
	var e RuleError
	if errors.As(err, &e) {
		return e.BanScore
	}
	return 0
}

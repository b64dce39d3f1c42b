// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anonsend

import (
	"errors"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrNotMasternode indicates a session request sent to a node that
	// does not run an active masternode.
	ErrNotMasternode = ErrorKind("ErrNotMasternode")

	// ErrInvalidDenom indicates a zero or malformed denomination bitmask.
	ErrInvalidDenom = ErrorKind("ErrInvalidDenom")

	// ErrInvalidCollateral indicates a pledged collateral transaction that
	// fails the collateral rules.
	ErrInvalidCollateral = ErrorKind("ErrInvalidCollateral")

	// ErrInvalidInput indicates a null, unknown or negative valued entry
	// input.
	ErrInvalidInput = ErrorKind("ErrInvalidInput")

	// ErrNonStandardScript indicates an entry output that does not pay to a
	// standard script.
	ErrNonStandardScript = ErrorKind("ErrNonStandardScript")

	// ErrFeesTooHigh indicates an entry whose inputs exceed its outputs by
	// more than the allowed fee.
	ErrFeesTooHigh = ErrorKind("ErrFeesTooHigh")

	// ErrPoolFull indicates an entry submitted to a session that already
	// holds the maximum number of entries.
	ErrPoolFull = ErrorKind("ErrPoolFull")

	// ErrDuplicateInput indicates an entry claiming an input that another
	// entry of the session already claimed.
	ErrDuplicateInput = ErrorKind("ErrDuplicateInput")

	// ErrIncompatibleMode indicates a request that the session can not
	// accept in its current state.
	ErrIncompatibleMode = ErrorKind("ErrIncompatibleMode")

	// ErrDenomMismatch indicates a request for a denomination other than
	// the one the session locked in.
	ErrDenomMismatch = ErrorKind("ErrDenomMismatch")

	// ErrRecentQueue indicates the local masternode advertised a queue too
	// recently to open another session.
	ErrRecentQueue = ErrorKind("ErrRecentQueue")

	// ErrSessionMismatch indicates a message for a session other than the
	// current one.
	ErrSessionMismatch = ErrorKind("ErrSessionMismatch")

	// ErrBadSignature indicates a signature or signature script that does
	// not verify.
	ErrBadSignature = ErrorKind("ErrBadSignature")

	// ErrDuplicateSignature indicates a signature that was already
	// applied.
	ErrDuplicateSignature = ErrorKind("ErrDuplicateSignature")

	// ErrInvalidTx indicates a transaction rejected by the chain.
	ErrInvalidTx = ErrorKind("ErrInvalidTx")

	// ErrQueueExpired indicates a queue advertisement older than the queue
	// timeout.
	ErrQueueExpired = ErrorKind("ErrQueueExpired")

	// ErrUnknownMasternode indicates a message referencing a masternode that
	// is not in the registry.
	ErrUnknownMasternode = ErrorKind("ErrUnknownMasternode")

	// ErrObsoleteVersion indicates a masternode running a protocol version
	// below the mixing minimum.
	ErrObsoleteVersion = ErrorKind("ErrObsoleteVersion")

	// ErrTooManyQueues indicates a masternode advertising queues faster than
	// its fair share.
	ErrTooManyQueues = ErrorKind("ErrTooManyQueues")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rejected mixing message.  It has full support for
// errors.Is and errors.As, so the caller can ascertain the specific reason
// for the error by checking the underlying error.
//
// BanScore is the misbehavior score the sending peer should be charged.
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

// ruleError creates a RuleError that does not penalize the sender.
func ruleError(kind ErrorKind, desc string) RuleError {
	return RuleError{Err: kind, Description: desc}
}

// bannableError creates a RuleError charging the sender score points.
func bannableError(kind ErrorKind, desc string, score uint32) RuleError {
	return RuleError{Err: kind, Description: desc, BanScore: score}
}

// BanScore returns the misbehavior score carried by err, if any.
func BanScore(err error) uint32 {
	var e RuleError
	if errors.As(err, &e) {
		return e.BanScore
	}
	return 0
}

// description returns the text reported to a participant for err.
func description(err error) string {
	var e RuleError
	if errors.As(err, &e) {
		return e.Description
	}
	return err.Error()
}

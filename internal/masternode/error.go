// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"errors"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is
// and errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

const (
	// ErrFutureTimestamp indicates a signature time too far in the future.
	ErrFutureTimestamp = ErrorKind("ErrFutureTimestamp")

	// ErrStaleTimestamp indicates a signature time too far in the past.
	ErrStaleTimestamp = ErrorKind("ErrStaleTimestamp")

	// ErrBadSignature indicates a signature that does not verify.
	ErrBadSignature = ErrorKind("ErrBadSignature")

	// ErrUnknownBlock indicates a ping anchored to an unknown block.
	ErrUnknownBlock = ErrorKind("ErrUnknownBlock")

	// ErrStaleBlock indicates a ping anchored to a block too far behind the
	// tip.
	ErrStaleBlock = ErrorKind("ErrStaleBlock")

	// ErrTooFrequent indicates a ping or broadcast arriving before the
	// minimum interval elapsed.
	ErrTooFrequent = ErrorKind("ErrTooFrequent")

	// ErrObsoleteVersion indicates a protocol version below the network
	// minimum.
	ErrObsoleteVersion = ErrorKind("ErrObsoleteVersion")

	// ErrBadPubKey indicates a public key that does not produce a standard
	// payment script.
	ErrBadPubKey = ErrorKind("ErrBadPubKey")

	// ErrSignedInput indicates an announcement whose collateral input
	// carries a signature script.
	ErrSignedInput = ErrorKind("ErrSignedInput")

	// ErrBadPort indicates an address that does not use the network
	// default port.
	ErrBadPort = ErrorKind("ErrBadPort")

	// ErrBadAddress indicates an address that can not be parsed or is not
	// routable.
	ErrBadAddress = ErrorKind("ErrBadAddress")

	// ErrDuplicate indicates an announcement that is not newer than the
	// known record.
	ErrDuplicate = ErrorKind("ErrDuplicate")

	// ErrUnknownMasternode indicates a message referencing a masternode
	// that is not in the registry.
	ErrUnknownMasternode = ErrorKind("ErrUnknownMasternode")

	// ErrCollateralMissing indicates collateral that is spent or unknown.
	ErrCollateralMissing = ErrorKind("ErrCollateralMissing")

	// ErrCollateralAmount indicates collateral of the wrong size.
	ErrCollateralAmount = ErrorKind("ErrCollateralAmount")

	// ErrCollateralPayee indicates collateral not payable to the announced
	// collateral key.
	ErrCollateralPayee = ErrorKind("ErrCollateralPayee")

	// ErrCollateralTooNew indicates collateral with too few confirmations.
	ErrCollateralTooNew = ErrorKind("ErrCollateralTooNew")

	// ErrRateLimited indicates a peer asked for the full list too often.
	ErrRateLimited = ErrorKind("ErrRateLimited")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// RuleError identifies a rejected masternode message.  It has full support
// for errors.Is and errors.As, so the caller can ascertain the specific
// reason for the error by checking the underlying error.
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

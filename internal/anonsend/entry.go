// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anonsend

import (
	"bytes"
	"time"

	"github.com/anonsend/anond/internal/masternode"
	"github.com/decred/dcrd/wire"
	"github.com/jrick/bitset"
)

// entryInput is an input claimed by an entry together with the output it
// spends, which its signature is verified against.
type entryInput struct {
	outPoint    wire.OutPoint
	valueIn     int64
	prevVersion uint16
	prevScript  []byte
	sigScript   []byte
}

// Entry is one participant's contribution to a session.
type Entry struct {
	peer       masternode.Peer
	inputs     []entryInput
	amount     int64
	collateral *wire.MsgTx
	outputs    []*wire.TxOut
	added      time.Time

	// signed has bit i set once inputs[i] carries a verified signature.
	signed bitset.Bytes
}

// newEntry returns an entry with no signed inputs.
func newEntry(peer masternode.Peer, inputs []entryInput, amount int64, collateral *wire.MsgTx, outputs []*wire.TxOut, added time.Time) *Entry {
	return &Entry{
		peer:       peer,
		inputs:     inputs,
		amount:     amount,
		collateral: collateral,
		outputs:    outputs,
		added:      added,
		signed:     bitset.NewBytes(len(inputs)),
	}
}

// IsExpired reports whether the entry waited longer than the queue timeout.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.Sub(e.added) > QueueTimeout
}

// hasInput reports whether the entry claims op.
func (e *Entry) hasInput(op *wire.OutPoint) bool {
	return e.inputIndex(op) >= 0
}

// inputIndex returns the index of the input claiming op or -1.
func (e *Entry) inputIndex(op *wire.OutPoint) int {
	for i := range e.inputs {
		if e.inputs[i].outPoint == *op {
			return i
		}
	}
	return -1
}

// isSigned reports whether every input carries a verified signature.
func (e *Entry) isSigned() bool {
	for i := range e.inputs {
		if !e.signed.Get(i) {
			return false
		}
	}
	return true
}

// unsigned returns the number of inputs without a signature.
func (e *Entry) unsigned() int {
	var n int
	for i := range e.inputs {
		if !e.signed.Get(i) {
			n++
		}
	}
	return n
}

// hasSignature reports whether input i already carries sigScript.
func (e *Entry) hasSignature(i int, sigScript []byte) bool {
	return e.signed.Get(i) && bytes.Equal(e.inputs[i].sigScript, sigScript)
}

// setSignature records a verified signature script for input i.
func (e *Entry) setSignature(i int, sigScript []byte) {
	e.inputs[i].sigScript = sigScript
	e.signed.Set(i)
}

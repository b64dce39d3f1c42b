// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"bytes"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// MsgPaymentVote is a masternode's signed assertion that PayeeScript should
// be paid at BlockHeight.
//
// It implements the wire.Message interface.
type MsgPaymentVote struct {
	Vin          wire.OutPoint
	BlockHeight  int64
	PayeeVersion uint16
	PayeeScript  []byte
	Sig          []byte
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgPaymentVote) BtcDecode(r io.Reader, pver uint32) error {
	if err := readOutPoint(r, &msg.Vin); err != nil {
		return err
	}
	var err error
	if msg.BlockHeight, err = readInt64(r); err != nil {
		return err
	}
	var version [2]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return err
	}
	msg.PayeeVersion = littleEndian.Uint16(version[:])
	msg.PayeeScript, err = wire.ReadVarBytes(r, pver, MaxScriptSize,
		"PayeeScript")
	if err != nil {
		return err
	}
	msg.Sig, err = wire.ReadVarBytes(r, pver, MaxSigSize, "Sig")
	return err
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgPaymentVote) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeOutPoint(w, &msg.Vin); err != nil {
		return err
	}
	if err := writeInt64(w, msg.BlockHeight); err != nil {
		return err
	}
	var version [2]byte
	littleEndian.PutUint16(version[:], msg.PayeeVersion)
	if _, err := w.Write(version[:]); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.PayeeScript); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, msg.Sig)
}

// SignatureMessage returns the string committed to by Sig.
func (msg *MsgPaymentVote) SignatureMessage() string {
	return msg.Vin.String() + strconv.FormatInt(msg.BlockHeight, 10) +
		hex.EncodeToString(msg.PayeeScript)
}

// Hash returns the identifier used to deduplicate votes.
func (msg *MsgPaymentVote) Hash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Write(msg.PayeeScript)
	writeInt64(&buf, msg.BlockHeight)
	writeOutPoint(&buf, &msg.Vin)
	return chainhash.HashH(buf.Bytes())
}

// Command returns the protocol command string for the message.
func (msg *MsgPaymentVote) Command() string { return CmdPaymentVote }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgPaymentVote) MaxPayloadLength(pver uint32) uint32 {
	return outPointSize + 10 + 2*wire.MaxVarIntPayload + MaxScriptSize +
		MaxSigSize
}

// MsgWinnersRequest asks a peer for the payment votes it knows about for
// upcoming heights.  Count is the number of heights the requester wants.
//
// It implements the wire.Message interface.
type MsgWinnersRequest struct {
	Count uint32
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgWinnersRequest) BtcDecode(r io.Reader, pver uint32) error {
	count, err := readUint32(r)
	msg.Count = count
	return err
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgWinnersRequest) BtcEncode(w io.Writer, pver uint32) error {
	return writeUint32(w, msg.Count)
}

// Command returns the protocol command string for the message.
func (msg *MsgWinnersRequest) Command() string { return CmdWinnersRequest }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgWinnersRequest) MaxPayloadLength(pver uint32) uint32 { return 4 }

// Sync asset identifiers carried by MsgSyncCount.
const (
	SyncAssetList    uint32 = 2
	SyncAssetWinners uint32 = 3
)

// MsgSyncCount tells a syncing peer how many items of an asset were sent in
// reply to its request.
//
// It implements the wire.Message interface.
type MsgSyncCount struct {
	Asset uint32
	Count uint32
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgSyncCount) BtcDecode(r io.Reader, pver uint32) error {
	var err error
	if msg.Asset, err = readUint32(r); err != nil {
		return err
	}
	msg.Count, err = readUint32(r)
	return err
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgSyncCount) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeUint32(w, msg.Asset); err != nil {
		return err
	}
	return writeUint32(w, msg.Count)
}

// Command returns the protocol command string for the message.
func (msg *MsgSyncCount) Command() string { return CmdSyncCount }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgSyncCount) MaxPayloadLength(pver uint32) uint32 { return 8 }

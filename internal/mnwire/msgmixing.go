// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"fmt"
	"io"
	"strconv"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// MsgJoinRequest asks a masternode to admit the sender into a mixing session
// for the given denomination.  The pledged collateral transaction is
// forfeited if the sender fails to cooperate.
//
// It implements the wire.Message interface.
type MsgJoinRequest struct {
	Denom      uint32
	Collateral wire.MsgTx
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgJoinRequest) BtcDecode(r io.Reader, pver uint32) error {
	denom, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.Denom = denom
	return readTx(r, pver, &msg.Collateral)
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgJoinRequest) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeUint32(w, msg.Denom); err != nil {
		return err
	}
	return writeTx(w, pver, &msg.Collateral)
}

// Command returns the protocol command string for the message.
func (msg *MsgJoinRequest) Command() string { return CmdJoinRequest }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgJoinRequest) MaxPayloadLength(pver uint32) uint32 {
	return 4 + maxTxPayload
}

// MsgStatusUpdate reports the state of the session hosted by a masternode
// to a participant.  It doubles as the reply to a join request.
//
// It implements the wire.Message interface.
type MsgStatusUpdate struct {
	SessionID  uint32
	State      uint32
	EntryCount uint32
	Accepted   bool
	Error      string
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgStatusUpdate) BtcDecode(r io.Reader, pver uint32) error {
	var err error
	if msg.SessionID, err = readUint32(r); err != nil {
		return err
	}
	if msg.State, err = readUint32(r); err != nil {
		return err
	}
	if msg.EntryCount, err = readUint32(r); err != nil {
		return err
	}
	if msg.Accepted, err = readBool(r); err != nil {
		return err
	}
	b, err := wire.ReadVarBytes(r, pver, MaxErrorSize, "Error")
	if err != nil {
		return err
	}
	msg.Error = string(b)
	return nil
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgStatusUpdate) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeUint32(w, msg.SessionID); err != nil {
		return err
	}
	if err := writeUint32(w, msg.State); err != nil {
		return err
	}
	if err := writeUint32(w, msg.EntryCount); err != nil {
		return err
	}
	if err := writeBool(w, msg.Accepted); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, []byte(msg.Error))
}

// Command returns the protocol command string for the message.
func (msg *MsgStatusUpdate) Command() string { return CmdStatusUpdate }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgStatusUpdate) MaxPayloadLength(pver uint32) uint32 {
	return 13 + wire.MaxVarIntPayload + MaxErrorSize
}

// MsgSubmitEntry carries a participant's inputs, outputs and collateral to
// the masternode hosting the session.
//
// It implements the wire.Message interface.
type MsgSubmitEntry struct {
	Inputs     []*wire.TxIn
	Amount     int64
	Collateral wire.MsgTx
	Outputs    []*wire.TxOut
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgSubmitEntry) BtcDecode(r io.Reader, pver uint32) error {
	const op = "MsgSubmitEntry.BtcDecode"
	ins, err := readTxIns(op, r, pver)
	if err != nil {
		return err
	}
	msg.Inputs = ins
	if msg.Amount, err = readInt64(r); err != nil {
		return err
	}
	if err := readTx(r, pver, &msg.Collateral); err != nil {
		return err
	}
	outs, err := readTxOuts(op, r, pver)
	if err != nil {
		return err
	}
	msg.Outputs = outs
	return nil
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgSubmitEntry) BtcEncode(w io.Writer, pver uint32) error {
	const op = "MsgSubmitEntry.BtcEncode"
	if err := writeTxIns(op, w, pver, msg.Inputs); err != nil {
		return err
	}
	if err := writeInt64(w, msg.Amount); err != nil {
		return err
	}
	if err := writeTx(w, pver, &msg.Collateral); err != nil {
		return err
	}
	return writeTxOuts(op, w, pver, msg.Outputs)
}

// Command returns the protocol command string for the message.
func (msg *MsgSubmitEntry) Command() string { return CmdSubmitEntry }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgSubmitEntry) MaxPayloadLength(pver uint32) uint32 {
	return 3 * maxTxPayload
}

// MsgFinalTx delivers the assembled joint transaction to every participant
// for signing.
//
// It implements the wire.Message interface.
type MsgFinalTx struct {
	SessionID uint32
	Tx        wire.MsgTx
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgFinalTx) BtcDecode(r io.Reader, pver uint32) error {
	id, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.SessionID = id
	return readTx(r, pver, &msg.Tx)
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgFinalTx) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeUint32(w, msg.SessionID); err != nil {
		return err
	}
	return writeTx(w, pver, &msg.Tx)
}

// Command returns the protocol command string for the message.
func (msg *MsgFinalTx) Command() string { return CmdFinalTx }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgFinalTx) MaxPayloadLength(pver uint32) uint32 {
	return 4 + maxTxPayload
}

// MsgSignatures returns a participant's signed inputs of the joint
// transaction.
//
// It implements the wire.Message interface.
type MsgSignatures struct {
	Inputs []*wire.TxIn
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgSignatures) BtcDecode(r io.Reader, pver uint32) error {
	ins, err := readTxIns("MsgSignatures.BtcDecode", r, pver)
	if err != nil {
		return err
	}
	msg.Inputs = ins
	return nil
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgSignatures) BtcEncode(w io.Writer, pver uint32) error {
	return writeTxIns("MsgSignatures.BtcEncode", w, pver, msg.Inputs)
}

// Command returns the protocol command string for the message.
func (msg *MsgSignatures) Command() string { return CmdSignatures }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgSignatures) MaxPayloadLength(pver uint32) uint32 {
	return maxTxPayload
}

// MsgCompletion tells participants the session has ended.
//
// It implements the wire.Message interface.
type MsgCompletion struct {
	SessionID uint32
	Error     bool
	Message   string
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgCompletion) BtcDecode(r io.Reader, pver uint32) error {
	var err error
	if msg.SessionID, err = readUint32(r); err != nil {
		return err
	}
	if msg.Error, err = readBool(r); err != nil {
		return err
	}
	b, err := wire.ReadVarBytes(r, pver, MaxErrorSize, "Message")
	if err != nil {
		return err
	}
	msg.Message = string(b)
	return nil
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgCompletion) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeUint32(w, msg.SessionID); err != nil {
		return err
	}
	if err := writeBool(w, msg.Error); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, []byte(msg.Message))
}

// Command returns the protocol command string for the message.
func (msg *MsgCompletion) Command() string { return CmdCompletion }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgCompletion) MaxPayloadLength(pver uint32) uint32 {
	return 5 + wire.MaxVarIntPayload + MaxErrorSize
}

// MsgQueue advertises a session that is open for joining, or ready for
// entries to be submitted when Ready is set.
//
// It implements the wire.Message interface.
type MsgQueue struct {
	Vin   wire.OutPoint
	Denom uint32
	Time  int64
	Ready bool
	Sig   []byte
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgQueue) BtcDecode(r io.Reader, pver uint32) error {
	var err error
	if err = readOutPoint(r, &msg.Vin); err != nil {
		return err
	}
	if msg.Denom, err = readUint32(r); err != nil {
		return err
	}
	if msg.Time, err = readInt64(r); err != nil {
		return err
	}
	if msg.Ready, err = readBool(r); err != nil {
		return err
	}
	msg.Sig, err = wire.ReadVarBytes(r, pver, MaxSigSize, "Sig")
	return err
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgQueue) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeOutPoint(w, &msg.Vin); err != nil {
		return err
	}
	if err := writeUint32(w, msg.Denom); err != nil {
		return err
	}
	if err := writeInt64(w, msg.Time); err != nil {
		return err
	}
	if err := writeBool(w, msg.Ready); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, msg.Sig)
}

// SignatureMessage returns the string committed to by Sig.
func (msg *MsgQueue) SignatureMessage() string {
	return msg.Vin.String() + strconv.FormatUint(uint64(msg.Denom), 10) +
		strconv.FormatInt(msg.Time, 10) + strconv.FormatBool(msg.Ready)
}

// Command returns the protocol command string for the message.
func (msg *MsgQueue) Command() string { return CmdQueue }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgQueue) MaxPayloadLength(pver uint32) uint32 {
	return outPointSize + 13 + wire.MaxVarIntPayload + MaxSigSize
}

// MsgBroadcastTx relays a finished mixing transaction together with a
// signature from the masternode that hosted the session.
//
// It implements the wire.Message interface.
type MsgBroadcastTx struct {
	Tx      wire.MsgTx
	Vin     wire.OutPoint
	Sig     []byte
	SigTime int64
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgBroadcastTx) BtcDecode(r io.Reader, pver uint32) error {
	if err := readTx(r, pver, &msg.Tx); err != nil {
		return err
	}
	if err := readOutPoint(r, &msg.Vin); err != nil {
		return err
	}
	var err error
	if msg.Sig, err = wire.ReadVarBytes(r, pver, MaxSigSize, "Sig"); err != nil {
		return err
	}
	msg.SigTime, err = readInt64(r)
	return err
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgBroadcastTx) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeTx(w, pver, &msg.Tx); err != nil {
		return err
	}
	if err := writeOutPoint(w, &msg.Vin); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.Sig); err != nil {
		return err
	}
	return writeInt64(w, msg.SigTime)
}

// SignatureMessage returns the string committed to by Sig.
func (msg *MsgBroadcastTx) SignatureMessage() string {
	return msg.Tx.TxHash().String() + strconv.FormatInt(msg.SigTime, 10)
}

// Hash returns the hash of the relayed transaction.
func (msg *MsgBroadcastTx) Hash() chainhash.Hash {
	return msg.Tx.TxHash()
}

// Command returns the protocol command string for the message.
func (msg *MsgBroadcastTx) Command() string { return CmdBroadcastTx }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgBroadcastTx) MaxPayloadLength(pver uint32) uint32 {
	return maxTxPayload + outPointSize + wire.MaxVarIntPayload + MaxSigSize + 8
}

// String returns a short description of the advertisement.
func (msg *MsgQueue) String() string {
	return fmt.Sprintf("dsq vin %v denom %d time %d ready %v", msg.Vin,
		msg.Denom, msg.Time, msg.Ready)
}

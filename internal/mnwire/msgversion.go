// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"io"

	"github.com/decred/dcrd/wire"
)

// MsgVersion opens a connection and advertises the sender's masternode
// protocol version.
//
// It implements the wire.Message interface.
type MsgVersion struct {
	ProtocolVersion uint32
	Addr            string
	Nonce           uint64
	LastBlock       int64
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgVersion) BtcDecode(r io.Reader, pver uint32) error {
	var err error
	if msg.ProtocolVersion, err = readUint32(r); err != nil {
		return err
	}
	addr, err := wire.ReadVarBytes(r, pver, MaxAddrSize, "Addr")
	if err != nil {
		return err
	}
	msg.Addr = string(addr)
	nonce, err := readInt64(r)
	if err != nil {
		return err
	}
	msg.Nonce = uint64(nonce)
	msg.LastBlock, err = readInt64(r)
	return err
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgVersion) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeUint32(w, msg.ProtocolVersion); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, []byte(msg.Addr)); err != nil {
		return err
	}
	if err := writeInt64(w, int64(msg.Nonce)); err != nil {
		return err
	}
	return writeInt64(w, msg.LastBlock)
}

// Command returns the protocol command string for the message.
func (msg *MsgVersion) Command() string { return CmdVersion }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgVersion) MaxPayloadLength(pver uint32) uint32 {
	return 20 + wire.MaxVarIntPayload + MaxAddrSize
}

// MsgVerAck acknowledges a version message.
//
// It implements the wire.Message interface.
type MsgVerAck struct{}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgVerAck) BtcDecode(r io.Reader, pver uint32) error { return nil }

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgVerAck) BtcEncode(w io.Writer, pver uint32) error { return nil }

// Command returns the protocol command string for the message.
func (msg *MsgVerAck) Command() string { return CmdVerAck }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgVerAck) MaxPayloadLength(pver uint32) uint32 { return 0 }

// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"bytes"
	"io"
	"strconv"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// MsgMNPing is a chain-anchored liveness heartbeat signed by a masternode's
// hot key.
//
// It implements the wire.Message interface.
type MsgMNPing struct {
	Vin       wire.OutPoint
	BlockHash chainhash.Hash
	SigTime   int64
	Sig       []byte
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgMNPing) BtcDecode(r io.Reader, pver uint32) error {
	if err := readOutPoint(r, &msg.Vin); err != nil {
		return err
	}
	if err := readHash(r, &msg.BlockHash); err != nil {
		return err
	}
	var err error
	if msg.SigTime, err = readInt64(r); err != nil {
		return err
	}
	msg.Sig, err = wire.ReadVarBytes(r, pver, MaxSigSize, "Sig")
	return err
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgMNPing) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeOutPoint(w, &msg.Vin); err != nil {
		return err
	}
	if err := writeHash(w, &msg.BlockHash); err != nil {
		return err
	}
	if err := writeInt64(w, msg.SigTime); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, msg.Sig)
}

// SignatureMessage returns the string committed to by Sig.
func (msg *MsgMNPing) SignatureMessage() string {
	return msg.Vin.String() + msg.BlockHash.String() +
		strconv.FormatInt(msg.SigTime, 10)
}

// Hash returns the identifier used to deduplicate pings.
func (msg *MsgMNPing) Hash() chainhash.Hash {
	var buf bytes.Buffer
	writeOutPoint(&buf, &msg.Vin)
	writeInt64(&buf, msg.SigTime)
	return chainhash.HashH(buf.Bytes())
}

// Command returns the protocol command string for the message.
func (msg *MsgMNPing) Command() string { return CmdMNPing }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgMNPing) MaxPayloadLength(pver uint32) uint32 {
	return outPointSize + chainhash.HashSize + 8 + wire.MaxVarIntPayload +
		MaxSigSize
}

// MsgMNBroadcast announces a masternode: its collateral, address, keys and
// protocol version, signed by the collateral key, together with an initial
// liveness ping.
//
// It implements the wire.Message interface.
type MsgMNBroadcast struct {
	Vin wire.OutPoint

	// VinScript is the signature script of the collateral input.  Valid
	// announcements reference clean collateral and leave it empty.
	VinScript []byte

	Addr             string
	CollateralPubKey []byte
	HotPubKey        []byte
	Sig              []byte
	SigTime          int64
	ProtocolVersion  uint32
	LastPing         MsgMNPing
	LastDsq          int64
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgMNBroadcast) BtcDecode(r io.Reader, pver uint32) error {
	if err := readOutPoint(r, &msg.Vin); err != nil {
		return err
	}
	vinScript, err := wire.ReadVarBytes(r, pver, MaxScriptSize, "VinScript")
	if err != nil {
		return err
	}
	msg.VinScript = vinScript
	addr, err := wire.ReadVarBytes(r, pver, MaxAddrSize, "Addr")
	if err != nil {
		return err
	}
	msg.Addr = string(addr)
	msg.CollateralPubKey, err = wire.ReadVarBytes(r, pver, MaxPubKeySize,
		"CollateralPubKey")
	if err != nil {
		return err
	}
	msg.HotPubKey, err = wire.ReadVarBytes(r, pver, MaxPubKeySize, "HotPubKey")
	if err != nil {
		return err
	}
	if msg.Sig, err = wire.ReadVarBytes(r, pver, MaxSigSize, "Sig"); err != nil {
		return err
	}
	if msg.SigTime, err = readInt64(r); err != nil {
		return err
	}
	if msg.ProtocolVersion, err = readUint32(r); err != nil {
		return err
	}
	if err := msg.LastPing.BtcDecode(r, pver); err != nil {
		return err
	}
	msg.LastDsq, err = readInt64(r)
	return err
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgMNBroadcast) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeOutPoint(w, &msg.Vin); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.VinScript); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, []byte(msg.Addr)); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.CollateralPubKey); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.HotPubKey); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.Sig); err != nil {
		return err
	}
	if err := writeInt64(w, msg.SigTime); err != nil {
		return err
	}
	if err := writeUint32(w, msg.ProtocolVersion); err != nil {
		return err
	}
	if err := msg.LastPing.BtcEncode(w, pver); err != nil {
		return err
	}
	return writeInt64(w, msg.LastDsq)
}

// SignatureMessage returns the string committed to by Sig.
func (msg *MsgMNBroadcast) SignatureMessage() string {
	return msg.Addr + strconv.FormatInt(msg.SigTime, 10) +
		string(msg.CollateralPubKey) + string(msg.HotPubKey) +
		strconv.FormatUint(uint64(msg.ProtocolVersion), 10)
}

// Hash returns the identifier used to deduplicate broadcasts.
func (msg *MsgMNBroadcast) Hash() chainhash.Hash {
	var buf bytes.Buffer
	writeInt64(&buf, msg.SigTime)
	buf.Write(msg.CollateralPubKey)
	return chainhash.HashH(buf.Bytes())
}

// Command returns the protocol command string for the message.
func (msg *MsgMNBroadcast) Command() string { return CmdMNBroadcast }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgMNBroadcast) MaxPayloadLength(pver uint32) uint32 {
	return outPointSize + 5*wire.MaxVarIntPayload + MaxScriptSize + MaxAddrSize +
		2*MaxPubKeySize + MaxSigSize + 12 + msg.LastPing.MaxPayloadLength(pver) + 8
}

// MsgListRequest asks a peer for its masternode list.  A zero Vin requests
// the full list, otherwise only the entry for that collateral.
//
// It implements the wire.Message interface.
type MsgListRequest struct {
	Vin wire.OutPoint
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgListRequest) BtcDecode(r io.Reader, pver uint32) error {
	return readOutPoint(r, &msg.Vin)
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgListRequest) BtcEncode(w io.Writer, pver uint32) error {
	return writeOutPoint(w, &msg.Vin)
}

// Full reports whether the full list is requested.
func (msg *MsgListRequest) Full() bool {
	return msg.Vin == wire.OutPoint{}
}

// Command returns the protocol command string for the message.
func (msg *MsgListRequest) Command() string { return CmdListRequest }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgListRequest) MaxPayloadLength(pver uint32) uint32 {
	return outPointSize
}

// MsgLegacyAnnounce is the legacy masternode registration message spoken by
// peers at or below the legacy protocol version.  Field order is fixed by
// those peers.
//
// It implements the wire.Message interface.
type MsgLegacyAnnounce struct {
	Vin              wire.OutPoint
	Addr             string
	Sig              []byte
	SigTime          int64
	CollateralPubKey []byte
	HotPubKey        []byte
	Count            int32
	Current          int32
	LastUpdated      int64
	ProtocolVersion  uint32
	DonationScript   []byte
	DonationPercent  int32
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgLegacyAnnounce) BtcDecode(r io.Reader, pver uint32) error {
	if err := readOutPoint(r, &msg.Vin); err != nil {
		return err
	}
	addr, err := wire.ReadVarBytes(r, pver, MaxAddrSize, "Addr")
	if err != nil {
		return err
	}
	msg.Addr = string(addr)
	if msg.Sig, err = wire.ReadVarBytes(r, pver, MaxSigSize, "Sig"); err != nil {
		return err
	}
	if msg.SigTime, err = readInt64(r); err != nil {
		return err
	}
	msg.CollateralPubKey, err = wire.ReadVarBytes(r, pver, MaxPubKeySize,
		"CollateralPubKey")
	if err != nil {
		return err
	}
	msg.HotPubKey, err = wire.ReadVarBytes(r, pver, MaxPubKeySize, "HotPubKey")
	if err != nil {
		return err
	}
	count, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.Count = int32(count)
	current, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.Current = int32(current)
	if msg.LastUpdated, err = readInt64(r); err != nil {
		return err
	}
	if msg.ProtocolVersion, err = readUint32(r); err != nil {
		return err
	}
	msg.DonationScript, err = wire.ReadVarBytes(r, pver, MaxScriptSize,
		"DonationScript")
	if err != nil {
		return err
	}
	percent, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.DonationPercent = int32(percent)
	return nil
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgLegacyAnnounce) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeOutPoint(w, &msg.Vin); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, []byte(msg.Addr)); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.Sig); err != nil {
		return err
	}
	if err := writeInt64(w, msg.SigTime); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.CollateralPubKey); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.HotPubKey); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(msg.Count)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(msg.Current)); err != nil {
		return err
	}
	if err := writeInt64(w, msg.LastUpdated); err != nil {
		return err
	}
	if err := writeUint32(w, msg.ProtocolVersion); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.DonationScript); err != nil {
		return err
	}
	return writeUint32(w, uint32(msg.DonationPercent))
}

// SignatureMessage returns the string committed to by Sig.
func (msg *MsgLegacyAnnounce) SignatureMessage() string {
	return msg.Addr + strconv.FormatInt(msg.SigTime, 10) +
		string(msg.CollateralPubKey) + string(msg.HotPubKey) +
		strconv.FormatUint(uint64(msg.ProtocolVersion), 10) +
		string(msg.DonationScript) +
		strconv.FormatInt(int64(msg.DonationPercent), 10)
}

// Command returns the protocol command string for the message.
func (msg *MsgLegacyAnnounce) Command() string { return CmdLegacyAnnounce }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgLegacyAnnounce) MaxPayloadLength(pver uint32) uint32 {
	return outPointSize + 5*wire.MaxVarIntPayload + MaxAddrSize + MaxSigSize +
		2*MaxPubKeySize + MaxScriptSize + 32
}

// MsgLegacyPing is the legacy liveness ping.  Stop announces that the
// masternode is shutting down.
//
// It implements the wire.Message interface.
type MsgLegacyPing struct {
	Vin     wire.OutPoint
	Sig     []byte
	SigTime int64
	Stop    bool
}

// BtcDecode decodes r into the receiver.  This is part of the wire.Message
// interface implementation.
func (msg *MsgLegacyPing) BtcDecode(r io.Reader, pver uint32) error {
	if err := readOutPoint(r, &msg.Vin); err != nil {
		return err
	}
	var err error
	if msg.Sig, err = wire.ReadVarBytes(r, pver, MaxSigSize, "Sig"); err != nil {
		return err
	}
	if msg.SigTime, err = readInt64(r); err != nil {
		return err
	}
	msg.Stop, err = readBool(r)
	return err
}

// BtcEncode encodes the receiver to w.  This is part of the wire.Message
// interface implementation.
func (msg *MsgLegacyPing) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeOutPoint(w, &msg.Vin); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, pver, msg.Sig); err != nil {
		return err
	}
	if err := writeInt64(w, msg.SigTime); err != nil {
		return err
	}
	return writeBool(w, msg.Stop)
}

// SignatureMessage returns the string committed to by Sig.
func (msg *MsgLegacyPing) SignatureMessage() string {
	return msg.Vin.String() + strconv.FormatInt(msg.SigTime, 10) +
		strconv.FormatBool(msg.Stop)
}

// Command returns the protocol command string for the message.
func (msg *MsgLegacyPing) Command() string { return CmdLegacyPing }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgLegacyPing) MaxPayloadLength(pver uint32) uint32 {
	return outPointSize + wire.MaxVarIntPayload + MaxSigSize + 9
}

// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mnwire implements the masternode, payment and mixing protocol
// messages.
//
// Every message implements wire.Message and is framed with the standard
// header (network magic, command, payload length and checksum), so messages
// are written with wire.WriteMessageN.  ReadMessage mirrors
// wire.ReadMessageN for the commands defined here.
package mnwire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// Commands used in message headers which describe the type of message.
const (
	CmdVersion        = "version"
	CmdVerAck         = "verack"
	CmdJoinRequest    = "dsa"
	CmdStatusUpdate   = "dssu"
	CmdSubmitEntry    = "dsi"
	CmdFinalTx        = "dsf"
	CmdSignatures     = "dss"
	CmdCompletion     = "dsc"
	CmdQueue          = "dsq"
	CmdBroadcastTx    = "dstx"
	CmdMNBroadcast    = "mnb"
	CmdMNPing         = "mnp"
	CmdListRequest    = "dseg"
	CmdLegacyAnnounce = "dsee"
	CmdLegacyPing     = "dseep"
	CmdPaymentVote    = "mnw"
	CmdWinnersRequest = "mnget"
	CmdSyncCount      = "ssc"
)

// makeEmptyMessage creates a message of the appropriate concrete type based
// on the command.
func makeEmptyMessage(command string) (wire.Message, error) {
	const op = "makeEmptyMessage"
	var msg wire.Message
	switch command {
	case CmdVersion:
		msg = &MsgVersion{}
	case CmdVerAck:
		msg = &MsgVerAck{}
	case CmdJoinRequest:
		msg = &MsgJoinRequest{}
	case CmdStatusUpdate:
		msg = &MsgStatusUpdate{}
	case CmdSubmitEntry:
		msg = &MsgSubmitEntry{}
	case CmdFinalTx:
		msg = &MsgFinalTx{}
	case CmdSignatures:
		msg = &MsgSignatures{}
	case CmdCompletion:
		msg = &MsgCompletion{}
	case CmdQueue:
		msg = &MsgQueue{}
	case CmdBroadcastTx:
		msg = &MsgBroadcastTx{}
	case CmdMNBroadcast:
		msg = &MsgMNBroadcast{}
	case CmdMNPing:
		msg = &MsgMNPing{}
	case CmdListRequest:
		msg = &MsgListRequest{}
	case CmdLegacyAnnounce:
		msg = &MsgLegacyAnnounce{}
	case CmdLegacyPing:
		msg = &MsgLegacyPing{}
	case CmdPaymentVote:
		msg = &MsgPaymentVote{}
	case CmdWinnersRequest:
		msg = &MsgWinnersRequest{}
	case CmdSyncCount:
		msg = &MsgSyncCount{}
	default:
		str := fmt.Sprintf("unhandled command [%s]", command)
		return nil, messageError(op, ErrUnknownCmd, str)
	}
	return msg, nil
}

// isStrictASCII returns whether the provided string only contains printable
// ASCII characters.
func isStrictASCII(s string) bool {
	for _, c := range []byte(s) {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// WriteMessage writes msg to w including the message header.
func WriteMessage(w io.Writer, msg wire.Message, pver uint32, net wire.CurrencyNet) error {
	_, err := wire.WriteMessageN(w, msg, pver, net)
	return err
}

// ReadMessage reads, validates, and parses the next message from r for the
// provided protocol version and network.  It returns the number of bytes
// read along with the parsed message.
func ReadMessage(r io.Reader, pver uint32, net wire.CurrencyNet) (int, wire.Message, error) {
	const op = "ReadMessage"

	var hdr [wire.MessageHeaderSize]byte
	n, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return n, nil, err
	}
	magic := wire.CurrencyNet(littleEndian.Uint32(hdr[0:4]))
	command := string(bytes.TrimRight(hdr[4:4+wire.CommandSize], "\x00"))
	length := littleEndian.Uint32(hdr[16:20])
	checksum := hdr[20:24]

	if length > wire.MaxMessagePayload {
		str := fmt.Sprintf("message payload is too large - header "+
			"indicates %d bytes, but max message payload is %d bytes.",
			length, wire.MaxMessagePayload)
		return n, nil, messageError(op, ErrPayloadTooLarge, str)
	}
	if magic != net {
		str := fmt.Sprintf("message from other network [%v]", magic)
		return n, nil, messageError(op, ErrWrongNetwork, str)
	}
	if !isStrictASCII(command) {
		str := fmt.Sprintf("invalid command %v", []byte(command))
		return n, nil, messageError(op, ErrMalformedCmd, str)
	}

	msg, err := makeEmptyMessage(command)
	if err != nil {
		// Drain the payload so the stream stays aligned for the next
		// message.
		m, _ := io.CopyN(io.Discard, r, int64(length))
		return n + int(m), nil, err
	}
	if mpl := msg.MaxPayloadLength(pver); length > mpl {
		str := fmt.Sprintf("payload exceeds max length - header "+
			"indicates %v bytes, but max payload size for messages of "+
			"type [%v] is %v.", length, command, mpl)
		return n, nil, messageError(op, ErrPayloadTooLarge, str)
	}

	payload := make([]byte, length)
	m, err := io.ReadFull(r, payload)
	n += m
	if err != nil {
		return n, nil, err
	}
	sum := chainhash.HashB(payload)[0:4]
	if !bytes.Equal(sum, checksum) {
		str := fmt.Sprintf("payload checksum failed - header indicates %x, "+
			"but actual checksum is %x.", checksum, sum)
		return n, nil, messageError(op, ErrPayloadChecksum, str)
	}

	if err := msg.BtcDecode(bytes.NewBuffer(payload), pver); err != nil {
		return n, nil, err
	}
	return n, msg, nil
}

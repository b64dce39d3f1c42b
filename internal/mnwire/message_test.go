// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

const testPver = 70077

func testBroadcast() *MsgMNBroadcast {
	vin := wire.OutPoint{Hash: chainhash.HashH([]byte("collateral")), Index: 1}
	return &MsgMNBroadcast{
		Vin:              vin,
		VinScript:        []byte{},
		Addr:             "10.0.0.1:9108",
		CollateralPubKey: bytes.Repeat([]byte{0x02}, 33),
		HotPubKey:        bytes.Repeat([]byte{0x03}, 33),
		Sig:              bytes.Repeat([]byte{0x1f}, 65),
		SigTime:          1700000000,
		ProtocolVersion:  testPver,
		LastPing: MsgMNPing{
			Vin:       vin,
			BlockHash: chainhash.HashH([]byte("block")),
			SigTime:   1700000100,
			Sig:       bytes.Repeat([]byte{0x20}, 65),
		},
		LastDsq: 7,
	}
}

// TestReadMessageFraming ensures framed messages decode back to the same
// values and the stream remains aligned across consecutive messages.
func TestReadMessageFraming(t *testing.T) {
	net := wire.MainNet
	mnb := testBroadcast()
	entry := &MsgSubmitEntry{
		Inputs: []*wire.TxIn{wire.NewTxIn(&mnb.Vin, 100, nil)},
		Amount: 100,
		Outputs: []*wire.TxOut{
			wire.NewTxOut(100, []byte{0x76, 0xa9}),
		},
	}
	entry.Collateral.Version = 1
	entry.Collateral.AddTxOut(wire.NewTxOut(5, []byte{0x51}))

	var buf bytes.Buffer
	for _, msg := range []wire.Message{mnb, &MsgVerAck{}, entry} {
		if err := WriteMessage(&buf, msg, testPver, net); err != nil {
			t.Fatalf("WriteMessage(%s): %v", msg.Command(), err)
		}
	}

	_, got, err := ReadMessage(&buf, testPver, net)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !reflect.DeepEqual(got, mnb) {
		t.Fatalf("mismatched broadcast\ngot: %v\nwant: %v", spew.Sdump(got),
			spew.Sdump(mnb))
	}
	if _, got, err = ReadMessage(&buf, testPver, net); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, ok := got.(*MsgVerAck); !ok {
		t.Fatalf("expected verack, got %T", got)
	}
	if _, got, err = ReadMessage(&buf, testPver, net); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	gotEntry := got.(*MsgSubmitEntry)
	if gotEntry.Amount != 100 || len(gotEntry.Inputs) != 1 ||
		gotEntry.Inputs[0].PreviousOutPoint != mnb.Vin ||
		gotEntry.Collateral.TxHash() != entry.Collateral.TxHash() {

		t.Fatalf("mismatched entry: %v", spew.Sdump(gotEntry))
	}
}

// TestReadMessageErrors ensures malformed frames are rejected with the
// expected error kinds.
func TestReadMessageErrors(t *testing.T) {
	var good bytes.Buffer
	if err := WriteMessage(&good, &MsgSyncCount{Asset: 2, Count: 9}, testPver,
		wire.MainNet); err != nil {
		t.Fatal(err)
	}

	badChecksum := append([]byte(nil), good.Bytes()...)
	badChecksum[len(badChecksum)-1] ^= 0xff

	var unknown bytes.Buffer
	wire.WriteMessageN(&unknown, &wire.MsgPing{Nonce: 1}, testPver, wire.MainNet)
	unknown.Write(good.Bytes())

	tests := []struct {
		name    string
		raw     []byte
		net     wire.CurrencyNet
		wantErr error
	}{{
		name:    "wrong network",
		raw:     good.Bytes(),
		net:     wire.TestNet3,
		wantErr: ErrWrongNetwork,
	}, {
		name:    "bad checksum",
		raw:     badChecksum,
		net:     wire.MainNet,
		wantErr: ErrPayloadChecksum,
	}, {
		name:    "unknown command",
		raw:     unknown.Bytes(),
		net:     wire.MainNet,
		wantErr: ErrUnknownCmd,
	}}

	for _, test := range tests {
		r := bytes.NewReader(test.raw)
		_, _, err := ReadMessage(r, testPver, test.net)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: mismatched err -- got %v, want %v", test.name,
				err, test.wantErr)
		}
	}

	// The payload of an unknown message is skipped so the next message is
	// still readable.
	r := bytes.NewReader(unknown.Bytes())
	ReadMessage(r, testPver, wire.MainNet)
	_, msg, err := ReadMessage(r, testPver, wire.MainNet)
	if err != nil {
		t.Fatalf("read after unknown command: %v", err)
	}
	if ssc, ok := msg.(*MsgSyncCount); !ok || ssc.Count != 9 {
		t.Fatalf("unexpected message after unknown command: %v", spew.Sdump(msg))
	}
}

// TestTooManyInputs ensures entry encoding and decoding enforce the input
// limit.
func TestTooManyInputs(t *testing.T) {
	ins := make([]*wire.TxIn, MaxEntryIO+1)
	for i := range ins {
		ins[i] = wire.NewTxIn(&wire.OutPoint{Index: uint32(i)}, 0, nil)
	}
	msg := &MsgSignatures{Inputs: ins}
	var buf bytes.Buffer
	if err := msg.BtcEncode(&buf, testPver); !errors.Is(err, ErrTooManyInputs) {
		t.Fatalf("unexpected encode error: %v", err)
	}

	buf.Reset()
	wire.WriteVarInt(&buf, testPver, MaxEntryIO+1)
	var decoded MsgSignatures
	if err := decoded.BtcDecode(&buf, testPver); !errors.Is(err, ErrTooManyInputs) {
		t.Fatalf("unexpected decode error: %v", err)
	}
}

// TestSignatureMessages ensures the signed strings commit to every signed
// field.
func TestSignatureMessages(t *testing.T) {
	mnb := testBroadcast()
	base := mnb.SignatureMessage()
	mnb.ProtocolVersion++
	if mnb.SignatureMessage() == base {
		t.Fatal("broadcast signature message does not commit to version")
	}

	ping := testBroadcast().LastPing
	pingMsg := ping.SignatureMessage()
	ping.BlockHash[0] ^= 1
	if ping.SignatureMessage() == pingMsg {
		t.Fatal("ping signature message does not commit to block hash")
	}
	if ping.Hash() != testBroadcast().LastPing.Hash() {
		t.Fatal("ping hash must only depend on vin and time")
	}

	dsq := &MsgQueue{Denom: 3, Time: 5}
	open := dsq.SignatureMessage()
	dsq.Ready = true
	if dsq.SignatureMessage() == open {
		t.Fatal("queue signature message does not commit to ready flag")
	}
}

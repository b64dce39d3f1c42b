// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mnwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

const (
	// MaxSigSize is the maximum size of a compact message signature.
	MaxSigSize = 72

	// MaxPubKeySize is the maximum size of a serialized public key.
	MaxPubKeySize = 65

	// MaxScriptSize is the maximum size of a payee or signature script.
	MaxScriptSize = 16384

	// MaxAddrSize is the maximum size of a host:port address string.
	MaxAddrSize = 256

	// MaxErrorSize is the maximum size of an error text field.
	MaxErrorSize = 256

	// MaxEntryIO is the maximum number of inputs or outputs carried by a
	// single mixing entry.
	MaxEntryIO = 500

	// maxTxPayload bounds the size of an embedded transaction.
	maxTxPayload = 1000000

	// outPointSize is the serialized size of an outpoint.
	outPointSize = chainhash.HashSize + 4 + 1
)

// littleEndian is a convenience variable since binary.LittleEndian is
// quite long.
var littleEndian = binary.LittleEndian

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return littleEndian.Uint32(b[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	littleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(littleEndian.Uint64(b[:])), nil
}

func writeInt64(w io.Writer, v int64) error {
	var b [8]byte
	littleEndian.PutUint64(b[:], uint64(v))
	_, err := w.Write(b[:])
	return err
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func writeBool(w io.Writer, v bool) error {
	b := [1]byte{0}
	if v {
		b[0] = 1
	}
	_, err := w.Write(b[:])
	return err
}

func readHash(r io.Reader, h *chainhash.Hash) error {
	_, err := io.ReadFull(r, h[:])
	return err
}

func writeHash(w io.Writer, h *chainhash.Hash) error {
	_, err := w.Write(h[:])
	return err
}

// readOutPoint reads an outpoint serialized as hash, index and tree.
func readOutPoint(r io.Reader, op *wire.OutPoint) error {
	if err := readHash(r, &op.Hash); err != nil {
		return err
	}
	index, err := readUint32(r)
	if err != nil {
		return err
	}
	op.Index = index
	var tree [1]byte
	if _, err := io.ReadFull(r, tree[:]); err != nil {
		return err
	}
	op.Tree = int8(tree[0])
	return nil
}

func writeOutPoint(w io.Writer, op *wire.OutPoint) error {
	if err := writeHash(w, &op.Hash); err != nil {
		return err
	}
	if err := writeUint32(w, op.Index); err != nil {
		return err
	}
	_, err := w.Write([]byte{byte(op.Tree)})
	return err
}

// readTxIn reads a full input including its witness data.
func readTxIn(r io.Reader, pver uint32, ti *wire.TxIn) error {
	if err := readOutPoint(r, &ti.PreviousOutPoint); err != nil {
		return err
	}
	seq, err := readUint32(r)
	if err != nil {
		return err
	}
	ti.Sequence = seq
	if ti.ValueIn, err = readInt64(r); err != nil {
		return err
	}
	if ti.BlockHeight, err = readUint32(r); err != nil {
		return err
	}
	if ti.BlockIndex, err = readUint32(r); err != nil {
		return err
	}
	ti.SignatureScript, err = wire.ReadVarBytes(r, pver, MaxScriptSize,
		"SignatureScript")
	return err
}

func writeTxIn(w io.Writer, pver uint32, ti *wire.TxIn) error {
	if err := writeOutPoint(w, &ti.PreviousOutPoint); err != nil {
		return err
	}
	if err := writeUint32(w, ti.Sequence); err != nil {
		return err
	}
	if err := writeInt64(w, ti.ValueIn); err != nil {
		return err
	}
	if err := writeUint32(w, ti.BlockHeight); err != nil {
		return err
	}
	if err := writeUint32(w, ti.BlockIndex); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, ti.SignatureScript)
}

func readTxOut(r io.Reader, pver uint32, to *wire.TxOut) error {
	var err error
	if to.Value, err = readInt64(r); err != nil {
		return err
	}
	var version [2]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return err
	}
	to.Version = littleEndian.Uint16(version[:])
	to.PkScript, err = wire.ReadVarBytes(r, pver, MaxScriptSize, "PkScript")
	return err
}

func writeTxOut(w io.Writer, pver uint32, to *wire.TxOut) error {
	if err := writeInt64(w, to.Value); err != nil {
		return err
	}
	var version [2]byte
	littleEndian.PutUint16(version[:], to.Version)
	if _, err := w.Write(version[:]); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, pver, to.PkScript)
}

// readTxIns reads a count-prefixed list of inputs.
func readTxIns(op string, r io.Reader, pver uint32) ([]*wire.TxIn, error) {
	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return nil, err
	}
	if count > MaxEntryIO {
		str := fmt.Sprintf("too many inputs [count %d, max %d]", count,
			MaxEntryIO)
		return nil, messageError(op, ErrTooManyInputs, str)
	}
	ins := make([]*wire.TxIn, count)
	for i := range ins {
		ti := new(wire.TxIn)
		if err := readTxIn(r, pver, ti); err != nil {
			return nil, err
		}
		ins[i] = ti
	}
	return ins, nil
}

func writeTxIns(op string, w io.Writer, pver uint32, ins []*wire.TxIn) error {
	if len(ins) > MaxEntryIO {
		str := fmt.Sprintf("too many inputs [count %d, max %d]", len(ins),
			MaxEntryIO)
		return messageError(op, ErrTooManyInputs, str)
	}
	if err := wire.WriteVarInt(w, pver, uint64(len(ins))); err != nil {
		return err
	}
	for _, ti := range ins {
		if err := writeTxIn(w, pver, ti); err != nil {
			return err
		}
	}
	return nil
}

// readTxOuts reads a count-prefixed list of outputs.
func readTxOuts(op string, r io.Reader, pver uint32) ([]*wire.TxOut, error) {
	count, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return nil, err
	}
	if count > MaxEntryIO {
		str := fmt.Sprintf("too many outputs [count %d, max %d]", count,
			MaxEntryIO)
		return nil, messageError(op, ErrTooManyOutputs, str)
	}
	outs := make([]*wire.TxOut, count)
	for i := range outs {
		to := new(wire.TxOut)
		if err := readTxOut(r, pver, to); err != nil {
			return nil, err
		}
		outs[i] = to
	}
	return outs, nil
}

func writeTxOuts(op string, w io.Writer, pver uint32, outs []*wire.TxOut) error {
	if len(outs) > MaxEntryIO {
		str := fmt.Sprintf("too many outputs [count %d, max %d]", len(outs),
			MaxEntryIO)
		return messageError(op, ErrTooManyOutputs, str)
	}
	if err := wire.WriteVarInt(w, pver, uint64(len(outs))); err != nil {
		return err
	}
	for _, to := range outs {
		if err := writeTxOut(w, pver, to); err != nil {
			return err
		}
	}
	return nil
}

// readTx reads a transaction serialized with the standard transaction
// encoding.
func readTx(r io.Reader, pver uint32, tx *wire.MsgTx) error {
	return tx.BtcDecode(r, pver)
}

func writeTx(w io.Writer, pver uint32, tx *wire.MsgTx) error {
	return tx.BtcEncode(w, pver)
}

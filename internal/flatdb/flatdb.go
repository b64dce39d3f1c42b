// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package flatdb persists in-memory tables to checksummed flat files.
//
// A file consists of the table magic string, the network magic bytes, the
// serialized table, and a trailing blake3 checksum of everything before it.
// Load verifies the checksum, magic string and network, in that order,
// before handing the body to the table decoder.
package flatdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/wire"
	"lukechampine.com/blake3"
)

// checksumSize is the size of the trailing checksum.
const checksumSize = 32

// Store serializes a table with encode and atomically writes it to path.
func Store(path, magic string, net wire.CurrencyNet, encode func(w io.Writer) error) error {
	var buf bytes.Buffer
	if err := wire.WriteVarString(&buf, 0, magic); err != nil {
		return err
	}
	var netBytes [4]byte
	binary.LittleEndian.PutUint32(netBytes[:], uint32(net))
	buf.Write(netBytes[:])
	if err := encode(&buf); err != nil {
		str := fmt.Sprintf("unable to serialize %s: %v", magic, err)
		return dbError(ErrMalformedBody, str)
	}
	sum := blake3.Sum256(buf.Bytes())
	buf.Write(sum[:])

	tmp := path + ".new"
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return dbError(ErrIO, err.Error())
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return dbError(ErrIO, err.Error())
	}
	if err := os.Rename(tmp, path); err != nil {
		return dbError(ErrIO, err.Error())
	}
	return nil
}

// Load reads path and passes the verified table body to decode.  Nothing is
// passed to decode unless the checksum, magic and network all match.
func Load(path, magic string, net wire.CurrencyNet, decode func(r io.Reader) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			str := fmt.Sprintf("%s not found", path)
			return dbError(ErrFileNotFound, str)
		}
		return dbError(ErrIO, err.Error())
	}
	if len(data) < checksumSize {
		str := fmt.Sprintf("%s is too short for a checksum", path)
		return dbError(ErrChecksumMismatch, str)
	}

	content, trailer := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	sum := blake3.Sum256(content)
	if !bytes.Equal(sum[:], trailer) {
		str := fmt.Sprintf("%s checksum mismatch", path)
		return dbError(ErrChecksumMismatch, str)
	}

	r := bytes.NewReader(content)
	gotMagic, err := wire.ReadVarString(r, 0)
	if err != nil || gotMagic != magic {
		str := fmt.Sprintf("%s has magic %q, expected %q", path, gotMagic,
			magic)
		return dbError(ErrIncorrectMagic, str)
	}
	var netBytes [4]byte
	if _, err := io.ReadFull(r, netBytes[:]); err != nil {
		str := fmt.Sprintf("%s is missing network bytes", path)
		return dbError(ErrIncorrectNetwork, str)
	}
	if gotNet := wire.CurrencyNet(binary.LittleEndian.Uint32(netBytes[:])); gotNet != net {
		str := fmt.Sprintf("%s is for network %v, expected %v", path, gotNet,
			net)
		return dbError(ErrIncorrectNetwork, str)
	}

	if err := decode(r); err != nil {
		str := fmt.Sprintf("unable to deserialize %s: %v", path, err)
		return dbError(ErrMalformedBody, str)
	}
	return nil
}

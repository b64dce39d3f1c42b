// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mnsign implements the recoverable message signatures used to
// authenticate masternode announcements, pings, votes and mixing messages.
//
// Every message is prefixed with a network independent magic string before
// hashing.  Verification recovers the signing public key from the compact
// signature and compares its identity (the hash160 of the serialized key)
// against the expected key rather than the raw key bytes, so a signature
// doubles as proof of the key that produced it.
package mnsign

import (
	"bytes"
	"fmt"

	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/crypto/ripemd160"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// KeyIDSize is the size of a key identity.
const KeyIDSize = ripemd160.Size

// KeyID is the identity of a public key: ripemd160(blake256(key)).
type KeyID [KeyIDSize]byte

// String returns the identity as a hex string.
func (id KeyID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// messageHash returns the digest that is signed for the passed message.
func messageHash(message string) [blake256.Size]byte {
	var buf bytes.Buffer
	buf.Grow(len(netparams.SignedMessageMagic) + len(message) + 2*wire.MaxVarIntPayload)
	wire.WriteVarString(&buf, 0, netparams.SignedMessageMagic)
	wire.WriteVarString(&buf, 0, message)
	return blake256.Sum256(buf.Bytes())
}

// Identity returns the key identity of a serialized public key.
func Identity(serializedPubKey []byte) KeyID {
	digest := blake256.Sum256(serializedPubKey)
	h := ripemd160.New()
	h.Write(digest[:])
	var id KeyID
	copy(id[:], h.Sum(nil))
	return id
}

// PubKeyID returns the identity of the compressed serialization of pubKey.
func PubKeyID(pubKey *secp256k1.PublicKey) KeyID {
	return Identity(pubKey.SerializeCompressed())
}

// Sign signs message with key and returns the compact recoverable signature.
func Sign(message string, key *secp256k1.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, signError(ErrSigningFailed, "no signing key")
	}
	hash := messageHash(message)
	sig := ecdsa.SignCompact(key, hash[:], true)
	if len(sig) == 0 {
		return nil, signError(ErrSigningFailed, "empty signature")
	}
	return sig, nil
}

// Verify returns nil when sig is a valid signature of message created by
// the private key of pubKey.  Public keys are compared by identity.
func Verify(message string, sig []byte, pubKey []byte) error {
	hash := messageHash(message)
	recovered, _, err := ecdsa.RecoverCompact(sig, hash[:])
	if err != nil {
		str := fmt.Sprintf("unable to recover public key: %v", err)
		return signError(ErrMalformedSignature, str)
	}
	want, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		str := fmt.Sprintf("malformed public key: %v", err)
		return signError(ErrInvalidKey, str)
	}
	if PubKeyID(recovered) != PubKeyID(want) {
		str := fmt.Sprintf("signature by key %v, expected key %v",
			PubKeyID(recovered), PubKeyID(want))
		return signError(ErrKeyMismatch, str)
	}
	return nil
}

// Valid reports whether sig is a valid signature of message by pubKey.
func Valid(message string, sig []byte, pubKey []byte) bool {
	return Verify(message, sig, pubKey) == nil
}

// DecodeKey parses a WIF-encoded private key for the network identified by
// privKeyID and returns the key pair.
func DecodeKey(wif string, privKeyID [2]byte) (*secp256k1.PrivateKey, *secp256k1.PublicKey, error) {
	w, err := dcrutil.DecodeWIF(wif, privKeyID)
	if err != nil {
		str := fmt.Sprintf("invalid private key: %v", err)
		return nil, nil, signError(ErrInvalidKey, str)
	}
	priv := secp256k1.PrivKeyFromBytes(w.PrivKey())
	return priv, priv.PubKey(), nil
}

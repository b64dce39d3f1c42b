// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainview

import (
	"github.com/decred/dcrd/dcrec"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/txscript/v4"
	"github.com/decred/dcrd/txscript/v4/sign"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
)

// StandardVerifyFlags are the script flags used when verifying input
// signatures of mixing and collateral transactions.
const StandardVerifyFlags = txscript.ScriptDiscourageUpgradableNops |
	txscript.ScriptVerifyCleanStack |
	txscript.ScriptVerifyCheckLockTimeVerify |
	txscript.ScriptVerifyCheckSequenceVerify |
	txscript.ScriptVerifySigPushOnly

// PubKeyHashScript returns the version 0 pay-to-pubkey-hash script paying
// to the passed serialized public key.
func PubKeyHashScript(pubKey []byte, params stdaddr.AddressParamsV0) (uint16, []byte, error) {
	if _, err := secp256k1.ParsePubKey(pubKey); err != nil {
		return 0, nil, err
	}
	addr, err := stdaddr.NewAddressPubKeyHashEcdsaSecp256k1V0(
		stdaddr.Hash160(pubKey), params)
	if err != nil {
		return 0, nil, err
	}
	version, script := addr.PaymentScript()
	return version, script, nil
}

// VerifyInputScript executes the signature script of input idx of tx
// against the previous output script it spends.
func VerifyInputScript(tx *wire.MsgTx, idx int, prevVersion uint16, prevScript []byte) error {
	vm, err := txscript.NewEngine(prevScript, tx, idx, StandardVerifyFlags,
		prevVersion, nil)
	if err != nil {
		return err
	}
	return vm.Execute()
}

// SignInput sets the signature script of input idx of tx, which spends the
// pay-to-pubkey-hash script prevScript controlled by key.
func SignInput(tx *wire.MsgTx, idx int, prevScript []byte, key *secp256k1.PrivateKey) error {
	sigScript, err := sign.SignatureScript(tx, idx, prevScript,
		txscript.SigHashAll, key.Serialize(), dcrec.STEcdsaSecp256k1, true)
	if err != nil {
		return err
	}
	tx.TxIn[idx].SignatureScript = sigScript
	return nil
}

// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anonsend

import (
	"fmt"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/txscript/v4/stdscript"
	"github.com/decred/dcrd/wire"
)

// isStandardPayment reports whether an output pays to a version 0
// pay-to-pubkey-hash or pay-to-script-hash script.
func isStandardPayment(out *wire.TxOut) bool {
	if out.Version != 0 {
		return false
	}
	return stdscript.IsPubKeyHashScriptV0(out.PkScript) ||
		stdscript.IsScriptHashScriptV0(out.PkScript)
}

// CheckCollateral ensures tx is acceptable as the collateral a participant
// pledges to a session.  The transaction must have outputs, no lock time,
// pay only to standard scripts, spend known outputs, pay at least the
// collateral fee, and pass the chain acceptance rules.
func CheckCollateral(chain chainview.Chain, params *netparams.Params, tx *wire.MsgTx) error {
	if len(tx.TxOut) == 0 {
		return ruleError(ErrInvalidCollateral,
			"collateral transaction has no outputs")
	}
	if tx.LockTime != 0 {
		str := fmt.Sprintf("collateral transaction %v has lock time %d",
			tx.TxHash(), tx.LockTime)
		return ruleError(ErrInvalidCollateral, str)
	}

	var valueIn, valueOut int64
	for i, out := range tx.TxOut {
		if !isStandardPayment(out) {
			str := fmt.Sprintf("collateral transaction %v output %d "+
				"pays to a non-standard script", tx.TxHash(), i)
			return ruleError(ErrInvalidCollateral, str)
		}
		valueOut += out.Value
	}
	for _, in := range tx.TxIn {
		entry, ok := chain.FetchUtxo(&in.PreviousOutPoint)
		if !ok {
			str := fmt.Sprintf("collateral transaction %v spends unknown "+
				"output %v", tx.TxHash(), in.PreviousOutPoint)
			return ruleError(ErrInvalidCollateral, str)
		}
		valueIn += entry.Amount
	}
	if fee := valueIn - valueOut; fee < int64(params.CollateralFee) {
		str := fmt.Sprintf("collateral transaction %v pays fee %d, "+
			"minimum %d", tx.TxHash(), fee, int64(params.CollateralFee))
		return ruleError(ErrInvalidCollateral, str)
	}
	if err := chain.CheckTransaction(tx); err != nil {
		str := fmt.Sprintf("collateral transaction %v is not acceptable: %v",
			tx.TxHash(), err)
		return ruleError(ErrInvalidCollateral, str)
	}
	return nil
}

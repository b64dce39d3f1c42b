// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anonsend

import (
	"strings"

	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// GetDenominations returns the denomination bitmask of a list of outputs.
// Bit i is set when some output pays exactly params.Denominations[i].  The
// result is zero when any output pays an amount that is not a
// denomination, which makes the list incompatible with every session.
func GetDenominations(params *netparams.Params, outputs []*wire.TxOut) uint32 {
	amounts := make([]int64, len(outputs))
	for i, out := range outputs {
		amounts[i] = out.Value
	}
	return denominationsOf(params, amounts)
}

// denominationsOf returns the denomination bitmask of amounts.
func denominationsOf(params *netparams.Params, amounts []int64) uint32 {
	var denom uint32
	for _, amount := range amounts {
		bit := denominationBit(params, amount)
		if bit < 0 {
			return 0
		}
		denom |= 1 << uint(bit)
	}
	return denom
}

// denominationBit returns the bit of the denomination equal to amount or -1.
func denominationBit(params *netparams.Params, amount int64) int {
	for i, d := range params.Denominations {
		if int64(d) == amount {
			return i
		}
	}
	return -1
}

// IsDenominatedAmount reports whether amount is one of the fixed
// denominations.
func IsDenominatedAmount(params *netparams.Params, amount int64) bool {
	return denominationBit(params, amount) >= 0
}

// IsValidDenom reports whether denom is a non-zero bitmask of known
// denominations.
func IsValidDenom(params *netparams.Params, denom uint32) bool {
	return denom != 0 && denom < 1<<uint(len(params.Denominations))
}

// DenominationAmounts returns the amounts selected by denom, largest first.
func DenominationAmounts(params *netparams.Params, denom uint32) []dcrutil.Amount {
	var amounts []dcrutil.Amount
	for i, d := range params.Denominations {
		if denom&(1<<uint(i)) != 0 {
			amounts = append(amounts, d)
		}
	}
	return amounts
}

// DenomString returns a readable list of the amounts selected by denom.
func DenomString(params *netparams.Params, denom uint32) string {
	if !IsValidDenom(params, denom) {
		return "N/A"
	}
	amounts := DenominationAmounts(params, denom)
	strs := make([]string, len(amounts))
	for i, a := range amounts {
		strs[i] = a.String()
	}
	return strings.Join(strs, "+")
}

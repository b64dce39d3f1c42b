// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainview defines the narrow views of the block chain and the
// operating wallet consumed by the masternode and mixing subsystems.
//
// Whenever both are consulted together, as when re-validating collateral,
// the chain is queried before the wallet.
package chainview

import (
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

// UtxoEntry describes an unspent transaction output.
type UtxoEntry struct {
	Amount   int64
	Version  uint16
	PkScript []byte

	// Height is the height of the block that mined the output or zero for
	// outputs only known to the mempool.
	Height int64
}

// Confirmations returns the confirmation depth of the output relative to
// the passed best height.
func (e *UtxoEntry) Confirmations(bestHeight int64) int64 {
	if e.Height == 0 || e.Height > bestHeight {
		return 0
	}
	return bestHeight - e.Height + 1
}

// Chain is the view of the block chain and transaction acceptance rules.
type Chain interface {
	// IsCurrent reports whether the chain believes it is synced to the
	// network tip.
	IsCurrent() bool

	// BestHeight returns the height of the main chain tip.
	BestHeight() int64

	// BlockHash returns the hash of the main chain block at height.
	BlockHash(height int64) (chainhash.Hash, bool)

	// BlockHeight returns the main chain height of the block with hash.
	BlockHeight(hash *chainhash.Hash) (int64, bool)

	// BlockSubsidy returns the total reward of the block at height.
	BlockSubsidy(height int64) int64

	// FetchUtxo returns the unspent output referenced by op.
	FetchUtxo(op *wire.OutPoint) (*UtxoEntry, bool)

	// CheckTransaction reports whether tx would be accepted to the
	// mempool without submitting it.
	CheckTransaction(tx *wire.MsgTx) error

	// SendTransaction submits tx to the network.
	SendTransaction(tx *wire.MsgTx) error
}

// Coin is a wallet controlled unspent output.
type Coin struct {
	OutPoint      wire.OutPoint
	Amount        int64
	Version       uint16
	PkScript      []byte
	Confirmations int64
}

// Wallet is the view of the operating wallet.
type Wallet interface {
	// IsLocked reports whether the wallet is locked.
	IsLocked() bool

	// Balance returns the spendable balance.
	Balance() int64

	// UnspentOutputs returns the unlocked spendable outputs.
	UnspentOutputs() []Coin

	// LockOutpoint marks op as unspendable by the wallet.
	LockOutpoint(op wire.OutPoint)

	// UnlockOutpoint reverses LockOutpoint.
	UnlockOutpoint(op wire.OutPoint)

	// PrivateKey returns the key controlling the output paying to
	// pkScript.
	PrivateKey(pkScript []byte) (*secp256k1.PrivateKey, error)

	// NewAddressScript returns a fresh payment script owned by the wallet.
	NewAddressScript() (uint16, []byte, error)
}

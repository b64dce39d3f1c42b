// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainview

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/wire"
)

// MemChain is an in-memory Chain.  It backs unit tests and nodes started
// without a chain server.
type MemChain struct {
	mtx     sync.RWMutex
	hashes  []chainhash.Hash
	heights map[chainhash.Hash]int64
	utxos   map[wire.OutPoint]*UtxoEntry
	current bool
	subsidy int64
	sent    []*wire.MsgTx
}

// Ensure MemChain implements Chain.
var _ Chain = (*MemChain)(nil)

// NewMemChain returns a synced chain with deterministic block hashes for
// heights zero through height.
func NewMemChain(height int64, subsidy int64) *MemChain {
	c := &MemChain{
		heights: make(map[chainhash.Hash]int64),
		utxos:   make(map[wire.OutPoint]*UtxoEntry),
		current: true,
		subsidy: subsidy,
	}
	c.ExtendTo(height)
	return c
}

// ExtendTo appends blocks until the tip is at height.
func (c *MemChain) ExtendTo(height int64) {
	c.mtx.Lock()
	for h := int64(len(c.hashes)); h <= height; h++ {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(h))
		hash := chainhash.HashH(b[:])
		c.hashes = append(c.hashes, hash)
		c.heights[hash] = h
	}
	c.mtx.Unlock()
}

// SetCurrent sets the result of IsCurrent.
func (c *MemChain) SetCurrent(current bool) {
	c.mtx.Lock()
	c.current = current
	c.mtx.Unlock()
}

// AddUtxo adds an unspent output.
func (c *MemChain) AddUtxo(op wire.OutPoint, entry *UtxoEntry) {
	c.mtx.Lock()
	c.utxos[op] = entry
	c.mtx.Unlock()
}

// SpendUtxo removes an unspent output.
func (c *MemChain) SpendUtxo(op wire.OutPoint) {
	c.mtx.Lock()
	delete(c.utxos, op)
	c.mtx.Unlock()
}

// Sent returns the transactions submitted with SendTransaction.
func (c *MemChain) Sent() []*wire.MsgTx {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return append([]*wire.MsgTx(nil), c.sent...)
}

// IsCurrent reports whether the chain is synced.
func (c *MemChain) IsCurrent() bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.current
}

// BestHeight returns the tip height.
func (c *MemChain) BestHeight() int64 {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return int64(len(c.hashes)) - 1
}

// BlockHash returns the hash of the block at height.
func (c *MemChain) BlockHash(height int64) (chainhash.Hash, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if height < 0 || height >= int64(len(c.hashes)) {
		return chainhash.Hash{}, false
	}
	return c.hashes[height], true
}

// BlockHeight returns the height of the block with hash.
func (c *MemChain) BlockHeight(hash *chainhash.Hash) (int64, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	h, ok := c.heights[*hash]
	return h, ok
}

// BlockSubsidy returns the fixed subsidy the chain was created with.
func (c *MemChain) BlockSubsidy(int64) int64 {
	return c.subsidy
}

// FetchUtxo returns the unspent output referenced by op.
func (c *MemChain) FetchUtxo(op *wire.OutPoint) (*UtxoEntry, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	entry, ok := c.utxos[*op]
	return entry, ok
}

// checkTransaction validates tx against the current utxo set.
//
// This function MUST be called with the chain lock held (for reads).
func (c *MemChain) checkTransaction(tx *wire.MsgTx) error {
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return errors.New("transaction has no inputs or outputs")
	}
	seen := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	var in, out int64
	for idx, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint
		if _, ok := seen[op]; ok {
			return fmt.Errorf("duplicate input %v", op)
		}
		seen[op] = struct{}{}
		entry, ok := c.utxos[op]
		if !ok {
			return fmt.Errorf("input %v is missing or spent", op)
		}
		if err := VerifyInputScript(tx, idx, entry.Version, entry.PkScript); err != nil {
			return fmt.Errorf("input %d script: %w", idx, err)
		}
		in += entry.Amount
	}
	for _, txOut := range tx.TxOut {
		if txOut.Value < 0 {
			return errors.New("negative output value")
		}
		out += txOut.Value
	}
	if out > in {
		return fmt.Errorf("outputs %d exceed inputs %d", out, in)
	}
	return nil
}

// CheckTransaction reports whether tx spends existing outputs with valid
// signatures and does not create value.
func (c *MemChain) CheckTransaction(tx *wire.MsgTx) error {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.checkTransaction(tx)
}

// SendTransaction validates tx, spends its inputs and adds its outputs as
// unconfirmed.
func (c *MemChain) SendTransaction(tx *wire.MsgTx) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if err := c.checkTransaction(tx); err != nil {
		return err
	}
	for _, txIn := range tx.TxIn {
		delete(c.utxos, txIn.PreviousOutPoint)
	}
	hash := tx.TxHash()
	for i, txOut := range tx.TxOut {
		op := wire.OutPoint{Hash: hash, Index: uint32(i)}
		c.utxos[op] = &UtxoEntry{
			Amount:   txOut.Value,
			Version:  txOut.Version,
			PkScript: txOut.PkScript,
		}
	}
	c.sent = append(c.sent, tx)
	return nil
}

// MemWallet is an in-memory Wallet.
type MemWallet struct {
	mtx        sync.Mutex
	params     stdaddr.AddressParamsV0
	locked     bool
	coins      map[wire.OutPoint]Coin
	lockedOuts map[wire.OutPoint]struct{}
	keys       map[string]*secp256k1.PrivateKey
}

// Ensure MemWallet implements Wallet.
var _ Wallet = (*MemWallet)(nil)

// NewMemWallet returns an empty unlocked wallet.
func NewMemWallet(params stdaddr.AddressParamsV0) *MemWallet {
	return &MemWallet{
		params:     params,
		coins:      make(map[wire.OutPoint]Coin),
		lockedOuts: make(map[wire.OutPoint]struct{}),
		keys:       make(map[string]*secp256k1.PrivateKey),
	}
}

// NewKey generates a key owned by the wallet and returns it with its
// payment script.
func (w *MemWallet) NewKey() (*secp256k1.PrivateKey, uint16, []byte, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, 0, nil, err
	}
	version, script, err := PubKeyHashScript(key.PubKey().SerializeCompressed(),
		w.params)
	if err != nil {
		return nil, 0, nil, err
	}
	w.mtx.Lock()
	w.keys[string(script)] = key
	w.mtx.Unlock()
	return key, version, script, nil
}

// AddCoin adds a spendable output.
func (w *MemWallet) AddCoin(coin Coin) {
	w.mtx.Lock()
	w.coins[coin.OutPoint] = coin
	w.mtx.Unlock()
}

// SetLocked locks or unlocks the wallet.
func (w *MemWallet) SetLocked(locked bool) {
	w.mtx.Lock()
	w.locked = locked
	w.mtx.Unlock()
}

// IsLocked reports whether the wallet is locked.
func (w *MemWallet) IsLocked() bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.locked
}

// Balance returns the sum of all unlocked coins.
func (w *MemWallet) Balance() int64 {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	var total int64
	for op, coin := range w.coins {
		if _, ok := w.lockedOuts[op]; !ok {
			total += coin.Amount
		}
	}
	return total
}

// UnspentOutputs returns the unlocked coins.
func (w *MemWallet) UnspentOutputs() []Coin {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	coins := make([]Coin, 0, len(w.coins))
	for op, coin := range w.coins {
		if _, ok := w.lockedOuts[op]; !ok {
			coins = append(coins, coin)
		}
	}
	return coins
}

// LockOutpoint marks op as unspendable.
func (w *MemWallet) LockOutpoint(op wire.OutPoint) {
	w.mtx.Lock()
	w.lockedOuts[op] = struct{}{}
	w.mtx.Unlock()
}

// UnlockOutpoint marks op as spendable.
func (w *MemWallet) UnlockOutpoint(op wire.OutPoint) {
	w.mtx.Lock()
	delete(w.lockedOuts, op)
	w.mtx.Unlock()
}

// LockedOutpoint reports whether op is locked.
func (w *MemWallet) LockedOutpoint(op wire.OutPoint) bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	_, ok := w.lockedOuts[op]
	return ok
}

// PrivateKey returns the key controlling pkScript.
func (w *MemWallet) PrivateKey(pkScript []byte) (*secp256k1.PrivateKey, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	key, ok := w.keys[string(pkScript)]
	if !ok {
		return nil, errors.New("script is not owned by the wallet")
	}
	return key, nil
}

// NewAddressScript returns the payment script of a new wallet key.
func (w *MemWallet) NewAddressScript() (uint16, []byte, error) {
	_, version, script, err := w.NewKey()
	return version, script, err
}

// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/mnsign"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/rpc/jsonrpc/types/v4"
	"github.com/decred/dcrd/rpcclient/v8"
	"github.com/decred/dcrd/txscript/v4/stdaddr"
	"github.com/decred/dcrd/txscript/v4/stdscript"
	"github.com/decred/dcrd/wire"
)

// rpcTimeout bounds every request made to the backing daemons.
const rpcTimeout = time.Second * 30

// newRPCClient connects to the JSON-RPC server at host.  The certificate
// chain at certFile is loaded unless TLS is disabled.
func newRPCClient(host, user, pass, certFile string, noTLS bool) (*rpcclient.Client, error) {
	var certs []byte
	if !noTLS {
		var err error
		certs, err = os.ReadFile(certFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read RPC certificate: %w", err)
		}
	}
	connCfg := &rpcclient.ConnConfig{
		Host:         host,
		Endpoint:     "ws",
		User:         user,
		Pass:         pass,
		Certificates: certs,
		DisableTLS:   noTLS,
		HTTPPostMode: true,
	}
	return rpcclient.New(connCfg, nil)
}

// marshalParams encodes each of the passed values as a raw JSON-RPC
// parameter.
func marshalParams(params ...interface{}) ([]json.RawMessage, error) {
	raw := make([]json.RawMessage, 0, len(params))
	for _, param := range params {
		b, err := json.Marshal(param)
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return raw, nil
}

// rawRequest issues method with params and decodes the reply into result
// when it is non-nil.
func rawRequest(ctx context.Context, c *rpcclient.Client, result interface{}, method string, params ...interface{}) error {
	raw, err := marshalParams(params...)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	reply, err := c.RawRequest(ctx, method, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(reply, result); err != nil {
		return fmt.Errorf("%s: unable to decode reply: %w", method, err)
	}
	return nil
}

// rpcChain provides the chain view backed by a dcrd JSON-RPC server and
// implements the chainview.Chain interface.
type rpcChain struct {
	ctx    context.Context
	client *rpcclient.Client
}

// Ensure rpcChain implements the chainview.Chain interface.
var _ chainview.Chain = (*rpcChain)(nil)

func newRPCChain(ctx context.Context, client *rpcclient.Client) *rpcChain {
	return &rpcChain{ctx: ctx, client: client}
}

func (c *rpcChain) timeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.ctx, rpcTimeout)
}

// IsCurrent returns whether the dcrd instance has left initial block
// download.
//
// This is part of the chainview.Chain interface implementation.
func (c *rpcChain) IsCurrent() bool {
	ctx, cancel := c.timeout()
	defer cancel()
	info, err := c.client.GetBlockChainInfo(ctx)
	if err != nil {
		rpccLog.Debugf("getblockchaininfo: %v", err)
		return false
	}
	return !info.InitialBlockDownload
}

// BestHeight returns the height of the main chain tip or -1 when the
// server cannot be reached.
//
// This is part of the chainview.Chain interface implementation.
func (c *rpcChain) BestHeight() int64 {
	ctx, cancel := c.timeout()
	defer cancel()
	height, err := c.client.GetBlockCount(ctx)
	if err != nil {
		rpccLog.Debugf("getblockcount: %v", err)
		return -1
	}
	return height
}

// BestBlock returns the hash and height of the main chain tip.
func (c *rpcChain) BestBlock() (*chainhash.Hash, int64, error) {
	ctx, cancel := c.timeout()
	defer cancel()
	return c.client.GetBestBlock(ctx)
}

// BlockHash is part of the chainview.Chain interface implementation.
func (c *rpcChain) BlockHash(height int64) (chainhash.Hash, bool) {
	ctx, cancel := c.timeout()
	defer cancel()
	hash, err := c.client.GetBlockHash(ctx, height)
	if err != nil {
		rpccLog.Tracef("getblockhash %d: %v", height, err)
		return chainhash.Hash{}, false
	}
	return *hash, true
}

// BlockHeight returns the height of the block with hash provided it is
// part of the main chain.
//
// This is part of the chainview.Chain interface implementation.
func (c *rpcChain) BlockHeight(hash *chainhash.Hash) (int64, bool) {
	ctx, cancel := c.timeout()
	defer cancel()
	header, err := c.client.GetBlockHeaderVerbose(ctx, hash)
	if err != nil {
		rpccLog.Tracef("getblockheader %v: %v", hash, err)
		return 0, false
	}
	if header.Confirmations < 0 {
		return 0, false
	}
	return int64(header.Height), true
}

// BlockSubsidy is part of the chainview.Chain interface implementation.
func (c *rpcChain) BlockSubsidy(height int64) int64 {
	ctx, cancel := c.timeout()
	defer cancel()
	subsidy, err := c.client.GetBlockSubsidy(ctx, height, 0)
	if err != nil {
		rpccLog.Debugf("getblocksubsidy %d: %v", height, err)
		return 0
	}
	return subsidy.Total
}

// utxoEntryFromResult converts a gettxout reply to an unspent output entry.
// The mined height is derived from the confirmation count relative to
// bestHeight.
func utxoEntryFromResult(res *types.GetTxOutResult, bestHeight int64) (*chainview.UtxoEntry, error) {
	amount, err := dcrutil.NewAmount(res.Value)
	if err != nil {
		return nil, err
	}
	pkScript, err := hex.DecodeString(res.ScriptPubKey.Hex)
	if err != nil {
		return nil, err
	}
	var height int64
	if res.Confirmations > 0 {
		height = bestHeight - res.Confirmations + 1
	}
	return &chainview.UtxoEntry{
		Amount:   int64(amount),
		Version:  res.ScriptPubKey.Version,
		PkScript: pkScript,
		Height:   height,
	}, nil
}

// FetchUtxo returns the unspent output referenced by op including outputs
// only known to the mempool.
//
// This is part of the chainview.Chain interface implementation.
func (c *rpcChain) FetchUtxo(op *wire.OutPoint) (*chainview.UtxoEntry, bool) {
	var res *types.GetTxOutResult
	err := rawRequest(c.ctx, c.client, &res, "gettxout", op.Hash.String(),
		op.Index, op.Tree, true)
	if err != nil {
		rpccLog.Debugf("%v", err)
		return nil, false
	}
	// A null reply means the output is spent or never existed.
	if res == nil {
		return nil, false
	}
	bestHeight := c.BestHeight()
	if bestHeight < 0 {
		return nil, false
	}
	entry, err := utxoEntryFromResult(res, bestHeight)
	if err != nil {
		rpccLog.Warnf("Malformed gettxout reply for %v: %v", op, err)
		return nil, false
	}
	return entry, true
}

// CheckTransaction ensures every input of tx spends an unspent output with
// a valid signature script.  The server performs the remaining policy
// checks on submission.
//
// This is part of the chainview.Chain interface implementation.
func (c *rpcChain) CheckTransaction(tx *wire.MsgTx) error {
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return errors.New("transaction has no inputs or outputs")
	}
	var in, out int64
	for i, txIn := range tx.TxIn {
		entry, ok := c.FetchUtxo(&txIn.PreviousOutPoint)
		if !ok {
			return fmt.Errorf("input %d spends unknown output %v", i,
				txIn.PreviousOutPoint)
		}
		err := chainview.VerifyInputScript(tx, i, entry.Version,
			entry.PkScript)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		in += entry.Amount
	}
	for _, txOut := range tx.TxOut {
		out += txOut.Value
	}
	if out > in {
		return fmt.Errorf("transaction spends %v with only %v of inputs",
			dcrutil.Amount(out), dcrutil.Amount(in))
	}
	return nil
}

// SendTransaction is part of the chainview.Chain interface implementation.
func (c *rpcChain) SendTransaction(tx *wire.MsgTx) error {
	ctx, cancel := c.timeout()
	defer cancel()
	hash, err := c.client.SendRawTransaction(ctx, tx, false)
	if err != nil {
		return err
	}
	rpccLog.Debugf("Sent transaction %v", hash)
	return nil
}

// walletInfoResult models the fields of the walletinfo reply used here.
type walletInfoResult struct {
	Unlocked bool `json:"unlocked"`
}

// balanceResult models the fields of the getbalance reply used here.
type balanceResult struct {
	TotalSpendable float64 `json:"totalspendable"`
}

// listUnspentResult models a single entry of the listunspent reply.
type listUnspentResult struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Tree          int8    `json:"tree"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations int64   `json:"confirmations"`
	Spendable     bool    `json:"spendable"`
}

// lockOutPoint is the outpoint form accepted by lockunspent.
type lockOutPoint struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
	Tree int8   `json:"tree"`
}

// coinFromUnspent converts a listunspent entry to a wallet coin.
func coinFromUnspent(u *listUnspentResult) (chainview.Coin, error) {
	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return chainview.Coin{}, err
	}
	pkScript, err := hex.DecodeString(u.ScriptPubKey)
	if err != nil {
		return chainview.Coin{}, err
	}
	amount, err := dcrutil.NewAmount(u.Amount)
	if err != nil {
		return chainview.Coin{}, err
	}
	return chainview.Coin{
		OutPoint:      *wire.NewOutPoint(hash, u.Vout, u.Tree),
		Amount:        int64(amount),
		PkScript:      pkScript,
		Confirmations: u.Confirmations,
	}, nil
}

// rpcWallet provides the operating wallet backed by a dcrwallet JSON-RPC
// server and implements the chainview.Wallet interface.
type rpcWallet struct {
	ctx    context.Context
	client *rpcclient.Client
	params *netparams.Params
}

// Ensure rpcWallet implements the chainview.Wallet interface.
var _ chainview.Wallet = (*rpcWallet)(nil)

func newRPCWallet(ctx context.Context, client *rpcclient.Client, params *netparams.Params) *rpcWallet {
	return &rpcWallet{ctx: ctx, client: client, params: params}
}

// IsLocked reports the wallet as locked when it cannot be reached.
//
// This is part of the chainview.Wallet interface implementation.
func (w *rpcWallet) IsLocked() bool {
	var info walletInfoResult
	if err := rawRequest(w.ctx, w.client, &info, "walletinfo"); err != nil {
		rpccLog.Debugf("%v", err)
		return true
	}
	return !info.Unlocked
}

// Balance is part of the chainview.Wallet interface implementation.
func (w *rpcWallet) Balance() int64 {
	var res balanceResult
	if err := rawRequest(w.ctx, w.client, &res, "getbalance"); err != nil {
		rpccLog.Debugf("%v", err)
		return 0
	}
	amount, err := dcrutil.NewAmount(res.TotalSpendable)
	if err != nil {
		return 0
	}
	return int64(amount)
}

// UnspentOutputs is part of the chainview.Wallet interface implementation.
func (w *rpcWallet) UnspentOutputs() []chainview.Coin {
	var res []listUnspentResult
	if err := rawRequest(w.ctx, w.client, &res, "listunspent"); err != nil {
		rpccLog.Debugf("%v", err)
		return nil
	}
	coins := make([]chainview.Coin, 0, len(res))
	for i := range res {
		if !res[i].Spendable {
			continue
		}
		coin, err := coinFromUnspent(&res[i])
		if err != nil {
			rpccLog.Warnf("Malformed listunspent entry %s:%d: %v",
				res[i].TxID, res[i].Vout, err)
			continue
		}
		coins = append(coins, coin)
	}
	return coins
}

func (w *rpcWallet) lockUnspent(unlock bool, op wire.OutPoint) {
	ops := []lockOutPoint{{
		TxID: op.Hash.String(),
		Vout: op.Index,
		Tree: op.Tree,
	}}
	if err := rawRequest(w.ctx, w.client, nil, "lockunspent", unlock, ops); err != nil {
		rpccLog.Warnf("Unable to update lock of %v: %v", op, err)
	}
}

// LockOutpoint is part of the chainview.Wallet interface implementation.
func (w *rpcWallet) LockOutpoint(op wire.OutPoint) {
	w.lockUnspent(false, op)
}

// UnlockOutpoint is part of the chainview.Wallet interface implementation.
func (w *rpcWallet) UnlockOutpoint(op wire.OutPoint) {
	w.lockUnspent(true, op)
}

// PrivateKey returns the key of the version 0 pay-to-pubkey-hash script
// pkScript.
//
// This is part of the chainview.Wallet interface implementation.
func (w *rpcWallet) PrivateKey(pkScript []byte) (*secp256k1.PrivateKey, error) {
	_, addrs := stdscript.ExtractAddrs(0, pkScript, w.params.Params)
	if len(addrs) != 1 {
		return nil, errors.New("script does not pay to a single address")
	}
	var wif string
	err := rawRequest(w.ctx, w.client, &wif, "dumpprivkey", addrs[0].String())
	if err != nil {
		return nil, err
	}
	key, pubKey, err := mnsign.DecodeKey(wif, w.params.PrivateKeyID)
	if err != nil {
		return nil, err
	}

	// Ensure the wallet returned the key for the requested script.
	_, script, err := chainview.PubKeyHashScript(
		pubKey.SerializeCompressed(), w.params.Params)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(script, pkScript) {
		return nil, fmt.Errorf("wallet returned the wrong key for %v",
			addrs[0])
	}
	return key, nil
}

// NewAddressScript is part of the chainview.Wallet interface implementation.
func (w *rpcWallet) NewAddressScript() (uint16, []byte, error) {
	var encoded string
	if err := rawRequest(w.ctx, w.client, &encoded, "getnewaddress"); err != nil {
		return 0, nil, err
	}
	addr, err := stdaddr.DecodeAddress(encoded, w.params.Params)
	if err != nil {
		return 0, nil, err
	}
	version, script := addr.PaymentScript()
	return version, script, nil
}

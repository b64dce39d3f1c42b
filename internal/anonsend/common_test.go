// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anonsend

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// testPeer records the messages queued to it.
type testPeer struct {
	addr string
	msgs []wire.Message
}

func (p *testPeer) Addr() string                  { return p.addr }
func (p *testPeer) QueueMessage(msg wire.Message) { p.msgs = append(p.msgs, msg) }

// take returns and forgets the queued messages.
func (p *testPeer) take() []wire.Message {
	msgs := p.msgs
	p.msgs = nil
	return msgs
}

// lastStatus returns the most recent status update queued to the peer.
func (p *testPeer) lastStatus() *mnwire.MsgStatusUpdate {
	for i := len(p.msgs) - 1; i >= 0; i-- {
		if msg, ok := p.msgs[i].(*mnwire.MsgStatusUpdate); ok {
			return msg
		}
	}
	return nil
}

// testRandomizer returns queued values from IntN, falling back to def, and
// leaves shuffled slices in order.
type testRandomizer struct {
	ints []int
	def  int
}

func (r *testRandomizer) IntN(n int) int {
	v := r.def
	if len(r.ints) > 0 {
		v, r.ints = r.ints[0], r.ints[1:]
	}
	return v % n
}

func (r *testRandomizer) Shuffle(int, func(i, j int)) {}

// testMasternode is a masternode registered in the harness registry.
type testMasternode struct {
	mn     *masternode.Masternode
	hotKey *secp256k1.PrivateKey
}

// testHarness is a mixing masternode backed by an in-memory chain, wallet
// and registry.  The wallet holds the funds of all test participants.
type testHarness struct {
	params  *netparams.Params
	chain   *chainview.MemChain
	wallet  *chainview.MemWallet
	mgr     *masternode.Manager
	queues  *Queues
	pool    *Pool
	rnd     *testRandomizer
	local   *testMasternode
	now     time.Time
	relayed []wire.Message
	nextID  uint32
	ready   []*mnwire.MsgQueue
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	params := netparams.RegNetParams()
	h := &testHarness{
		params: params,
		chain:  chainview.NewMemChain(1000, 100e8),
		wallet: chainview.NewMemWallet(params),
		rnd:    &testRandomizer{def: 99},
		now:    time.Now(),
	}
	h.mgr = masternode.New(&masternode.Config{
		Params: params,
		Chain:  h.chain,
		Relay:  h.relay,
	})
	h.queues = NewQueues(&QueueConfig{
		Params:      params,
		Chain:       h.chain,
		Masternodes: h.mgr,
		Relay:       h.relay,
		OnReady: func(dsq *mnwire.MsgQueue, mn *masternode.Masternode) {
			h.ready = append(h.ready, dsq)
		},
		Now: h.clock,
	})
	h.local = h.addMasternode(t, "127.0.0.1:"+params.DefaultPort,
		params.ProtocolVersion)
	h.pool = NewPool(&Config{
		Params:      params,
		Chain:       h.chain,
		Masternodes: h.mgr,
		Queues:      h.queues,
		LocalVin: func() (wire.OutPoint, bool) {
			return h.local.mn.Vin, true
		},
		HotKey:     h.local.hotKey,
		Relay:      h.relay,
		Randomizer: h.rnd,
		Now:        h.clock,
	})
	return h
}

func (h *testHarness) clock() time.Time {
	return h.now
}

func (h *testHarness) relay(msg wire.Message) {
	h.relayed = append(h.relayed, msg)
}

// countRelayed returns the number of relayed messages with the passed
// command.
func (h *testHarness) countRelayed(cmd string) int {
	var n int
	for _, msg := range h.relayed {
		if msg.Command() == cmd {
			n++
		}
	}
	return n
}

// nextOutPoint returns an outpoint not used before in the harness.
func (h *testHarness) nextOutPoint() wire.OutPoint {
	h.nextID++
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], h.nextID)
	return wire.OutPoint{Hash: chainhash.HashH(b[:])}
}

// addMasternode registers an enabled masternode listening on addr.
func (h *testHarness) addMasternode(t *testing.T, addr string, protocol uint32) *testMasternode {
	t.Helper()
	collKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	hotKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	vin := h.nextOutPoint()
	version, script, err := chainview.PubKeyHashScript(
		collKey.PubKey().SerializeCompressed(), h.params)
	if err != nil {
		t.Fatal(err)
	}
	h.chain.AddUtxo(vin, &chainview.UtxoEntry{
		Amount:   int64(h.params.CollateralAmount),
		Version:  version,
		PkScript: script,
		Height:   100,
	})
	now := time.Now().Unix()
	mn := &masternode.Masternode{
		Vin:              vin,
		Addr:             addr,
		CollateralPubKey: collKey.PubKey().SerializeCompressed(),
		HotPubKey:        hotKey.PubKey().SerializeCompressed(),
		Sig:              []byte{0x01},
		SigTime:          now - masternode.MinPingSeconds - 100,
		LastPing: &mnwire.MsgMNPing{
			Vin:     vin,
			SigTime: now,
			Sig:     []byte{0x02},
		},
		ProtocolVersion: protocol,
		State:           masternode.StateEnabled,
	}
	if !h.mgr.Add(mn) {
		t.Fatalf("unable to add masternode %v", vin)
	}
	return &testMasternode{mn: mn, hotKey: hotKey}
}

// fund adds a confirmed output of amount owned by wallet to the chain and
// the wallet.
func (h *testHarness) fund(t *testing.T, wallet *chainview.MemWallet, amount int64) chainview.Coin {
	t.Helper()
	_, version, script, err := wallet.NewKey()
	if err != nil {
		t.Fatal(err)
	}
	coin := chainview.Coin{
		OutPoint:      h.nextOutPoint(),
		Amount:        amount,
		Version:       version,
		PkScript:      script,
		Confirmations: 1,
	}
	h.chain.AddUtxo(coin.OutPoint, &chainview.UtxoEntry{
		Amount:   amount,
		Version:  version,
		PkScript: script,
		Height:   h.chain.BestHeight(),
	})
	wallet.AddCoin(coin)
	return coin
}

// collateral returns a signed transaction spending coin that pays fee.
func (h *testHarness) collateral(t *testing.T, wallet *chainview.MemWallet, coin chainview.Coin, fee int64) *wire.MsgTx {
	t.Helper()
	version, script, err := wallet.NewAddressScript()
	if err != nil {
		t.Fatal(err)
	}
	tx := wire.NewMsgTx()
	op := coin.OutPoint
	tx.AddTxIn(wire.NewTxIn(&op, coin.Amount, nil))
	tx.AddTxOut(&wire.TxOut{
		Value:    coin.Amount - fee,
		Version:  version,
		PkScript: script,
	})
	signTx(t, wallet, tx, 0, coin.PkScript)
	return tx
}

// signTx signs input idx of tx with the wallet key controlling prevScript.
func signTx(t *testing.T, wallet *chainview.MemWallet, tx *wire.MsgTx, idx int, prevScript []byte) {
	t.Helper()
	key, err := wallet.PrivateKey(prevScript)
	if err != nil {
		t.Fatal(err)
	}
	if err := chainview.SignInput(tx, idx, prevScript, key); err != nil {
		t.Fatal(err)
	}
}

// testParticipant is a mixing participant driven directly by a test.
type testParticipant struct {
	peer       *testPeer
	coins      []chainview.Coin
	collateral *wire.MsgTx
}

// newParticipant funds a participant with one output of each passed
// amount and a collateral transaction.
func (h *testHarness) newParticipant(t *testing.T, addr string, amounts ...dcrutil.Amount) *testParticipant {
	t.Helper()
	p := &testParticipant{peer: &testPeer{addr: addr}}
	for _, amount := range amounts {
		p.coins = append(p.coins, h.fund(t, h.wallet, int64(amount)))
	}
	coin := h.fund(t, h.wallet, dcrutil.AtomsPerCoin)
	p.collateral = h.collateral(t, h.wallet, coin,
		int64(h.params.CollateralFee))
	return p
}

// joinRequest returns the join request of p for denom.
func (p *testParticipant) joinRequest(denom uint32) *mnwire.MsgJoinRequest {
	return &mnwire.MsgJoinRequest{Denom: denom, Collateral: *p.collateral}
}

// entry returns the entry of p paying each input to a fresh wallet script.
func (h *testHarness) entry(t *testing.T, p *testParticipant) *mnwire.MsgSubmitEntry {
	t.Helper()
	msg := &mnwire.MsgSubmitEntry{Collateral: *p.collateral}
	for _, coin := range p.coins {
		op := coin.OutPoint
		msg.Inputs = append(msg.Inputs, wire.NewTxIn(&op, coin.Amount, nil))
		msg.Amount += coin.Amount
		version, script, err := h.wallet.NewAddressScript()
		if err != nil {
			t.Fatal(err)
		}
		msg.Outputs = append(msg.Outputs, &wire.TxOut{
			Value:    coin.Amount,
			Version:  version,
			PkScript: script,
		})
	}
	return msg
}

// signatures signs the inputs of p in the final transaction tx.
func (h *testHarness) signatures(t *testing.T, p *testParticipant, tx *wire.MsgTx) *mnwire.MsgSignatures {
	t.Helper()
	tx = tx.Copy()
	msg := &mnwire.MsgSignatures{}
	for _, coin := range p.coins {
		for idx, txIn := range tx.TxIn {
			if txIn.PreviousOutPoint != coin.OutPoint {
				continue
			}
			signTx(t, h.wallet, tx, idx, coin.PkScript)
			in := *tx.TxIn[idx]
			msg.Inputs = append(msg.Inputs, &in)
		}
	}
	return msg
}

// finalTx returns the final transaction queued to p.
func finalTx(t *testing.T, p *testParticipant) *wire.MsgTx {
	t.Helper()
	for _, msg := range p.peer.msgs {
		if msg, ok := msg.(*mnwire.MsgFinalTx); ok {
			return &msg.Tx
		}
	}
	t.Fatalf("%s: no final transaction queued", p.peer.addr)
	return nil
}

// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payments

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/flatdb"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

// testPeer records the messages queued to it.
type testPeer struct {
	addr string
	msgs []wire.Message
}

func (p *testPeer) Addr() string                  { return p.addr }
func (p *testPeer) QueueMessage(msg wire.Message) { p.msgs = append(p.msgs, msg) }

// testVoter is a registered masternode and its hot key.
type testVoter struct {
	mn     *masternode.Masternode
	hotKey *secp256k1.PrivateKey
	script []byte
}

type testHarness struct {
	params  *netparams.Params
	chain   *chainview.MemChain
	mgr     *masternode.Manager
	ledger  *Ledger
	voters  []*testVoter
	relayed []wire.Message
}

// newTestHarness returns a ledger over a registry holding numVoters
// masternodes old enough to be ranked.
func newTestHarness(t *testing.T, params *netparams.Params, numVoters int) *testHarness {
	t.Helper()
	h := &testHarness{
		params: params,
		chain:  chainview.NewMemChain(1000, 100e8),
	}
	h.mgr = masternode.New(&masternode.Config{Params: params, Chain: h.chain})
	h.ledger = New(&Config{
		Params:      params,
		Chain:       h.chain,
		Masternodes: h.mgr,
		Relay: func(msg wire.Message) {
			h.relayed = append(h.relayed, msg)
		},
	})
	h.mgr.SetScheduler(h.ledger)

	now := time.Now().Unix()
	for i := 0; i < numVoters; i++ {
		collKey, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatal(err)
		}
		hotKey, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatal(err)
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(i))
		vin := wire.OutPoint{Hash: chainhash.HashH(b[:])}
		collPub := collKey.PubKey().SerializeCompressed()
		version, script, err := chainview.PubKeyHashScript(collPub, params)
		if err != nil {
			t.Fatal(err)
		}
		h.chain.AddUtxo(vin, &chainview.UtxoEntry{
			Amount:   int64(params.CollateralAmount),
			Version:  version,
			PkScript: script,
			Height:   100,
		})
		mn := &masternode.Masternode{
			Vin:              vin,
			Addr:             "127.0.0.1:19560",
			CollateralPubKey: collPub,
			HotPubKey:        hotKey.PubKey().SerializeCompressed(),
			SigTime:          now - masternode.MinRankAgeSeconds - 1000,
			LastPing:         &mnwire.MsgMNPing{Vin: vin, SigTime: now - 100},
			ProtocolVersion:  params.ProtocolVersion,
			State:            masternode.StateEnabled,
		}
		if !h.mgr.Add(mn) {
			t.Fatalf("unable to add masternode %d", i)
		}
		h.voters = append(h.voters, &testVoter{mn, hotKey, script})
	}
	return h
}

// vote returns a vote by voter to pay script at height.
func (h *testHarness) vote(t *testing.T, voter *testVoter, height int64, script []byte) *mnwire.MsgPaymentVote {
	t.Helper()
	vote, err := NewVote(voter.mn.Vin, height, 0, script, voter.hotKey)
	if err != nil {
		t.Fatal(err)
	}
	return vote
}

// unrankedVote returns a vote from an arbitrary collateral.
func unrankedVote(t *testing.T, id uint32, height int64, script []byte) *mnwire.MsgPaymentVote {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], id)
	vin := wire.OutPoint{Hash: chainhash.HashH(b[:]), Index: 1}
	vote, err := NewVote(vin, height, 0, script, key)
	if err != nil {
		t.Fatal(err)
	}
	return vote
}

// TestAddVote ensures votes need a known scoring block and are only counted
// once.
func TestAddVote(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams(), 1)
	script := h.voters[0].script
	vote := unrankedVote(t, 1, 1050, script)

	added, err := h.ledger.AddVote(vote)
	if err != nil || !added {
		t.Fatalf("AddVote: added %v, err %v", added, err)
	}
	added, err = h.ledger.AddVote(vote)
	if err != nil || added {
		t.Fatalf("duplicate AddVote: added %v, err %v", added, err)
	}
	if got := h.ledger.Votes(1050, script); got != 1 {
		t.Fatalf("unexpected tally: got %d, want 1", got)
	}

	_, err = h.ledger.AddVote(unrankedVote(t, 2, 2000, script))
	if !errors.Is(err, ErrUnknownBlock) {
		t.Fatalf("unexpected error: got %v, want %v", err, ErrUnknownBlock)
	}
}

// TestProcessVote ensures received votes are validated against the voting
// masternode and that a voter may not vote for the height it last voted
// for.
func TestProcessVote(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams(), 3)
	peer := &testPeer{addr: "127.0.0.1:40000"}
	voter := h.voters[0]
	payeeA, payeeB := h.voters[1].script, h.voters[2].script
	const height = 1005

	if err := h.ledger.ProcessVote(peer, h.vote(t, voter, height, payeeA)); err != nil {
		t.Fatalf("ProcessVote: %v", err)
	}
	if len(h.relayed) != 1 {
		t.Fatalf("unexpected relay count: got %d, want 1", len(h.relayed))
	}

	err := h.ledger.ProcessVote(peer, h.vote(t, voter, height, payeeB))
	if !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("unexpected error: got %v, want %v", err, ErrAlreadyVoted)
	}
	if a, b := h.ledger.Votes(height, payeeA), h.ledger.Votes(height, payeeB); a != 1 || b != 0 {
		t.Fatalf("tally changed by repeated vote: %d, %d", a, b)
	}

	// Only a repeat of the most recent height is refused.
	if err := h.ledger.ProcessVote(peer, h.vote(t, voter, height+1, payeeA)); err != nil {
		t.Fatalf("ProcessVote next height: %v", err)
	}
	if err := h.ledger.ProcessVote(peer, h.vote(t, voter, height, payeeB)); err != nil {
		t.Fatalf("ProcessVote earlier height: %v", err)
	}

	tests := []struct {
		name    string
		vote    *mnwire.MsgPaymentVote
		wantErr error
		wantBan bool
	}{{
		name:    "height beyond tip",
		vote:    h.vote(t, h.voters[1], 1000+MaxFutureVoteHeight+1, payeeA),
		wantErr: ErrOutOfRange,
	}, {
		name:    "unknown voter",
		vote:    unrankedVote(t, 99, height, payeeA),
		wantErr: ErrUnknownMasternode,
	}, {
		name: "wrong key",
		vote: func() *mnwire.MsgPaymentVote {
			v := h.vote(t, h.voters[1], height, payeeA)
			v.Sig = h.vote(t, h.voters[2], height, payeeA).Sig
			return v
		}(),
		wantErr: ErrBadSignature,
		wantBan: true,
	}}
	for _, test := range tests {
		err := h.ledger.ProcessVote(peer, test.vote)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: unexpected error: got %v, want %v", test.name,
				err, test.wantErr)
			continue
		}
		if gotBan := BanScore(err) > 0; gotBan != test.wantBan {
			t.Errorf("%q: unexpected ban: got %v, want %v", test.name,
				gotBan, test.wantBan)
		}
	}
	last, ok := peer.msgs[len(peer.msgs)-1].(*mnwire.MsgListRequest)
	if !ok || last.Vin != tests[1].vote.Vin {
		t.Fatalf("unknown voter was not requested: %v", spew.Sdump(peer.msgs))
	}
}

// TestIsTransactionValid ensures blocks must pay a payee that reached the
// signature quorum and are otherwise unconstrained.
func TestIsTransactionValid(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams(), 2)
	payee, other := h.voters[0].script, h.voters[1].script
	const height = 1010
	required := h.params.MasternodePayment(h.chain.BlockSubsidy(height))

	payTo := func(script []byte, amount int64) *wire.MsgTx {
		tx := wire.NewMsgTx()
		tx.AddTxOut(wire.NewTxOut(100e8-amount, []byte{0x51}))
		tx.AddTxOut(wire.NewTxOut(amount, script))
		return tx
	}

	for i := 0; i < MinSignatures-1; i++ {
		if _, err := h.ledger.AddVote(unrankedVote(t, uint32(i), height, payee)); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.ledger.IsTransactionValid(payTo(other, required), height); err != nil {
		t.Fatalf("block rejected without quorum: %v", err)
	}
	if _, err := h.ledger.AddVote(unrankedVote(t, 100, height, payee)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		tx      *wire.MsgTx
		wantErr error
	}{{
		name: "pays quorum payee",
		tx:   payTo(payee, required),
	}, {
		name:    "pays other payee",
		tx:      payTo(other, required),
		wantErr: ErrMissingPayment,
	}, {
		name:    "underpays quorum payee",
		tx:      payTo(payee, required-1),
		wantErr: ErrMissingPayment,
	}}
	for _, test := range tests {
		err := h.ledger.IsTransactionValid(test.tx, height)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: unexpected error: got %v, want %v", test.name,
				err, test.wantErr)
		}
	}
	if err := h.ledger.IsTransactionValid(payTo(other, 0), height+1); err != nil {
		t.Fatalf("block without votes rejected: %v", err)
	}
}

// TestIsScheduled ensures masternodes leading the tally of an upcoming
// height are reported as scheduled.
func TestIsScheduled(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams(), 2)
	mn := h.voters[0].mn
	height := h.chain.BestHeight() + 2
	if _, err := h.ledger.AddVote(unrankedVote(t, 1, height, h.voters[0].script)); err != nil {
		t.Fatal(err)
	}
	if !h.ledger.IsScheduled(mn, 0) {
		t.Fatal("masternode not scheduled")
	}
	if h.ledger.IsScheduled(mn, height) {
		t.Fatal("masternode scheduled at the excluded height")
	}
	if h.ledger.IsScheduled(h.voters[1].mn, 0) {
		t.Fatal("masternode without votes scheduled")
	}
}

// TestProcessBlock ensures a ranked masternode votes once per height for
// the next masternode in the payment queue.
func TestProcessBlock(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams(), 5)
	self := h.voters[0]
	const height = 1010

	if err := h.ledger.ProcessBlock(height, self.mn.Vin, self.hotKey); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if len(h.relayed) != 1 || h.ledger.Size() != 1 {
		t.Fatalf("unexpected vote count: relayed %d, stored %d",
			len(h.relayed), h.ledger.Size())
	}
	vote := h.relayed[0].(*mnwire.MsgPaymentVote)
	if vote.Vin != self.mn.Vin || vote.BlockHeight != height {
		t.Fatalf("unexpected vote: %v", spew.Sdump(vote))
	}
	_, script, ok := h.ledger.BlockPayee(height)
	if !ok || !reflect.DeepEqual(script, vote.PayeeScript) {
		t.Fatal("vote not tallied")
	}

	if err := h.ledger.ProcessBlock(height, self.mn.Vin, self.hotKey); err != nil {
		t.Fatalf("repeated ProcessBlock: %v", err)
	}
	if len(h.relayed) != 1 {
		t.Fatal("voted twice for the same height")
	}

	unknown := wire.OutPoint{Index: 9}
	err := h.ledger.ProcessBlock(height+1, unknown, self.hotKey)
	if !errors.Is(err, ErrNotRanked) {
		t.Fatalf("unexpected error: got %v, want %v", err, ErrNotRanked)
	}
}

// TestCleanPaymentList ensures votes older than the retention window are
// removed.
func TestCleanPaymentList(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams(), 1)
	script := h.voters[0].script
	for i, height := range []int64{150, 1050} {
		if _, err := h.ledger.AddVote(unrankedVote(t, uint32(i), height, script)); err != nil {
			t.Fatal(err)
		}
	}
	h.ledger.CleanPaymentList()
	if h.ledger.Size() != 2 {
		t.Fatalf("unexpected size: got %d, want 2", h.ledger.Size())
	}

	h.chain.ExtendTo(1200)
	h.ledger.CleanPaymentList()
	if h.ledger.Size() != 1 || h.ledger.Votes(150, script) != 0 {
		t.Fatalf("old vote kept: %v", h.ledger)
	}
}

// TestWinnersRequest ensures vote requests are answered with recent votes
// and a sync count, once per peer where rate limited.
func TestWinnersRequest(t *testing.T) {
	h := newTestHarness(t, netparams.TestNetParams(), 1)
	script := h.voters[0].script
	for i, height := range []int64{500, 995, 1005} {
		if _, err := h.ledger.AddVote(unrankedVote(t, uint32(i), height, script)); err != nil {
			t.Fatal(err)
		}
	}

	peer := &testPeer{addr: "9.9.9.9:19108"}
	req := &mnwire.MsgWinnersRequest{Count: 10}
	if err := h.ledger.ProcessWinnersRequest(peer, req); err != nil {
		t.Fatalf("ProcessWinnersRequest: %v", err)
	}
	if len(peer.msgs) != 3 {
		t.Fatalf("unexpected reply count: got %d, want 3", len(peer.msgs))
	}
	sc, ok := peer.msgs[2].(*mnwire.MsgSyncCount)
	if !ok || sc.Asset != mnwire.SyncAssetWinners || sc.Count != 2 {
		t.Fatalf("unexpected sync count: %v", spew.Sdump(peer.msgs[2]))
	}

	err := h.ledger.ProcessWinnersRequest(peer, req)
	if !errors.Is(err, ErrRateLimited) || BanScore(err) == 0 {
		t.Fatalf("unexpected error: got %v, want bannable %v", err,
			ErrRateLimited)
	}
}

// TestCacheRoundTrip ensures the ledger survives a cache round trip and
// that a corrupt checksum is detected without touching the ledger.
func TestCacheRoundTrip(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams(), 3)
	peer := &testPeer{addr: "127.0.0.1:40000"}
	for i, voter := range h.voters {
		vote := h.vote(t, voter, 1005, h.voters[i%2].script)
		if err := h.ledger.ProcessVote(peer, vote); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "mnpayments.dat")
	if err := h.ledger.SaveCache(path); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	loaded := newTestHarness(t, netparams.RegNetParams(), 0)
	if err := loaded.ledger.LoadCache(path); err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if !reflect.DeepEqual(loaded.ledger.votes, h.ledger.votes) {
		t.Fatalf("mismatched votes:\ngot %v\nwant %v",
			spew.Sdump(loaded.ledger.votes), spew.Sdump(h.ledger.votes))
	}
	if !reflect.DeepEqual(loaded.ledger.lastVote, h.ledger.lastVote) {
		t.Fatal("mismatched last votes")
	}
	for _, voter := range h.voters[:2] {
		want := h.ledger.Votes(1005, voter.script)
		if got := loaded.ledger.Votes(1005, voter.script); got != want {
			t.Fatalf("mismatched tally: got %d, want %d", got, want)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-2] ^= 0x01
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	err = h.ledger.LoadCache(path)
	if !errors.Is(err, flatdb.ErrChecksumMismatch) {
		t.Fatalf("unexpected error: got %v, want %v", err,
			flatdb.ErrChecksumMismatch)
	}
	if h.ledger.Size() != 3 {
		t.Fatal("failed load modified the ledger")
	}
}

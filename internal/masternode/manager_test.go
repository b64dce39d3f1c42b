// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/flatdb"
	"github.com/anonsend/anond/internal/mnsign"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

// testNow is the wall clock time used by all registry tests.
const testNow = int64(1700000000)

// testPeer records the messages queued to it.
type testPeer struct {
	addr string
	msgs []wire.Message
}

func (p *testPeer) Addr() string                  { return p.addr }
func (p *testPeer) QueueMessage(msg wire.Message) { p.msgs = append(p.msgs, msg) }

// testHarness is a registry backed by an in-memory chain with a fixed clock.
type testHarness struct {
	params  *netparams.Params
	chain   *chainview.MemChain
	mgr     *Manager
	now     int64
	relayed []wire.Message
	nextID  uint32
}

func newTestHarness(params *netparams.Params) *testHarness {
	h := &testHarness{
		params: params,
		chain:  chainview.NewMemChain(1000, 100e8),
		now:    testNow,
	}
	h.mgr = New(&Config{
		Params: params,
		Chain:  h.chain,
		Relay: func(msg wire.Message) {
			h.relayed = append(h.relayed, msg)
		},
	})
	h.mgr.now = func() time.Time { return time.Unix(h.now, 0) }
	return h
}

// testCollateral is a funded collateral output with its keys.
type testCollateral struct {
	vin     wire.OutPoint
	collKey *secp256k1.PrivateKey
	hotKey  *secp256k1.PrivateKey
}

// newCollateral adds a confirmed collateral output paying a fresh key.
func (h *testHarness) newCollateral(t *testing.T) *testCollateral {
	t.Helper()
	collKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	hotKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	h.nextID++
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], h.nextID)
	vin := wire.OutPoint{Hash: chainhash.HashH(b[:])}
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
	return &testCollateral{vin: vin, collKey: collKey, hotKey: hotKey}
}

// broadcast returns a signed announcement for c.
func (h *testHarness) broadcast(t *testing.T, c *testCollateral, addr string, sigTime, pingTime int64) *mnwire.MsgMNBroadcast {
	t.Helper()
	ping, err := NewPing(c.vin, h.chain, c.hotKey, pingTime)
	if err != nil {
		t.Fatal(err)
	}
	mnb, err := NewBroadcast(c.vin, addr, c.collKey,
		c.hotKey.PubKey().SerializeCompressed(), h.params.ProtocolVersion,
		sigTime, ping)
	if err != nil {
		t.Fatal(err)
	}
	return mnb
}

// addEnabled adds an enabled record for a fresh collateral directly.
func (h *testHarness) addEnabled(t *testing.T, addr string, sigTime, pingTime int64) *Masternode {
	t.Helper()
	c := h.newCollateral(t)
	mn := &Masternode{
		Vin:              c.vin,
		Addr:             addr,
		CollateralPubKey: c.collKey.PubKey().SerializeCompressed(),
		HotPubKey:        c.hotKey.PubKey().SerializeCompressed(),
		Sig:              []byte{0x01},
		SigTime:          sigTime,
		LastPing: &mnwire.MsgMNPing{
			Vin:     c.vin,
			SigTime: pingTime,
			Sig:     []byte{0x02},
		},
		ProtocolVersion: h.params.ProtocolVersion,
		State:           StateEnabled,
	}
	if !h.mgr.Add(mn) {
		t.Fatalf("unable to add masternode %v", mn.Vin)
	}
	return mn
}

// TestCountEnabledAboveVersion ensures no masternode is counted when the
// minimum protocol version exceeds that of every masternode.
func TestCountEnabledAboveVersion(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	for i := 0; i < 50; i++ {
		h.addEnabled(t, "127.0.0.1:19560", testNow-1000, testNow-100)
	}
	if got := h.mgr.CountEnabled(h.params.ProtocolVersion); got != 50 {
		t.Fatalf("unexpected enabled count: got %d, want 50", got)
	}
	if got := h.mgr.CountEnabled(h.params.ProtocolVersion + 1); got != 0 {
		t.Fatalf("unexpected enabled count above version: got %d, want 0",
			got)
	}
	if got := h.mgr.CountAboveProtocol(h.params.ProtocolVersion); got != 50 {
		t.Fatalf("unexpected count above protocol: got %d, want 50", got)
	}
}

// TestAddDuplicate ensures records are only added once per collateral and
// only while enabled.
func TestAddDuplicate(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	mn := h.addEnabled(t, "127.0.0.1:19560", testNow-1000, testNow-100)
	if h.mgr.Add(clone(mn)) {
		t.Fatal("duplicate collateral was added")
	}
	disabled := clone(mn)
	disabled.Vin.Index = 7
	disabled.State = StateExpired
	if h.mgr.Add(disabled) {
		t.Fatal("expired record was added")
	}
	h.mgr.Remove(&disabled.Vin)
	if h.mgr.Size() != 1 {
		t.Fatalf("unexpected size: got %d, want 1", h.mgr.Size())
	}
	if h.mgr.FindByPubKey(mn.HotPubKey) == nil {
		t.Fatal("unable to find masternode by hot key")
	}
	_, payee, err := h.mgr.PayeeScript(mn)
	if err != nil {
		t.Fatal(err)
	}
	if h.mgr.FindByPayee(payee) == nil {
		t.Fatal("unable to find masternode by payee")
	}
}

// TestBroadcastFutureTime ensures announcements signed more than an hour in
// the future are rejected with a penalty while those within the tolerance
// are accepted.
func TestBroadcastFutureTime(t *testing.T) {
	tests := []struct {
		name     string
		offset   int64
		wantErr  error
		wantBan  bool
		wantSize int
	}{{
		name:    "two hours ahead",
		offset:  2 * 60 * 60,
		wantErr: ErrFutureTimestamp,
		wantBan: true,
	}, {
		name:     "thirty minutes ahead",
		offset:   30 * 60,
		wantSize: 1,
	}}

	for _, test := range tests {
		h := newTestHarness(netparams.RegNetParams())
		c := h.newCollateral(t)
		mnb := h.broadcast(t, c, "127.0.0.1:19560", testNow+test.offset,
			testNow)
		peer := &testPeer{addr: "127.0.0.1:40000"}
		err := h.mgr.ProcessBroadcast(peer, mnb)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: unexpected error: got %v, want %v", test.name,
				err, test.wantErr)
			continue
		}
		if gotBan := BanScore(err) > 0; gotBan != test.wantBan {
			t.Errorf("%q: unexpected ban: got %v, want %v", test.name,
				gotBan, test.wantBan)
		}
		if h.mgr.Size() != test.wantSize {
			t.Errorf("%q: unexpected size: got %d, want %d", test.name,
				h.mgr.Size(), test.wantSize)
		}
	}
}

// TestBroadcastValidation ensures invalid announcements are rejected with
// the expected error kind and penalty.
func TestBroadcastValidation(t *testing.T) {
	tests := []struct {
		name    string
		params  *netparams.Params
		mutate  func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast)
		resign  bool
		wantErr error
		wantBan uint32
	}{{
		name:   "tampered address",
		params: netparams.RegNetParams(),
		mutate: func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast) {
			mnb.Addr = "127.0.0.2:19560"
		},
		wantErr: ErrBadSignature,
		wantBan: banScoreBadSig,
	}, {
		name:   "obsolete protocol",
		params: netparams.RegNetParams(),
		mutate: func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast) {
			mnb.ProtocolVersion = h.params.MinProtocolVersion - 1
		},
		resign:  true,
		wantErr: ErrObsoleteVersion,
	}, {
		name:   "malformed hot key",
		params: netparams.RegNetParams(),
		mutate: func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast) {
			mnb.HotPubKey = []byte{0x02, 0x01}
		},
		wantErr: ErrBadPubKey,
		wantBan: banScoreBadKey,
	}, {
		name:   "signed collateral input",
		params: netparams.RegNetParams(),
		mutate: func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast) {
			mnb.VinScript = []byte{0x00}
		},
		wantErr: ErrSignedInput,
		wantBan: banScoreBadKey,
	}, {
		name:   "wrong port",
		params: netparams.MainNetParams(),
		mutate: func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast) {
			mnb.Addr = "8.8.8.8:1234"
		},
		resign:  true,
		wantErr: ErrBadPort,
		wantBan: banScoreBadPort,
	}, {
		name:   "collateral amount",
		params: netparams.RegNetParams(),
		mutate: func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast) {
			entry, _ := h.chain.FetchUtxo(&c.vin)
			wrong := *entry
			wrong.Amount--
			h.chain.AddUtxo(c.vin, &wrong)
		},
		wantErr: ErrCollateralAmount,
	}, {
		name:   "collateral unconfirmed",
		params: netparams.RegNetParams(),
		mutate: func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast) {
			entry, _ := h.chain.FetchUtxo(&c.vin)
			unconfirmed := *entry
			unconfirmed.Height = 0
			h.chain.AddUtxo(c.vin, &unconfirmed)
		},
		wantErr: ErrCollateralTooNew,
	}, {
		name:   "collateral spent",
		params: netparams.RegNetParams(),
		mutate: func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast) {
			h.chain.SpendUtxo(c.vin)
		},
		wantErr: ErrCollateralMissing,
	}, {
		name:   "collateral paid elsewhere",
		params: netparams.RegNetParams(),
		mutate: func(h *testHarness, c *testCollateral, mnb *mnwire.MsgMNBroadcast) {
			entry, _ := h.chain.FetchUtxo(&c.vin)
			other := *entry
			_, other.PkScript, _ = chainview.PubKeyHashScript(
				c.hotKey.PubKey().SerializeCompressed(), h.params)
			h.chain.AddUtxo(c.vin, &other)
		},
		wantErr: ErrCollateralPayee,
		wantBan: banScorePayee,
	}}

	for _, test := range tests {
		h := newTestHarness(test.params)
		c := h.newCollateral(t)
		mnb := h.broadcast(t, c, "8.8.8.8:"+h.params.DefaultPort,
			testNow-1000, testNow-100)
		test.mutate(h, c, mnb)
		if test.resign {
			sig, err := mnsign.Sign(mnb.SignatureMessage(), c.collKey)
			if err != nil {
				t.Fatal(err)
			}
			mnb.Sig = sig
		}
		err := h.mgr.ProcessBroadcast(&testPeer{addr: "8.8.4.4:9108"}, mnb)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("%q: unexpected error: got %v, want %v", test.name,
				err, test.wantErr)
			continue
		}
		if got := BanScore(err); got != test.wantBan {
			t.Errorf("%q: unexpected ban score: got %d, want %d",
				test.name, got, test.wantBan)
		}
		if h.mgr.Size() != 0 {
			t.Errorf("%q: rejected announcement was added", test.name)
		}
	}
}

// TestBroadcastIdempotent ensures processing the same announcement twice
// leaves the registry as processing it once, and that older announcements
// for a known collateral are rejected.
func TestBroadcastIdempotent(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	c := h.newCollateral(t)
	mnb := h.broadcast(t, c, "127.0.0.1:19560", testNow-1000, testNow-100)
	peer := &testPeer{addr: "127.0.0.1:40000"}

	if err := h.mgr.ProcessBroadcast(peer, mnb); err != nil {
		t.Fatalf("ProcessBroadcast: %v", err)
	}
	first := h.mgr.Masternodes()
	if err := h.mgr.ProcessBroadcast(peer, mnb); err != nil {
		t.Fatalf("second ProcessBroadcast: %v", err)
	}
	second := h.mgr.Masternodes()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("registry changed on redelivery:\n%v\n%v", spew.Sdump(first),
			spew.Sdump(second))
	}
	if len(h.relayed) != 1 {
		t.Fatalf("unexpected relay count: got %d, want 1", len(h.relayed))
	}

	older := h.broadcast(t, c, "127.0.0.1:19560", testNow-2000, testNow-100)
	err := h.mgr.ProcessBroadcast(peer, older)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("unexpected error for older announcement: got %v, want %v",
			err, ErrDuplicate)
	}
}

// TestProcessPing ensures pings are rate limited, verified against the hot
// key and anchored to a recent block.
func TestProcessPing(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	c := h.newCollateral(t)
	peer := &testPeer{addr: "127.0.0.1:40000"}
	mnb := h.broadcast(t, c, "127.0.0.1:19560", testNow-1000, testNow-900)
	if err := h.mgr.ProcessBroadcast(peer, mnb); err != nil {
		t.Fatalf("ProcessBroadcast: %v", err)
	}

	ping, err := NewPing(c.vin, h.chain, c.hotKey, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.ProcessPing(peer, ping); err != nil {
		t.Fatalf("ProcessPing: %v", err)
	}
	mn := h.mgr.Find(&c.vin)
	if mn.LastPing.SigTime != testNow || !mn.IsEnabled() {
		t.Fatalf("ping not applied: %v", spew.Sdump(mn))
	}

	soon, err := NewPing(c.vin, h.chain, c.hotKey, testNow+10)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.ProcessPing(peer, soon); !errors.Is(err, ErrTooFrequent) {
		t.Fatalf("unexpected error: got %v, want %v", err, ErrTooFrequent)
	}

	h.now += MinPingSeconds
	stale, _ := h.chain.BlockHash(h.chain.BestHeight() - MaxPingAnchorAge - 1)
	old := &mnwire.MsgMNPing{Vin: c.vin, BlockHash: stale, SigTime: h.now}
	if old.Sig, err = mnsign.Sign(old.SignatureMessage(), c.hotKey); err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.ProcessPing(peer, old); !errors.Is(err, ErrStaleBlock) {
		t.Fatalf("unexpected error: got %v, want %v", err, ErrStaleBlock)
	}

	forged, err := NewPing(c.vin, h.chain, c.collKey, h.now)
	if err != nil {
		t.Fatal(err)
	}
	err = h.mgr.ProcessPing(peer, forged)
	if !errors.Is(err, ErrBadSignature) || BanScore(err) == 0 {
		t.Fatalf("unexpected error: got %v, want bannable %v", err,
			ErrBadSignature)
	}

	unknown := h.newCollateral(t)
	orphan, err := NewPing(unknown.vin, h.chain, unknown.hotKey, h.now)
	if err != nil {
		t.Fatal(err)
	}
	err = h.mgr.ProcessPing(peer, orphan)
	if !errors.Is(err, ErrUnknownMasternode) {
		t.Fatalf("unexpected error: got %v, want %v", err,
			ErrUnknownMasternode)
	}
	last := peer.msgs[len(peer.msgs)-1]
	if req, ok := last.(*mnwire.MsgListRequest); !ok || req.Vin != unknown.vin {
		t.Fatalf("missing masternode was not requested: %v", spew.Sdump(last))
	}
}

// TestLegacyMessages ensures legacy registrations and pings update records
// through the same path as modern announcements.
func TestLegacyMessages(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	c := h.newCollateral(t)
	peer := &testPeer{addr: "127.0.0.1:40000"}
	hotPub := c.hotKey.PubKey().SerializeCompressed()

	dsee, err := NewLegacyAnnounce(c.vin, "127.0.0.1:19560", c.collKey, hotPub,
		h.params.LegacyProtocolVersion, testNow-2000)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.ProcessLegacyAnnounce(peer, dsee); err != nil {
		t.Fatalf("ProcessLegacyAnnounce: %v", err)
	}
	if mn := h.mgr.Find(&c.vin); mn == nil || mn.LastDsee != 1 {
		t.Fatalf("legacy announcement not applied: %v", spew.Sdump(mn))
	}

	dseep, err := NewLegacyPing(c.vin, c.hotKey, testNow-1000, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.ProcessLegacyPing(peer, dseep); err != nil {
		t.Fatalf("ProcessLegacyPing: %v", err)
	}
	if mn := h.mgr.Find(&c.vin); !mn.IsEnabled() {
		t.Fatalf("unexpected state after legacy ping: %v", mn.State)
	}

	stop, err := NewLegacyPing(c.vin, c.hotKey, testNow, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.ProcessLegacyPing(peer, stop); err != nil {
		t.Fatalf("ProcessLegacyPing stop: %v", err)
	}
	h.mgr.CheckAndRemove(false)
	if h.mgr.Size() != 0 {
		t.Fatal("stopped masternode was not removed")
	}
}

// TestCheckAndRemove ensures terminal records are purged and expired ones
// only when forced.
func TestCheckAndRemove(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	live := h.addEnabled(t, "127.0.0.1:19560", testNow-5000, testNow-100)
	spent := h.addEnabled(t, "127.0.0.1:19560", testNow-5000, testNow-100)
	expired := h.addEnabled(t, "127.0.0.1:19560", testNow-9000,
		testNow-ExpirationSeconds-10)
	gone := h.addEnabled(t, "127.0.0.1:19560", testNow-9000,
		testNow-RemovalSeconds-10)
	h.chain.SpendUtxo(spent.Vin)

	h.mgr.CheckAndRemove(false)
	for _, mn := range []*Masternode{spent, gone} {
		if h.mgr.Find(&mn.Vin) != nil {
			t.Fatalf("terminal masternode %v was kept", mn.Vin)
		}
	}
	if mn := h.mgr.Find(&expired.Vin); mn == nil || mn.State != StateExpired {
		t.Fatalf("expired masternode not kept as expired: %v", spew.Sdump(mn))
	}

	h.mgr.CheckAndRemove(true)
	if h.mgr.Size() != 1 || h.mgr.Find(&live.Vin) == nil {
		t.Fatalf("unexpected records after forced removal: %v",
			spew.Sdump(h.mgr.Masternodes()))
	}
}

// TestCalculateScore ensures scores are a pure function of the collateral
// and block hash.
func TestCalculateScore(t *testing.T) {
	blockHash := chainhash.HashH([]byte("block"))
	a := wire.OutPoint{Hash: chainhash.HashH([]byte("a"))}
	b := wire.OutPoint{Hash: chainhash.HashH([]byte("a")), Index: 1}

	s1 := CalculateScore(&a, &blockHash)
	s2 := CalculateScore(&a, &blockHash)
	if !s1.Eq(&s2) {
		t.Fatal("score is not deterministic")
	}
	s3 := CalculateScore(&b, &blockHash)
	if s1.Eq(&s3) {
		t.Fatal("distinct output indexes produced the same score")
	}
	other := chainhash.HashH([]byte("other"))
	s4 := CalculateScore(&a, &other)
	if s1.Eq(&s4) {
		t.Fatal("distinct blocks produced the same score")
	}
}

// TestMasternodeRanks ensures ranks are 1..N without gaps among eligible
// masternodes and follow descending score order.
func TestMasternodeRanks(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	const numNodes = 20
	for i := 0; i < numNodes; i++ {
		h.addEnabled(t, "127.0.0.1:19560", testNow-MinRankAgeSeconds-100,
			testNow-100)
	}
	young := h.addEnabled(t, "127.0.0.1:19560", testNow-1000, testNow-100)

	const height = 990
	minProto := h.params.MinProtocolVersion
	if rank := h.mgr.GetMasternodeRank(&young.Vin, height, minProto, true); rank != -1 {
		t.Fatalf("young masternode ranked %d", rank)
	}

	var ranks []int
	for _, mn := range h.mgr.Masternodes() {
		if mn.Vin == young.Vin {
			continue
		}
		ranks = append(ranks, h.mgr.GetMasternodeRank(&mn.Vin, height,
			minProto, true))
	}
	sort.Ints(ranks)
	for i, rank := range ranks {
		if rank != i+1 {
			t.Fatalf("ranks have gaps or duplicates: %v", ranks)
		}
	}

	ordered := h.mgr.GetMasternodeRanks(height, minProto)
	if len(ordered) != numNodes {
		t.Fatalf("unexpected ranked count: got %d, want %d", len(ordered),
			numNodes)
	}
	for _, r := range ordered {
		got := h.mgr.GetMasternodeRank(&r.Masternode.Vin, height, minProto,
			true)
		if got != r.Rank {
			t.Fatalf("rank mismatch for %v: got %d, want %d",
				r.Masternode.Vin, got, r.Rank)
		}
	}
	top := h.mgr.GetMasternodeByRank(1, height, minProto)
	if top == nil || top.Vin != ordered[0].Masternode.Vin {
		t.Fatal("unexpected masternode at rank 1")
	}
	if h.mgr.GetMasternodeRank(&young.Vin, 1<<30, minProto, true) != -1 {
		t.Fatal("rank at unknown height is not -1")
	}
}

// TestNextInQueueRelaxation ensures payment selection retries without the
// announcement age filter when too few masternodes pass it.
func TestNextInQueueRelaxation(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	for i := 0; i < 10; i++ {
		h.addEnabled(t, "127.0.0.1:19560", testNow-700, testNow-50)
	}
	winner, count := h.mgr.GetNextInQueueForPayment(1001, true)
	if winner == nil {
		t.Fatal("no masternode selected after relaxing the age filter")
	}
	if count != 10 {
		t.Fatalf("unexpected candidate count: got %d, want 10", count)
	}

	empty := newTestHarness(netparams.RegNetParams())
	if winner, _ := empty.mgr.GetNextInQueueForPayment(1001, true); winner != nil {
		t.Fatal("masternode selected from an empty registry")
	}
}

// TestFindRandomNotInVec ensures excluded and disabled masternodes are never
// selected.
func TestFindRandomNotInVec(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	a := h.addEnabled(t, "127.0.0.1:19560", testNow-1000, testNow-100)
	b := h.addEnabled(t, "127.0.0.1:19560", testNow-1000, testNow-100)
	minProto := h.params.MinProtocolVersion
	for i := 0; i < 20; i++ {
		mn := h.mgr.FindRandomNotInVec([]wire.OutPoint{a.Vin}, minProto)
		if mn == nil || mn.Vin != b.Vin {
			t.Fatalf("unexpected selection: %v", spew.Sdump(mn))
		}
	}
	if mn := h.mgr.FindRandomNotInVec([]wire.OutPoint{a.Vin, b.Vin}, minProto); mn != nil {
		t.Fatalf("selected excluded masternode %v", mn.Vin)
	}
}

// TestListRequest ensures full list requests are answered with a sync count
// and rate limited per remote peer.
func TestListRequest(t *testing.T) {
	h := newTestHarness(netparams.MainNetParams())
	addr := "8.8.8.8:" + h.params.DefaultPort
	for i := 0; i < 3; i++ {
		h.addEnabled(t, addr, testNow-1000, testNow-100)
	}
	h.addEnabled(t, "10.0.0.1:"+h.params.DefaultPort, testNow-1000,
		testNow-100)

	peer := &testPeer{addr: "9.9.9.9:9108"}
	if err := h.mgr.ProcessListRequest(peer, &mnwire.MsgListRequest{}); err != nil {
		t.Fatalf("ProcessListRequest: %v", err)
	}
	last, ok := peer.msgs[len(peer.msgs)-1].(*mnwire.MsgSyncCount)
	if !ok || last.Asset != mnwire.SyncAssetList || last.Count != 3 {
		t.Fatalf("unexpected sync count: %v", spew.Sdump(peer.msgs))
	}

	err := h.mgr.ProcessListRequest(peer, &mnwire.MsgListRequest{})
	if !errors.Is(err, ErrRateLimited) || BanScore(err) == 0 {
		t.Fatalf("unexpected error: got %v, want bannable %v", err,
			ErrRateLimited)
	}
	local := &testPeer{addr: "127.0.0.1:9108"}
	for i := 0; i < 2; i++ {
		err := h.mgr.ProcessListRequest(local, &mnwire.MsgListRequest{})
		if err != nil {
			t.Fatalf("local ProcessListRequest: %v", err)
		}
	}

	if !h.mgr.DsegUpdate(peer) {
		t.Fatal("first list request was not sent")
	}
	if h.mgr.DsegUpdate(peer) {
		t.Fatal("repeated list request was sent")
	}
}

// TestCacheRoundTrip ensures the registry survives a cache round trip and
// that a corrupt cache is rejected without touching the registry.
func TestCacheRoundTrip(t *testing.T) {
	h := newTestHarness(netparams.RegNetParams())
	for i := 0; i < 5; i++ {
		mn := h.addEnabled(t, "127.0.0.1:19560", testNow-1000, testNow-100)
		h.mgr.MarkAdvertised(&mn.Vin)
	}
	h.mgr.NextDsq()
	h.mgr.DsegUpdate(&testPeer{addr: "9.9.9.9:9108"})
	path := filepath.Join(t.TempDir(), "mncache.dat")
	if err := h.mgr.SaveCache(path); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	loaded := newTestHarness(netparams.RegNetParams())
	if err := loaded.mgr.LoadCache(path); err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	want := h.mgr.Masternodes()
	got := loaded.mgr.Masternodes()
	for _, mns := range [][]*Masternode{want, got} {
		for _, mn := range mns {
			mn.lastChecked = 0
		}
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mismatched records:\ngot %v\nwant %v", spew.Sdump(got),
			spew.Sdump(want))
	}
	if loaded.mgr.DsqCount() != 1 {
		t.Fatalf("unexpected dsq count: got %d", loaded.mgr.DsqCount())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	fresh := newTestHarness(netparams.RegNetParams())
	fresh.addEnabled(t, "127.0.0.1:19560", testNow-1000, testNow-100)
	err = fresh.mgr.LoadCache(path)
	if !errors.Is(err, flatdb.ErrChecksumMismatch) {
		t.Fatalf("unexpected error: got %v, want %v", err,
			flatdb.ErrChecksumMismatch)
	}
	if fresh.mgr.Size() != 1 {
		t.Fatal("failed load modified the registry")
	}
}

// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anonsend

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/anonsend/anond/internal/mnwire"
	"github.com/davecgh/go-spew/spew"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
)

// newTestQueue returns a queue advertisement of mn signed by key.
func newTestQueue(t *testing.T, mn *testMasternode, key *secp256k1.PrivateKey, ready bool, at time.Time) *mnwire.MsgQueue {
	t.Helper()
	dsq, err := NewQueue(mn.mn.Vin, oneCoinDenom, ready, key, at)
	if err != nil {
		t.Fatal(err)
	}
	return dsq
}

// TestIsQueueExpired ensures advertisements expire once older than the
// queue timeout.
func TestIsQueueExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tests := []struct {
		name    string
		age     time.Duration
		expired bool
	}{
		{name: "fresh", age: 0, expired: false},
		{name: "at timeout", age: QueueTimeout, expired: false},
		{name: "past timeout", age: QueueTimeout + time.Second, expired: true},
		{name: "from the future", age: -time.Minute, expired: false},
	}
	for _, test := range tests {
		dsq := &mnwire.MsgQueue{Time: now.Add(-test.age).Unix()}
		if got := IsQueueExpired(dsq, now); got != test.expired {
			t.Errorf("%q: expired %v, want %v", test.name, got, test.expired)
		}
	}
}

// TestProcessQueue ensures queue advertisements are validated, handed to
// the client when ready and recorded and relayed otherwise.
func TestProcessQueue(t *testing.T) {
	h := newTestHarness(t)
	obsolete := h.addMasternode(t, "10.0.4.1:9108",
		h.params.MinProtocolVersion-1)
	wrongKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	unknownDsq := newTestQueue(t, h.local, h.local.hotKey, false, h.now)
	unknownDsq.Vin = h.nextOutPoint()

	tests := []struct {
		name     string
		dsq      *mnwire.MsgQueue
		wantErr  error
		banScore uint32
		queued   int
		ready    int
		relayed  int
	}{{
		name:    "expired",
		dsq:     newTestQueue(t, h.local, h.local.hotKey, false, h.now.Add(-QueueTimeout-time.Second)),
		wantErr: ErrQueueExpired,
	}, {
		name:    "unknown masternode",
		dsq:     unknownDsq,
		wantErr: ErrUnknownMasternode,
	}, {
		name:    "obsolete masternode",
		dsq:     newTestQueue(t, obsolete, obsolete.hotKey, false, h.now),
		wantErr: ErrObsoleteVersion,
	}, {
		name:     "bad signature",
		dsq:      newTestQueue(t, h.local, wrongKey, false, h.now),
		wantErr:  ErrBadSignature,
		banScore: banScoreBadSig,
	}, {
		name:  "ready",
		dsq:   newTestQueue(t, h.local, h.local.hotKey, true, h.now),
		ready: 1,
	}, {
		name:    "open",
		dsq:     newTestQueue(t, h.local, h.local.hotKey, false, h.now),
		queued:  1,
		ready:   1,
		relayed: 1,
	}, {
		name:    "newer advertisement supersedes",
		dsq:     newTestQueue(t, h.local, h.local.hotKey, false, h.now.Add(time.Second)),
		queued:  1,
		ready:   1,
		relayed: 2,
	}, {
		name:    "older advertisement ignored",
		dsq:     newTestQueue(t, h.local, h.local.hotKey, false, h.now),
		queued:  1,
		ready:   1,
		relayed: 2,
	}}

	for _, test := range tests {
		err := h.queues.ProcessQueue(nil, test.dsq)
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("%q: mismatched error -- got %v, want %v", test.name,
				err, test.wantErr)
		}
		if got := BanScore(err); got != test.banScore {
			t.Fatalf("%q: unexpected ban score %d", test.name, got)
		}
		if got := len(h.queues.Queues()); got != test.queued {
			t.Fatalf("%q: %d queues recorded, want %d", test.name, got,
				test.queued)
		}
		if got := len(h.ready); got != test.ready {
			t.Fatalf("%q: %d ready queues, want %d", test.name, got,
				test.ready)
		}
		if got := h.countRelayed(mnwire.CmdQueue); got != test.relayed {
			t.Fatalf("%q: relayed %d queues, want %d", test.name, got,
				test.relayed)
		}
	}

	// An expired advertisement that was not swept yet does not block a
	// fresh one from the same masternode.
	h.now = h.now.Add(QueueTimeout + 2*time.Second)
	fresh := newTestQueue(t, h.local, h.local.hotKey, false, h.now)
	if err := h.queues.ProcessQueue(nil, fresh); err != nil {
		t.Fatalf("fresh advertisement: unexpected err - %v", err)
	}
	queues := h.queues.Queues()
	if len(queues) != 1 || queues[0] != fresh {
		t.Fatalf("unexpected live queues %v", spew.Sdump(queues))
	}
	if got := h.countRelayed(mnwire.CmdQueue); got != 3 {
		t.Fatalf("relayed %d queues, want 3", got)
	}

	// Expired advertisements are dropped.
	h.now = h.now.Add(QueueTimeout + time.Second)
	h.queues.Clean()
	if got := len(h.queues.Queues()); got != 0 {
		t.Fatalf("%d queues left after expiry", got)
	}
}

// TestQueueFairness ensures a masternode may not advertise again until a
// fifth of the enabled network advertised after it.
func TestQueueFairness(t *testing.T) {
	h := newTestHarness(t)
	mns := []*testMasternode{h.local}
	for i := 0; i < 4; i++ {
		addr := fmt.Sprintf("10.0.5.%d:9108", i+1)
		mns = append(mns, h.addMasternode(t, addr, h.params.ProtocolVersion))
	}

	steps := []struct {
		name    string
		mn      int
		wantErr error
	}{
		{name: "first advertisement", mn: 0},
		{name: "too soon", mn: 0, wantErr: ErrTooManyQueues},
		{name: "other masternode", mn: 1},
		{name: "after another advertised", mn: 0},
	}
	for _, step := range steps {
		// Expire earlier advertisements so only fairness applies.
		h.now = h.now.Add(QueueTimeout + time.Second)
		h.queues.Clean()

		mn := mns[step.mn]
		dsq := newTestQueue(t, mn, mn.hotKey, false, h.now)
		err := h.queues.ProcessQueue(nil, dsq)
		if !errors.Is(err, step.wantErr) {
			t.Fatalf("%q: mismatched error -- got %v, want %v", step.name,
				err, step.wantErr)
		}
	}
	if got := h.mgr.DsqCount(); got != 3 {
		t.Fatalf("unexpected queue counter %d", got)
	}
}

// TestProcessBroadcastTx ensures masternode signed mixing transactions are
// verified, submitted and relayed once.
func TestProcessBroadcastTx(t *testing.T) {
	h := newTestHarness(t)
	wrongKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}

	// spend returns a signed transaction spending a fresh output.
	spend := func() *wire.MsgTx {
		coin := h.fund(t, h.wallet, dcrutil.AtomsPerCoin)
		return h.collateral(t, h.wallet, coin, 10000)
	}
	dstx := func(tx *wire.MsgTx, vin wire.OutPoint, key *secp256k1.PrivateKey) *mnwire.MsgBroadcastTx {
		msg, err := NewBroadcastTx(tx, vin, key, h.now)
		if err != nil {
			t.Fatal(err)
		}
		return msg
	}
	unspendable := spend()
	unspendable.TxIn[0].PreviousOutPoint = h.nextOutPoint()
	valid := dstx(spend(), h.local.mn.Vin, h.local.hotKey)

	tests := []struct {
		name     string
		dstx     *mnwire.MsgBroadcastTx
		wantErr  error
		banScore uint32
		relayed  int
	}{{
		name:    "unknown masternode",
		dstx:    dstx(spend(), h.nextOutPoint(), h.local.hotKey),
		wantErr: ErrUnknownMasternode,
	}, {
		name:     "bad signature",
		dstx:     dstx(spend(), h.local.mn.Vin, wrongKey),
		wantErr:  ErrBadSignature,
		banScore: banScoreBadSig,
	}, {
		name:    "rejected by chain",
		dstx:    dstx(unspendable, h.local.mn.Vin, h.local.hotKey),
		wantErr: ErrInvalidTx,
	}, {
		name:    "valid",
		dstx:    valid,
		relayed: 1,
	}, {
		name:    "already seen",
		dstx:    valid,
		relayed: 1,
	}}

	for _, test := range tests {
		err := h.queues.ProcessBroadcastTx(&testPeer{addr: "10.0.6.1:9108"},
			test.dstx)
		if !errors.Is(err, test.wantErr) {
			t.Fatalf("%q: mismatched error -- got %v, want %v", test.name,
				err, test.wantErr)
		}
		if got := BanScore(err); got != test.banScore {
			t.Fatalf("%q: unexpected ban score %d", test.name, got)
		}
		if got := h.countRelayed(mnwire.CmdBroadcastTx); got != test.relayed {
			t.Fatalf("%q: relayed %d mixing transactions, want %d",
				test.name, got, test.relayed)
		}
	}

	hash := valid.Hash()
	if _, ok := h.queues.BroadcastTx(&hash); !ok {
		t.Fatalf("mixing transaction not recorded")
	}
	if h.sentCount(&valid.Tx) != 1 {
		t.Fatalf("mixing transaction submitted %d times",
			h.sentCount(&valid.Tx))
	}
}

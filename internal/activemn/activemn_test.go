// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package activemn

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/lightningnetwork/lnd/ticker"
)

// testHarness is a local masternode backed by an in-memory chain, wallet and
// registry.
type testHarness struct {
	params  *netparams.Params
	chain   *chainview.MemChain
	wallet  *chainview.MemWallet
	mgr     *masternode.Manager
	hotKey  *secp256k1.PrivateKey
	now     time.Time
	relayed []wire.Message
	synced  bool
	dialErr error
	funded  []wire.OutPoint
	cfg     Config
}

func newTestHarness(t *testing.T, params *netparams.Params) *testHarness {
	t.Helper()
	hotKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	h := &testHarness{
		params: params,
		chain:  chainview.NewMemChain(1000, 100e8),
		wallet: chainview.NewMemWallet(params),
		hotKey: hotKey,
		now:    time.Now(),
		synced: true,
	}
	h.mgr = masternode.New(&masternode.Config{
		Params: params,
		Chain:  h.chain,
		Relay:  h.relay,
	})
	h.cfg = Config{
		Params:           params,
		Chain:            h.chain,
		Masternodes:      h.mgr,
		Wallet:           h.wallet,
		HotKey:           hotKey,
		BlockchainSynced: func() bool { return h.synced },
		ExternalAddr:     "127.0.0.1:" + params.DefaultPort,
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if h.dialErr != nil {
				return nil, h.dialErr
			}
			c1, c2 := net.Pipe()
			c2.Close()
			return c1, nil
		},
		Relay: h.relay,
		Now:   func() time.Time { return h.now },
	}
	return h
}

func (h *testHarness) relay(msg wire.Message) {
	h.relayed = append(h.relayed, msg)
}

// fund adds a wallet output of amount that is also known to the chain.
func (h *testHarness) fund(t *testing.T, amount, confirmations int64) wire.OutPoint {
	t.Helper()
	_, version, script, err := h.wallet.NewKey()
	if err != nil {
		t.Fatal(err)
	}
	op := wire.OutPoint{Hash: chainhash.HashH(script), Index: 1}
	var height int64
	if confirmations > 0 {
		height = h.chain.BestHeight() - confirmations + 1
	}
	h.chain.AddUtxo(op, &chainview.UtxoEntry{
		Amount:   amount,
		Version:  version,
		PkScript: script,
		Height:   height,
	})
	h.wallet.AddCoin(chainview.Coin{
		OutPoint:      op,
		Amount:        amount,
		Version:       version,
		PkScript:      script,
		Confirmations: confirmations,
	})
	h.funded = append(h.funded, op)
	return op
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

// TestManageStatus ensures activation stops at the first unmet requirement
// with the expected status and reason.
func TestManageStatus(t *testing.T) {
	collateral := int64(netparams.RegNetParams().CollateralAmount)
	tests := []struct {
		name    string
		params  *netparams.Params
		setup   func(t *testing.T, h *testHarness)
		status  Status
		reason  string
		started bool
	}{{
		name:   "chain not synced",
		setup:  func(t *testing.T, h *testHarness) { h.synced = false },
		status: StatusSyncInProgress,
	}, {
		name: "locked wallet",
		setup: func(t *testing.T, h *testHarness) {
			h.fund(t, collateral, 20)
			h.wallet.SetLocked(true)
		},
		status: StatusNotCapable,
		reason: "Wallet is locked.",
	}, {
		name:   "empty wallet",
		setup:  func(t *testing.T, h *testHarness) {},
		status: StatusNotCapable,
		reason: "Hot node, waiting for remote activation.",
	}, {
		name:   "no wallet",
		setup:  func(t *testing.T, h *testHarness) { h.cfg.Wallet = nil },
		status: StatusNotCapable,
		reason: "Hot node, waiting for remote activation.",
	}, {
		name: "no external address",
		setup: func(t *testing.T, h *testHarness) {
			h.fund(t, collateral, 20)
			h.cfg.ExternalAddr = ""
		},
		status: StatusNotCapable,
		reason: "Can't detect external address",
	}, {
		name: "local address detection",
		setup: func(t *testing.T, h *testHarness) {
			h.fund(t, collateral, 20)
			h.cfg.ExternalAddr = ""
			h.cfg.LocalAddr = func() (string, error) {
				return "127.0.0.1:" + h.params.DefaultPort, nil
			}
		},
		status:  StatusStarted,
		started: true,
	}, {
		name:   "wrong port on mainnet",
		params: netparams.MainNetParams(),
		setup: func(t *testing.T, h *testHarness) {
			h.fund(t, int64(h.params.CollateralAmount), 20)
			h.cfg.ExternalAddr = "1.2.3.4:1234"
		},
		status: StatusNotCapable,
		reason: "Invalid port: 1234",
	}, {
		name: "unreachable",
		setup: func(t *testing.T, h *testHarness) {
			h.fund(t, collateral, 20)
			h.dialErr = errors.New("connection refused")
		},
		status: StatusNotCapable,
		reason: "Could not connect to",
	}, {
		name: "no collateral sized output",
		setup: func(t *testing.T, h *testHarness) {
			h.fund(t, collateral-1, 20)
		},
		status: StatusNotCapable,
		reason: "Could not find suitable coins!",
	}, {
		name: "collateral too new",
		setup: func(t *testing.T, h *testHarness) {
			h.fund(t, collateral, 0)
		},
		status: StatusInputTooNew,
	}, {
		name: "started",
		setup: func(t *testing.T, h *testHarness) {
			h.fund(t, collateral, 20)
		},
		status:  StatusStarted,
		started: true,
	}}

	for _, test := range tests {
		params := test.params
		if params == nil {
			params = netparams.RegNetParams()
		}
		h := newTestHarness(t, params)
		test.setup(t, h)
		a := New(&h.cfg)
		if err := a.ManageStatus(context.Background()); err != nil {
			t.Fatalf("%q: unexpected error: %v", test.name, err)
		}
		if got := a.Status(); got != test.status {
			t.Fatalf("%q: mismatched status -- got %v, want %v", test.name,
				got, test.status)
		}
		if !strings.Contains(a.StatusString(), test.reason) {
			t.Errorf("%q: status %q does not mention %q", test.name,
				a.StatusString(), test.reason)
		}

		vin, started := a.Vin()
		if started != test.started {
			t.Fatalf("%q: mismatched started -- got %v, want %v", test.name,
				started, test.started)
		}
		if !test.started {
			if len(h.relayed) != 0 {
				t.Errorf("%q: relayed %d messages before starting",
					test.name, len(h.relayed))
			}
			for _, op := range h.funded {
				if h.wallet.LockedOutpoint(op) {
					t.Errorf("%q: locked %v without starting", test.name,
						op)
				}
			}
			continue
		}
		if !h.wallet.LockedOutpoint(vin) {
			t.Errorf("%q: collateral %v is not locked", test.name, vin)
		}
		if h.mgr.Find(&vin) == nil {
			t.Errorf("%q: registry does not hold %v", test.name, vin)
		}
		if n := h.countRelayed(mnwire.CmdMNBroadcast); n != 1 {
			t.Errorf("%q: relayed %d announcements, want 1", test.name, n)
		}
		if n := h.countRelayed(mnwire.CmdLegacyAnnounce); n != 1 {
			t.Errorf("%q: relayed %d legacy announcements, want 1",
				test.name, n)
		}
	}
}

// TestVinDuringActivation ensures the collateral and status stay readable
// while the public address is being dialed.
func TestVinDuringActivation(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams())
	h.fund(t, int64(h.params.CollateralAmount), 20)
	dialing := make(chan struct{})
	h.cfg.Dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		close(dialing)
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c1, c2 := net.Pipe()
		c2.Close()
		return c1, nil
	}
	a := New(&h.cfg)

	errs := make(chan error, 1)
	go func() {
		errs <- a.ManageStatus(context.Background())
	}()
	select {
	case <-dialing:
	case <-time.After(5 * time.Second):
		t.Fatal("public address was not dialed")
	}

	read := make(chan bool, 1)
	go func() {
		_, started := a.Vin()
		a.Status()
		read <- started
	}()
	select {
	case started := <-read:
		if started {
			t.Fatal("started before the dial completed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Vin blocked while dialing")
	}

	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("activation did not finish")
	}
	if _, started := a.Vin(); !started {
		t.Fatalf("unexpected status %q", a.StatusString())
	}
}

// TestHotColdActivation ensures a node without a wallet starts once its hot
// key appears in an enabled registry record.
func TestHotColdActivation(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams())
	h.cfg.Wallet = nil
	a := New(&h.cfg)
	if err := a.ManageStatus(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status() != StatusNotCapable {
		t.Fatalf("unexpected status %v", a.Status())
	}

	// Announce the masternode from a remote wallet holding the collateral.
	collKey, version, script, err := h.wallet.NewKey()
	if err != nil {
		t.Fatal(err)
	}
	vin := wire.OutPoint{Hash: chainhash.HashH(script)}
	h.chain.AddUtxo(vin, &chainview.UtxoEntry{
		Amount:   int64(h.params.CollateralAmount),
		Version:  version,
		PkScript: script,
		Height:   100,
	})
	now := time.Now().Unix()
	ping, err := masternode.NewPing(vin, h.chain, h.hotKey, now)
	if err != nil {
		t.Fatal(err)
	}
	hotPubKey := h.hotKey.PubKey().SerializeCompressed()
	mnb, err := masternode.NewBroadcast(vin, "10.0.0.1:18655", collKey,
		hotPubKey, h.params.ProtocolVersion, now, ping)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.mgr.ProcessBroadcast(nil, mnb); err != nil {
		t.Fatalf("unable to process announcement: %v", err)
	}

	if err := a.ManageStatus(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, started := a.Vin()
	if !started || got != vin {
		t.Fatalf("unexpected activation: started %v, vin %v", started, got)
	}
}

// TestSendPing ensures a started masternode pings once the minimum ping
// interval passed and not before.
func TestSendPing(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams())
	h.fund(t, int64(h.params.CollateralAmount), 20)

	// Register far enough in the past for the next ping to be due.
	h.now = time.Now().Add(-700 * time.Second)
	a := New(&h.cfg)
	if err := a.ManageStatus(context.Background()); err != nil {
		t.Fatalf("unable to start: %v", err)
	}
	if a.Status() != StatusStarted {
		t.Fatalf("unexpected status %q", a.StatusString())
	}
	if n := h.countRelayed(mnwire.CmdMNPing); n != 0 {
		t.Fatalf("relayed %d pings right after starting", n)
	}

	h.now = time.Now()
	if err := a.ManageStatus(context.Background()); err != nil {
		t.Fatalf("unable to ping: %v", err)
	}
	if n := h.countRelayed(mnwire.CmdMNPing); n != 1 {
		t.Fatalf("relayed %d pings, want 1", n)
	}
	if n := h.countRelayed(mnwire.CmdLegacyPing); n != 1 {
		t.Fatalf("relayed %d legacy pings, want 1", n)
	}
	vin, _ := a.Vin()
	if mn := h.mgr.Find(&vin); mn == nil || !mn.IsEnabled() {
		t.Fatalf("masternode %v is not enabled after pinging", vin)
	}

	// A second check right away must not ping again.
	if err := a.ManageStatus(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := h.countRelayed(mnwire.CmdMNPing); n != 1 {
		t.Fatalf("relayed %d pings, want 1", n)
	}
}

// TestStop ensures stopping relays a legacy stop ping.
func TestStop(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams())
	a := New(&h.cfg)
	if err := a.Stop(); err == nil {
		t.Fatal("stopped a masternode that never started")
	}

	h.fund(t, int64(h.params.CollateralAmount), 20)
	if err := a.ManageStatus(context.Background()); err != nil {
		t.Fatalf("unable to start: %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("unable to stop: %v", err)
	}
	last, ok := h.relayed[len(h.relayed)-1].(*mnwire.MsgLegacyPing)
	if !ok || !last.Stop {
		t.Fatalf("last relayed message is not a stop ping: %T",
			h.relayed[len(h.relayed)-1])
	}
	if a.Status() != StatusInitial {
		t.Fatalf("unexpected status after stop %v", a.Status())
	}
}

// TestRun ensures the status is managed on start and on every tick.
func TestRun(t *testing.T) {
	h := newTestHarness(t, netparams.RegNetParams())
	calls := make(chan struct{}, 10)
	h.cfg.BlockchainSynced = func() bool {
		calls <- struct{}{}
		return false
	}
	h.cfg.Ticker = ticker.NewForce(time.Hour)
	a := New(&h.cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	wait := func() {
		t.Helper()
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("status was not managed")
		}
	}
	wait()
	h.cfg.Ticker.(*ticker.Force).Force <- time.Now()
	wait()
	if a.Status() != StatusSyncInProgress {
		t.Fatalf("unexpected status %v", a.Status())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
}

// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package activemn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// ManageInterval is the interval between status checks when running
	// with Run.
	ManageInterval = time.Minute

	// dialTimeout bounds the reachability probe.
	dialTimeout = 10 * time.Second
)

// Status is the activation status of the local masternode.
type Status int

// These constants define the activation states of the local masternode.
const (
	StatusInitial Status = iota
	StatusSyncInProgress
	StatusInputTooNew
	StatusNotCapable
	StatusStarted
)

// statusStrings is a map of statuses back to their constant names for pretty
// printing.
var statusStrings = map[Status]string{
	StatusInitial:        "ACTIVE_MASTERNODE_INITIAL",
	StatusSyncInProgress: "ACTIVE_MASTERNODE_SYNC_IN_PROGRESS",
	StatusInputTooNew:    "ACTIVE_MASTERNODE_INPUT_TOO_NEW",
	StatusNotCapable:     "ACTIVE_MASTERNODE_NOT_CAPABLE",
	StatusStarted:        "ACTIVE_MASTERNODE_STARTED",
}

// String returns the Status as a human-readable name.
func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown Status (%d)", int(s))
}

// Config is the configuration for the local masternode.
type Config struct {
	Params      *netparams.Params
	Chain       chainview.Chain
	Masternodes *masternode.Manager

	// Wallet holds the collateral.  It may be nil on a hot node that is
	// activated remotely.
	Wallet chainview.Wallet

	// HotKey signs pings and names the masternode in announcements.
	HotKey *secp256k1.PrivateKey

	// BlockchainSynced reports whether the node is ready to activate.
	BlockchainSynced func() bool

	// ExternalAddr is the configured public address.  When empty,
	// LocalAddr is consulted.
	ExternalAddr string
	LocalAddr    func() (string, error)

	// Dial opens the connection used to prove the public address is
	// reachable.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)

	// Relay broadcasts msg to all connected peers.  It carries the legacy
	// messages; modern messages are relayed by the registry.
	Relay func(msg wire.Message)

	// Ticker drives Run.  It defaults to a ticker firing every
	// ManageInterval.
	Ticker ticker.Ticker

	// Now returns the current time.  It defaults to time.Now.
	Now func() time.Time
}

// ActiveMasternode manages the activation and liveness pings of the
// masternode run by this node.
type ActiveMasternode struct {
	cfg       Config
	hotPubKey []byte

	// manageMtx serializes status management.  mtx guards the fields
	// below and is released while the public address is dialed.
	manageMtx sync.Mutex

	mtx     sync.Mutex
	status  Status
	reason  string
	vin     wire.OutPoint
	service string
}

// New returns the local masternode in the initial state.
func New(cfg *Config) *ActiveMasternode {
	a := &ActiveMasternode{
		cfg:       *cfg,
		hotPubKey: cfg.HotKey.PubKey().SerializeCompressed(),
		status:    StatusInitial,
	}
	if a.cfg.Now == nil {
		a.cfg.Now = time.Now
	}
	if a.cfg.Ticker == nil {
		a.cfg.Ticker = ticker.New(ManageInterval)
	}
	if a.cfg.Dial == nil {
		var d net.Dialer
		a.cfg.Dial = d.DialContext
	}
	return a
}

// Status returns the activation status.
func (a *ActiveMasternode) Status() Status {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.status
}

// Vin returns the collateral of the masternode once started.
func (a *ActiveMasternode) Vin() (wire.OutPoint, bool) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.vin, a.status == StatusStarted
}

// StatusString returns a user facing description of the activation status.
func (a *ActiveMasternode) StatusString() string {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	switch a.status {
	case StatusInitial:
		return "Node just started, not yet activated"
	case StatusSyncInProgress:
		return "Sync in progress. Must wait until sync is complete to " +
			"start Masternode"
	case StatusInputTooNew:
		return fmt.Sprintf("Masternode input must have at least %d "+
			"confirmations", a.cfg.Params.CollateralConfirmations)
	case StatusNotCapable:
		return "Not capable masternode: " + a.reason
	case StatusStarted:
		return "Masternode successfully started"
	}
	return "unknown"
}

// notCapable records why activation is impossible.
//
// This function MUST be called with the lock held.
func (a *ActiveMasternode) notCapable(reason string) {
	a.status = StatusNotCapable
	a.reason = reason
	log.Infof("Not capable masternode: %s", reason)
}

// EnableHotColdMasterNode starts the masternode with collateral vin held by
// a remote wallet that already announced it.
func (a *ActiveMasternode) EnableHotColdMasterNode(vin wire.OutPoint, addr string) {
	a.mtx.Lock()
	a.enableHotCold(vin, addr)
	a.mtx.Unlock()
}

// enableHotCold is the lock-held variant of EnableHotColdMasterNode.
//
// This function MUST be called with the lock held.
func (a *ActiveMasternode) enableHotCold(vin wire.OutPoint, addr string) {
	a.status = StatusStarted
	a.reason = ""
	a.vin = vin
	a.service = addr
	log.Infof("Enabled masternode %v at %s by remote activation", vin, addr)
}

// ManageStatus advances the activation state machine and, once started,
// sends a liveness ping when one is due.
func (a *ActiveMasternode) ManageStatus(ctx context.Context) error {
	a.manageMtx.Lock()
	defer a.manageMtx.Unlock()

	a.mtx.Lock()
	if !a.cfg.BlockchainSynced() {
		a.status = StatusSyncInProgress
		a.mtx.Unlock()
		log.Debug("Sync in progress, waiting to activate")
		return nil
	}
	if a.status == StatusSyncInProgress {
		a.status = StatusInitial
	}

	if a.status != StatusStarted {
		mn := a.cfg.Masternodes.FindByPubKey(a.hotPubKey)
		if mn != nil && mn.IsEnabled() &&
			mn.ProtocolVersion == a.cfg.Params.ProtocolVersion {

			a.enableHotCold(mn.Vin, mn.Addr)
		}
	}
	if a.status == StatusStarted {
		err := a.sendPing()
		a.mtx.Unlock()
		return err
	}
	service, ok := a.activationAddr()
	a.mtx.Unlock()
	if !ok {
		return nil
	}

	// The lock is not held while dialing.  Remote activation may start
	// the masternode meanwhile.
	reachable := a.checkInbound(ctx, service)

	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.status != StatusStarted {
		if !reachable {
			a.notCapable("Could not connect to " + service)
			return nil
		}
		if err := a.activate(service); err != nil {
			return err
		}
		if a.status != StatusStarted {
			return nil
		}
	}
	return a.sendPing()
}

// activationAddr checks the local wallet can fund the masternode and returns
// the public address it will be announced at.
//
// This function MUST be called with the lock held.
func (a *ActiveMasternode) activationAddr() (string, bool) {
	a.status = StatusNotCapable
	a.reason = ""

	wallet := a.cfg.Wallet
	if wallet != nil && wallet.IsLocked() {
		a.notCapable("Wallet is locked.")
		return "", false
	}
	if wallet == nil || wallet.Balance() == 0 {
		a.notCapable("Hot node, waiting for remote activation.")
		return "", false
	}

	service := a.cfg.ExternalAddr
	if service == "" {
		if a.cfg.LocalAddr == nil {
			a.notCapable("Can't detect external address. Please use " +
				"the masternodeaddr configuration option.")
			return "", false
		}
		addr, err := a.cfg.LocalAddr()
		if err != nil {
			a.notCapable("Can't detect external address. Please use " +
				"the masternodeaddr configuration option.")
			return "", false
		}
		service = addr
	}
	_, port, err := net.SplitHostPort(service)
	if err != nil {
		a.notCapable(fmt.Sprintf("Invalid address %s: %v", service, err))
		return "", false
	}
	if !a.cfg.Params.AllowPrivatePeers && port != a.cfg.Params.DefaultPort {
		a.notCapable(fmt.Sprintf("Invalid port: %s - only %s is "+
			"supported on %s.", port, a.cfg.Params.DefaultPort,
			a.cfg.Params.Name))
		return "", false
	}
	return service, true
}

// checkInbound reports whether a connection to service can be opened.
//
// This function MUST be called without the lock held.
func (a *ActiveMasternode) checkInbound(ctx context.Context, service string) bool {
	log.Infof("Checking inbound connection to %s", service)
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := a.cfg.Dial(dialCtx, "tcp", service)
	if err != nil {
		log.Debugf("Unable to connect to %s: %v", service, err)
		return false
	}
	conn.Close()
	return true
}

// activate starts the masternode at the reachable address service with
// collateral held by the local wallet.
//
// This function MUST be called with the lock held.
func (a *ActiveMasternode) activate(service string) error {
	wallet := a.cfg.Wallet
	coin, ok := a.findCollateral()
	if !ok {
		a.notCapable("Could not find suitable coins!")
		return nil
	}
	if coin.Confirmations < a.cfg.Params.CollateralConfirmations {
		a.status = StatusInputTooNew
		a.reason = fmt.Sprintf("Masternode input must have at least %d "+
			"confirmations", a.cfg.Params.CollateralConfirmations)
		log.Infof("%s: %v has %d", a.reason, coin.OutPoint,
			coin.Confirmations)
		return nil
	}

	wallet.LockOutpoint(coin.OutPoint)
	if err := a.register(coin, service); err != nil {
		wallet.UnlockOutpoint(coin.OutPoint)
		a.notCapable("Error on Register: " + err.Error())
		return err
	}

	a.status = StatusStarted
	a.vin = coin.OutPoint
	a.service = service
	log.Infof("Masternode %v started at %s", coin.OutPoint, service)
	return nil
}

// findCollateral returns the most confirmed wallet output holding exactly
// the collateral amount.
//
// This function MUST be called with the lock held.
func (a *ActiveMasternode) findCollateral() (chainview.Coin, bool) {
	var candidates []chainview.Coin
	for _, coin := range a.cfg.Wallet.UnspentOutputs() {
		if coin.Amount == int64(a.cfg.Params.CollateralAmount) {
			candidates = append(candidates, coin)
		}
	}
	if len(candidates) == 0 {
		return chainview.Coin{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Confirmations > candidates[j].Confirmations
	})
	return candidates[0], true
}

// register announces the masternode funded by coin at service, in both the
// current and the legacy format.
//
// This function MUST be called with the lock held.
func (a *ActiveMasternode) register(coin chainview.Coin, service string) error {
	collKey, err := a.cfg.Wallet.PrivateKey(coin.PkScript)
	if err != nil {
		return err
	}
	now := a.cfg.Now().Unix()
	ping, err := masternode.NewPing(coin.OutPoint, a.cfg.Chain, a.cfg.HotKey,
		now)
	if err != nil {
		return err
	}
	mnb, err := masternode.NewBroadcast(coin.OutPoint, service, collKey,
		a.hotPubKey, a.cfg.Params.ProtocolVersion, now, ping)
	if err != nil {
		return err
	}
	if err := a.cfg.Masternodes.ProcessBroadcast(nil, mnb); err != nil {
		return err
	}
	dsee, err := masternode.NewLegacyAnnounce(coin.OutPoint, service, collKey,
		a.hotPubKey, a.cfg.Params.LegacyProtocolVersion, now)
	if err != nil {
		return err
	}
	a.relay(dsee)
	return nil
}

// relay sends a legacy message to all peers.
func (a *ActiveMasternode) relay(msg wire.Message) {
	if a.cfg.Relay != nil {
		a.cfg.Relay(msg)
	}
}

// sendPing signs and relays a liveness ping unless the last one is too
// recent.
//
// This function MUST be called with the lock held.
func (a *ActiveMasternode) sendPing() error {
	mn := a.cfg.Masternodes.Find(&a.vin)
	if mn == nil {
		a.notCapable("Masternode not in masternode list")
		return nil
	}
	now := a.cfg.Now().Unix()
	if mn.IsPingedWithin(masternode.MinPingSeconds, now) {
		log.Tracef("Too early to send masternode ping for %v", a.vin)
		return nil
	}

	ping, err := masternode.NewPing(a.vin, a.cfg.Chain, a.cfg.HotKey, now)
	if err != nil {
		return err
	}
	if err := a.cfg.Masternodes.ProcessPing(nil, ping); err != nil {
		return fmt.Errorf("unable to apply own ping: %w", err)
	}
	legacy, err := masternode.NewLegacyPing(a.vin, a.cfg.HotKey, now, false)
	if err != nil {
		return err
	}
	a.relay(legacy)
	log.Debugf("Sent masternode ping for %v", a.vin)
	return nil
}

// Stop announces to legacy peers that the masternode is going away.
func (a *ActiveMasternode) Stop() error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.status != StatusStarted {
		return errors.New("masternode is not started")
	}
	msg, err := masternode.NewLegacyPing(a.vin, a.cfg.HotKey,
		a.cfg.Now().Unix(), true)
	if err != nil {
		return err
	}
	a.relay(msg)
	a.status = StatusInitial
	return nil
}

// Run manages the masternode status every tick until ctx is done.
func (a *ActiveMasternode) Run(ctx context.Context) {
	t := a.cfg.Ticker
	t.Resume()
	defer t.Stop()

	for {
		if err := a.ManageStatus(ctx); err != nil {
			log.Errorf("Unable to manage masternode status: %v", err)
		}
		select {
		case <-t.Ticks():
		case <-ctx.Done():
			return
		}
	}
}

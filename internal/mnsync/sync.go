// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mnsync drives the phased synchronization of the masternode list
// and the payment votes from connected peers.
//
// Sync moves through the assets INITIAL, LIST, WINNERS and FINISHED.  Each
// tick of an asset asks one not yet asked peer for its dump.  An asset is
// complete once it stalls (no new items for two timeouts) after enough
// requests were made, or as soon as the local table holds as many items as
// peers claim to have.  An asset that never received an item fails and the
// whole sequence restarts after a cooldown.
package mnsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/container/lru"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// Timeout is the base sync timeout and the interval between ticks.
	Timeout = 5 * time.Second

	// Threshold is the number of requests that must be made before an
	// asset may be considered complete.
	Threshold = 2

	// FailureCooldown is how long a failed sync waits before restarting.
	FailureCooldown = time.Minute

	// maxFulfilled bounds the number of remembered peer requests.
	maxFulfilled = 1000
)

// Asset identifies a sync phase.
type Asset int

// These constants define the sync phases.
const (
	AssetFailed   Asset = -1
	AssetInitial  Asset = 0
	AssetList     Asset = 2
	AssetWinners  Asset = 3
	AssetFinished Asset = 999
)

var assetStrings = map[Asset]string{
	AssetFailed:   "MASTERNODE_SYNC_FAILED",
	AssetInitial:  "MASTERNODE_SYNC_INITIAL",
	AssetList:     "MASTERNODE_SYNC_LIST",
	AssetWinners:  "MASTERNODE_SYNC_MNW",
	AssetFinished: "MASTERNODE_SYNC_FINISHED",
}

// String returns the Asset as a human-readable name.
func (a Asset) String() string {
	if s := assetStrings[a]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown Asset (%d)", int(a))
}

// Config is the configuration for the sync driver.
type Config struct {
	Params      *netparams.Params
	Chain       chainview.Chain
	Masternodes interface {
		CountEnabled(minProtocol uint32) int
		Size() int
		DsegUpdate(peer masternode.Peer) bool
	}
	Payments interface {
		Size() int
	}

	// Peers returns the currently connected peers.
	Peers func() []masternode.Peer

	// Ticker drives Run.  It defaults to a ticker firing every Timeout.
	Ticker ticker.Ticker

	// Now returns the current time.  It defaults to time.Now.
	Now func() time.Time
}

// claimed accumulates sync count replies for an asset.
type claimed struct {
	sum   uint64
	count uint64
}

// Sync is the masternode sync driver.
type Sync struct {
	cfg Config

	mtx         sync.Mutex
	asset       Asset
	attempt     int
	assetStart  time.Time
	lastItem    time.Time
	lastFailure time.Time
	claims      map[Asset]*claimed
	seen        map[chainhash.Hash]int
	fulfilled   *lru.Set[string]
}

// New returns a sync driver in the initial state.
func New(cfg *Config) *Sync {
	s := &Sync{cfg: *cfg}
	if s.cfg.Now == nil {
		s.cfg.Now = time.Now
	}
	if s.cfg.Ticker == nil {
		s.cfg.Ticker = ticker.New(Timeout)
	}
	s.reset()
	return s
}

// reset returns to the initial asset.
//
// This function MUST be called with the sync lock held.
func (s *Sync) reset() {
	s.asset = AssetInitial
	s.attempt = 0
	s.assetStart = s.cfg.Now()
	s.lastItem = time.Time{}
	s.claims = make(map[Asset]*claimed)
	s.seen = make(map[chainhash.Hash]int)
	s.fulfilled = lru.NewSet[string](maxFulfilled)
}

// Reset restarts sync from the initial asset.
func (s *Sync) Reset() {
	s.mtx.Lock()
	s.reset()
	s.mtx.Unlock()
}

// Asset returns the current asset.
func (s *Sync) Asset() Asset {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.asset
}

// IsBlockchainSynced reports whether the chain is current.
func (s *Sync) IsBlockchainSynced() bool {
	return s.cfg.Chain.IsCurrent()
}

// IsListSynced reports whether the masternode list has been synced.
func (s *Sync) IsListSynced() bool {
	a := s.Asset()
	return a > AssetList
}

// IsSynced reports whether all assets have been synced.
func (s *Sync) IsSynced() bool {
	return s.Asset() == AssetFinished
}

// IsFailed reports whether sync failed and is waiting to restart.
func (s *Sync) IsFailed() bool {
	return s.Asset() == AssetFailed
}

// nextAsset advances to the asset following the current one.
//
// This function MUST be called with the sync lock held.
func (s *Sync) nextAsset() {
	switch s.asset {
	case AssetFailed:
		s.reset()
		return
	case AssetInitial:
		s.asset = AssetList
	case AssetList:
		s.asset = AssetWinners
	case AssetWinners:
		s.asset = AssetFinished
		log.Info("Masternode sync finished")
	}
	s.attempt = 0
	s.assetStart = s.cfg.Now()
	s.lastItem = time.Time{}
	log.Debugf("Masternode sync moved to %v", s.asset)
}

// addItem records an accepted item of asset.  An item only counts as
// progress the first few times it is seen.
func (s *Sync) addItem(asset Asset, hash chainhash.Hash) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.asset != asset {
		return
	}
	if s.seen[hash] >= Threshold {
		return
	}
	s.seen[hash]++
	s.lastItem = s.cfg.Now()
}

// AddedListItem records an accepted masternode announcement.
func (s *Sync) AddedListItem(hash chainhash.Hash) {
	s.addItem(AssetList, hash)
}

// AddedWinner records an accepted payment vote.
func (s *Sync) AddedWinner(hash chainhash.Hash) {
	s.addItem(AssetWinners, hash)
}

// ProcessSyncCount records the number of items a peer claims to have sent.
func (s *Sync) ProcessSyncCount(peer masternode.Peer, msg *mnwire.MsgSyncCount) {
	var asset Asset
	switch msg.Asset {
	case mnwire.SyncAssetList:
		asset = AssetList
	case mnwire.SyncAssetWinners:
		asset = AssetWinners
	default:
		return
	}

	s.mtx.Lock()
	c, ok := s.claims[asset]
	if !ok {
		c = new(claimed)
		s.claims[asset] = c
	}
	c.sum += uint64(msg.Count)
	c.count++
	s.mtx.Unlock()
	log.Debugf("Peer %s has %d items of %v", peer.Addr(), msg.Count, asset)
}

// PeerDisconnected forgets the requests made to the peer with addr.
func (s *Sync) PeerDisconnected(addr string) {
	s.mtx.Lock()
	s.fulfilled.Delete(fulfilledKey(AssetList, addr))
	s.fulfilled.Delete(fulfilledKey(AssetWinners, addr))
	s.mtx.Unlock()
}

func fulfilledKey(asset Asset, addr string) string {
	return fmt.Sprintf("%d|%s", asset, addr)
}

// caughtUp reports whether the table synced by the current asset holds at
// least the average number of items peers claimed.
//
// This function MUST be called with the sync lock held.
func (s *Sync) caughtUp() bool {
	c, ok := s.claims[s.asset]
	if !ok || c.count == 0 || c.sum == 0 {
		return false
	}
	avg := int(c.sum / c.count)
	switch s.asset {
	case AssetList:
		return s.cfg.Masternodes.Size() >= avg
	case AssetWinners:
		return s.cfg.Payments.Size() >= avg
	}
	return false
}

// Process advances sync by one tick.
func (s *Sync) Process() {
	minProtocol := s.cfg.Params.MinPaymentProtocolVersion

	s.mtx.Lock()
	now := s.cfg.Now()
	switch s.asset {
	case AssetFinished:
		s.mtx.Unlock()
		// A long sleep can leave no enabled masternodes behind.
		if s.cfg.Masternodes.CountEnabled(minProtocol) == 0 {
			log.Info("No enabled masternodes, restarting masternode sync")
			s.Reset()
		}
		return

	case AssetFailed:
		if now.Sub(s.lastFailure) >= FailureCooldown {
			log.Info("Restarting failed masternode sync")
			s.reset()
		}
		s.mtx.Unlock()
		return
	}

	if !s.cfg.Chain.IsCurrent() {
		s.mtx.Unlock()
		return
	}
	if s.asset == AssetInitial {
		s.nextAsset()
	}

	stalled := !s.lastItem.IsZero() && now.Sub(s.lastItem) > 2*Timeout
	if s.attempt >= Threshold && (stalled || s.caughtUp()) {
		s.nextAsset()
		s.mtx.Unlock()
		return
	}
	if s.lastItem.IsZero() && (s.attempt >= 3*Threshold ||
		now.Sub(s.assetStart) > 5*Timeout) {

		log.Warnf("Masternode sync of %v failed, retrying in %v", s.asset,
			FailureCooldown)
		s.asset = AssetFailed
		s.lastFailure = now
		s.mtx.Unlock()
		return
	}
	if s.attempt >= 3*Threshold {
		s.mtx.Unlock()
		return
	}
	asset := s.asset
	s.mtx.Unlock()

	// Ask a single peer per tick.
	for _, peer := range s.cfg.Peers() {
		key := fulfilledKey(asset, peer.Addr())
		s.mtx.Lock()
		if s.fulfilled.Contains(key) {
			s.mtx.Unlock()
			continue
		}
		s.fulfilled.Put(key)
		s.attempt++
		s.mtx.Unlock()

		switch asset {
		case AssetList:
			s.cfg.Masternodes.DsegUpdate(peer)
		case AssetWinners:
			count := s.cfg.Masternodes.CountEnabled(minProtocol)
			peer.QueueMessage(&mnwire.MsgWinnersRequest{Count: uint32(count)})
		}
		return
	}
}

// Run drives sync until ctx is done.
func (s *Sync) Run(ctx context.Context) {
	s.cfg.Ticker.Resume()
	defer s.cfg.Ticker.Stop()
	for {
		select {
		case <-s.cfg.Ticker.Ticks():
			s.Process()
		case <-ctx.Done():
			return
		}
	}
}

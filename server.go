// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/anonsend/anond/internal/activemn"
	"github.com/anonsend/anond/internal/anonsend"
	"github.com/anonsend/anond/internal/banmanager"
	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/flatdb"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/mnsync"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/anonsend/anond/internal/payments"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/connmgr/v3"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/robfig/cron"
)

const (
	// maintenanceInterval is the interval at which the chain tip is polled
	// and expired masternodes and queue advertisements are swept.
	maintenanceInterval = 15 * time.Second

	// defaultTargetOutbound is the default number of outbound peers to
	// target.
	defaultTargetOutbound = 8

	// connectionRetryInterval is the base amount of time to wait in between
	// retries when connecting to persistent peers.
	connectionRetryInterval = 5 * time.Second

	// pendingSendTimeout is how long messages wait for a connection to
	// the masternode they are addressed to.
	pendingSendTimeout = 2 * negotiateTimeout

	// paymentVoteLookahead is the number of blocks ahead of the tip the
	// local masternode votes for.
	paymentVoteLookahead = 10

	// Cache file names within the data directory.
	masternodeCacheFilename = "mncache.dat"
	paymentCacheFilename    = "mnpayments.dat"
)

// pendingSend is a batch of messages awaiting a connection to a
// masternode.
type pendingSend struct {
	msgs  []wire.Message
	since time.Time
}

// simpleAddr implements the net.Addr interface with two struct fields.
type simpleAddr struct {
	net, addr string
}

// String returns the address.
//
// This is part of the net.Addr interface.
func (a simpleAddr) String() string {
	return a.addr
}

// Network returns the network.
//
// This is part of the net.Addr interface.
func (a simpleAddr) Network() string {
	return a.net
}

// Ensure simpleAddr implements the net.Addr interface.
var _ net.Addr = simpleAddr{}

// tipChain is the chain view used by the server.  It extends the view used
// by the subsystems with the ability to query the tip hash.
type tipChain interface {
	chainview.Chain
	BestBlock() (*chainhash.Hash, int64, error)
}

// server houses the masternode subsystems and the peer-to-peer transport
// that feeds them.
type server struct {
	ctx    context.Context
	cfg    *config
	params *netparams.Params
	chain  tipChain
	wallet chainview.Wallet
	nonce  uint64

	connManager *connmgr.ConnManager
	banManager  *banmanager.BanManager
	masternodes *masternode.Manager
	payments    *payments.Ledger
	mnSync      *mnsync.Sync
	activeMN    *activemn.ActiveMasternode
	queues      *anonsend.Queues
	pool        *anonsend.Pool
	client      *anonsend.Client
	flusher     *cron.Cron

	maintenanceTicker ticker.Ticker

	peersMtx sync.RWMutex
	peers    map[*serverPeer]struct{}

	// pending holds messages for masternodes the mixing client is
	// connecting to.  They are sent once the handshake completes.
	pendingMtx sync.Mutex
	pending    map[string]*pendingSend

	// The following fields are only accessed by the maintenance handler.
	tipHash   chainhash.Hash
	tipHeight int64
}

// cachePath returns the path of the named cache file.
func (s *server) cachePath(name string) string {
	return filepath.Join(s.cfg.DataDir, name)
}

// loadCaches restores the masternode list and payment votes written by a
// previous run.
func (s *server) loadCaches() {
	load := func(name, what string, loadFn func(string) error) {
		err := loadFn(s.cachePath(name))
		switch {
		case err == nil:
			srvrLog.Infof("Loaded %s cache", what)
		case errors.Is(err, flatdb.ErrFileNotFound):
			srvrLog.Infof("No %s cache found, starting fresh", what)
		case errors.Is(err, flatdb.ErrChecksumMismatch),
			errors.Is(err, flatdb.ErrIncorrectMagic),
			errors.Is(err, flatdb.ErrIncorrectNetwork),
			errors.Is(err, flatdb.ErrMalformedBody):
			srvrLog.Warnf("Ignoring unusable %s cache: %v", what, err)
		default:
			srvrLog.Errorf("Unable to read %s cache: %v", what, err)
		}
	}
	load(masternodeCacheFilename, "masternode list", s.masternodes.LoadCache)
	load(paymentCacheFilename, "payment vote", s.payments.LoadCache)

	// Records restored from disk are checked against the current chain
	// before they are served to peers.
	s.masternodes.CheckAndRemove(false)
}

// flushCaches writes the masternode list and payment votes to disk.
func (s *server) flushCaches() {
	err := s.masternodes.SaveCache(s.cachePath(masternodeCacheFilename))
	if err != nil {
		srvrLog.Errorf("Unable to write masternode cache: %v", err)
	}
	err = s.payments.SaveCache(s.cachePath(paymentCacheFilename))
	if err != nil {
		srvrLog.Errorf("Unable to write payment vote cache: %v", err)
	}
}

// handshakedPeers returns the peers that completed the version handshake.
func (s *server) handshakedPeers() []*serverPeer {
	s.peersMtx.RLock()
	peers := make([]*serverPeer, 0, len(s.peers))
	for sp := range s.peers {
		if sp.handshakeDone() {
			peers = append(peers, sp)
		}
	}
	s.peersMtx.RUnlock()
	return peers
}

// syncPeers returns the peers consulted by the masternode sync.
func (s *server) syncPeers() []masternode.Peer {
	peers := s.handshakedPeers()
	result := make([]masternode.Peer, 0, len(peers))
	for _, sp := range peers {
		result = append(result, sp)
	}
	return result
}

// findPeer returns the handshaked peer with addr.
func (s *server) findPeer(addr string) *serverPeer {
	for _, sp := range s.handshakedPeers() {
		if sp.addr == addr {
			return sp
		}
	}
	return nil
}

// relay sends msg to every handshaked peer that does not already know it.
func (s *server) relay(msg wire.Message) {
	for _, sp := range s.handshakedPeers() {
		key := messageKey(msg, sp.ProtocolVersion())
		if sp.isKnown(&key) {
			continue
		}
		sp.addKnown(&key)
		sp.QueueMessage(msg)
	}
}

// sendTo delivers msg to the peer at addr.  A connection is opened when
// there is none and the message is sent once it completes the handshake.
func (s *server) sendTo(addr string, msg wire.Message) error {
	if sp := s.findPeer(addr); sp != nil {
		sp.QueueMessage(msg)
		return nil
	}
	if s.banManager.IsBanned(addr) {
		return fmt.Errorf("peer %s is banned", addr)
	}

	// Only the first queued message opens the connection.
	s.pendingMtx.Lock()
	ps, ok := s.pending[addr]
	if !ok {
		ps = &pendingSend{since: time.Now()}
		s.pending[addr] = ps
	}
	ps.msgs = append(ps.msgs, msg)
	s.pendingMtx.Unlock()
	if !ok {
		srvrLog.Debugf("Connecting to masternode %s", addr)
		go s.connManager.Connect(s.ctx, &connmgr.ConnReq{
			Addr: simpleAddr{net: "tcp", addr: addr},
		})
	}
	return nil
}

// expirePendingSends drops messages for masternodes that could not be
// reached in time.
func (s *server) expirePendingSends(now time.Time) {
	s.pendingMtx.Lock()
	for addr, ps := range s.pending {
		if now.Sub(ps.since) > pendingSendTimeout {
			srvrLog.Debugf("Dropping %d %s for unreachable masternode %s",
				len(ps.msgs), pickNoun(uint64(len(ps.msgs)), "message",
					"messages"), addr)
			delete(s.pending, addr)
		}
	}
	s.pendingMtx.Unlock()
}

// newAddress returns the address of a random enabled masternode that is not
// yet connected.  It is used by the connection manager to fill outbound
// slots.
func (s *server) newAddress() (net.Addr, error) {
	connected := make(map[string]struct{})
	s.peersMtx.RLock()
	for sp := range s.peers {
		connected[sp.addr] = struct{}{}
	}
	s.peersMtx.RUnlock()

	var candidates []string
	for _, mn := range s.masternodes.Masternodes() {
		if !mn.IsEnabled() || mn.Addr == s.cfg.MasternodeAddr {
			continue
		}
		if _, ok := connected[mn.Addr]; ok {
			continue
		}
		if s.banManager.IsBanned(mn.Addr) {
			continue
		}
		candidates = append(candidates, mn.Addr)
	}
	if len(candidates) == 0 {
		return nil, errors.New("no masternode addresses available")
	}
	addr := candidates[rand.IntN(len(candidates))]
	return simpleAddr{net: "tcp", addr: addr}, nil
}

// localAddr returns the first routable listener address.  It backs the
// masternode address when none is configured.
func (s *server) localAddr() (string, error) {
	for _, addr := range s.cfg.Listeners {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			continue
		}
		ip := net.ParseIP(host)
		if ip == nil || ip.IsUnspecified() || ip.IsLoopback() {
			continue
		}
		return addr, nil
	}
	return "", errors.New("no routable listen address -- set " +
		"--masternodeaddr")
}

// handleRuleError logs a rejected message and penalizes the peer that sent
// it by the ban score carried by the error.
func (s *server) handleRuleError(sp *serverPeer, msg wire.Message, err error, banScore uint32) {
	if err == nil {
		return
	}
	peerLog.Debugf("Rejected %s from %s: %v", msg.Command(), sp, err)
	if banScore > 0 {
		reason := fmt.Sprintf("invalid %s: %v", msg.Command(), err)
		s.banManager.AddBanScore(sp, banScore, 0, reason)
	}
}

// handleMessage dispatches a message received from a handshaked peer to the
// subsystem that owns it.
func (s *server) handleMessage(sp *serverPeer, msg wire.Message) {
	var err error
	var banScore func(error) uint32
	switch m := msg.(type) {
	case *mnwire.MsgMNBroadcast:
		err, banScore = s.masternodes.ProcessBroadcast(sp, m), masternode.BanScore
	case *mnwire.MsgMNPing:
		err, banScore = s.masternodes.ProcessPing(sp, m), masternode.BanScore
	case *mnwire.MsgListRequest:
		err, banScore = s.masternodes.ProcessListRequest(sp, m), masternode.BanScore
	case *mnwire.MsgLegacyAnnounce:
		err, banScore = s.masternodes.ProcessLegacyAnnounce(sp, m), masternode.BanScore
	case *mnwire.MsgLegacyPing:
		err, banScore = s.masternodes.ProcessLegacyPing(sp, m), masternode.BanScore

	case *mnwire.MsgPaymentVote:
		err, banScore = s.payments.ProcessVote(sp, m), payments.BanScore
	case *mnwire.MsgWinnersRequest:
		err, banScore = s.payments.ProcessWinnersRequest(sp, m), payments.BanScore

	case *mnwire.MsgSyncCount:
		s.mnSync.ProcessSyncCount(sp, m)
		return

	case *mnwire.MsgQueue:
		err, banScore = s.queues.ProcessQueue(sp, m), anonsend.BanScore
	case *mnwire.MsgBroadcastTx:
		err, banScore = s.queues.ProcessBroadcastTx(sp, m), anonsend.BanScore

	case *mnwire.MsgJoinRequest:
		if s.pool == nil {
			return
		}
		err, banScore = s.pool.ProcessJoinRequest(sp, m), anonsend.BanScore
	case *mnwire.MsgSubmitEntry:
		if s.pool == nil {
			return
		}
		err, banScore = s.pool.ProcessSubmitEntry(sp, m), anonsend.BanScore
	case *mnwire.MsgSignatures:
		if s.pool == nil {
			return
		}
		err, banScore = s.pool.ProcessSignatures(sp, m), anonsend.BanScore

	case *mnwire.MsgStatusUpdate:
		if s.client == nil {
			return
		}
		err, banScore = s.client.ProcessStatusUpdate(sp, m), anonsend.BanScore
	case *mnwire.MsgFinalTx:
		if s.client == nil {
			return
		}
		err, banScore = s.client.ProcessFinalTx(sp, m), anonsend.BanScore
	case *mnwire.MsgCompletion:
		if s.client == nil {
			return
		}
		err, banScore = s.client.ProcessCompletion(sp, m), anonsend.BanScore

	default:
		peerLog.Tracef("Ignoring %s from %s", msg.Command(), sp)
		return
	}
	if err != nil {
		s.handleRuleError(sp, msg, err, banScore(err))
	}
}

// onQueueReady hands ready queue advertisements to the mixing client.
func (s *server) onQueueReady(dsq *mnwire.MsgQueue, mn *masternode.Masternode) {
	if s.client != nil {
		s.client.OnReady(dsq, mn)
	}
}

// peerHandshaked registers a peer that completed the version handshake and
// flushes any messages queued for it.
func (s *server) peerHandshaked(sp *serverPeer) {
	s.peersMtx.Lock()
	s.peers[sp] = struct{}{}
	s.peersMtx.Unlock()

	s.pendingMtx.Lock()
	ps := s.pending[sp.addr]
	delete(s.pending, sp.addr)
	s.pendingMtx.Unlock()
	if ps != nil {
		for _, msg := range ps.msgs {
			sp.QueueMessage(msg)
		}
	}
	srvrLog.Debugf("New peer %s", sp)
}

// peerDone cleans up after a disconnected peer.
func (s *server) peerDone(sp *serverPeer) {
	sp.Disconnect()
	s.peersMtx.Lock()
	delete(s.peers, sp)
	s.peersMtx.Unlock()

	s.banManager.RemovePeer(sp)
	s.mnSync.PeerDisconnected(sp.addr)
	if sp.connReq != nil {
		if sp.connReq.Permanent {
			s.connManager.Disconnect(sp.connReq.ID())
		} else {
			s.connManager.Remove(sp.connReq.ID())
		}
	}
	srvrLog.Debugf("Removed peer %s", sp)
}

// inboundPeerConnected is invoked by the connection manager when a new
// inbound connection is established.
func (s *server) inboundPeerConnected(conn net.Conn) {
	sp := newServerPeer(s, conn, nil, true)
	go sp.run()
}

// outboundPeerConnected is invoked by the connection manager when a new
// outbound connection is established.
func (s *server) outboundPeerConnected(c *connmgr.ConnReq, conn net.Conn) {
	sp := newServerPeer(s, conn, c, false)
	go sp.run()
}

// blockConnected updates the payment ledger for a new chain tip and votes
// for an upcoming payee when the local masternode is started.
func (s *server) blockConnected(height int64) {
	s.payments.BlockConnected(height, time.Now().Unix())
	if s.activeMN != nil && s.mnSync.IsSynced() {
		if vin, ok := s.activeMN.Vin(); ok {
			err := s.payments.ProcessBlock(height+paymentVoteLookahead, vin,
				s.cfg.hotKey)
			if err != nil {
				mnpyLog.Debugf("No payment vote for height %d: %v",
					height+paymentVoteLookahead, err)
			}
		}
	}
	s.payments.CleanPaymentList()
}

// maintenance polls the chain tip and sweeps expired state.
func (s *server) maintenance() {
	hash, height, err := s.chain.BestBlock()
	if err != nil {
		srvrLog.Debugf("Unable to query the chain tip: %v", err)
	} else if *hash != s.tipHash {
		s.tipHash, s.tipHeight = *hash, height
		srvrLog.Debugf("New chain tip %v (height %d)", hash, height)
		s.blockConnected(height)
	}
	s.masternodes.CheckAndRemove(false)
	s.queues.Clean()
	s.expirePendingSends(time.Now())
}

// maintenanceHandler runs maintenance on every tick until the context is
// cancelled.
//
// It must be run as a goroutine.
func (s *server) maintenanceHandler(ctx context.Context) {
	s.maintenanceTicker.Resume()
	defer s.maintenanceTicker.Stop()
	for {
		select {
		case <-s.maintenanceTicker.Ticks():
			s.maintenance()
		case <-ctx.Done():
			return
		}
	}
}

// Run starts the server and blocks until the context is cancelled.  The
// caches are written on shutdown.
func (s *server) Run(ctx context.Context) {
	srvrLog.Trace("Starting server")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		s.connManager.Run(ctx)
		wg.Done()
	}()

	// Connect to the persistent peers.
	permanentPeers := s.cfg.ConnectPeers
	if len(permanentPeers) == 0 {
		permanentPeers = s.cfg.AddPeers
	}
	for _, addr := range permanentPeers {
		go s.connManager.Connect(ctx, &connmgr.ConnReq{
			Addr:      simpleAddr{net: "tcp", addr: addr},
			Permanent: true,
		})
	}

	wg.Add(2)
	go func() {
		s.mnSync.Run(ctx)
		wg.Done()
	}()
	go func() {
		s.maintenanceHandler(ctx)
		wg.Done()
	}()

	if s.activeMN != nil {
		wg.Add(2)
		go func() {
			s.activeMN.Run(ctx)
			wg.Done()
		}()
		go func() {
			s.pool.Run(ctx)
			wg.Done()
		}()
	}
	if s.client != nil {
		wg.Add(1)
		go func() {
			s.client.Run(ctx)
			wg.Done()
		}()
	}

	s.flusher.Start()

	// Shutdown the server when the context is cancelled.
	<-ctx.Done()
	srvrLog.Warnf("Server shutting down")
	s.flusher.Stop()
	s.peersMtx.RLock()
	for sp := range s.peers {
		sp.Disconnect()
	}
	s.peersMtx.RUnlock()
	wg.Wait()

	if s.activeMN != nil {
		if err := s.activeMN.Stop(); err != nil {
			amnsLog.Debugf("Unable to announce stop: %v", err)
		}
	}
	s.flushCaches()
	srvrLog.Trace("Server stopped")
}

// parseListeners determines whether each listen address is IPv4 and IPv6 and
// returns a slice of appropriate net.Addrs to listen on with TCP. It also
// properly detects addresses which apply to "all interfaces" and adds the
// address as both IPv4 and IPv6.
func parseListeners(addrs []string) ([]net.Addr, error) {
	netAddrs := make([]net.Addr, 0, len(addrs)*2)
	for _, addr := range addrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			return nil, err
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || (host == "*" && runtime.GOOS == "plan9") {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
			continue
		}

		// Strip IPv6 zone id if present since net.ParseIP does not
		// handle it.
		zoneIndex := strings.LastIndex(host, "%")
		if zoneIndex > 0 {
			host = host[:zoneIndex]
		}

		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("'%s' is not a valid IP address", host)
		}

		// To4 returns nil when the IP is not an IPv4 address, so use
		// this determine the address type.
		if ip.To4() == nil {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
		} else {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
		}
	}
	return netAddrs, nil
}

// initListeners opens a listener on each of the passed addresses.
func initListeners(ctx context.Context, listenAddrs []string) ([]net.Listener, error) {
	netAddrs, err := parseListeners(listenAddrs)
	if err != nil {
		return nil, err
	}

	listeners := make([]net.Listener, 0, len(netAddrs))
	for _, addr := range netAddrs {
		var listenConfig net.ListenConfig
		listener, err := listenConfig.Listen(ctx, addr.Network(), addr.String())
		if err != nil {
			srvrLog.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}
	return listeners, nil
}

// newServer returns a new anond server configured to run the masternode
// subsystems enabled by cfg against the passed chain and wallet.  The
// wallet may be nil.
func newServer(ctx context.Context, cfg *config, chain tipChain, wallet chainview.Wallet, banDB *banmanager.BanDB) (*server, error) {
	params := cfg.params
	s := &server{
		ctx:               ctx,
		cfg:               cfg,
		params:            params,
		chain:             chain,
		wallet:            wallet,
		nonce:             rand.Uint64(),
		maintenanceTicker: ticker.New(maintenanceInterval),
		peers:             make(map[*serverPeer]struct{}),
		pending:           make(map[string]*pendingSend),
		tipHeight:         -1,
	}

	var err error
	s.banManager, err = banmanager.NewBanManager(&banmanager.Config{
		DisableBanning: cfg.DisableBanning,
		BanThreshold:   cfg.BanThreshold,
		BanDuration:    cfg.BanDuration,
		MaxPeers:       cfg.MaxPeers,
		WhiteList:      cfg.whitelists,
		DB:             banDB,
	})
	if err != nil {
		return nil, err
	}

	s.masternodes = masternode.New(&masternode.Config{
		Params: params,
		Chain:  chain,
		Relay:  s.relay,
		OnListItem: func(hash chainhash.Hash) {
			s.mnSync.AddedListItem(hash)
		},
	})
	s.payments = payments.New(&payments.Config{
		Params:      params,
		Chain:       chain,
		Masternodes: s.masternodes,
		Relay:       s.relay,
		OnVote: func(hash chainhash.Hash) {
			s.mnSync.AddedWinner(hash)
		},
	})
	s.masternodes.SetScheduler(s.payments)
	s.mnSync = mnsync.New(&mnsync.Config{
		Params:      params,
		Chain:       chain,
		Masternodes: s.masternodes,
		Payments:    s.payments,
		Peers:       s.syncPeers,
	})
	s.queues = anonsend.NewQueues(&anonsend.QueueConfig{
		Params:      params,
		Chain:       chain,
		Masternodes: s.masternodes,
		Relay:       s.relay,
		OnReady:     s.onQueueReady,
	})

	switch {
	case cfg.Masternode:
		s.activeMN = activemn.New(&activemn.Config{
			Params:           params,
			Chain:            chain,
			Masternodes:      s.masternodes,
			Wallet:           wallet,
			HotKey:           cfg.hotKey,
			BlockchainSynced: s.mnSync.IsBlockchainSynced,
			ExternalAddr:     cfg.MasternodeAddr,
			LocalAddr:        s.localAddr,
			Dial:             cfg.dial,
			Relay:            s.relay,
		})
		s.pool = anonsend.NewPool(&anonsend.Config{
			Params:      params,
			Chain:       chain,
			Masternodes: s.masternodes,
			Queues:      s.queues,
			LocalVin:    s.activeMN.Vin,
			HotKey:      cfg.hotKey,
			Relay:       s.relay,
		})

	case cfg.AnonSend:
		amount, err := dcrutil.NewAmount(cfg.AnonymizeAmount)
		if err != nil {
			return nil, err
		}
		s.client = anonsend.NewClient(&anonsend.ClientConfig{
			Params:            params,
			Chain:             chain,
			Wallet:            wallet,
			Masternodes:       s.masternodes,
			Queues:            s.queues,
			Send:              s.sendTo,
			Synced:            s.mnSync.IsSynced,
			Rounds:            cfg.AnonSendRounds,
			AnonymizeAmount:   amount,
			LiquidityProvider: cfg.LiquidityProvider,
		})
	}

	s.loadCaches()
	s.flusher = cron.New()
	if err := s.flusher.AddFunc(cfg.CacheFlushSpec, s.flushCaches); err != nil {
		return nil, fmt.Errorf("invalid cache flush spec %q: %w",
			cfg.CacheFlushSpec, err)
	}

	var listeners []net.Listener
	if !cfg.DisableListen {
		listeners, err = initListeners(ctx, cfg.Listeners)
		if err != nil {
			return nil, err
		}
		if len(listeners) == 0 {
			return nil, errors.New("no valid listen address")
		}
	}

	targetOutbound := uint32(defaultTargetOutbound)
	if cfg.MaxPeers < defaultTargetOutbound {
		targetOutbound = uint32(cfg.MaxPeers)
	}
	var newAddressFunc func() (net.Addr, error)
	if len(cfg.ConnectPeers) == 0 {
		newAddressFunc = s.newAddress
	}
	s.connManager, err = connmgr.New(&connmgr.Config{
		Listeners:      listeners,
		OnAccept:       s.inboundPeerConnected,
		RetryDuration:  connectionRetryInterval,
		TargetOutbound: targetOutbound,
		Dial:           cfg.dial,
		Timeout:        cfg.DialTimeout,
		OnConnection:   s.outboundPeerConnected,
		GetNewAddress:  newAddressFunc,
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

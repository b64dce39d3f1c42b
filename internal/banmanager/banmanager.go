// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package banmanager

import (
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/decred/dcrd/connmgr/v3"
)

// Peer is a connected remote node tracked by the ban manager.
type Peer interface {
	Addr() string
	Inbound() bool
	Disconnect()
}

// Config is the configuration struct for the ban manager.
type Config struct {
	// DisableBanning represents the status of disabling banning of
	// misbehaving peers.
	DisableBanning bool

	// BanThreshold represents the maximum allowed ban score before
	// misbehaving peers are disconnecting and banned.
	BanThreshold uint32

	// BanDuration is the duration for which misbehaving peers stay banned for.
	BanDuration time.Duration

	// MaxPeers indicates the maximum number of inbound and outbound
	// peers allowed.
	MaxPeers int

	// Whitelist represents the whitelisted IPs of the server.
	WhiteList []net.IPNet

	// DB persists bans across restarts.  Bans are only kept in memory when
	// it is nil.
	DB *BanDB

	// Now returns the current time.  It defaults to time.Now.
	Now func() time.Time
}

// banMgrPeer extends a peer to maintain additional state maintained by the
// ban manager.
type banMgrPeer struct {
	Peer

	isWhitelisted bool
	banScore      connmgr.DynamicBanScore
}

// BanManager represents a peer ban score tracking manager.
type BanManager struct {
	cfg    Config
	peers  map[Peer]*banMgrPeer
	banned map[string]time.Time
	mtx    sync.Mutex
}

// NewBanManager initializes a new peer banning manager.  Bans recorded in
// the configured database are restored.
func NewBanManager(cfg *Config) (*BanManager, error) {
	bm := &BanManager{
		cfg:    *cfg,
		peers:  make(map[Peer]*banMgrPeer, cfg.MaxPeers),
		banned: make(map[string]time.Time, cfg.MaxPeers),
	}
	if bm.cfg.Now == nil {
		bm.cfg.Now = time.Now
	}
	if bm.cfg.DB != nil {
		banned, err := bm.cfg.DB.Load(bm.cfg.Now())
		if err != nil {
			return nil, fmt.Errorf("unable to load bans: %w", err)
		}
		if len(banned) > 0 {
			log.Infof("Restored %d banned hosts", len(banned))
		}
		bm.banned = banned
	}
	return bm, nil
}

// lookupPeer returns the ban manager peer that maintains additional state for
// a given base peer.  In the event the mapping does not exist, a warning is
// logged and nil is returned.
//
// This function MUST be called with the ban manager mutex locked (for reads).
func (bm *BanManager) lookupPeer(p Peer) *banMgrPeer {
	bmp, ok := bm.peers[p]
	if !ok {
		log.Warnf("Attempt to lookup unknown peer %s\nStack: %v", p.Addr(),
			string(debug.Stack()))
		return nil
	}

	return bmp
}

// splitHost returns the host portion of addr.
func splitHost(addr string) (string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("cannot split hostport %w", err)
	}
	return host, nil
}

// isWhitelisted checks if the provided address is whitelisted per the
// provided whitelist.
func isWhitelisted(addr string, whitelist []net.IPNet) bool {
	host, err := splitHost(addr)
	if err != nil {
		log.Errorf("Unable to split peer '%s' IP: %v", addr, err)
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		log.Errorf("Unable to parse IP '%s'", addr)
		return false
	}

	for _, ipnet := range whitelist {
		if ipnet.Contains(ip) {
			return true
		}
	}

	return false
}

// IsPeerWhitelisted checks if the provided peer is whitelisted.
func (bm *BanManager) IsPeerWhitelisted(p Peer) bool {
	bm.mtx.Lock()
	bmp := bm.lookupPeer(p)
	bm.mtx.Unlock()
	if bmp == nil {
		return false
	}

	return bmp.isWhitelisted
}

// IsBanned reports whether the host of addr is banned.  Expired bans are
// lifted.
func (bm *BanManager) IsBanned(addr string) bool {
	host, err := splitHost(addr)
	if err != nil {
		return false
	}
	_, banned := bm.checkBan(host)
	return banned
}

// checkBan returns the end of the ban of host and whether it is still in
// effect.  An expired ban is removed.
func (bm *BanManager) checkBan(host string) (time.Time, bool) {
	bm.mtx.Lock()
	banEnd, ok := bm.banned[host]
	if !ok {
		bm.mtx.Unlock()
		return time.Time{}, false
	}
	if bm.cfg.Now().Before(banEnd) {
		bm.mtx.Unlock()
		return banEnd, true
	}
	delete(bm.banned, host)
	bm.mtx.Unlock()

	log.Infof("Peer %s is no longer banned", host)
	if bm.cfg.DB != nil {
		if err := bm.cfg.DB.Delete(host); err != nil {
			log.Errorf("Unable to remove ban of %s: %v", host, err)
		}
	}
	return time.Time{}, false
}

// AddPeer adds the provided peer to the ban manager.
func (bm *BanManager) AddPeer(p Peer) error {
	host, err := splitHost(p.Addr())
	if err != nil {
		p.Disconnect()
		return err
	}

	if banEnd, ok := bm.checkBan(host); ok {
		p.Disconnect()
		return fmt.Errorf("peer %s is banned for another %v - disconnecting",
			host, banEnd.Sub(bm.cfg.Now()))
	}

	bmp := &banMgrPeer{
		Peer:          p,
		isWhitelisted: isWhitelisted(p.Addr(), bm.cfg.WhiteList),
	}

	bm.mtx.Lock()
	bm.peers[p] = bmp
	bm.mtx.Unlock()

	return nil
}

// RemovePeer discards the provided peer from the ban manager.
func (bm *BanManager) RemovePeer(p Peer) {
	bm.mtx.Lock()
	delete(bm.peers, p)
	bm.mtx.Unlock()
}

// BanPeer bans the provided peer.
func (bm *BanManager) BanPeer(p Peer) {
	// Return immediately if banning is disabled.
	if bm.cfg.DisableBanning {
		return
	}

	bm.mtx.Lock()
	bmp := bm.lookupPeer(p)
	bm.mtx.Unlock()
	if bmp == nil {
		return
	}

	// Return if the peer is whitelisted.
	if bmp.isWhitelisted {
		return
	}

	// Ban and remove the peer.
	host, err := splitHost(p.Addr())
	if err != nil {
		log.Debugf("can't split ban peer %s %v", p.Addr(), err)
		return
	}

	direction := directionString(p.Inbound())
	log.Infof("Banned peer %s (%s) for %v", host, direction,
		bm.cfg.BanDuration)

	banEnd := bm.cfg.Now().Add(bm.cfg.BanDuration)
	bm.mtx.Lock()
	bm.banned[host] = banEnd
	bm.mtx.Unlock()
	if bm.cfg.DB != nil {
		if err := bm.cfg.DB.Put(host, banEnd); err != nil {
			log.Errorf("Unable to persist ban of %s: %v", host, err)
		}
	}

	p.Disconnect()
	bm.RemovePeer(p)
}

// AddBanScore increases the persistent and decaying ban scores of the
// provided peer by the values passed as parameters. If the resulting score
// exceeds half of the ban threshold, a warning is logged including the reason
// provided. Further, if the score is above the ban threshold, the peer will
// be banned.
func (bm *BanManager) AddBanScore(p Peer, persistent, transient uint32, reason string) bool {
	// No warning is logged and no score is calculated if banning is disabled.
	if bm.cfg.DisableBanning {
		return false
	}

	bm.mtx.Lock()
	bmp := bm.lookupPeer(p)
	bm.mtx.Unlock()
	if bmp == nil {
		return false
	}

	if bmp.isWhitelisted {
		log.Debugf("Misbehaving whitelisted peer %s: %s", p.Addr(), reason)
		return false
	}

	banScore := bmp.banScore.Int()
	warnThreshold := bm.cfg.BanThreshold >> 1
	if transient == 0 && persistent == 0 {
		// The score is not being increased, but a warning message is still
		// logged if the score is above the warn threshold.
		if banScore > warnThreshold {
			log.Warnf("Misbehaving peer %s: %s -- ban score is %d, "+
				"it was not increased this time", p.Addr(), reason, banScore)
		}
		return false
	}

	banScore = bmp.banScore.Increase(persistent, transient)
	if banScore > warnThreshold {
		log.Warnf("Misbehaving peer %s: %s -- ban score increased to %d",
			p.Addr(), reason, banScore)
		if banScore > bm.cfg.BanThreshold {
			log.Warnf("Misbehaving peer %s -- banning and disconnecting",
				p.Addr())
			bm.BanPeer(p)
			return true
		}
	}

	return false
}

// BanScore returns the ban score of the provided peer.
func (bm *BanManager) BanScore(p Peer) uint32 {
	bm.mtx.Lock()
	bmp := bm.lookupPeer(p)
	bm.mtx.Unlock()
	if bmp == nil {
		return 0
	}
	return bmp.banScore.Int()
}

// directionString is a helper function that returns a string that represents
// the direction of a connection (inbound or outbound).
func directionString(inbound bool) string {
	if inbound {
		return "inbound"
	}
	return "outbound"
}

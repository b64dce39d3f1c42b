// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"bytes"
	"encoding/binary"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/math/uint256"
	"github.com/decred/dcrd/wire"
)

// secondsPerMonth caps the payment age of masternodes that were never paid.
const secondsPerMonth = 60 * 60 * 24 * 30

// Peer is a remote peer messages are received from and replies are queued
// to.
type Peer interface {
	Addr() string
	QueueMessage(msg wire.Message)
}

// Scheduler reports whether a masternode is already scheduled to be paid in
// the upcoming blocks.
type Scheduler interface {
	IsScheduled(mn *Masternode, notBlockHeight int64) bool
}

// Config is the configuration for the masternode registry.
type Config struct {
	Params *netparams.Params
	Chain  chainview.Chain

	// Relay broadcasts msg to all connected peers.
	Relay func(msg wire.Message)

	// Scheduler, when set, excludes scheduled masternodes from payment
	// selection.  It may be installed later with SetScheduler.
	Scheduler Scheduler

	// OnListItem is invoked with the hash of every announcement that was
	// accepted into the list.  It drives list sync progress.
	OnListItem func(hash chainhash.Hash)

	// OnAdded is invoked after a new record is added.
	OnAdded func(mn *Masternode)
}

// Manager is the registry of known masternodes.  It owns all records and the
// bookkeeping of list requests and seen announcements.  Records are keyed by
// collateral outpoint and looked up by linear scan.
type Manager struct {
	cfg Config
	now func() time.Time

	mtx         sync.RWMutex
	masternodes []*Masternode
	scheduler   Scheduler

	// askedUsForList, weAskedForList and weAskedForEntry map peers and
	// collateral outpoints to the unix time a repeated request is allowed.
	askedUsForList  map[string]int64
	weAskedForList  map[string]int64
	weAskedForEntry map[wire.OutPoint]int64

	seenBroadcasts map[chainhash.Hash]*mnwire.MsgMNBroadcast
	seenPings      map[chainhash.Hash]*mnwire.MsgMNPing

	// dsqCount is the number of queue advertisements seen so far and
	// drives queue fairness.
	dsqCount int64

	// dseeCount numbers accepted legacy registrations.
	dseeCount int64
}

// New returns an empty masternode registry.
func New(cfg *Config) *Manager {
	return &Manager{
		cfg:             *cfg,
		now:             time.Now,
		scheduler:       cfg.Scheduler,
		askedUsForList:  make(map[string]int64),
		weAskedForList:  make(map[string]int64),
		weAskedForEntry: make(map[wire.OutPoint]int64),
		seenBroadcasts:  make(map[chainhash.Hash]*mnwire.MsgMNBroadcast),
		seenPings:       make(map[chainhash.Hash]*mnwire.MsgMNPing),
	}
}

// SetScheduler installs the payment scheduler.
func (m *Manager) SetScheduler(s Scheduler) {
	m.mtx.Lock()
	m.scheduler = s
	m.mtx.Unlock()
}

// relay sends each message to all peers.  It must be called without the
// registry lock held.
func (m *Manager) relay(msgs []wire.Message) {
	if m.cfg.Relay == nil {
		return
	}
	for _, msg := range msgs {
		m.cfg.Relay(msg)
	}
}

// collateral returns the exact collateral amount in atoms.
func (m *Manager) collateral() int64 {
	return int64(m.cfg.Params.CollateralAmount)
}

// check runs the state check of mn.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) check(mn *Masternode, now int64, force bool) {
	mn.Check(now, m.cfg.Chain, m.collateral(), force)
}

// find returns the record with the passed collateral.
//
// This function MUST be called with the registry lock held (for reads).
func (m *Manager) find(vin *wire.OutPoint) *Masternode {
	for _, mn := range m.masternodes {
		if mn.Vin == *vin {
			return mn
		}
	}
	return nil
}

// clone returns a copy of mn safe to hand out of the registry.
func clone(mn *Masternode) *Masternode {
	if mn == nil {
		return nil
	}
	c := *mn
	if mn.LastPing != nil {
		ping := *mn.LastPing
		c.LastPing = &ping
	}
	return &c
}

// Add adds mn to the registry.  It returns false when mn is not enabled or
// a record with the same collateral already exists.
func (m *Manager) Add(mn *Masternode) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.add(mn)
}

// add adds mn to the registry.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) add(mn *Masternode) bool {
	if !mn.IsEnabled() {
		return false
	}
	if m.find(&mn.Vin) != nil {
		return false
	}
	log.Debugf("Adding new masternode %v - %d now", mn.Vin,
		len(m.masternodes)+1)
	m.masternodes = append(m.masternodes, mn)
	return true
}

// Find returns a copy of the record with the passed collateral or nil.
func (m *Manager) Find(vin *wire.OutPoint) *Masternode {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return clone(m.find(vin))
}

// FindByPubKey returns a copy of the record whose hot key is pubKey or nil.
func (m *Manager) FindByPubKey(pubKey []byte) *Masternode {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	for _, mn := range m.masternodes {
		if bytes.Equal(mn.HotPubKey, pubKey) {
			return clone(mn)
		}
	}
	return nil
}

// FindByPayee returns a copy of the record paid by script or nil.
func (m *Manager) FindByPayee(script []byte) *Masternode {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	for _, mn := range m.masternodes {
		_, payee, err := m.PayeeScript(mn)
		if err == nil && bytes.Equal(payee, script) {
			return clone(mn)
		}
	}
	return nil
}

// PayeeScript returns the payment script of the masternode's collateral
// key.
func (m *Manager) PayeeScript(mn *Masternode) (uint16, []byte, error) {
	return chainview.PubKeyHashScript(mn.CollateralPubKey, m.cfg.Params)
}

// Remove deletes the record with the passed collateral along with the cached
// announcements and pings and outstanding requests tied to it.
func (m *Manager) Remove(vin *wire.OutPoint) {
	m.mtx.Lock()
	m.remove(vin)
	m.mtx.Unlock()
}

// remove deletes the record with the passed collateral.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) remove(vin *wire.OutPoint) {
	for i, mn := range m.masternodes {
		if mn.Vin != *vin {
			continue
		}
		log.Debugf("Removing masternode %v - %d now", mn.Vin,
			len(m.masternodes)-1)
		copy(m.masternodes[i:], m.masternodes[i+1:])
		m.masternodes[len(m.masternodes)-1] = nil
		m.masternodes = m.masternodes[:len(m.masternodes)-1]
		break
	}
	m.forget(vin)
}

// forget drops cached announcements, pings and requests for vin.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) forget(vin *wire.OutPoint) {
	for hash, mnb := range m.seenBroadcasts {
		if mnb.Vin == *vin {
			delete(m.seenBroadcasts, hash)
		}
	}
	for hash, mnp := range m.seenPings {
		if mnp.Vin == *vin {
			delete(m.seenPings, hash)
		}
	}
	delete(m.weAskedForEntry, *vin)
}

// CheckAndRemove checks every record and removes those in terminal states,
// and expired ones too when forceExpiredRemoval is set.  Expired request
// bookkeeping and stale cached announcements and pings are purged.
func (m *Manager) CheckAndRemove(forceExpiredRemoval bool) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now().Unix()
	kept := m.masternodes[:0]
	for _, mn := range m.masternodes {
		m.check(mn, now, false)
		if mn.State == StateRemove || mn.State == StateOutpointSpent ||
			(forceExpiredRemoval && mn.State == StateExpired) {

			log.Debugf("Removing inactive masternode %v (%v)", mn.Vin,
				mn.State)
			m.forget(&mn.Vin)
			continue
		}
		kept = append(kept, mn)
	}
	for i := len(kept); i < len(m.masternodes); i++ {
		m.masternodes[i] = nil
	}
	m.masternodes = kept

	for addr, until := range m.askedUsForList {
		if until < now {
			delete(m.askedUsForList, addr)
		}
	}
	for addr, until := range m.weAskedForList {
		if until < now {
			delete(m.weAskedForList, addr)
		}
	}
	for vin, until := range m.weAskedForEntry {
		if until < now {
			delete(m.weAskedForEntry, vin)
		}
	}
	for hash, mnb := range m.seenBroadcasts {
		if mnb.LastPing.SigTime < now-2*RemovalSeconds {
			delete(m.seenBroadcasts, hash)
		}
	}
	for hash, mnp := range m.seenPings {
		if mnp.SigTime < now-2*RemovalSeconds {
			delete(m.seenPings, hash)
		}
	}
}

// Clear removes all records and bookkeeping.
func (m *Manager) Clear() {
	m.mtx.Lock()
	m.masternodes = nil
	m.askedUsForList = make(map[string]int64)
	m.weAskedForList = make(map[string]int64)
	m.weAskedForEntry = make(map[wire.OutPoint]int64)
	m.seenBroadcasts = make(map[chainhash.Hash]*mnwire.MsgMNBroadcast)
	m.seenPings = make(map[chainhash.Hash]*mnwire.MsgMNPing)
	m.dsqCount = 0
	m.dseeCount = 0
	m.mtx.Unlock()
}

// Size returns the number of records regardless of state.
func (m *Manager) Size() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return len(m.masternodes)
}

// CountEnabled returns the number of enabled records at or above the passed
// protocol version.  Every record is checked first.
func (m *Manager) CountEnabled(minProtocol uint32) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.countEnabled(minProtocol, m.now().Unix())
}

// countEnabled counts enabled records at or above minProtocol.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) countEnabled(minProtocol uint32, now int64) int {
	var n int
	for _, mn := range m.masternodes {
		m.check(mn, now, false)
		if mn.ProtocolVersion < minProtocol || !mn.IsEnabled() {
			continue
		}
		n++
	}
	return n
}

// CountAboveProtocol returns the number of records of any state running at
// least the passed protocol version.
func (m *Manager) CountAboveProtocol(protocol uint32) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	now := m.now().Unix()
	var n int
	for _, mn := range m.masternodes {
		m.check(mn, now, false)
		if mn.ProtocolVersion >= protocol {
			n++
		}
	}
	return n
}

// NetworkCounts is the number of enabled masternodes reachable over each
// network.
type NetworkCounts struct {
	IPv4  int
	IPv6  int
	Onion int
}

// CountNetworks returns the number of enabled records at or above the passed
// protocol version by the network of their address.
func (m *Manager) CountNetworks(minProtocol uint32) NetworkCounts {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	now := m.now().Unix()
	var counts NetworkCounts
	for _, mn := range m.masternodes {
		m.check(mn, now, false)
		if mn.ProtocolVersion < minProtocol || !mn.IsEnabled() {
			continue
		}
		host, _, err := net.SplitHostPort(mn.Addr)
		if err != nil {
			continue
		}
		switch ip := net.ParseIP(host); {
		case strings.HasSuffix(host, ".onion"):
			counts.Onion++
		case ip != nil && ip.To4() != nil:
			counts.IPv4++
		case ip != nil:
			counts.IPv6++
		}
	}
	return counts
}

// FindRandomNotInVec returns a uniformly selected enabled record at or above
// the passed protocol version whose collateral is not in exclude.
func (m *Manager) FindRandomNotInVec(exclude []wire.OutPoint, minProtocol uint32) *Masternode {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	now := m.now().Unix()
	excluded := make(map[wire.OutPoint]struct{}, len(exclude))
	for _, vin := range exclude {
		excluded[vin] = struct{}{}
	}
	var candidates []*Masternode
	for _, mn := range m.masternodes {
		m.check(mn, now, false)
		if mn.ProtocolVersion < minProtocol || !mn.IsEnabled() {
			continue
		}
		if _, ok := excluded[mn.Vin]; ok {
			continue
		}
		candidates = append(candidates, mn)
	}
	if len(candidates) == 0 {
		return nil
	}
	return clone(candidates[rand.IntN(len(candidates))])
}

// secondsSincePayment returns how long ago mn was paid.  Masternodes not
// paid within a month are ordered by a value derived from their collateral
// so the ordering is identical on every node.
func secondsSincePayment(mn *Masternode, now int64) int64 {
	sec := now - mn.LastPaidTime
	if sec < secondsPerMonth {
		return sec
	}
	var buf [chainhash.HashSize + 12]byte
	copy(buf[:], mn.Vin.Hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], mn.Vin.Index)
	binary.LittleEndian.PutUint64(buf[chainhash.HashSize+4:], uint64(mn.SigTime))
	h := chainhash.HashH(buf[:])
	return secondsPerMonth + int64(binary.LittleEndian.Uint32(h[:4]))
}

// GetNextInQueueForPayment selects the masternode that should be paid at
// height.  Candidates are enabled, payment compatible, not already
// scheduled, have collateral confirmed at least as deep as the number of
// enabled masternodes and, when filterSigTime is set, were announced long
// enough ago relative to network size.  The longest unpaid tenth of the
// candidates is scored against the block 100 blocks before height and the
// highest score wins.  When fewer than a third of the network survives the
// announcement age filter, the selection is retried without it.
//
// The number of candidates considered is returned along with the winner,
// which is nil when there are none.
func (m *Manager) GetNextInQueueForPayment(height int64, filterSigTime bool) (*Masternode, int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.nextInQueueForPayment(height, filterSigTime)
}

// nextInQueueForPayment implements GetNextInQueueForPayment.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) nextInQueueForPayment(height int64, filterSigTime bool) (*Masternode, int) {
	now := m.now().Unix()
	minProtocol := m.cfg.Params.MinPaymentProtocolVersion
	enabled := m.countEnabled(minProtocol, now)
	bestHeight := m.cfg.Chain.BestHeight()

	var candidates []*Masternode
	for _, mn := range m.masternodes {
		if !mn.IsEnabled() || mn.ProtocolVersion < minProtocol {
			continue
		}
		if m.scheduler != nil && m.scheduler.IsScheduled(mn, height) {
			continue
		}
		if filterSigTime && mn.SigTime+int64(enabled)*156 > now {
			continue
		}
		entry, ok := m.cfg.Chain.FetchUtxo(&mn.Vin)
		if !ok || entry.Confirmations(bestHeight) < int64(enabled) {
			continue
		}
		candidates = append(candidates, mn)
	}

	if filterSigTime && len(candidates) < enabled/3 {
		return m.nextInQueueForPayment(height, false)
	}
	if len(candidates) == 0 {
		return nil, 0
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return secondsSincePayment(candidates[i], now) >
			secondsSincePayment(candidates[j], now)
	})

	blockHash, ok := m.cfg.Chain.BlockHash(height - ScoreDepth)
	if !ok {
		return nil, len(candidates)
	}
	tenth := enabled / 10
	var best *Masternode
	var high uint256.Uint256
	for i, mn := range candidates {
		score := CalculateScore(&mn.Vin, &blockHash)
		if best == nil || score.Gt(&high) {
			high = score
			best = mn
		}
		if i+1 >= tenth {
			break
		}
	}
	return clone(best), len(candidates)
}

// RankedMasternode pairs a masternode with its rank.
type RankedMasternode struct {
	Rank       int
	Masternode *Masternode
}

// rankEligible reports whether mn takes part in ranking.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) rankEligible(mn *Masternode, minProtocol uint32, onlyActive bool, now int64) bool {
	if mn.ProtocolVersion < minProtocol {
		return false
	}
	if now-mn.SigTime < MinRankAgeSeconds {
		return false
	}
	if onlyActive {
		m.check(mn, now, false)
		if !mn.IsEnabled() {
			return false
		}
	}
	return true
}

// GetMasternodeRank returns the rank of the masternode with the passed
// collateral among the eligible masternodes scored against the block at
// height: one plus the number of eligible masternodes with a higher score.
// It returns -1 when the block is unknown or the masternode is not eligible.
func (m *Manager) GetMasternodeRank(vin *wire.OutPoint, height int64, minProtocol uint32, onlyActive bool) int {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	blockHash, ok := m.cfg.Chain.BlockHash(height)
	if !ok {
		return -1
	}
	now := m.now().Unix()
	target := m.find(vin)
	if target == nil || !m.rankEligible(target, minProtocol, onlyActive, now) {
		return -1
	}
	targetScore := CalculateScore(&target.Vin, &blockHash)
	rank := 1
	for _, mn := range m.masternodes {
		if mn == target || !m.rankEligible(mn, minProtocol, onlyActive, now) {
			continue
		}
		score := CalculateScore(&mn.Vin, &blockHash)
		if score.Gt(&targetScore) {
			rank++
		}
	}
	return rank
}

// GetMasternodeRanks returns all eligible active masternodes ordered by
// descending score against the block at height.
func (m *Manager) GetMasternodeRanks(height int64, minProtocol uint32) []RankedMasternode {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	blockHash, ok := m.cfg.Chain.BlockHash(height)
	if !ok {
		return nil
	}
	now := m.now().Unix()
	type scored struct {
		score uint256.Uint256
		mn    *Masternode
	}
	var all []scored
	for _, mn := range m.masternodes {
		if !m.rankEligible(mn, minProtocol, true, now) {
			continue
		}
		all = append(all, scored{CalculateScore(&mn.Vin, &blockHash), mn})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].score.Gt(&all[j].score)
	})
	ranks := make([]RankedMasternode, len(all))
	for i, s := range all {
		ranks[i] = RankedMasternode{Rank: i + 1, Masternode: clone(s.mn)}
	}
	return ranks
}

// GetMasternodeByRank returns the masternode with the passed rank at height.
func (m *Manager) GetMasternodeByRank(rank int, height int64, minProtocol uint32) *Masternode {
	for _, r := range m.GetMasternodeRanks(height, minProtocol) {
		if r.Rank == rank {
			return r.Masternode
		}
	}
	return nil
}

// UpdateLastPaid records that the masternode paid by payee received the
// reward of the block at height.
func (m *Manager) UpdateLastPaid(payee []byte, height int64, blockTime int64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, mn := range m.masternodes {
		_, script, err := m.PayeeScript(mn)
		if err != nil || !bytes.Equal(script, payee) {
			continue
		}
		if height > mn.LastPaidHeight {
			mn.LastPaidHeight = height
			mn.LastPaidTime = blockTime
		}
		return
	}
}

// NextDsq increments and returns the queue advertisement counter.
func (m *Manager) NextDsq() int64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.dsqCount++
	return m.dsqCount
}

// DsqCount returns the queue advertisement counter.
func (m *Manager) DsqCount() int64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.dsqCount
}

// CanAdvertise reports whether the masternode with the passed collateral
// may advertise a queue.  A masternode must wait for a fifth of the enabled
// network to advertise before advertising again.
func (m *Manager) CanAdvertise(vin *wire.OutPoint, minProtocol uint32) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	mn := m.find(vin)
	if mn == nil {
		return false
	}
	enabled := m.countEnabled(minProtocol, m.now().Unix())
	return mn.LastDsq == 0 || mn.LastDsq+int64(enabled)/5 <= m.dsqCount
}

// MarkAdvertised records the current queue counter on the masternode with
// the passed collateral.
func (m *Manager) MarkAdvertised(vin *wire.OutPoint) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if mn := m.find(vin); mn != nil {
		mn.LastDsq = m.dsqCount
	}
}

// Masternodes returns copies of all records.
func (m *Manager) Masternodes() []*Masternode {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	mns := make([]*Masternode, len(m.masternodes))
	for i, mn := range m.masternodes {
		mns[i] = clone(mn)
	}
	return mns
}

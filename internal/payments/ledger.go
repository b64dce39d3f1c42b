// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package payments tracks the masternode payment votes cast for upcoming
// blocks, tallies them per height and decides whether a block pays the
// masternode the network agreed on.
package payments

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/mnsign"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/container/lru"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

const (
	// SignaturesTotal is the number of top ranked masternodes that vote on
	// the payee of each block.
	SignaturesTotal = 10

	// MinSignatures is the number of votes a payee needs before blocks are
	// required to pay it.
	MinSignatures = 6

	// ScheduleLookahead is the number of upcoming heights checked when
	// deciding whether a masternode is already scheduled for payment.
	ScheduleLookahead = 8

	// MaxFutureVoteHeight is how far beyond the tip votes are accepted.
	MaxFutureVoteHeight = 20

	// minRetention is the minimum number of heights of votes retained.
	minRetention = 1000

	// fulfilledPeers bounds the set of peers that received the vote list.
	fulfilledPeers = 1000

	banScoreBadSig    = 20
	banScoreNotRanked = 20
	banScoreDump      = 20
)

// payee is a payment script and the number of votes it received.
type payee struct {
	version uint16
	script  []byte
	votes   int
}

// blockPayees is the tally of votes for a single height.
type blockPayees struct {
	payees []*payee
}

// add records count votes for script.
func (b *blockPayees) add(version uint16, script []byte, count int) {
	for _, p := range b.payees {
		if bytes.Equal(p.script, script) {
			p.votes += count
			return
		}
	}
	b.payees = append(b.payees, &payee{version, script, count})
}

// best returns the payee with the most votes.  Ties keep the payee that
// reached the count first.
func (b *blockPayees) best() *payee {
	var best *payee
	for _, p := range b.payees {
		if best == nil || p.votes > best.votes {
			best = p
		}
	}
	return best
}

// Config is the configuration for the payment ledger.
type Config struct {
	Params      *netparams.Params
	Chain       chainview.Chain
	Masternodes *masternode.Manager

	// Relay broadcasts msg to all connected peers.
	Relay func(msg wire.Message)

	// OnVote is invoked with the hash of every vote that was accepted.  It
	// drives winner sync progress.
	OnVote func(hash chainhash.Hash)
}

// Ledger is the table of payment votes.  Votes are indexed by hash for
// deduplication and tallied by height.
//
// The ledger lock is never held while calling into the masternode registry
// because the registry consults the ledger with its own lock held.
type Ledger struct {
	cfg Config

	mtx       sync.RWMutex
	votes     map[chainhash.Hash]*mnwire.MsgPaymentVote
	blocks    map[int64]*blockPayees
	lastVote  map[wire.OutPoint]int64
	lastBlock int64
	fulfilled *lru.Set[string]
}

// Ensure Ledger implements masternode.Scheduler.
var _ masternode.Scheduler = (*Ledger)(nil)

// New returns an empty payment ledger.
func New(cfg *Config) *Ledger {
	return &Ledger{
		cfg:       *cfg,
		votes:     make(map[chainhash.Hash]*mnwire.MsgPaymentVote),
		blocks:    make(map[int64]*blockPayees),
		lastVote:  make(map[wire.OutPoint]int64),
		fulfilled: lru.NewSet[string](fulfilledPeers),
	}
}

// NewVote creates and signs a vote by the masternode with collateral vin to
// pay script at height.
func NewVote(vin wire.OutPoint, height int64, version uint16, script []byte, hotKey *secp256k1.PrivateKey) (*mnwire.MsgPaymentVote, error) {
	vote := &mnwire.MsgPaymentVote{
		Vin:          vin,
		BlockHeight:  height,
		PayeeVersion: version,
		PayeeScript:  script,
	}
	sig, err := mnsign.Sign(vote.SignatureMessage(), hotKey)
	if err != nil {
		return nil, err
	}
	vote.Sig = sig
	return vote, nil
}

// canVote reports whether the masternode with collateral vin may vote at
// height and records the height as its latest vote.  Only a repeat of the
// most recent height is refused.
//
// This function MUST be called with the ledger lock held (for writes).
func (l *Ledger) canVote(vin *wire.OutPoint, height int64) bool {
	if last, ok := l.lastVote[*vin]; ok && last == height {
		return false
	}
	l.lastVote[*vin] = height
	return true
}

// addVote stores vote and adds it to the tally of its height.  It returns
// false when the vote is already known.
//
// This function MUST be called with the ledger lock held (for writes).
func (l *Ledger) addVote(vote *mnwire.MsgPaymentVote) (bool, error) {
	anchor := vote.BlockHeight - masternode.ScoreDepth
	if _, ok := l.cfg.Chain.BlockHash(anchor); !ok {
		str := fmt.Sprintf("vote for height %d references unknown block "+
			"%d", vote.BlockHeight, anchor)
		return false, ruleError(ErrUnknownBlock, str)
	}
	hash := vote.Hash()
	if _, ok := l.votes[hash]; ok {
		return false, nil
	}
	l.votes[hash] = vote
	bp, ok := l.blocks[vote.BlockHeight]
	if !ok {
		bp = new(blockPayees)
		l.blocks[vote.BlockHeight] = bp
	}
	bp.add(vote.PayeeVersion, vote.PayeeScript, 1)
	return true, nil
}

// AddVote stores a vote and tallies it.  The block 100 blocks before the
// vote height must be known.  Known votes are ignored and false is
// returned.
func (l *Ledger) AddVote(vote *mnwire.MsgPaymentVote) (bool, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.addVote(vote)
}

// retention returns the number of heights of votes that are kept.
func (l *Ledger) retention() int64 {
	enabled := l.cfg.Masternodes.CountEnabled(
		l.cfg.Params.MinPaymentProtocolVersion)
	limit := int64(float64(enabled) * 1.25)
	if limit < minRetention {
		limit = minRetention
	}
	return limit
}

// ProcessVote validates a vote received from peer, adds it to the tally and
// relays it.  The voter must be a known masternode ranked within the voting
// quorum for the height, and may not vote for the same height twice in a
// row.
func (l *Ledger) ProcessVote(peer masternode.Peer, vote *mnwire.MsgPaymentVote) error {
	hash := vote.Hash()
	l.mtx.RLock()
	_, seen := l.votes[hash]
	l.mtx.RUnlock()
	if seen {
		l.notifyVote(hash)
		return nil
	}

	params := l.cfg.Params
	best := l.cfg.Chain.BestHeight()
	first := best - l.retention()
	if vote.BlockHeight < first || vote.BlockHeight > best+MaxFutureVoteHeight {
		str := fmt.Sprintf("vote for height %d is outside of [%d, %d]",
			vote.BlockHeight, first, best+MaxFutureVoteHeight)
		return ruleError(ErrOutOfRange, str)
	}

	mn := l.cfg.Masternodes.Find(&vote.Vin)
	if mn == nil {
		if peer != nil {
			l.cfg.Masternodes.AskForMN(peer, &vote.Vin)
		}
		str := fmt.Sprintf("vote from unknown masternode %v", vote.Vin)
		return ruleError(ErrUnknownMasternode, str)
	}
	if mn.ProtocolVersion < params.MinPaymentProtocolVersion {
		str := fmt.Sprintf("vote from masternode %v running protocol "+
			"version %d", vote.Vin, mn.ProtocolVersion)
		return ruleError(ErrObsoleteVersion, str)
	}
	rank := l.cfg.Masternodes.GetMasternodeRank(&vote.Vin,
		vote.BlockHeight-masternode.ScoreDepth,
		params.MinPaymentProtocolVersion, true)
	if rank < 1 || rank > SignaturesTotal {
		str := fmt.Sprintf("vote from masternode %v ranked %d for height "+
			"%d", vote.Vin, rank, vote.BlockHeight)
		if rank > 2*SignaturesTotal {
			return RuleError{Err: ErrNotRanked, Description: str,
				BanScore: banScoreNotRanked}
		}
		return ruleError(ErrNotRanked, str)
	}
	err := mnsign.Verify(vote.SignatureMessage(), vote.Sig, mn.HotPubKey)
	if err != nil {
		str := fmt.Sprintf("vote from masternode %v: %v", vote.Vin, err)
		return RuleError{Err: ErrBadSignature, Description: str,
			BanScore: banScoreBadSig}
	}

	l.mtx.Lock()
	if !l.canVote(&vote.Vin, vote.BlockHeight) {
		l.mtx.Unlock()
		str := fmt.Sprintf("masternode %v already voted for height %d",
			vote.Vin, vote.BlockHeight)
		return ruleError(ErrAlreadyVoted, str)
	}
	added, err := l.addVote(vote)
	l.mtx.Unlock()
	if err != nil || !added {
		return err
	}

	log.Debugf("Accepted vote from %v to pay %x at height %d", vote.Vin,
		vote.PayeeScript, vote.BlockHeight)
	l.notifyVote(hash)
	if l.cfg.Relay != nil {
		l.cfg.Relay(vote)
	}
	return nil
}

// notifyVote reports an accepted vote to the sync driver.
func (l *Ledger) notifyVote(hash chainhash.Hash) {
	if l.cfg.OnVote != nil {
		l.cfg.OnVote(hash)
	}
}

// BlockPayee returns the payment script with the most votes at height.
func (l *Ledger) BlockPayee(height int64) (uint16, []byte, bool) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	bp, ok := l.blocks[height]
	if !ok {
		return 0, nil, false
	}
	p := bp.best()
	if p == nil {
		return 0, nil, false
	}
	return p.version, p.script, true
}

// Votes returns the number of votes for script at height.
func (l *Ledger) Votes(height int64, script []byte) int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	bp, ok := l.blocks[height]
	if !ok {
		return 0
	}
	for _, p := range bp.payees {
		if bytes.Equal(p.script, script) {
			return p.votes
		}
	}
	return 0
}

// IsTransactionValid checks that tx, the reward transaction of the block at
// height, pays the masternode the network agreed on.  When no payee reached
// MinSignatures votes any payment is accepted, otherwise tx must pay at
// least the masternode reward to one of the payees that did.
func (l *Ledger) IsTransactionValid(tx *wire.MsgTx, height int64) error {
	required := l.cfg.Params.MasternodePayment(
		l.cfg.Chain.BlockSubsidy(height))

	l.mtx.RLock()
	defer l.mtx.RUnlock()
	bp, ok := l.blocks[height]
	if !ok {
		return nil
	}
	var maxVotes int
	for _, p := range bp.payees {
		if p.votes > maxVotes {
			maxVotes = p.votes
		}
	}
	if maxVotes < MinSignatures {
		return nil
	}

	var possible []string
	for _, p := range bp.payees {
		if p.votes < MinSignatures {
			continue
		}
		for _, out := range tx.TxOut {
			if out.Value >= required && bytes.Equal(out.PkScript, p.script) {
				return nil
			}
		}
		possible = append(possible, hex.EncodeToString(p.script))
	}
	str := fmt.Sprintf("block %d does not pay %d atoms to any of %s", height,
		required, strings.Join(possible, ", "))
	return ruleError(ErrMissingPayment, str)
}

// IsScheduled reports whether the masternode is the leading payee of any
// height in the lookahead window other than notBlockHeight.
func (l *Ledger) IsScheduled(mn *masternode.Masternode, notBlockHeight int64) bool {
	_, script, err := chainview.PubKeyHashScript(mn.CollateralPubKey,
		l.cfg.Params)
	if err != nil {
		return false
	}
	best := l.cfg.Chain.BestHeight()

	l.mtx.RLock()
	defer l.mtx.RUnlock()
	for h := best; h <= best+ScheduleLookahead; h++ {
		if h == notBlockHeight {
			continue
		}
		bp, ok := l.blocks[h]
		if !ok {
			continue
		}
		if p := bp.best(); p != nil && bytes.Equal(p.script, script) {
			return true
		}
	}
	return false
}

// ProcessBlock votes for the payee of height when the masternode with
// collateral vin is ranked within the voting quorum.  The vote is added to
// the ledger and relayed.
func (l *Ledger) ProcessBlock(height int64, vin wire.OutPoint, hotKey *secp256k1.PrivateKey) error {
	params := l.cfg.Params
	rank := l.cfg.Masternodes.GetMasternodeRank(&vin,
		height-masternode.ScoreDepth, params.MinPaymentProtocolVersion,
		false)
	if rank < 1 || rank > SignaturesTotal {
		str := fmt.Sprintf("masternode %v is ranked %d and may not vote "+
			"for height %d", vin, rank, height)
		return ruleError(ErrNotRanked, str)
	}

	l.mtx.RLock()
	done := height <= l.lastBlock
	l.mtx.RUnlock()
	if done {
		return nil
	}

	winner, _ := l.cfg.Masternodes.GetNextInQueueForPayment(height, true)
	if winner == nil {
		str := fmt.Sprintf("no masternode is eligible for payment at "+
			"height %d", height)
		return ruleError(ErrNoWinner, str)
	}
	version, script, err := l.cfg.Masternodes.PayeeScript(winner)
	if err != nil {
		return err
	}
	vote, err := NewVote(vin, height, version, script, hotKey)
	if err != nil {
		return err
	}

	l.mtx.Lock()
	if !l.canVote(&vin, height) {
		l.mtx.Unlock()
		return nil
	}
	added, err := l.addVote(vote)
	if err == nil {
		l.lastBlock = height
	}
	l.mtx.Unlock()
	if err != nil {
		return err
	}

	log.Infof("Voted to pay masternode %v at height %d", winner.Vin, height)
	if added && l.cfg.Relay != nil {
		l.cfg.Relay(vote)
	}
	return nil
}

// BlockConnected records the payment of the block at height in the
// masternode registry.
func (l *Ledger) BlockConnected(height int64, blockTime int64) {
	_, script, ok := l.BlockPayee(height)
	if !ok {
		return
	}
	l.cfg.Masternodes.UpdateLastPaid(script, height, blockTime)
}

// CleanPaymentList removes votes and tallies for heights that fell out of
// the retention window.
func (l *Ledger) CleanPaymentList() {
	limit := l.retention()
	best := l.cfg.Chain.BestHeight()

	l.mtx.Lock()
	defer l.mtx.Unlock()
	cutoff := best - limit
	for hash, vote := range l.votes {
		if vote.BlockHeight < cutoff {
			log.Tracef("Removing old vote from %v for height %d", vote.Vin,
				vote.BlockHeight)
			delete(l.votes, hash)
		}
	}
	for height := range l.blocks {
		if height < cutoff {
			delete(l.blocks, height)
		}
	}
}

// ProcessWinnersRequest answers a request for recent votes from peer with
// every vote at or above the tip minus the requested count followed by a
// sync count.  On networks that rate limit list requests each peer is
// answered once.
func (l *Ledger) ProcessWinnersRequest(peer masternode.Peer, msg *mnwire.MsgWinnersRequest) error {
	addr := peer.Addr()
	if l.cfg.Params.DsegInterval > 0 {
		l.mtx.Lock()
		if l.fulfilled.Contains(addr) {
			l.mtx.Unlock()
			str := fmt.Sprintf("peer %s already asked for payment votes",
				addr)
			return RuleError{Err: ErrRateLimited, Description: str,
				BanScore: banScoreDump}
		}
		l.fulfilled.Put(addr)
		l.mtx.Unlock()
	}

	from := l.cfg.Chain.BestHeight() - int64(msg.Count)
	l.mtx.RLock()
	replies := make([]*mnwire.MsgPaymentVote, 0, len(l.votes))
	for _, vote := range l.votes {
		if vote.BlockHeight >= from {
			replies = append(replies, vote)
		}
	}
	l.mtx.RUnlock()

	sort.Slice(replies, func(i, j int) bool {
		return replies[i].BlockHeight < replies[j].BlockHeight
	})
	for _, vote := range replies {
		peer.QueueMessage(vote)
	}
	peer.QueueMessage(&mnwire.MsgSyncCount{
		Asset: mnwire.SyncAssetWinners,
		Count: uint32(len(replies)),
	})
	log.Debugf("Sent %d payment votes to peer %s", len(replies), addr)
	return nil
}

// Size returns the number of stored votes.
func (l *Ledger) Size() int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return len(l.votes)
}

// String returns a summary of the ledger.
func (l *Ledger) String() string {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return fmt.Sprintf("Votes: %d, Blocks: %d", len(l.votes), len(l.blocks))
}

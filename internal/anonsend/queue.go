// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anonsend

import (
	"fmt"
	"sync"
	"time"

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
	// banScoreBadSig is charged for queue advertisements and broadcast
	// transactions with invalid masternode signatures.
	banScoreBadSig = 20

	// maxBroadcastTxs bounds the cache of masternode signed mixing
	// transactions.
	maxBroadcastTxs = 5000
)

// NewQueue creates a queue advertisement for the masternode with collateral
// vin signed by its hot key.
func NewQueue(vin wire.OutPoint, denom uint32, ready bool, hotKey *secp256k1.PrivateKey, now time.Time) (*mnwire.MsgQueue, error) {
	dsq := &mnwire.MsgQueue{
		Vin:   vin,
		Denom: denom,
		Time:  now.Unix(),
		Ready: ready,
	}
	sig, err := mnsign.Sign(dsq.SignatureMessage(), hotKey)
	if err != nil {
		return nil, err
	}
	dsq.Sig = sig
	return dsq, nil
}

// CheckQueueSignature verifies dsq was signed by the hot key pubKey.
func CheckQueueSignature(dsq *mnwire.MsgQueue, pubKey []byte) error {
	return mnsign.Verify(dsq.SignatureMessage(), dsq.Sig, pubKey)
}

// IsQueueExpired reports whether dsq is older than the queue timeout.
func IsQueueExpired(dsq *mnwire.MsgQueue, now time.Time) bool {
	return now.Unix()-dsq.Time > int64(QueueTimeout/time.Second)
}

// NewBroadcastTx creates the masternode signed relay of a finished mixing
// transaction.
func NewBroadcastTx(tx *wire.MsgTx, vin wire.OutPoint, hotKey *secp256k1.PrivateKey, now time.Time) (*mnwire.MsgBroadcastTx, error) {
	dstx := &mnwire.MsgBroadcastTx{
		Tx:      *tx,
		Vin:     vin,
		SigTime: now.Unix(),
	}
	sig, err := mnsign.Sign(dstx.SignatureMessage(), hotKey)
	if err != nil {
		return nil, err
	}
	dstx.Sig = sig
	return dstx, nil
}

// QueueConfig is the configuration for the queue advertisement list.
type QueueConfig struct {
	Params      *netparams.Params
	Chain       chainview.Chain
	Masternodes *masternode.Manager

	// Relay broadcasts msg to all connected peers.
	Relay func(msg wire.Message)

	// OnReady is invoked with ready advertisements so the mixing client
	// can submit its entry to the masternode hosting its session.
	OnReady func(dsq *mnwire.MsgQueue, mn *masternode.Masternode)

	// Now returns the current time.  It defaults to time.Now.
	Now func() time.Time
}

// Queues tracks the open queue advertisements of the network and the
// mixing transactions relayed by masternodes.
type Queues struct {
	cfg QueueConfig

	mtx    sync.Mutex
	queues []*mnwire.MsgQueue
	dstxs  *lru.Map[chainhash.Hash, *mnwire.MsgBroadcastTx]
}

// NewQueues returns an empty advertisement list.
func NewQueues(cfg *QueueConfig) *Queues {
	q := &Queues{
		cfg:   *cfg,
		dstxs: lru.NewMap[chainhash.Hash, *mnwire.MsgBroadcastTx](maxBroadcastTxs),
	}
	if q.cfg.Now == nil {
		q.cfg.Now = time.Now
	}
	return q
}

// ProcessQueue validates a queue advertisement received from peer.  Ready
// advertisements are handed to the client; open ones are recorded and
// relayed provided the masternode advertises no more than its fair share.
func (q *Queues) ProcessQueue(peer masternode.Peer, dsq *mnwire.MsgQueue) error {
	now := q.cfg.Now()
	if IsQueueExpired(dsq, now) {
		str := fmt.Sprintf("queue from %v at %d is expired", dsq.Vin,
			dsq.Time)
		return ruleError(ErrQueueExpired, str)
	}
	mn := q.cfg.Masternodes.Find(&dsq.Vin)
	if mn == nil {
		str := fmt.Sprintf("queue from unknown masternode %v", dsq.Vin)
		return ruleError(ErrUnknownMasternode, str)
	}
	if mn.ProtocolVersion < q.cfg.Params.MinProtocolVersion {
		str := fmt.Sprintf("queue from %v running obsolete protocol "+
			"version %d", dsq.Vin, mn.ProtocolVersion)
		return ruleError(ErrObsoleteVersion, str)
	}
	if err := CheckQueueSignature(dsq, mn.HotPubKey); err != nil {
		str := fmt.Sprintf("queue from %v: %v", dsq.Vin, err)
		return bannableError(ErrBadSignature, str, banScoreBadSig)
	}

	if dsq.Ready {
		log.Debugf("Queue of %v at %s is ready", dsq.Vin, mn.Addr)
		if q.cfg.OnReady != nil {
			q.cfg.OnReady(dsq, mn)
		}
		return nil
	}

	// A masternode has at most one live advertisement.  A newer one
	// supersedes it and an expired one is treated as absent.
	q.mtx.Lock()
	replace := -1
	for i, known := range q.queues {
		if known.Vin != dsq.Vin {
			continue
		}
		if !IsQueueExpired(known, now) && dsq.Time <= known.Time {
			q.mtx.Unlock()
			return nil
		}
		replace = i
		break
	}
	minProto := q.cfg.Params.MinProtocolVersion
	if !q.cfg.Masternodes.CanAdvertise(&dsq.Vin, minProto) {
		q.mtx.Unlock()
		str := fmt.Sprintf("masternode %v is sending too many queues",
			dsq.Vin)
		return ruleError(ErrTooManyQueues, str)
	}
	q.cfg.Masternodes.NextDsq()
	q.cfg.Masternodes.MarkAdvertised(&dsq.Vin)
	if replace >= 0 {
		q.queues[replace] = dsq
	} else {
		q.queues = append(q.queues, dsq)
	}
	q.mtx.Unlock()

	log.Debugf("New queue %v from %s", dsq, peerAddr(peer))
	if q.cfg.Relay != nil {
		q.cfg.Relay(dsq)
	}
	return nil
}

// Queues returns the advertisements that have not expired.
func (q *Queues) Queues() []*mnwire.MsgQueue {
	now := q.cfg.Now()
	q.mtx.Lock()
	defer q.mtx.Unlock()
	queues := make([]*mnwire.MsgQueue, 0, len(q.queues))
	for _, dsq := range q.queues {
		if !IsQueueExpired(dsq, now) {
			queues = append(queues, dsq)
		}
	}
	return queues
}

// Clean forgets expired advertisements.
func (q *Queues) Clean() {
	now := q.cfg.Now()
	q.mtx.Lock()
	defer q.mtx.Unlock()
	kept := q.queues[:0]
	for _, dsq := range q.queues {
		if !IsQueueExpired(dsq, now) {
			kept = append(kept, dsq)
		}
	}
	for i := len(kept); i < len(q.queues); i++ {
		q.queues[i] = nil
	}
	q.queues = kept
}

// AddBroadcastTx records a mixing transaction relayed by this node.
func (q *Queues) AddBroadcastTx(dstx *mnwire.MsgBroadcastTx) {
	q.dstxs.Put(dstx.Hash(), dstx)
}

// BroadcastTx returns the relayed mixing transaction with the passed hash.
func (q *Queues) BroadcastTx(hash *chainhash.Hash) (*mnwire.MsgBroadcastTx, bool) {
	return q.dstxs.Get(*hash)
}

// ProcessBroadcastTx validates a masternode signed mixing transaction
// received from peer, submits it to the chain and relays it.
func (q *Queues) ProcessBroadcastTx(peer masternode.Peer, dstx *mnwire.MsgBroadcastTx) error {
	hash := dstx.Hash()
	if q.dstxs.Exists(hash) {
		return nil
	}
	mn := q.cfg.Masternodes.Find(&dstx.Vin)
	if mn == nil {
		str := fmt.Sprintf("mixing transaction %v from unknown "+
			"masternode %v", hash, dstx.Vin)
		return ruleError(ErrUnknownMasternode, str)
	}
	if err := mnsign.Verify(dstx.SignatureMessage(), dstx.Sig,
		mn.HotPubKey); err != nil {
		str := fmt.Sprintf("mixing transaction %v: %v", hash, err)
		return bannableError(ErrBadSignature, str, banScoreBadSig)
	}
	if err := q.cfg.Chain.SendTransaction(&dstx.Tx); err != nil {
		str := fmt.Sprintf("mixing transaction %v: %v", hash, err)
		return ruleError(ErrInvalidTx, str)
	}
	q.dstxs.Put(hash, dstx)

	log.Infof("Got mixing transaction %v from masternode %v", hash,
		dstx.Vin)
	if q.cfg.Relay != nil {
		q.cfg.Relay(dstx)
	}
	return nil
}

// peerAddr returns the address of peer for logging.
func peerAddr(peer masternode.Peer) string {
	if peer == nil {
		return "local"
	}
	return peer.Addr()
}

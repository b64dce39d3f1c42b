// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"fmt"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/math/uint256"
	"github.com/decred/dcrd/wire"
)

const (
	// MinPingSeconds is the minimum time between liveness pings.  A
	// record is only enabled once its latest ping is at least this much
	// newer than its announcement.
	MinPingSeconds = 10 * 60

	// MinBroadcastSeconds is the minimum time between accepted
	// re-announcements of the same masternode.
	MinBroadcastSeconds = 5 * 60

	// ExpirationSeconds is the time without a ping after which a record
	// expires.
	ExpirationSeconds = 65 * 60

	// RemovalSeconds is the time without a ping after which a record is
	// removed.
	RemovalSeconds = 75 * 60

	// CheckSeconds rate limits non-forced state checks.
	CheckSeconds = 5

	// MaxFutureSeconds is how far in the future a signature time may be.
	MaxFutureSeconds = 60 * 60

	// MaxPingAgeSeconds is how far in the past a ping signature time may
	// be.
	MaxPingAgeSeconds = 60 * 60

	// PingAnchorDepth is how many blocks behind the tip a new ping is
	// anchored.
	PingAnchorDepth = 12

	// MaxPingAnchorAge is how far behind the tip an accepted ping anchor
	// may be.
	MaxPingAnchorAge = 24

	// MinRankAgeSeconds is the announcement age a masternode needs before
	// it takes part in ranking.
	MinRankAgeSeconds = 8000

	// ScoreDepth is how many blocks behind a height the block hash used to
	// score masternodes for that height is taken from.
	ScoreDepth = 100
)

// State is the liveness state of a masternode record.
type State int

// These constants define the liveness states of a masternode.
const (
	StatePreEnabled State = iota
	StateEnabled
	StateExpired
	StateOutpointSpent
	StateWatchdogExpired
	StatePoSeBan
	StateRemove
	StateMissing
)

// stateStrings is a map of states back to their constant names for pretty
// printing.
var stateStrings = map[State]string{
	StatePreEnabled:      "PRE_ENABLED",
	StateEnabled:         "ENABLED",
	StateExpired:         "EXPIRED",
	StateOutpointSpent:   "OUTPOINT_SPENT",
	StateWatchdogExpired: "WATCHDOG_EXPIRED",
	StatePoSeBan:         "POSE_BAN",
	StateRemove:          "REMOVE",
	StateMissing:         "MISSING",
}

// String returns the State as a human-readable name.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown State (%d)", int(s))
}

// Masternode is a registry record describing a known masternode.
type Masternode struct {
	Vin              wire.OutPoint
	Addr             string
	CollateralPubKey []byte
	HotPubKey        []byte
	Sig              []byte
	SigTime          int64
	LastPing         *mnwire.MsgMNPing
	ProtocolVersion  uint32
	State            State

	// LastDsq and LastDsee are the queue and legacy announcement counters
	// observed when this masternode last advertised.  They keep a single
	// masternode from dominating queue advertisements.
	LastDsq  int64
	LastDsee int64

	LastPaidHeight int64
	LastPaidTime   int64

	lastChecked int64
}

// newFromBroadcast creates a record from a validated broadcast.
func newFromBroadcast(mnb *mnwire.MsgMNBroadcast) *Masternode {
	mn := &Masternode{
		Vin:              mnb.Vin,
		Addr:             mnb.Addr,
		CollateralPubKey: mnb.CollateralPubKey,
		HotPubKey:        mnb.HotPubKey,
		Sig:              mnb.Sig,
		SigTime:          mnb.SigTime,
		ProtocolVersion:  mnb.ProtocolVersion,
		LastDsq:          mnb.LastDsq,
		State:            StateEnabled,
	}
	if mnb.LastPing.SigTime != 0 {
		ping := mnb.LastPing
		mn.LastPing = &ping
	}
	return mn
}

// Broadcast returns an announcement reproducing the record.
func (mn *Masternode) Broadcast() *mnwire.MsgMNBroadcast {
	mnb := &mnwire.MsgMNBroadcast{
		Vin:              mn.Vin,
		Addr:             mn.Addr,
		CollateralPubKey: mn.CollateralPubKey,
		HotPubKey:        mn.HotPubKey,
		Sig:              mn.Sig,
		SigTime:          mn.SigTime,
		ProtocolVersion:  mn.ProtocolVersion,
		LastDsq:          mn.LastDsq,
	}
	if mn.LastPing != nil {
		mnb.LastPing = *mn.LastPing
	}
	return mnb
}

// IsEnabled reports whether the record is enabled.
func (mn *Masternode) IsEnabled() bool {
	return mn.State == StateEnabled
}

// IsPingedWithin reports whether the last ping is less than seconds old.
func (mn *Masternode) IsPingedWithin(seconds, now int64) bool {
	if mn.LastPing == nil {
		return false
	}
	return now-mn.LastPing.SigTime < seconds
}

// IsBroadcastedWithin reports whether the announcement is less than seconds
// old.
func (mn *Masternode) IsBroadcastedWithin(seconds, now int64) bool {
	return now-mn.SigTime < seconds
}

// Check re-derives the liveness state of the record.  Unless force is set,
// the check is skipped when the previous one was less than CheckSeconds
// ago.  Terminal states are never left.
func (mn *Masternode) Check(now int64, chain chainview.Chain, collateral int64, force bool) {
	if !force && now-mn.lastChecked < CheckSeconds {
		return
	}
	mn.lastChecked = now

	if mn.State == StateOutpointSpent || mn.State == StateRemove {
		return
	}

	switch {
	case !mn.IsPingedWithin(RemovalSeconds, now):
		mn.State = StateRemove

	case !mn.IsPingedWithin(ExpirationSeconds, now):
		mn.State = StateExpired

	case mn.LastPing.SigTime-mn.SigTime < MinPingSeconds:
		mn.State = StatePreEnabled

	default:
		entry, ok := chain.FetchUtxo(&mn.Vin)
		if !ok || entry.Amount != collateral {
			mn.State = StateOutpointSpent
			return
		}
		mn.State = StateEnabled
	}
}

// CalculateScore returns the deterministic score of the masternode against
// the block hash of a historical block.  The score is the distance between
// blake256(blockHash) and blake256(blockHash || aux) where aux is the
// collateral hash plus the collateral output index.
func CalculateScore(vin *wire.OutPoint, blockHash *chainhash.Hash) uint256.Uint256 {
	var auxBytes [32]byte
	var aux uint256.Uint256
	aux.SetBytesLE((*[32]byte)(&vin.Hash))
	aux.AddUint64(uint64(vin.Index))
	aux.PutBytesLE(&auxBytes)

	h2 := chainhash.HashH(blockHash[:])
	buf := make([]byte, 0, 2*chainhash.HashSize)
	buf = append(buf, blockHash[:]...)
	buf = append(buf, auxBytes[:]...)
	h3 := chainhash.HashH(buf)

	var n2, n3, score uint256.Uint256
	n2.SetBytesLE((*[32]byte)(&h2))
	n3.SetBytesLE((*[32]byte)(&h3))
	if n3.Gt(&n2) {
		score.Sub2(&n3, &n2)
	} else {
		score.Sub2(&n2, &n3)
	}
	return score
}

// String returns a short description of the record.
func (mn *Masternode) String() string {
	return fmt.Sprintf("%v (%s, %v)", mn.Vin, mn.Addr, mn.State)
}

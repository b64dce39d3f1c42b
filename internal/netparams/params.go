// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package netparams houses the per-network parameters consumed by the
// masternode, payment and mixing subsystems.
package netparams

import (
	"time"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrutil/v4"
)

// SignedMessageMagic is prefixed to every message before it is hashed and
// signed so signatures are not valid outside of the masternode protocol.
const SignedMessageMagic = "AnonSend Signed Message:\n"

// Params defines a network by its base chain parameters along with the
// masternode and mixing constants that all peers on the network must agree
// on.
type Params struct {
	*chaincfg.Params

	// ProtocolVersion is the current masternode protocol version spoken by
	// this implementation.
	ProtocolVersion uint32

	// MinProtocolVersion is the minimum masternode protocol version that is
	// accepted from remote masternodes.
	MinProtocolVersion uint32

	// MinPaymentProtocolVersion is the minimum protocol version a
	// masternode must run in order to be eligible for payment.
	MinPaymentProtocolVersion uint32

	// LegacyProtocolVersion is the last protocol version that only speaks
	// the legacy dsee/dseep registration messages.
	LegacyProtocolVersion uint32

	// CollateralAmount is the exact amount an output must hold to fund a
	// masternode.
	CollateralAmount dcrutil.Amount

	// CollateralConfirmations is the minimum confirmation depth of the
	// collateral output before a masternode may activate with it.
	CollateralConfirmations int64

	// Denominations are the fixed output bucket sizes used by the mixing
	// protocol ordered from largest to smallest.  Bit i of a denomination
	// bitmask refers to Denominations[i].
	Denominations []dcrutil.Amount

	// CollateralFee is the minimum fee a pledged session collateral
	// transaction must pay.
	CollateralFee dcrutil.Amount

	// PoolMaxTransactions is the number of participants a mixing session
	// collects before it is finalized.
	PoolMaxTransactions int

	// MasternodeRewardPercent is the portion of the block reward owed to the
	// winning masternode.
	MasternodeRewardPercent int64

	// ListCacheMagic and PaymentCacheMagic identify the on disk caches.
	ListCacheMagic    string
	PaymentCacheMagic string

	// DsegInterval is the minimum time between full list requests from the
	// same peer.  Zero disables the limit.
	DsegInterval time.Duration

	// AllowPrivatePeers permits masternodes with non-routable addresses and
	// ports other than the default port.
	AllowPrivatePeers bool
}

// DefaultDenominations are the bucket sizes shared by every network.  Each
// carries a small tail so denominated outputs are distinguishable from
// ordinary round amounts.
var DefaultDenominations = []dcrutil.Amount{
	1000*dcrutil.AtomsPerCoin + 1000000,
	100*dcrutil.AtomsPerCoin + 100000,
	10*dcrutil.AtomsPerCoin + 10000,
	1*dcrutil.AtomsPerCoin + 1000,
	dcrutil.AtomsPerCoin/10 + 100,
}

// MainNetParams returns the parameters for the main network.
func MainNetParams() *Params {
	return &Params{
		Params:                    chaincfg.MainNetParams(),
		ProtocolVersion:           70077,
		MinProtocolVersion:        70066,
		MinPaymentProtocolVersion: 70066,
		LegacyProtocolVersion:     70066,
		CollateralAmount:          1000 * dcrutil.AtomsPerCoin,
		CollateralConfirmations:   15,
		Denominations:             DefaultDenominations,
		CollateralFee:             dcrutil.AtomsPerCoin / 10,
		PoolMaxTransactions:       3,
		MasternodeRewardPercent:   20,
		ListCacheMagic:            "MasternodeCache",
		PaymentCacheMagic:         "MasternodePayments",
		DsegInterval:              3 * time.Hour,
	}
}

// TestNetParams returns the parameters for the test network.
func TestNetParams() *Params {
	p := MainNetParams()
	p.Params = chaincfg.TestNet3Params()
	p.CollateralConfirmations = 6
	return p
}

// SimNetParams returns the parameters for the simulation network.
func SimNetParams() *Params {
	p := MainNetParams()
	p.Params = chaincfg.SimNetParams()
	p.CollateralConfirmations = 1
	p.DsegInterval = 0
	p.AllowPrivatePeers = true
	return p
}

// RegNetParams returns the parameters for the regression test network.
func RegNetParams() *Params {
	p := MainNetParams()
	p.Params = chaincfg.RegNetParams()
	p.CollateralConfirmations = 1
	p.DsegInterval = 0
	p.AllowPrivatePeers = true
	return p
}

// MasternodePayment returns the portion of the passed block value that is
// owed to the masternode paid at the given height.
func (p *Params) MasternodePayment(blockValue int64) int64 {
	return blockValue * p.MasternodeRewardPercent / 100
}

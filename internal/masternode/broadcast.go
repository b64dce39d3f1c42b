// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/mnsign"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

// Misbehavior scores charged for invalid announcements and pings.
const (
	banScoreTimestamp = 1
	banScoreBadKey    = 100
	banScoreBadSig    = 100
	banScoreBadPort   = 100
	banScorePayee     = 33
	banScoreDseg      = 34
)

// NewPing creates and signs a ping for the masternode with the passed
// collateral anchored PingAnchorDepth blocks behind the tip.
func NewPing(vin wire.OutPoint, chain chainview.Chain, hotKey *secp256k1.PrivateKey, sigTime int64) (*mnwire.MsgMNPing, error) {
	anchor, ok := chain.BlockHash(chain.BestHeight() - PingAnchorDepth)
	if !ok {
		return nil, fmt.Errorf("no block %d blocks behind the tip",
			PingAnchorDepth)
	}
	ping := &mnwire.MsgMNPing{
		Vin:       vin,
		BlockHash: anchor,
		SigTime:   sigTime,
	}
	sig, err := mnsign.Sign(ping.SignatureMessage(), hotKey)
	if err != nil {
		return nil, err
	}
	ping.Sig = sig
	return ping, nil
}

// NewBroadcast creates and signs an announcement for a masternode funded by
// vin and controlled by collateralKey, embedding ping.
func NewBroadcast(vin wire.OutPoint, addr string, collateralKey *secp256k1.PrivateKey, hotPubKey []byte, protocolVersion uint32, sigTime int64, ping *mnwire.MsgMNPing) (*mnwire.MsgMNBroadcast, error) {
	mnb := &mnwire.MsgMNBroadcast{
		Vin:              vin,
		Addr:             addr,
		CollateralPubKey: collateralKey.PubKey().SerializeCompressed(),
		HotPubKey:        hotPubKey,
		SigTime:          sigTime,
		ProtocolVersion:  protocolVersion,
		LastPing:         *ping,
	}
	sig, err := mnsign.Sign(mnb.SignatureMessage(), collateralKey)
	if err != nil {
		return nil, err
	}
	mnb.Sig = sig
	return mnb, nil
}

// checkAddr validates a masternode address.  Unless private peers are
// allowed, the address must be routable and use the network default port.
func (m *Manager) checkAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		str := fmt.Sprintf("invalid address %q: %v", addr, err)
		return bannableError(ErrBadAddress, str, banScoreBadPort)
	}
	if m.cfg.Params.AllowPrivatePeers {
		return nil
	}
	if port != m.cfg.Params.DefaultPort {
		str := fmt.Sprintf("address %q does not use port %s", addr,
			m.cfg.Params.DefaultPort)
		return bannableError(ErrBadPort, str, banScoreBadPort)
	}
	if strings.HasSuffix(host, ".onion") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() {

		str := fmt.Sprintf("address %q is not routable", addr)
		return ruleError(ErrBadAddress, str)
	}
	return nil
}

// checkPingTime validates the signature time of a ping.
func checkPingTime(sigTime, now int64) error {
	if sigTime > now+MaxFutureSeconds {
		str := fmt.Sprintf("ping signature time %d is too far in the "+
			"future", sigTime)
		return bannableError(ErrFutureTimestamp, str, banScoreTimestamp)
	}
	if sigTime <= now-MaxPingAgeSeconds {
		str := fmt.Sprintf("ping signature time %d is too old", sigTime)
		return bannableError(ErrStaleTimestamp, str, banScoreTimestamp)
	}
	return nil
}

// announcement is a masternode announcement independent of the wire
// variant that carried it.
type announcement struct {
	vin              wire.OutPoint
	addr             string
	collateralPubKey []byte
	hotPubKey        []byte
	sig              []byte
	sigTime          int64
	protocolVersion  uint32
	ping             *mnwire.MsgMNPing
	lastDsq          int64
	relay            wire.Message
}

// ProcessBroadcast validates a masternode announcement received from peer
// and adds or updates the matching record.  Processing the same
// announcement twice is a no-op.
func (m *Manager) ProcessBroadcast(peer Peer, mnb *mnwire.MsgMNBroadcast) error {
	hash := mnb.Hash()
	m.mtx.Lock()
	if _, ok := m.seenBroadcasts[hash]; ok {
		m.mtx.Unlock()
		m.notifyListItem(hash)
		return nil
	}
	now := m.now().Unix()

	if mnb.SigTime > now+MaxFutureSeconds {
		m.mtx.Unlock()
		str := fmt.Sprintf("announcement for %v has signature time %d too "+
			"far in the future", mnb.Vin, mnb.SigTime)
		return bannableError(ErrFutureTimestamp, str, banScoreTimestamp)
	}
	if err := checkPingTime(mnb.LastPing.SigTime, now); err != nil {
		m.mtx.Unlock()
		return err
	}
	if err := m.checkAnnounceFields(&mnb.Vin, mnb.ProtocolVersion,
		mnb.CollateralPubKey, mnb.HotPubKey, mnb.VinScript); err != nil {
		m.mtx.Unlock()
		return err
	}
	if err := mnsign.Verify(mnb.LastPing.SignatureMessage(), mnb.LastPing.Sig,
		mnb.HotPubKey); err != nil {
		m.mtx.Unlock()
		str := fmt.Sprintf("embedded ping for %v: %v", mnb.Vin, err)
		return bannableError(ErrBadSignature, str, banScoreBadSig)
	}
	if err := m.checkAnchor(&mnb.Vin, &mnb.LastPing.BlockHash); err != nil {
		m.mtx.Unlock()
		return err
	}
	if err := mnsign.Verify(mnb.SignatureMessage(), mnb.Sig,
		mnb.CollateralPubKey); err != nil {
		m.mtx.Unlock()
		str := fmt.Sprintf("announcement for %v: %v", mnb.Vin, err)
		return bannableError(ErrBadSignature, str, banScoreBadSig)
	}
	if err := m.checkAddr(mnb.Addr); err != nil {
		m.mtx.Unlock()
		return err
	}

	ping := mnb.LastPing
	ann := &announcement{
		vin:              mnb.Vin,
		addr:             mnb.Addr,
		collateralPubKey: mnb.CollateralPubKey,
		hotPubKey:        mnb.HotPubKey,
		sig:              mnb.Sig,
		sigTime:          mnb.SigTime,
		protocolVersion:  mnb.ProtocolVersion,
		ping:             &ping,
		lastDsq:          mnb.LastDsq,
		relay:            mnb,
	}
	m.seenBroadcasts[hash] = mnb
	relay, added, err := m.applyAnnouncement(ann, now)
	if err != nil {
		if !errorIsPermanent(err) {
			delete(m.seenBroadcasts, hash)
		}
		m.mtx.Unlock()
		return err
	}
	m.mtx.Unlock()

	m.notifyListItem(hash)
	if added != nil && m.cfg.OnAdded != nil {
		m.cfg.OnAdded(added)
	}
	m.relay(relay)
	return nil
}

// errorIsPermanent reports whether a rejected announcement can never become
// valid, as opposed to collateral that may confirm or appear later.
func errorIsPermanent(err error) bool {
	var e RuleError
	if !errors.As(err, &e) {
		return true
	}
	switch e.Err {
	case ErrCollateralMissing, ErrCollateralTooNew, ErrUnknownBlock:
		return false
	}
	return true
}

// checkAnnounceFields validates the fields shared by both announcement
// variants.
//
// This function MUST be called with the registry lock held.
func (m *Manager) checkAnnounceFields(vin *wire.OutPoint, protocolVersion uint32, collateralPubKey, hotPubKey, vinScript []byte) error {
	if protocolVersion < m.cfg.Params.MinProtocolVersion {
		str := fmt.Sprintf("announcement for %v uses obsolete protocol "+
			"version %d", vin, protocolVersion)
		return ruleError(ErrObsoleteVersion, str)
	}
	if _, _, err := chainview.PubKeyHashScript(collateralPubKey, m.cfg.Params); err != nil {
		str := fmt.Sprintf("announcement for %v has invalid collateral "+
			"key: %v", vin, err)
		return bannableError(ErrBadPubKey, str, banScoreBadKey)
	}
	if _, _, err := chainview.PubKeyHashScript(hotPubKey, m.cfg.Params); err != nil {
		str := fmt.Sprintf("announcement for %v has invalid hot key: %v",
			vin, err)
		return bannableError(ErrBadPubKey, str, banScoreBadKey)
	}
	if len(vinScript) != 0 {
		str := fmt.Sprintf("announcement for %v references a signed input",
			vin)
		return bannableError(ErrSignedInput, str, banScoreBadKey)
	}
	return nil
}

// applyAnnouncement merges a validated announcement into the registry.  It
// returns the messages to relay and the record that was added, if any.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) applyAnnouncement(ann *announcement, now int64) ([]wire.Message, *Masternode, error) {
	mn := m.find(&ann.vin)
	if mn != nil && mn.SigTime >= ann.sigTime {
		str := fmt.Sprintf("announcement for %v at %d is not newer than "+
			"the known one at %d", ann.vin, ann.sigTime, mn.SigTime)
		return nil, nil, ruleError(ErrDuplicate, str)
	}

	if mn != nil {
		if !bytes.Equal(mn.CollateralPubKey, ann.collateralPubKey) ||
			mn.IsBroadcastedWithin(MinBroadcastSeconds, now) {

			return nil, nil, nil
		}
		mn.Addr = ann.addr
		mn.HotPubKey = ann.hotPubKey
		mn.Sig = ann.sig
		mn.SigTime = ann.sigTime
		mn.ProtocolVersion = ann.protocolVersion
		if ann.ping != nil {
			mn.LastPing = ann.ping
		}
		m.check(mn, now, true)
		if !mn.IsEnabled() {
			return nil, nil, nil
		}
		log.Debugf("Updated masternode %v from announcement", mn.Vin)
		return []wire.Message{ann.relay}, nil, nil
	}

	added, err := m.checkInputsAndAdd(ann, now)
	if err != nil {
		return nil, nil, err
	}
	return []wire.Message{ann.relay}, clone(added), nil
}

// checkInputsAndAdd confirms the announced collateral is an unspent output
// of exactly the collateral amount, confirmed deep enough, and payable to
// the announced collateral key, then adds the record.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) checkInputsAndAdd(ann *announcement, now int64) (*Masternode, error) {
	params := m.cfg.Params
	entry, ok := m.cfg.Chain.FetchUtxo(&ann.vin)
	if !ok {
		str := fmt.Sprintf("collateral %v is spent or unknown", ann.vin)
		return nil, ruleError(ErrCollateralMissing, str)
	}
	if entry.Amount != int64(params.CollateralAmount) {
		str := fmt.Sprintf("collateral %v holds %d atoms, expected %d",
			ann.vin, entry.Amount, int64(params.CollateralAmount))
		return nil, ruleError(ErrCollateralAmount, str)
	}
	confs := entry.Confirmations(m.cfg.Chain.BestHeight())
	if confs < params.CollateralConfirmations {
		str := fmt.Sprintf("collateral %v has %d confirmations, %d "+
			"required", ann.vin, confs, params.CollateralConfirmations)
		return nil, ruleError(ErrCollateralTooNew, str)
	}
	_, payee, err := chainview.PubKeyHashScript(ann.collateralPubKey, params)
	if err != nil || !bytes.Equal(payee, entry.PkScript) {
		str := fmt.Sprintf("collateral %v is not paid to the announced "+
			"collateral key", ann.vin)
		return nil, bannableError(ErrCollateralPayee, str, banScorePayee)
	}

	mn := &Masternode{
		Vin:              ann.vin,
		Addr:             ann.addr,
		CollateralPubKey: ann.collateralPubKey,
		HotPubKey:        ann.hotPubKey,
		Sig:              ann.sig,
		SigTime:          ann.sigTime,
		LastPing:         ann.ping,
		ProtocolVersion:  ann.protocolVersion,
		LastDsq:          ann.lastDsq,
		State:            StateEnabled,
	}
	m.add(mn)
	return mn, nil
}

// notifyListItem reports an accepted list item to the sync driver.
func (m *Manager) notifyListItem(hash chainhash.Hash) {
	if m.cfg.OnListItem != nil {
		m.cfg.OnListItem(hash)
	}
}

// ProcessPing validates a liveness ping received from peer and updates the
// matching record.  Pings for unknown masternodes trigger a request for
// that masternode's announcement.
func (m *Manager) ProcessPing(peer Peer, mnp *mnwire.MsgMNPing) error {
	hash := mnp.Hash()
	m.mtx.Lock()
	if _, ok := m.seenPings[hash]; ok {
		m.mtx.Unlock()
		return nil
	}
	now := m.now().Unix()
	if err := checkPingTime(mnp.SigTime, now); err != nil {
		m.mtx.Unlock()
		return err
	}

	verify := func(mn *Masternode) error {
		return mnsign.Verify(mnp.SignatureMessage(), mnp.Sig, mn.HotPubKey)
	}
	relay, err := m.applyPing(&mnp.Vin, mnp, verify, mnp, now)
	if err == nil {
		m.seenPings[hash] = mnp
	}
	m.mtx.Unlock()

	if err != nil {
		var e RuleError
		if peer != nil && errors.As(err, &e) && e.Err == ErrUnknownMasternode {
			m.AskForMN(peer, &mnp.Vin)
		}
		return err
	}
	m.relay(relay)
	return nil
}

// applyPing merges a ping into the record for vin after rate limiting,
// signature and anchor checks.  A nil anchor skips the anchor checks.
//
// This function MUST be called with the registry lock held (for writes).
func (m *Manager) applyPing(vin *wire.OutPoint, ping *mnwire.MsgMNPing, verify func(*Masternode) error, relayMsg wire.Message, now int64) ([]wire.Message, error) {
	mn := m.find(vin)
	if mn == nil {
		str := fmt.Sprintf("ping for unknown masternode %v", vin)
		return nil, ruleError(ErrUnknownMasternode, str)
	}
	if mn.ProtocolVersion < m.cfg.Params.MinProtocolVersion {
		str := fmt.Sprintf("ping for %v which runs obsolete protocol "+
			"version %d", vin, mn.ProtocolVersion)
		return nil, ruleError(ErrObsoleteVersion, str)
	}
	if mn.IsPingedWithin(MinPingSeconds-60, ping.SigTime) {
		str := fmt.Sprintf("ping for %v arrived too soon after the "+
			"previous one", vin)
		return nil, ruleError(ErrTooFrequent, str)
	}
	if err := verify(mn); err != nil {
		str := fmt.Sprintf("ping for %v: %v", vin, err)
		return nil, bannableError(ErrBadSignature, str, banScoreBadSig)
	}
	if ping.BlockHash != (chainhash.Hash{}) {
		if err := m.checkAnchor(vin, &ping.BlockHash); err != nil {
			return nil, err
		}
	}

	mn.LastPing = ping
	if mnb, ok := m.seenBroadcasts[m.broadcastHash(mn)]; ok {
		mnb.LastPing = *ping
	}
	m.check(mn, now, true)
	if !mn.IsEnabled() {
		return nil, nil
	}
	return []wire.Message{relayMsg}, nil
}

// checkAnchor ensures the block a ping is anchored to is known and recent.
//
// This function MUST be called with the registry lock held (for reads).
func (m *Manager) checkAnchor(vin *wire.OutPoint, anchor *chainhash.Hash) error {
	height, ok := m.cfg.Chain.BlockHeight(anchor)
	if !ok {
		str := fmt.Sprintf("ping for %v anchored to unknown block %v", vin,
			anchor)
		return ruleError(ErrUnknownBlock, str)
	}
	if m.cfg.Chain.BestHeight()-height > MaxPingAnchorAge {
		str := fmt.Sprintf("ping for %v anchored to block %d which is too "+
			"old", vin, height)
		return ruleError(ErrStaleBlock, str)
	}
	return nil
}

// broadcastHash returns the hash of the announcement that created mn.
func (m *Manager) broadcastHash(mn *Masternode) chainhash.Hash {
	mnb := mnwire.MsgMNBroadcast{SigTime: mn.SigTime,
		CollateralPubKey: mn.CollateralPubKey}
	return mnb.Hash()
}

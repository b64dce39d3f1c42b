// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"errors"
	"fmt"

	"github.com/anonsend/anond/internal/mnsign"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
)

// NewLegacyAnnounce creates and signs a legacy registration message.
func NewLegacyAnnounce(vin wire.OutPoint, addr string, collateralKey *secp256k1.PrivateKey, hotPubKey []byte, protocolVersion uint32, sigTime int64) (*mnwire.MsgLegacyAnnounce, error) {
	msg := &mnwire.MsgLegacyAnnounce{
		Vin:              vin,
		Addr:             addr,
		SigTime:          sigTime,
		CollateralPubKey: collateralKey.PubKey().SerializeCompressed(),
		HotPubKey:        hotPubKey,
		Count:            -1,
		Current:          -1,
		LastUpdated:      sigTime,
		ProtocolVersion:  protocolVersion,
	}
	sig, err := mnsign.Sign(msg.SignatureMessage(), collateralKey)
	if err != nil {
		return nil, err
	}
	msg.Sig = sig
	return msg, nil
}

// NewLegacyPing creates and signs a legacy liveness ping.
func NewLegacyPing(vin wire.OutPoint, hotKey *secp256k1.PrivateKey, sigTime int64, stop bool) (*mnwire.MsgLegacyPing, error) {
	msg := &mnwire.MsgLegacyPing{
		Vin:     vin,
		SigTime: sigTime,
		Stop:    stop,
	}
	sig, err := mnsign.Sign(msg.SignatureMessage(), hotKey)
	if err != nil {
		return nil, err
	}
	msg.Sig = sig
	return msg, nil
}

// ProcessLegacyAnnounce validates a legacy registration and applies it
// through the same record update path as modern announcements.
func (m *Manager) ProcessLegacyAnnounce(peer Peer, msg *mnwire.MsgLegacyAnnounce) error {
	if msg.ProtocolVersion > m.cfg.Params.LegacyProtocolVersion {
		str := fmt.Sprintf("legacy announcement for %v claims protocol "+
			"version %d", msg.Vin, msg.ProtocolVersion)
		return ruleError(ErrObsoleteVersion, str)
	}

	m.mtx.Lock()
	now := m.now().Unix()
	if msg.SigTime > now+MaxFutureSeconds {
		m.mtx.Unlock()
		str := fmt.Sprintf("legacy announcement for %v has signature time "+
			"%d too far in the future", msg.Vin, msg.SigTime)
		return bannableError(ErrFutureTimestamp, str, banScoreTimestamp)
	}
	if err := m.checkAnnounceFields(&msg.Vin, msg.ProtocolVersion,
		msg.CollateralPubKey, msg.HotPubKey, nil); err != nil {
		m.mtx.Unlock()
		return err
	}
	if err := mnsign.Verify(msg.SignatureMessage(), msg.Sig,
		msg.CollateralPubKey); err != nil {
		m.mtx.Unlock()
		str := fmt.Sprintf("legacy announcement for %v: %v", msg.Vin, err)
		return bannableError(ErrBadSignature, str, banScoreBadSig)
	}
	if err := m.checkAddr(msg.Addr); err != nil {
		m.mtx.Unlock()
		return err
	}

	ann := &announcement{
		vin:              msg.Vin,
		addr:             msg.Addr,
		collateralPubKey: msg.CollateralPubKey,
		hotPubKey:        msg.HotPubKey,
		sig:              msg.Sig,
		sigTime:          msg.SigTime,
		protocolVersion:  msg.ProtocolVersion,
		ping:             &mnwire.MsgMNPing{Vin: msg.Vin, SigTime: msg.LastUpdated},
		relay:            msg,
	}
	relay, added, err := m.applyAnnouncement(ann, now)
	if added != nil {
		m.dseeCount++
		m.find(&added.Vin).LastDsee = m.dseeCount
	}
	m.mtx.Unlock()
	if err != nil {
		return err
	}

	if added != nil && m.cfg.OnAdded != nil {
		m.cfg.OnAdded(added)
	}
	m.relay(relay)
	return nil
}

// ProcessLegacyPing validates a legacy liveness ping and applies it through
// the same record update path as modern pings.  A stop ping marks the
// masternode for removal.
func (m *Manager) ProcessLegacyPing(peer Peer, msg *mnwire.MsgLegacyPing) error {
	m.mtx.Lock()
	now := m.now().Unix()
	if err := checkPingTime(msg.SigTime, now); err != nil {
		m.mtx.Unlock()
		return err
	}

	verify := func(mn *Masternode) error {
		return mnsign.Verify(msg.SignatureMessage(), msg.Sig, mn.HotPubKey)
	}
	var stopped bool
	ping := &mnwire.MsgMNPing{Vin: msg.Vin, SigTime: msg.SigTime}
	relay, err := m.applyPing(&msg.Vin, ping, verify, msg, now)
	if err == nil && msg.Stop {
		if mn := m.find(&msg.Vin); mn != nil {
			mn.State = StateRemove
			stopped = true
		}
		relay = []wire.Message{msg}
	}
	m.mtx.Unlock()

	if err != nil {
		var e RuleError
		if peer != nil && errors.As(err, &e) && e.Err == ErrUnknownMasternode {
			m.AskForMN(peer, &msg.Vin)
		}
		return err
	}
	if stopped {
		log.Infof("Masternode %v announced shutdown", msg.Vin)
	}
	m.relay(relay)
	return nil
}

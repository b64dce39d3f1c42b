// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"fmt"
	"net"

	"github.com/anonsend/anond/internal/mnwire"
	"github.com/decred/dcrd/wire"
)

// isLocalAddr reports whether addr refers to the local host.  Local peers
// are exempt from list request rate limiting.
func isLocalAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ProcessListRequest answers a list request from peer.  A full list request
// is answered with the announcement and ping of every enabled masternode
// followed by a sync count, and may only be repeated once per list request
// interval.  A request for a single collateral is answered with that entry
// alone.
func (m *Manager) ProcessListRequest(peer Peer, msg *mnwire.MsgListRequest) error {
	addr := peer.Addr()
	interval := int64(m.cfg.Params.DsegInterval.Seconds())

	m.mtx.Lock()
	now := m.now().Unix()
	if msg.Full() && interval > 0 && !isLocalAddr(addr) {
		if until, ok := m.askedUsForList[addr]; ok && now < until {
			m.mtx.Unlock()
			str := fmt.Sprintf("peer %s already asked for the masternode "+
				"list", addr)
			return bannableError(ErrRateLimited, str, banScoreDseg)
		}
		m.askedUsForList[addr] = now + interval
	}

	var replies []wire.Message
	for _, mn := range m.masternodes {
		if !msg.Full() && mn.Vin != msg.Vin {
			continue
		}
		m.check(mn, now, false)
		if !mn.IsEnabled() {
			continue
		}
		if !m.cfg.Params.AllowPrivatePeers && m.checkAddr(mn.Addr) != nil {
			continue
		}
		replies = append(replies, mn.Broadcast())
		if mn.LastPing != nil {
			ping := *mn.LastPing
			replies = append(replies, &ping)
		}
		if !msg.Full() {
			log.Debugf("Sent masternode %v to peer %s", mn.Vin, addr)
			break
		}
	}
	m.mtx.Unlock()

	for _, reply := range replies {
		peer.QueueMessage(reply)
	}
	if msg.Full() {
		var count uint32
		for _, reply := range replies {
			if _, ok := reply.(*mnwire.MsgMNBroadcast); ok {
				count++
			}
		}
		peer.QueueMessage(&mnwire.MsgSyncCount{
			Asset: mnwire.SyncAssetList,
			Count: count,
		})
		log.Debugf("Sent %d masternode entries to peer %s", count, addr)
	}
	return nil
}

// DsegUpdate asks peer for its full masternode list unless it was already
// asked within the list request interval.  It reports whether a request was
// sent.
func (m *Manager) DsegUpdate(peer Peer) bool {
	addr := peer.Addr()
	interval := int64(m.cfg.Params.DsegInterval.Seconds())

	m.mtx.Lock()
	now := m.now().Unix()
	if interval > 0 && !isLocalAddr(addr) {
		if until, ok := m.weAskedForList[addr]; ok && now < until {
			m.mtx.Unlock()
			log.Debugf("Already asked %s for the masternode list", addr)
			return false
		}
	}
	m.weAskedForList[addr] = now + interval
	m.mtx.Unlock()

	peer.QueueMessage(&mnwire.MsgListRequest{})
	return true
}

// AskForMN requests the announcement for vin from peer, at most once per
// minimum ping interval for each collateral.
func (m *Manager) AskForMN(peer Peer, vin *wire.OutPoint) {
	m.mtx.Lock()
	now := m.now().Unix()
	if until, ok := m.weAskedForEntry[*vin]; ok && now < until {
		m.mtx.Unlock()
		return
	}
	m.weAskedForEntry[*vin] = now + MinPingSeconds
	m.mtx.Unlock()

	log.Debugf("Asking %s for missing masternode %v", peer.Addr(), vin)
	peer.QueueMessage(&mnwire.MsgListRequest{Vin: *vin})
}

// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anonsend/anond/internal/mnwire"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/connmgr/v3"
	"github.com/decred/dcrd/container/apbf"
	"github.com/decred/dcrd/wire"
	"lukechampine.com/blake3"
)

const (
	// outputBufferSize is the number of elements the output channels use.
	outputBufferSize = 50

	// idleTimeout is the duration of inactivity before a peer is
	// disconnected.
	idleTimeout = 5 * time.Minute

	// writeTimeout bounds the time spent writing a single message.
	writeTimeout = 30 * time.Second

	// negotiateTimeout is the duration of inactivity before the version
	// handshake times out.
	negotiateTimeout = 30 * time.Second

	// maxKnownInventory is the maximum number of items to keep in the known
	// inventory filter of each peer.
	maxKnownInventory = 1000

	// knownInventoryFPRate is the false positive rate of the known
	// inventory filter.
	knownInventoryFPRate = 0.0001

	// banScoreMalformed is applied to peers sending undecodable messages.
	banScoreMalformed = 10
)

// hashedMessage is a message that carries its own identity hash.
type hashedMessage interface {
	Hash() chainhash.Hash
}

// messageKey returns the identity of msg used for relay deduplication.
// Messages without a hash of their own are identified by the blake3 digest
// of their command and payload.
func messageKey(msg wire.Message, pver uint32) chainhash.Hash {
	if hm, ok := msg.(hashedMessage); ok {
		return hm.Hash()
	}
	var buf bytes.Buffer
	buf.WriteString(msg.Command())
	if err := msg.BtcEncode(&buf, pver); err != nil {
		srvrLog.Errorf("Unable to encode %s message: %v", msg.Command(), err)
	}
	return chainhash.Hash(blake3.Sum256(buf.Bytes()))
}

// serverPeer is a connected remote node speaking the masternode protocol.
// It implements the masternode.Peer and banmanager.Peer interfaces.
type serverPeer struct {
	server  *server
	conn    net.Conn
	connReq *connmgr.ConnReq
	addr    string
	inbound bool

	protocolVersion atomic.Uint32
	versionKnown    atomic.Bool
	verAckReceived  atomic.Bool
	disconnected    atomic.Bool

	knownMtx       sync.Mutex
	knownInventory *apbf.Filter

	sendQueue chan wire.Message
	quit      chan struct{}
}

// newServerPeer returns a peer for conn.  The connection request is nil for
// inbound peers.
func newServerPeer(s *server, conn net.Conn, connReq *connmgr.ConnReq, inbound bool) *serverPeer {
	sp := &serverPeer{
		server:         s,
		conn:           conn,
		connReq:        connReq,
		addr:           conn.RemoteAddr().String(),
		inbound:        inbound,
		knownInventory: apbf.NewFilter(maxKnownInventory, knownInventoryFPRate),
		sendQueue:      make(chan wire.Message, outputBufferSize),
		quit:           make(chan struct{}),
	}
	if connReq != nil {
		sp.addr = connReq.Addr.String()
	}
	sp.protocolVersion.Store(s.params.ProtocolVersion)
	return sp
}

// String returns the peer address and direction.
func (sp *serverPeer) String() string {
	return fmt.Sprintf("%s (%s)", sp.addr, directionString(sp.inbound))
}

// Addr returns the peer address.
//
// This is part of the masternode.Peer interface implementation.
func (sp *serverPeer) Addr() string {
	return sp.addr
}

// Inbound returns whether the peer connected to us.
//
// This is part of the banmanager.Peer interface implementation.
func (sp *serverPeer) Inbound() bool {
	return sp.inbound
}

// ProtocolVersion returns the negotiated protocol version.
func (sp *serverPeer) ProtocolVersion() uint32 {
	return sp.protocolVersion.Load()
}

// handshakeDone returns whether the version handshake completed.
func (sp *serverPeer) handshakeDone() bool {
	return sp.versionKnown.Load() && sp.verAckReceived.Load()
}

// QueueMessage queues msg to be sent to the peer.  Messages queued after
// the peer disconnected are dropped.
//
// This is part of the masternode.Peer interface implementation.
func (sp *serverPeer) QueueMessage(msg wire.Message) {
	select {
	case sp.sendQueue <- msg:
	case <-sp.quit:
	}
}

// Disconnect closes the connection.  It is safe to call more than once.
//
// This is part of the banmanager.Peer interface implementation.
func (sp *serverPeer) Disconnect() {
	if !sp.disconnected.CompareAndSwap(false, true) {
		return
	}
	peerLog.Tracef("Disconnecting %s", sp)
	close(sp.quit)
	sp.conn.Close()
}

// addKnown marks the message with key as known by the peer.
func (sp *serverPeer) addKnown(key *chainhash.Hash) {
	sp.knownMtx.Lock()
	sp.knownInventory.Add(key[:])
	sp.knownMtx.Unlock()
}

// isKnown returns whether the message with key is known by the peer.
func (sp *serverPeer) isKnown(key *chainhash.Hash) bool {
	sp.knownMtx.Lock()
	known := sp.knownInventory.Contains(key[:])
	sp.knownMtx.Unlock()
	return known
}

// pushVersion queues the local version message.
func (sp *serverPeer) pushVersion() {
	s := sp.server
	sp.QueueMessage(&mnwire.MsgVersion{
		ProtocolVersion: s.params.ProtocolVersion,
		Addr:            s.cfg.MasternodeAddr,
		Nonce:           s.nonce,
		LastBlock:       s.chain.BestHeight(),
	})
}

// handleVersion negotiates the protocol version with the remote peer.  It
// returns false when the peer must be disconnected.
func (sp *serverPeer) handleVersion(msg *mnwire.MsgVersion) bool {
	s := sp.server
	if sp.versionKnown.Load() {
		s.banManager.AddBanScore(sp, 1, 0, "duplicate version message")
		return true
	}
	if msg.Nonce == s.nonce {
		peerLog.Debugf("Disconnecting peer connected to self %s", sp)
		return false
	}
	if msg.ProtocolVersion < s.params.MinProtocolVersion {
		peerLog.Debugf("Peer %s uses obsolete protocol version %d", sp,
			msg.ProtocolVersion)
		return false
	}

	pver := s.params.ProtocolVersion
	if msg.ProtocolVersion < pver {
		pver = msg.ProtocolVersion
	}
	sp.protocolVersion.Store(pver)
	sp.versionKnown.Store(true)
	peerLog.Debugf("Negotiated protocol version %d with %s", pver, sp)

	// Inbound peers learn our version in reply to theirs.
	if sp.inbound {
		sp.pushVersion()
	}
	sp.QueueMessage(&mnwire.MsgVerAck{})
	return true
}

// readHandler reads and dispatches messages until the peer disconnects.
func (sp *serverPeer) readHandler() {
	s := sp.server
	timeout := negotiateTimeout
	for {
		sp.conn.SetReadDeadline(time.Now().Add(timeout))
		_, msg, err := mnwire.ReadMessage(sp.conn, sp.ProtocolVersion(),
			s.params.Net)
		if err != nil {
			// The payload of unknown commands is drained so the stream
			// remains usable.
			if errors.Is(err, mnwire.ErrUnknownCmd) {
				peerLog.Tracef("Ignoring message from %s: %v", sp, err)
				continue
			}
			var merr mnwire.MessageError
			if errors.As(err, &merr) {
				reason := fmt.Sprintf("malformed message: %v", err)
				s.banManager.AddBanScore(sp, banScoreMalformed, 0, reason)
			}
			if !errors.Is(err, io.EOF) && !sp.disconnected.Load() {
				peerLog.Debugf("Unable to read message from %s: %v", sp, err)
			}
			break
		}

		switch m := msg.(type) {
		case *mnwire.MsgVersion:
			if !sp.handleVersion(m) {
				sp.Disconnect()
				return
			}
			continue

		case *mnwire.MsgVerAck:
			if !sp.versionKnown.Load() || sp.verAckReceived.Load() {
				peerLog.Debugf("Unexpected verack from %s", sp)
				sp.Disconnect()
				return
			}
			sp.verAckReceived.Store(true)
			timeout = idleTimeout
			s.peerHandshaked(sp)
			continue
		}

		if !sp.handshakeDone() {
			peerLog.Debugf("Peer %s sent %s before the version handshake",
				sp, msg.Command())
			break
		}
		key := messageKey(msg, sp.ProtocolVersion())
		sp.addKnown(&key)
		s.handleMessage(sp, msg)
	}
	sp.Disconnect()
}

// writeHandler writes queued messages to the connection until the peer
// disconnects.  It must be run as a goroutine.
func (sp *serverPeer) writeHandler() {
	currencyNet := sp.server.params.Net
	for {
		select {
		case msg := <-sp.sendQueue:
			sp.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := mnwire.WriteMessage(sp.conn, msg, sp.ProtocolVersion(),
				currencyNet)
			if err != nil {
				if !sp.disconnected.Load() {
					peerLog.Debugf("Unable to write %s message to %s: %v",
						msg.Command(), sp, err)
				}
				sp.Disconnect()
				return
			}
			peerLog.Tracef("Sent %s to %s", msg.Command(), sp)

		case <-sp.quit:
			return
		}
	}
}

// run registers the peer, performs the version handshake and processes
// messages until the peer disconnects.
func (sp *serverPeer) run() {
	s := sp.server
	if err := s.banManager.AddPeer(sp); err != nil {
		peerLog.Debugf("Rejecting %s: %v", sp, err)
		s.peerDone(sp)
		return
	}
	peerLog.Debugf("Connected to %s", sp)

	go sp.writeHandler()
	if !sp.inbound {
		sp.pushVersion()
	}
	sp.readHandler()
	s.peerDone(sp)
}

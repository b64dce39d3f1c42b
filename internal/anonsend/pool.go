// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anonsend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/crypto/rand"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/wire"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// QueueTimeout is how long a session may wait for participants and
	// entries, and how long queue advertisements and entries live.
	QueueTimeout = 30 * time.Second

	// SigningTimeout is how long a session waits for signatures.
	SigningTimeout = 15 * time.Second

	// SettleDelay is how long the error and success states are kept
	// before returning to idle.
	SettleDelay = 10 * time.Second

	// TimeoutInterval is the interval between timeout checks when running
	// with Run.
	TimeoutInterval = time.Second

	// maxSessionID bounds random session identifiers.
	maxSessionID = 999999
)

// State is the state of a mixing session.
type State uint32

// These constants define the states of a mixing session.  The values are
// carried in status updates.
const (
	StateUnknown State = iota
	StateIdle
	StateQueue
	StateAcceptingEntries
	StateFinalizeTransaction
	StateSigning
	StateTransmission
	StateError
	StateSuccess
)

// stateStrings is a map of states back to their constant names for pretty
// printing.
var stateStrings = map[State]string{
	StateUnknown:             "UNKNOWN",
	StateIdle:                "IDLE",
	StateQueue:               "QUEUE",
	StateAcceptingEntries:    "ACCEPTING_ENTRIES",
	StateFinalizeTransaction: "FINALIZE_TRANSACTION",
	StateSigning:             "SIGNING",
	StateTransmission:        "TRANSMISSION",
	StateError:               "ERROR",
	StateSuccess:             "SUCCESS",
}

// String returns the State as a human-readable name.
func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return fmt.Sprintf("Unknown State (%d)", uint32(s))
}

// Randomizer supplies the random decisions of a session.  Tests replace it
// to make fee charging and shuffles deterministic.
type Randomizer interface {
	// IntN returns a uniform random value in [0, n).
	IntN(n int) int

	// Shuffle randomizes the order of n elements using swap.
	Shuffle(n int, swap func(i, j int))
}

// cryptoRandomizer draws from the process wide cryptographic generator.
type cryptoRandomizer struct{}

func (cryptoRandomizer) IntN(n int) int                     { return rand.IntN(n) }
func (cryptoRandomizer) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// DefaultRandomizer is the cryptographically secure Randomizer.
var DefaultRandomizer Randomizer = cryptoRandomizer{}

// Config is the configuration for the masternode side of mixing.
type Config struct {
	Params      *netparams.Params
	Chain       chainview.Chain
	Masternodes *masternode.Manager
	Queues      *Queues

	// LocalVin returns the collateral of the local masternode and whether
	// it is started.
	LocalVin func() (wire.OutPoint, bool)

	// HotKey signs queue advertisements and mixing transactions.
	HotKey *secp256k1.PrivateKey

	// Relay broadcasts msg to all connected peers.
	Relay func(msg wire.Message)

	// Randomizer defaults to DefaultRandomizer.
	Randomizer Randomizer

	// Ticker drives Run.  It defaults to a ticker firing every
	// TimeoutInterval.
	Ticker ticker.Ticker

	// Now returns the current time.  It defaults to time.Now.
	Now func() time.Time
}

// Pool is the mixing session hosted by the local masternode.  One session
// is active at a time.
type Pool struct {
	cfg Config

	mtx          sync.Mutex
	state        State
	sessionID    uint32
	sessionDenom uint32
	sessionUsers int
	participants []masternode.Peer
	collaterals  []*wire.MsgTx
	entries      []*Entry
	finalTx      *wire.MsgTx
	lastChange   time.Time
}

// NewPool returns an idle session.
func NewPool(cfg *Config) *Pool {
	p := &Pool{cfg: *cfg}
	if p.cfg.Randomizer == nil {
		p.cfg.Randomizer = DefaultRandomizer
	}
	if p.cfg.Now == nil {
		p.cfg.Now = time.Now
	}
	if p.cfg.Ticker == nil {
		p.cfg.Ticker = ticker.New(TimeoutInterval)
	}
	p.reset()
	return p
}

// State returns the session state.
func (p *Pool) State() State {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.state
}

// SessionID returns the current session id or zero.
func (p *Pool) SessionID() uint32 {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.sessionID
}

// EntryCount returns the number of accepted entries.
func (p *Pool) EntryCount() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.entries)
}

// setState moves the session to state.
//
// This function MUST be called with the pool lock held.
func (p *Pool) setState(state State) {
	if p.state != state {
		log.Debugf("Session %d moved from %v to %v", p.sessionID, p.state,
			state)
	}
	p.state = state
	p.lastChange = p.cfg.Now()
}

// reset discards the session and returns to idle.
//
// This function MUST be called with the pool lock held.
func (p *Pool) reset() {
	p.sessionID = 0
	p.sessionDenom = 0
	p.sessionUsers = 0
	p.participants = nil
	p.collaterals = nil
	p.entries = nil
	p.finalTx = nil
	p.setState(StateIdle)
}

// statusUpdate returns a status update describing the session.
//
// This function MUST be called with the pool lock held.
func (p *Pool) statusUpdate(err error) *mnwire.MsgStatusUpdate {
	msg := &mnwire.MsgStatusUpdate{
		SessionID:  p.sessionID,
		State:      uint32(p.state),
		EntryCount: uint32(len(p.entries)),
		Accepted:   err == nil,
	}
	if err != nil {
		msg.Error = description(err)
	}
	return msg
}

// notify queues msg to every participant of the session.
//
// This function MUST be called with the pool lock held.
func (p *Pool) notify(msg wire.Message) {
	for _, peer := range p.participants {
		peer.QueueMessage(msg)
	}
}

// relay broadcasts msg to all peers.
func (p *Pool) relay(msg wire.Message) {
	if p.cfg.Relay != nil {
		p.cfg.Relay(msg)
	}
}

// localVin returns the collateral of the started local masternode.
func (p *Pool) localVin() (wire.OutPoint, error) {
	if p.cfg.LocalVin != nil {
		if vin, ok := p.cfg.LocalVin(); ok {
			return vin, nil
		}
	}
	return wire.OutPoint{}, ruleError(ErrNotMasternode,
		"not a started masternode")
}

// ProcessJoinRequest handles a request from peer to join the session and
// replies with the resulting status.
func (p *Pool) ProcessJoinRequest(peer masternode.Peer, msg *mnwire.MsgJoinRequest) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	err := p.checkJoin(peer, msg)
	peer.QueueMessage(p.statusUpdate(err))
	if err != nil {
		log.Debugf("Rejected join request from %s: %v", peer.Addr(), err)
		return err
	}
	p.checkForCompleteQueue()
	return nil
}

// checkJoin admits peer into the session when the request is compatible.
//
// This function MUST be called with the pool lock held.
func (p *Pool) checkJoin(peer masternode.Peer, msg *mnwire.MsgJoinRequest) error {
	vin, err := p.localVin()
	if err != nil {
		return err
	}
	if p.sessionUsers == 0 {
		minProto := p.cfg.Params.MinProtocolVersion
		if p.cfg.Masternodes.Find(&vin) == nil {
			return ruleError(ErrNotMasternode,
				"local masternode is not in the masternode list")
		}
		if !p.cfg.Masternodes.CanAdvertise(&vin, minProto) {
			return ruleError(ErrRecentQueue, "last queue was too recent, "+
				"must wait")
		}
	}
	return p.isCompatibleWithSession(peer, vin, msg.Denom, &msg.Collateral)
}

// isCompatibleWithSession validates a join request and, when it is the first
// one, opens a new session for its denomination.
//
// This function MUST be called with the pool lock held.
func (p *Pool) isCompatibleWithSession(peer masternode.Peer, vin wire.OutPoint, denom uint32, collateral *wire.MsgTx) error {
	if !IsValidDenom(p.cfg.Params, denom) {
		str := fmt.Sprintf("invalid denomination %d", denom)
		return ruleError(ErrInvalidDenom, str)
	}
	if err := CheckCollateral(p.cfg.Chain, p.cfg.Params, collateral); err != nil {
		return err
	}

	if p.sessionUsers == 0 {
		dsq, err := NewQueue(vin, denom, false, p.cfg.HotKey, p.cfg.Now())
		if err != nil {
			return err
		}
		p.sessionID = uint32(p.cfg.Randomizer.IntN(maxSessionID)) + 1
		p.sessionDenom = denom
		p.sessionUsers = 1
		p.participants = append(p.participants, peer)
		p.collaterals = append(p.collaterals, collateral)
		p.setState(StateQueue)

		p.cfg.Masternodes.NextDsq()
		p.cfg.Masternodes.MarkAdvertised(&vin)
		p.relay(dsq)
		log.Infof("Opened session %d for %s", p.sessionID,
			DenomString(p.cfg.Params, denom))
		return nil
	}

	if (p.state != StateAcceptingEntries && p.state != StateQueue) ||
		p.sessionUsers >= p.cfg.Params.PoolMaxTransactions {

		str := fmt.Sprintf("session in state %v with %d users can not "+
			"accept participants", p.state, p.sessionUsers)
		return ruleError(ErrIncompatibleMode, str)
	}
	if denom != p.sessionDenom {
		str := fmt.Sprintf("denomination %d does not match session "+
			"denomination %d", denom, p.sessionDenom)
		return ruleError(ErrDenomMismatch, str)
	}

	p.sessionUsers++
	p.participants = append(p.participants, peer)
	p.collaterals = append(p.collaterals, collateral)
	p.lastChange = p.cfg.Now()
	return nil
}

// checkForCompleteQueue starts accepting entries once the session has all
// its participants.
//
// This function MUST be called with the pool lock held.
func (p *Pool) checkForCompleteQueue() {
	if p.state != StateQueue ||
		p.sessionUsers != p.cfg.Params.PoolMaxTransactions {

		return
	}
	p.setState(StateAcceptingEntries)
	vin, err := p.localVin()
	if err != nil {
		return
	}
	dsq, err := NewQueue(vin, p.sessionDenom, true, p.cfg.HotKey,
		p.cfg.Now())
	if err != nil {
		log.Errorf("Unable to sign ready queue: %v", err)
		return
	}
	p.relay(dsq)
	p.notify(dsq)
}

// ProcessSubmitEntry handles the inputs and outputs a participant submits
// and replies with the resulting status.
func (p *Pool) ProcessSubmitEntry(peer masternode.Peer, msg *mnwire.MsgSubmitEntry) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	err := p.checkEntry(peer, msg)
	peer.QueueMessage(p.statusUpdate(err))
	if err != nil {
		log.Debugf("Rejected entry from %s: %v", peer.Addr(), err)
		return err
	}
	p.check()
	return nil
}

// checkEntry validates a submitted entry and adds it to the session.
//
// This function MUST be called with the pool lock held.
func (p *Pool) checkEntry(peer masternode.Peer, msg *mnwire.MsgSubmitEntry) error {
	if _, err := p.localVin(); err != nil {
		return err
	}
	if len(p.entries) >= p.cfg.Params.PoolMaxTransactions {
		return ruleError(ErrPoolFull, "entries are full")
	}
	if p.state != StateAcceptingEntries {
		str := fmt.Sprintf("session in state %v does not accept entries",
			p.state)
		return ruleError(ErrIncompatibleMode, str)
	}
	if GetDenominations(p.cfg.Params, msg.Outputs) != p.sessionDenom {
		return ruleError(ErrDenomMismatch, "not compatible with existing "+
			"transactions")
	}

	var valueOut int64
	for i, out := range msg.Outputs {
		if !isStandardPayment(out) {
			str := fmt.Sprintf("output %d pays to a non-standard script", i)
			return ruleError(ErrNonStandardScript, str)
		}
		valueOut += out.Value
	}

	inputs := make([]entryInput, 0, len(msg.Inputs))
	var valueIn int64
	for _, in := range msg.Inputs {
		op := in.PreviousOutPoint
		if op == (wire.OutPoint{}) || msg.Amount < 0 {
			return ruleError(ErrInvalidInput, "input not valid")
		}
		entry, ok := p.cfg.Chain.FetchUtxo(&op)
		if !ok {
			str := fmt.Sprintf("input %v is missing or spent", op)
			return ruleError(ErrInvalidInput, str)
		}
		valueIn += entry.Amount
		inputs = append(inputs, entryInput{
			outPoint:    op,
			valueIn:     entry.Amount,
			prevVersion: entry.Version,
			prevScript:  entry.PkScript,
		})
	}
	if len(inputs) == 0 || len(msg.Outputs) == 0 {
		return ruleError(ErrInvalidInput, "entry has no inputs or outputs")
	}
	if valueOut > valueIn || valueIn-valueOut > valueIn/100 {
		str := fmt.Sprintf("entry spends %d to pay %d", valueIn, valueOut)
		return ruleError(ErrFeesTooHigh, str)
	}

	collateral := msg.Collateral
	return p.addEntry(newEntry(peer, inputs, msg.Amount, &collateral,
		msg.Outputs, p.cfg.Now()))
}

// addEntry appends entry after checking its collateral and that none of its
// inputs is claimed by another entry.
//
// This function MUST be called with the pool lock held.
func (p *Pool) addEntry(entry *Entry) error {
	if err := CheckCollateral(p.cfg.Chain, p.cfg.Params,
		entry.collateral); err != nil {
		return err
	}
	if len(p.entries) >= p.cfg.Params.PoolMaxTransactions {
		return ruleError(ErrPoolFull, "entries are full")
	}
	for _, in := range entry.inputs {
		for _, e := range p.entries {
			if e.hasInput(&in.outPoint) {
				str := fmt.Sprintf("already have that input %v",
					in.outPoint)
				return ruleError(ErrDuplicateInput, str)
			}
		}
	}
	p.entries = append(p.entries, entry)
	log.Debugf("Session %d accepted entry %d with %d inputs", p.sessionID,
		len(p.entries), len(entry.inputs))
	return nil
}

// check advances the session once all entries or all signatures are in.
//
// This function MUST be called with the pool lock held.
func (p *Pool) check() {
	if p.state == StateAcceptingEntries &&
		len(p.entries) >= p.cfg.Params.PoolMaxTransactions {

		p.createFinalTransaction()
	}
	if p.state == StateSigning && p.signaturesComplete() {
		p.setState(StateTransmission)
		p.commitFinalTransaction()
	}
}

// createFinalTransaction joins all entries into one transaction with
// independently shuffled inputs and outputs and asks the participants to
// sign it.
//
// This function MUST be called with the pool lock held.
func (p *Pool) createFinalTransaction() {
	p.setState(StateFinalizeTransaction)

	tx := wire.NewMsgTx()
	for _, e := range p.entries {
		for _, out := range e.outputs {
			tx.AddTxOut(&wire.TxOut{
				Value:    out.Value,
				Version:  out.Version,
				PkScript: out.PkScript,
			})
		}
		for i := range e.inputs {
			in := &e.inputs[i]
			op := in.outPoint
			tx.AddTxIn(wire.NewTxIn(&op, in.valueIn, nil))
		}
	}
	rnd := p.cfg.Randomizer
	rnd.Shuffle(len(tx.TxIn), func(i, j int) {
		tx.TxIn[i], tx.TxIn[j] = tx.TxIn[j], tx.TxIn[i]
	})
	rnd.Shuffle(len(tx.TxOut), func(i, j int) {
		tx.TxOut[i], tx.TxOut[j] = tx.TxOut[j], tx.TxOut[i]
	})
	p.finalTx = tx

	log.Infof("Session %d finalized transaction %v with %d inputs",
		p.sessionID, tx.TxHash(), len(tx.TxIn))
	p.setState(StateSigning)
	p.notify(&mnwire.MsgFinalTx{SessionID: p.sessionID, Tx: *tx.Copy()})
}

// signaturesComplete reports whether every input of every entry is signed.
//
// This function MUST be called with the pool lock held.
func (p *Pool) signaturesComplete() bool {
	for _, e := range p.entries {
		if !e.isSigned() {
			return false
		}
	}
	return true
}

// ProcessSignatures applies the signatures a participant returns for its
// inputs of the final transaction.
func (p *Pool) ProcessSignatures(peer masternode.Peer, msg *mnwire.MsgSignatures) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.state != StateSigning {
		str := fmt.Sprintf("session in state %v is not collecting "+
			"signatures", p.state)
		return ruleError(ErrIncompatibleMode, str)
	}

	var applied int
	var firstErr error
	for _, in := range msg.Inputs {
		if err := p.addScriptSig(in); err != nil {
			log.Debugf("Rejected signature from %s: %v", peer.Addr(), err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied++
	}
	if applied == 0 && firstErr != nil {
		return firstErr
	}
	p.notify(p.statusUpdate(nil))
	p.check()
	return nil
}

// addScriptSig sets the signature script of the final transaction input
// spending the same output as in after verifying it against the output
// recorded when the entry was accepted.
//
// This function MUST be called with the pool lock held.
func (p *Pool) addScriptSig(in *wire.TxIn) error {
	op := in.PreviousOutPoint
	var entry *Entry
	k := -1
	for _, e := range p.entries {
		if k = e.inputIndex(&op); k >= 0 {
			entry = e
			break
		}
	}
	if entry == nil {
		str := fmt.Sprintf("signature for unknown input %v", op)
		return ruleError(ErrInvalidInput, str)
	}
	if entry.hasSignature(k, in.SignatureScript) {
		str := fmt.Sprintf("signature for %v already applied", op)
		return ruleError(ErrDuplicateSignature, str)
	}

	tx := p.finalTx
	for idx, txIn := range tx.TxIn {
		if txIn.PreviousOutPoint != op {
			continue
		}
		prev := txIn.SignatureScript
		txIn.SignatureScript = in.SignatureScript
		tracked := &entry.inputs[k]
		err := chainview.VerifyInputScript(tx, idx, tracked.prevVersion,
			tracked.prevScript)
		if err != nil {
			txIn.SignatureScript = prev
			str := fmt.Sprintf("invalid signature for %v: %v", op, err)
			return ruleError(ErrBadSignature, str)
		}
		entry.setSignature(k, in.SignatureScript)
		return nil
	}
	str := fmt.Sprintf("input %v is not part of the final transaction", op)
	return ruleError(ErrInvalidInput, str)
}

// commitFinalTransaction submits the signed final transaction.  A rejected
// transaction clears the session and keeps accepting entries.  An accepted
// one is relayed with the masternode signature and the session returns to
// idle.
//
// This function MUST be called with the pool lock held.
func (p *Pool) commitFinalTransaction() {
	tx := p.finalTx
	hash := tx.TxHash()
	sessionID := p.sessionID

	if err := p.cfg.Chain.SendTransaction(tx); err != nil {
		log.Warnf("Session %d transaction %v not valid: %v", sessionID,
			hash, err)
		p.notify(&mnwire.MsgCompletion{
			SessionID: sessionID,
			Error:     true,
			Message:   "Transaction not valid, please try again",
		})
		p.reset()
		p.setState(StateAcceptingEntries)
		return
	}

	if vin, err := p.localVin(); err == nil {
		dstx, err := NewBroadcastTx(tx, vin, p.cfg.HotKey, p.cfg.Now())
		if err != nil {
			log.Errorf("Unable to sign mixing transaction %v: %v", hash,
				err)
		} else {
			if p.cfg.Queues != nil {
				p.cfg.Queues.AddBroadcastTx(dstx)
			}
			p.relay(dstx)
		}
	}

	log.Infof("Session %d transmitted transaction %v", sessionID, hash)
	p.notify(&mnwire.MsgCompletion{
		SessionID: sessionID,
		Message:   "Transaction created successfully",
	})
	p.chargeRandomFees()
	p.reset()
}

// hasEntryFor reports whether some entry pledged collateral.
//
// This function MUST be called with the pool lock held.
func (p *Pool) hasEntryFor(collateral *wire.MsgTx) bool {
	hash := collateral.TxHash()
	for _, e := range p.entries {
		if e.collateral.TxHash() == hash {
			return true
		}
	}
	return false
}

// chargeCollateral submits a pledged collateral transaction as a fee.
//
// This function MUST be called with the pool lock held.
func (p *Pool) chargeCollateral(collateral *wire.MsgTx, reason string) {
	log.Infof("Charging collateral %v: %s", collateral.TxHash(), reason)
	if err := p.cfg.Chain.SendTransaction(collateral); err != nil {
		log.Warnf("Unable to submit collateral %v: %v",
			collateral.TxHash(), err)
		return
	}
	p.relay(collateral)
}

// ChargeFees charges one uncooperative participant of the session.  While
// accepting entries a participant that joined without submitting an entry
// offends.  While signing every unsigned input offends.  Only about a third
// of the calls charge anything, and none are charged when most of the
// session offended.
func (p *Pool) ChargeFees() {
	p.mtx.Lock()
	p.chargeFees()
	p.mtx.Unlock()
}

// chargeFees is the lock-held variant of ChargeFees.
//
// This function MUST be called with the pool lock held.
func (p *Pool) chargeFees() {
	if _, err := p.localVin(); err != nil {
		return
	}
	rnd := p.cfg.Randomizer
	if rnd.IntN(100) > 33 {
		return
	}

	var offences int
	switch p.state {
	case StateAcceptingEntries:
		for _, c := range p.collaterals {
			if !p.hasEntryFor(c) {
				offences++
			}
		}
	case StateSigning:
		for _, e := range p.entries {
			offences += e.unsigned()
		}
	}

	poolMax := p.cfg.Params.PoolMaxTransactions
	r := rnd.IntN(100)
	if offences >= poolMax-1 && r > 33 {
		return
	}
	if offences >= poolMax {
		return
	}
	var target int
	if offences > 1 {
		target = 50
	}

	r = rnd.IntN(100)
	if r <= target {
		return
	}
	switch p.state {
	case StateAcceptingEntries:
		for _, c := range p.collaterals {
			if !p.hasEntryFor(c) {
				p.chargeCollateral(c, "did not submit an entry")
				return
			}
		}
	case StateSigning:
		for _, e := range p.entries {
			if !e.isSigned() {
				p.chargeCollateral(e.collateral, "did not sign")
				return
			}
		}
	}
}

// chargeRandomFees submits each pledged collateral with a ten percent
// chance.
//
// This function MUST be called with the pool lock held.
func (p *Pool) chargeRandomFees() {
	for _, c := range p.collaterals {
		if p.cfg.Randomizer.IntN(100) <= 10 {
			p.chargeCollateral(c, "random fee")
		}
	}
}

// CheckTimeout expires stale entries and resets sessions that waited too
// long for participants, entries or signatures.
func (p *Pool) CheckTimeout() {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	now := p.cfg.Now()
	elapsed := now.Sub(p.lastChange)
	switch p.state {
	case StateIdle:
		return

	case StateQueue, StateAcceptingEntries:
		kept := p.entries[:0]
		for _, e := range p.entries {
			if e.IsExpired(now) {
				log.Debugf("Session %d expired an entry", p.sessionID)
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) != len(p.entries) {
			for i := len(kept); i < len(p.entries); i++ {
				p.entries[i] = nil
			}
			p.entries = kept
			if len(p.entries) == 0 {
				p.notify(p.statusUpdate(ruleError(ErrIncompatibleMode,
					"session reset")))
				p.reset()
				return
			}
			p.notify(p.statusUpdate(nil))
		}
		if elapsed >= QueueTimeout {
			log.Debugf("Session %d timed out waiting for entries",
				p.sessionID)
			p.chargeFees()
			p.reset()
		}

	case StateSigning:
		if elapsed >= SigningTimeout {
			log.Debugf("Session %d timed out waiting for signatures",
				p.sessionID)
			p.chargeFees()
			p.notify(&mnwire.MsgCompletion{
				SessionID: p.sessionID,
				Error:     true,
				Message:   "Signing timed out",
			})
			p.reset()
			p.setState(StateError)
		}

	case StateError, StateSuccess:
		if elapsed >= SettleDelay {
			p.reset()
		}

	default:
		if elapsed >= QueueTimeout {
			p.reset()
			p.setState(StateError)
		}
	}
}

// Run checks session timeouts every tick until ctx is done.
func (p *Pool) Run(ctx context.Context) {
	t := p.cfg.Ticker
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			p.CheckTimeout()
			if p.cfg.Queues != nil {
				p.cfg.Queues.Clean()
			}
		case <-ctx.Done():
			return
		}
	}
}

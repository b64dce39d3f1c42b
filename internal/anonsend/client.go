// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package anonsend

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/anonsend/anond/internal/chainview"
	"github.com/anonsend/anond/internal/masternode"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/anonsend/anond/internal/netparams"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/dcrd/wire"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// clientLag is the extra time a client waits beyond the masternode
	// timeouts before giving up on a session.
	clientLag = 10 * time.Second

	// minAttemptDelay and attemptJitter bound the randomized delay between
	// automatic mixing attempts.
	minAttemptDelay = 10 * time.Second
	attemptJitter   = 20

	// maxDenomOutputs bounds the outputs of each amount created when
	// splitting funds into denominations.
	maxDenomOutputs = 10
)

// ClientConfig is the configuration for the wallet side of mixing.
type ClientConfig struct {
	Params      *netparams.Params
	Chain       chainview.Chain
	Wallet      chainview.Wallet
	Masternodes *masternode.Manager
	Queues      *Queues

	// Send delivers msg to the masternode listening on addr, connecting
	// to it when necessary.
	Send func(addr string, msg wire.Message) error

	// Synced reports whether the masternode list is synced.  Mixing does
	// not start before it is.
	Synced func() bool

	// Rounds is the number of mixing rounds a coin passes through before
	// it counts as anonymized.
	Rounds int

	// AnonymizeAmount is the amount to keep anonymized.
	AnonymizeAmount dcrutil.Amount

	// LiquidityProvider keeps the client from opening new sessions.  It
	// still joins sessions advertised by masternodes.
	LiquidityProvider bool

	Randomizer Randomizer

	// Ticker drives Run.  It defaults to a ticker firing every
	// TimeoutInterval.
	Ticker ticker.Ticker

	Now func() time.Time
}

// Client mixes the funds of the operating wallet.  It tracks a single
// outgoing session at a time.
type Client struct {
	cfg ClientConfig

	mtx         sync.Mutex
	state       State
	sessionID   uint32
	entryCount  uint32
	lastMessage string
	lastChange  time.Time
	nextAttempt time.Time

	mn         *masternode.Masternode
	tried      []wire.OutPoint
	denom      uint32
	coins      []chainview.Coin
	outputs    []*wire.TxOut
	collateral *wire.MsgTx
	locked     []wire.OutPoint
	submitted  bool
	finalTx    *wire.MsgTx

	// rounds records the mixing rounds completed by outputs this client
	// received from sessions.
	rounds map[wire.OutPoint]int
}

// NewClient returns an idle client.
func NewClient(cfg *ClientConfig) *Client {
	c := &Client{
		cfg:    *cfg,
		state:  StateIdle,
		rounds: make(map[wire.OutPoint]int),
	}
	if c.cfg.Randomizer == nil {
		c.cfg.Randomizer = DefaultRandomizer
	}
	if c.cfg.Now == nil {
		c.cfg.Now = time.Now
	}
	if c.cfg.Ticker == nil {
		c.cfg.Ticker = ticker.New(TimeoutInterval)
	}
	if c.cfg.Rounds <= 0 {
		c.cfg.Rounds = 1
	}
	c.lastChange = c.cfg.Now()
	return c
}

// OnReady is the QueueConfig.OnReady hook.  It submits the entry of the
// session hosted by mn once its queue is ready.
func (c *Client) OnReady(dsq *mnwire.MsgQueue, mn *masternode.Masternode) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.mn == nil || c.mn.Vin != dsq.Vin || c.submitted {
		return
	}
	if c.state != StateQueue && c.state != StateAcceptingEntries {
		return
	}
	if err := c.submitDenominate(); err != nil {
		log.Warnf("Unable to submit entry to %s: %v", c.mn.Addr, err)
		c.fail(fmt.Sprintf("Unable to submit entry: %v", err))
	}
}

// State returns the state of the outgoing session.
func (c *Client) State() State {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

// SessionID returns the id of the outgoing session or zero.
func (c *Client) SessionID() uint32 {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.sessionID
}

// StatusString returns a human-readable description of the client.
func (c *Client) StatusString() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	switch c.state {
	case StateIdle:
		if c.lastMessage != "" {
			return "AnonSend is idle: " + c.lastMessage
		}
		return "AnonSend is idle."
	case StateQueue:
		return "Submitted to masternode, waiting in queue"
	case StateAcceptingEntries:
		if c.submitted {
			return fmt.Sprintf("Submitted to masternode, waiting for "+
				"more entries (%d/%d)", c.entryCount,
				c.cfg.Params.PoolMaxTransactions)
		}
		return "Your request was accepted into the pool"
	case StateFinalizeTransaction, StateSigning:
		return "Found enough users, signing ..."
	case StateTransmission:
		return "Transmitting final transaction."
	case StateError:
		return "AnonSend request incomplete: " + c.lastMessage
	case StateSuccess:
		return "AnonSend request complete: " + c.lastMessage
	}
	return "Unknown state: " + c.state.String()
}

// Progress returns the anonymized balance and the configured target.
func (c *Client) Progress() (anonymized, target dcrutil.Amount) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return dcrutil.Amount(c.anonymized()), c.cfg.AnonymizeAmount
}

// anonymized returns the wallet balance held in denominated outputs that
// completed the configured number of rounds.
//
// This function MUST be called with the client lock held.
func (c *Client) anonymized() int64 {
	var total int64
	for _, coin := range c.cfg.Wallet.UnspentOutputs() {
		if c.rounds[coin.OutPoint] >= c.cfg.Rounds {
			total += coin.Amount
		}
	}
	return total
}

// setState moves the outgoing session to state.
//
// This function MUST be called with the client lock held.
func (c *Client) setState(state State) {
	if c.state != state {
		log.Debugf("Mixing session moved from %v to %v", c.state, state)
	}
	c.state = state
	c.lastChange = c.cfg.Now()
}

// unlockCoins releases every output locked for the session.
//
// This function MUST be called with the client lock held.
func (c *Client) unlockCoins() {
	for _, op := range c.locked {
		c.cfg.Wallet.UnlockOutpoint(op)
	}
	c.locked = nil
}

// clear forgets the outgoing session and unlocks its outputs.
//
// This function MUST be called with the client lock held.
func (c *Client) clear() {
	c.unlockCoins()
	c.sessionID = 0
	c.entryCount = 0
	c.mn = nil
	c.denom = 0
	c.coins = nil
	c.outputs = nil
	c.collateral = nil
	c.submitted = false
	c.finalTx = nil
}

// fail abandons the outgoing session with reason.
//
// This function MUST be called with the client lock held.
func (c *Client) fail(reason string) {
	c.lastMessage = reason
	c.clear()
	c.setState(StateError)
}

// fromSessionMasternode reports whether peer is the masternode hosting the
// outgoing session.
//
// This function MUST be called with the client lock held.
func (c *Client) fromSessionMasternode(peer masternode.Peer) bool {
	return c.mn != nil && peer != nil && peer.Addr() == c.mn.Addr
}

// mixableCoins returns the confirmed denominated outputs that have not
// completed all rounds, largest first.
//
// This function MUST be called with the client lock held.
func (c *Client) mixableCoins() []chainview.Coin {
	var coins []chainview.Coin
	for _, coin := range c.cfg.Wallet.UnspentOutputs() {
		if coin.Confirmations < 1 {
			continue
		}
		if !IsDenominatedAmount(c.cfg.Params, coin.Amount) {
			continue
		}
		if c.rounds[coin.OutPoint] >= c.cfg.Rounds {
			continue
		}
		coins = append(coins, coin)
	}
	sort.Slice(coins, func(i, j int) bool {
		return coins[i].Amount > coins[j].Amount
	})
	return coins
}

// selectCoins returns the coins whose amounts are selected by denom.  It
// returns nil unless every selected amount is covered.
func selectCoins(params *netparams.Params, coins []chainview.Coin, denom uint32) []chainview.Coin {
	var selected []chainview.Coin
	var covered uint32
	for _, coin := range coins {
		bit := denominationBit(params, coin.Amount)
		if bit < 0 || denom&(1<<uint(bit)) == 0 {
			continue
		}
		if len(selected) >= mnwire.MaxEntryIO {
			break
		}
		selected = append(selected, coin)
		covered |= 1 << uint(bit)
	}
	if covered != denom {
		return nil
	}
	return selected
}

// DoAutomaticDenominating starts a new session when the client is idle and
// the wallet holds funds left to anonymize.  Queues advertised by
// masternodes are preferred.  Otherwise a random masternode not tried yet
// is asked to open a session unless the client is a liquidity provider.
func (c *Client) DoAutomaticDenominating() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.state != StateIdle {
		return nil
	}
	if c.cfg.Synced != nil && !c.cfg.Synced() {
		c.lastMessage = "Can't mix while sync in progress."
		return nil
	}
	if c.cfg.Wallet == nil || c.cfg.Wallet.IsLocked() {
		c.lastMessage = "Wallet is locked."
		return nil
	}
	params := c.cfg.Params
	minProto := params.MinProtocolVersion
	if c.cfg.Masternodes.CountEnabled(minProto) == 0 {
		c.lastMessage = "No masternodes detected."
		return nil
	}
	if c.anonymized() >= int64(c.cfg.AnonymizeAmount) {
		c.lastMessage = "Mixing target reached."
		return nil
	}

	coins := c.mixableCoins()
	if len(coins) == 0 {
		if err := c.createDenominated(); err != nil {
			c.lastMessage = "No compatible inputs found."
			return err
		}
		c.lastMessage = "Creating denominated outputs."
		return nil
	}

	var queues []*mnwire.MsgQueue
	if c.cfg.Queues != nil {
		queues = c.cfg.Queues.Queues()
	}
	for _, dsq := range queues {
		if c.isTried(&dsq.Vin) || !IsValidDenom(params, dsq.Denom) {
			continue
		}
		mn := c.cfg.Masternodes.Find(&dsq.Vin)
		if mn == nil || mn.ProtocolVersion < minProto {
			continue
		}
		selected := selectCoins(params, coins, dsq.Denom)
		if selected == nil {
			continue
		}
		log.Debugf("Joining queue %v", dsq)
		return c.join(mn, dsq.Denom, selected)
	}

	if c.cfg.LiquidityProvider {
		c.lastMessage = "Waiting for a queue to join."
		return nil
	}

	mn := c.cfg.Masternodes.FindRandomNotInVec(c.tried, minProto)
	if mn == nil {
		c.tried = nil
		c.lastMessage = "Can't find random Masternode."
		return nil
	}
	bit := denominationBit(params, coins[c.cfg.Randomizer.IntN(len(coins))].Amount)
	denom := uint32(1) << uint(bit)
	return c.join(mn, denom, selectCoins(params, coins, denom))
}

// isTried reports whether the masternode with collateral vin was already
// tried this round.
//
// This function MUST be called with the client lock held.
func (c *Client) isTried(vin *wire.OutPoint) bool {
	for i := range c.tried {
		if c.tried[i] == *vin {
			return true
		}
	}
	return false
}

// join asks mn to admit the client into a session for denom with the
// passed coins.
//
// This function MUST be called with the client lock held.
func (c *Client) join(mn *masternode.Masternode, denom uint32, coins []chainview.Coin) (err error) {
	c.tried = append(c.tried, mn.Vin)

	collateral, collateralIn, err := c.createCollateral()
	if err != nil {
		c.lastMessage = "Collateral not found."
		return err
	}

	for _, coin := range coins {
		c.cfg.Wallet.LockOutpoint(coin.OutPoint)
		c.locked = append(c.locked, coin.OutPoint)
	}
	c.cfg.Wallet.LockOutpoint(collateralIn)
	c.locked = append(c.locked, collateralIn)
	defer func() {
		if err != nil {
			c.clear()
		}
	}()

	msg := &mnwire.MsgJoinRequest{Denom: denom, Collateral: *collateral}
	if err := c.cfg.Send(mn.Addr, msg); err != nil {
		c.lastMessage = "Unable to connect to masternode " + mn.Addr
		return err
	}

	c.mn = mn
	c.denom = denom
	c.coins = coins
	c.collateral = collateral
	c.lastMessage = ""
	c.setState(StateQueue)
	log.Infof("Asked masternode %s to mix %s", mn.Addr,
		DenomString(c.cfg.Params, denom))
	return nil
}

// createCollateral signs a transaction paying the smallest suitable
// non-denominated output back to the wallet less the collateral fee.  The
// transaction is only submitted when the masternode charges it.
//
// This function MUST be called with the client lock held.
func (c *Client) createCollateral() (*wire.MsgTx, wire.OutPoint, error) {
	params := c.cfg.Params
	fee := int64(params.CollateralFee)
	var best *chainview.Coin
	for _, coin := range c.cfg.Wallet.UnspentOutputs() {
		coin := coin
		if coin.Confirmations < 1 || coin.Amount <= fee {
			continue
		}
		if IsDenominatedAmount(params, coin.Amount) {
			continue
		}
		if best == nil || coin.Amount < best.Amount {
			best = &coin
		}
	}
	if best == nil {
		return nil, wire.OutPoint{}, ruleError(ErrInvalidCollateral,
			"no output can fund the collateral")
	}

	version, script, err := c.cfg.Wallet.NewAddressScript()
	if err != nil {
		return nil, wire.OutPoint{}, err
	}
	tx := wire.NewMsgTx()
	op := best.OutPoint
	tx.AddTxIn(wire.NewTxIn(&op, best.Amount, nil))
	tx.AddTxOut(&wire.TxOut{
		Value:    best.Amount - fee,
		Version:  version,
		PkScript: script,
	})
	if err := c.signInput(tx, 0, best.PkScript); err != nil {
		return nil, wire.OutPoint{}, err
	}
	return tx, op, nil
}

// createDenominated splits the largest non-denominated output into
// denominations and submits the transaction.  Change large enough to fund
// future collaterals returns to the wallet.
//
// This function MUST be called with the client lock held.
func (c *Client) createDenominated() error {
	params := c.cfg.Params
	fee := int64(params.CollateralFee)
	var best *chainview.Coin
	for _, coin := range c.cfg.Wallet.UnspentOutputs() {
		coin := coin
		if coin.Confirmations < 1 || IsDenominatedAmount(params, coin.Amount) {
			continue
		}
		if best == nil || coin.Amount > best.Amount {
			best = &coin
		}
	}
	smallest := int64(params.Denominations[len(params.Denominations)-1])
	if best == nil || best.Amount < smallest+3*fee {
		return ruleError(ErrInvalidInput, "no funds left to denominate")
	}

	// Keep enough change to pay the collateral of a few sessions.
	budget := best.Amount - 3*fee
	tx := wire.NewMsgTx()
	op := best.OutPoint
	tx.AddTxIn(wire.NewTxIn(&op, best.Amount, nil))
	for _, d := range params.Denominations {
		for n := 0; n < maxDenomOutputs && budget >= int64(d); n++ {
			version, script, err := c.cfg.Wallet.NewAddressScript()
			if err != nil {
				return err
			}
			tx.AddTxOut(&wire.TxOut{
				Value:    int64(d),
				Version:  version,
				PkScript: script,
			})
			budget -= int64(d)
		}
	}
	change := budget + 2*fee
	version, script, err := c.cfg.Wallet.NewAddressScript()
	if err != nil {
		return err
	}
	tx.AddTxOut(&wire.TxOut{Value: change, Version: version, PkScript: script})
	if err := c.signInput(tx, 0, best.PkScript); err != nil {
		return err
	}
	if err := c.cfg.Chain.SendTransaction(tx); err != nil {
		return err
	}
	log.Infof("Created %d denominated outputs in %v", len(tx.TxOut)-1,
		tx.TxHash())
	return nil
}

// signInput signs input idx of tx with the wallet key controlling
// prevScript.
func (c *Client) signInput(tx *wire.MsgTx, idx int, prevScript []byte) error {
	key, err := c.cfg.Wallet.PrivateKey(prevScript)
	if err != nil {
		return err
	}
	return chainview.SignInput(tx, idx, prevScript, key)
}

// submitDenominate sends the entry of the client to the session
// masternode.  Every input is paired with an output of equal value paying
// to a fresh wallet address.
//
// This function MUST be called with the client lock held.
func (c *Client) submitDenominate() error {
	msg := &mnwire.MsgSubmitEntry{Collateral: *c.collateral}
	outputs := make([]*wire.TxOut, 0, len(c.coins))
	for _, coin := range c.coins {
		op := coin.OutPoint
		msg.Inputs = append(msg.Inputs, wire.NewTxIn(&op, coin.Amount, nil))
		msg.Amount += coin.Amount

		version, script, err := c.cfg.Wallet.NewAddressScript()
		if err != nil {
			return err
		}
		outputs = append(outputs, &wire.TxOut{
			Value:    coin.Amount,
			Version:  version,
			PkScript: script,
		})
	}
	msg.Outputs = outputs
	if err := c.cfg.Send(c.mn.Addr, msg); err != nil {
		return err
	}
	c.outputs = outputs
	c.submitted = true
	c.lastChange = c.cfg.Now()
	return nil
}

// ProcessStatusUpdate handles a status update from the session masternode.
// Updates from other peers are ignored.
func (c *Client) ProcessStatusUpdate(peer masternode.Peer, msg *mnwire.MsgStatusUpdate) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.fromSessionMasternode(peer) || c.state == StateIdle {
		return nil
	}
	if !msg.Accepted {
		log.Infof("Masternode %s rejected the session: %s", c.mn.Addr,
			msg.Error)
		c.fail("Rejected: " + msg.Error)
		return nil
	}

	if c.sessionID == 0 {
		c.sessionID = msg.SessionID
	} else if msg.SessionID != c.sessionID {
		str := fmt.Sprintf("status of session %d does not match session "+
			"%d", msg.SessionID, c.sessionID)
		return ruleError(ErrSessionMismatch, str)
	}
	c.entryCount = msg.EntryCount
	c.lastChange = c.cfg.Now()

	switch state := State(msg.State); state {
	case StateQueue:
		c.setState(StateQueue)
	case StateAcceptingEntries:
		c.setState(StateAcceptingEntries)
		if !c.submitted {
			if err := c.submitDenominate(); err != nil {
				c.fail(fmt.Sprintf("Unable to submit entry: %v", err))
				return err
			}
		}
	}
	return nil
}

// verifyFinalTx checks that tx spends every input of the client and pays
// every output of the client unmodified.
//
// This function MUST be called with the client lock held.
func (c *Client) verifyFinalTx(tx *wire.MsgTx) ([]int, error) {
	used := make([]bool, len(tx.TxOut))
	var paid, expected int64
	for _, out := range c.outputs {
		expected += out.Value
		for i, txOut := range tx.TxOut {
			if used[i] || txOut.Value != out.Value ||
				txOut.Version != out.Version ||
				string(txOut.PkScript) != string(out.PkScript) {

				continue
			}
			used[i] = true
			paid += txOut.Value
			break
		}
	}
	if paid != expected {
		str := fmt.Sprintf("final transaction pays %d of the %d owed",
			paid, expected)
		return nil, ruleError(ErrInvalidTx, str)
	}

	idxs := make([]int, 0, len(c.coins))
	for _, coin := range c.coins {
		idx := -1
		for i, txIn := range tx.TxIn {
			if txIn.PreviousOutPoint == coin.OutPoint {
				idx = i
				break
			}
		}
		if idx < 0 {
			str := fmt.Sprintf("final transaction does not spend %v",
				coin.OutPoint)
			return nil, ruleError(ErrInvalidTx, str)
		}
		idxs = append(idxs, idx)
	}
	return idxs, nil
}

// ProcessFinalTx verifies the joint transaction sent by the session
// masternode and returns signatures for the inputs of the client.  A
// transaction that does not pay the client in full is not signed.
func (c *Client) ProcessFinalTx(peer masternode.Peer, msg *mnwire.MsgFinalTx) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.fromSessionMasternode(peer) || !c.submitted {
		return nil
	}
	if c.sessionID != 0 && msg.SessionID != c.sessionID {
		str := fmt.Sprintf("final transaction of session %d does not "+
			"match session %d", msg.SessionID, c.sessionID)
		return ruleError(ErrSessionMismatch, str)
	}

	tx := msg.Tx.Copy()
	idxs, err := c.verifyFinalTx(tx)
	if err != nil {
		log.Warnf("Refusing to sign final transaction from %s: %v",
			c.mn.Addr, err)
		c.fail("Masternode sent an invalid transaction.")
		return err
	}

	sigs := &mnwire.MsgSignatures{Inputs: make([]*wire.TxIn, 0, len(idxs))}
	for k, idx := range idxs {
		if err := c.signInput(tx, idx, c.coins[k].PkScript); err != nil {
			c.fail(fmt.Sprintf("Unable to sign: %v", err))
			return err
		}
		in := *tx.TxIn[idx]
		sigs.Inputs = append(sigs.Inputs, &in)
	}
	if err := c.cfg.Send(c.mn.Addr, sigs); err != nil {
		c.fail("Unable to send signatures.")
		return err
	}
	c.finalTx = tx
	c.setState(StateSigning)
	return nil
}

// ProcessCompletion finishes the outgoing session.  A successful session
// credits the outputs of the client with one more round.
func (c *Client) ProcessCompletion(peer masternode.Peer, msg *mnwire.MsgCompletion) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if !c.fromSessionMasternode(peer) {
		return nil
	}
	if c.sessionID != 0 && msg.SessionID != c.sessionID {
		str := fmt.Sprintf("completion of session %d does not match "+
			"session %d", msg.SessionID, c.sessionID)
		return ruleError(ErrSessionMismatch, str)
	}
	if msg.Error {
		log.Infof("Session %d failed: %s", msg.SessionID, msg.Message)
		c.fail(msg.Message)
		return nil
	}
	if c.finalTx == nil {
		return nil
	}

	round := c.cfg.Rounds
	for _, coin := range c.coins {
		if r := c.rounds[coin.OutPoint]; r < round {
			round = r
		}
		delete(c.rounds, coin.OutPoint)
	}
	hash := c.finalTx.TxHash()
	for i, txOut := range c.finalTx.TxOut {
		for _, out := range c.outputs {
			if txOut.Value == out.Value &&
				string(txOut.PkScript) == string(out.PkScript) {

				op := wire.OutPoint{Hash: hash, Index: uint32(i)}
				c.rounds[op] = round + 1
				break
			}
		}
	}
	log.Infof("Session %d mixed %v in %v", msg.SessionID,
		dcrutil.Amount(sumOutputs(c.outputs)), hash)

	c.tried = nil
	c.lastMessage = msg.Message
	c.clear()
	c.setState(StateSuccess)
	return nil
}

// sumOutputs returns the total value of outputs.
func sumOutputs(outputs []*wire.TxOut) int64 {
	var total int64
	for _, out := range outputs {
		total += out.Value
	}
	return total
}

// CheckTimeout abandons sessions the masternode stopped serving and returns
// finished sessions to idle.
func (c *Client) CheckTimeout() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	elapsed := c.cfg.Now().Sub(c.lastChange)
	switch c.state {
	case StateIdle:
	case StateError, StateSuccess:
		if elapsed >= SettleDelay {
			c.setState(StateIdle)
		}
	case StateSigning:
		if elapsed >= SigningTimeout+clientLag {
			log.Debugf("Signing timed out")
			c.fail("Signing timed out.")
		}
	default:
		if elapsed >= QueueTimeout+clientLag {
			log.Debugf("Session timed out")
			c.fail("Session timed out.")
		}
	}
}

// Run checks timeouts every tick and periodically attempts to start a new
// session until ctx is done.
func (c *Client) Run(ctx context.Context) {
	t := c.cfg.Ticker
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			c.CheckTimeout()
			now := c.cfg.Now()
			c.mtx.Lock()
			due := !now.Before(c.nextAttempt)
			if due {
				jitter := time.Duration(c.cfg.Randomizer.IntN(attemptJitter))
				c.nextAttempt = now.Add(minAttemptDelay + jitter*time.Second)
			}
			c.mtx.Unlock()
			if !due {
				continue
			}
			if err := c.DoAutomaticDenominating(); err != nil {
				log.Debugf("Mixing attempt failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

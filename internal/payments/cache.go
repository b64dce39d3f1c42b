// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package payments

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/anonsend/anond/internal/flatdb"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// maxCacheVotes bounds the number of votes read back from the cache file.
const maxCacheVotes = 1 << 20

var errTooManyVotes = errors.New("too many cached votes")

// SaveCache writes all votes to the payment vote cache at path.
func (l *Ledger) SaveCache(path string) error {
	params := l.cfg.Params
	pver := params.ProtocolVersion

	l.mtx.RLock()
	defer l.mtx.RUnlock()
	err := flatdb.Store(path, params.PaymentCacheMagic, params.Net,
		func(w io.Writer) error {
			err := wire.WriteVarInt(w, pver, uint64(len(l.votes)))
			if err != nil {
				return err
			}
			for _, vote := range l.votes {
				if err := vote.BtcEncode(w, pver); err != nil {
					return err
				}
			}
			err = wire.WriteVarInt(w, pver, uint64(len(l.lastVote)))
			if err != nil {
				return err
			}
			for vin, height := range l.lastVote {
				req := mnwire.MsgListRequest{Vin: vin}
				if err := req.BtcEncode(w, pver); err != nil {
					return err
				}
				if err := binary.Write(w, binary.LittleEndian, height); err != nil {
					return err
				}
			}
			return binary.Write(w, binary.LittleEndian, l.lastBlock)
		})
	if err != nil {
		return err
	}
	log.Debugf("Wrote %d payment votes to %s", len(l.votes), path)
	return nil
}

// LoadCache replaces the ledger with the payment vote cache at path.  Tallies
// are rebuilt from the loaded votes.  The ledger is left untouched when the
// cache cannot be loaded.
func (l *Ledger) LoadCache(path string) error {
	params := l.cfg.Params
	pver := params.ProtocolVersion

	votes := make(map[chainhash.Hash]*mnwire.MsgPaymentVote)
	blocks := make(map[int64]*blockPayees)
	lastVote := make(map[wire.OutPoint]int64)
	var lastBlock int64
	err := flatdb.Load(path, params.PaymentCacheMagic, params.Net,
		func(r io.Reader) error {
			n, err := wire.ReadVarInt(r, pver)
			if err != nil {
				return err
			}
			if n > maxCacheVotes {
				return errTooManyVotes
			}
			for i := uint64(0); i < n; i++ {
				vote := new(mnwire.MsgPaymentVote)
				if err := vote.BtcDecode(r, pver); err != nil {
					return err
				}
				votes[vote.Hash()] = vote
				bp, ok := blocks[vote.BlockHeight]
				if !ok {
					bp = new(blockPayees)
					blocks[vote.BlockHeight] = bp
				}
				bp.add(vote.PayeeVersion, vote.PayeeScript, 1)
			}
			if n, err = wire.ReadVarInt(r, pver); err != nil {
				return err
			}
			if n > maxCacheVotes {
				return errTooManyVotes
			}
			for i := uint64(0); i < n; i++ {
				var req mnwire.MsgListRequest
				if err := req.BtcDecode(r, pver); err != nil {
					return err
				}
				var height int64
				if err := binary.Read(r, binary.LittleEndian, &height); err != nil {
					return err
				}
				lastVote[req.Vin] = height
			}
			return binary.Read(r, binary.LittleEndian, &lastBlock)
		})
	if err != nil {
		return err
	}

	l.mtx.Lock()
	l.votes = votes
	l.blocks = blocks
	l.lastVote = lastVote
	l.lastBlock = lastBlock
	l.mtx.Unlock()
	log.Infof("Loaded %d payment votes from %s", len(votes), path)
	return nil
}

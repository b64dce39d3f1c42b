// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package masternode

import (
	"encoding/binary"
	"io"

	"github.com/anonsend/anond/internal/flatdb"
	"github.com/anonsend/anond/internal/mnwire"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/wire"
)

// maxCacheEntries bounds every table read back from the cache file.
const maxCacheEntries = 1 << 20

// registryState is the serializable portion of the registry.
type registryState struct {
	masternodes     []*Masternode
	askedUsForList  map[string]int64
	weAskedForList  map[string]int64
	weAskedForEntry map[wire.OutPoint]int64
	dsqCount        int64
	dseeCount       int64
}

func writeRecord(w io.Writer, pver uint32, mn *Masternode) error {
	if err := mn.Broadcast().BtcEncode(w, pver); err != nil {
		return err
	}
	fields := []int64{int64(mn.State), mn.LastDsee, mn.LastPaidHeight,
		mn.LastPaidTime}
	return binary.Write(w, binary.LittleEndian, fields)
}

func readRecord(r io.Reader, pver uint32) (*Masternode, error) {
	var mnb mnwire.MsgMNBroadcast
	if err := mnb.BtcDecode(r, pver); err != nil {
		return nil, err
	}
	var fields [4]int64
	if err := binary.Read(r, binary.LittleEndian, &fields); err != nil {
		return nil, err
	}
	mn := newFromBroadcast(&mnb)
	mn.State = State(fields[0])
	mn.LastDsee = fields[1]
	mn.LastPaidHeight = fields[2]
	mn.LastPaidTime = fields[3]
	return mn, nil
}

func writeTimes(w io.Writer, pver uint32, times map[string]int64) error {
	if err := wire.WriteVarInt(w, pver, uint64(len(times))); err != nil {
		return err
	}
	for addr, t := range times {
		if err := wire.WriteVarString(w, pver, addr); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, t); err != nil {
			return err
		}
	}
	return nil
}

func readCount(r io.Reader, pver uint32) (uint64, error) {
	n, err := wire.ReadVarInt(r, pver)
	if err != nil {
		return 0, err
	}
	if n > maxCacheEntries {
		return 0, io.ErrUnexpectedEOF
	}
	return n, nil
}

func readTimes(r io.Reader, pver uint32) (map[string]int64, error) {
	n, err := readCount(r, pver)
	if err != nil {
		return nil, err
	}
	times := make(map[string]int64, n)
	for i := uint64(0); i < n; i++ {
		addr, err := wire.ReadVarString(r, pver)
		if err != nil {
			return nil, err
		}
		var t int64
		if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
			return nil, err
		}
		times[addr] = t
	}
	return times, nil
}

func (s *registryState) encode(w io.Writer, pver uint32) error {
	if err := wire.WriteVarInt(w, pver, uint64(len(s.masternodes))); err != nil {
		return err
	}
	for _, mn := range s.masternodes {
		if err := writeRecord(w, pver, mn); err != nil {
			return err
		}
	}
	if err := writeTimes(w, pver, s.askedUsForList); err != nil {
		return err
	}
	if err := writeTimes(w, pver, s.weAskedForList); err != nil {
		return err
	}
	err := wire.WriteVarInt(w, pver, uint64(len(s.weAskedForEntry)))
	if err != nil {
		return err
	}
	for vin, t := range s.weAskedForEntry {
		req := mnwire.MsgListRequest{Vin: vin}
		if err := req.BtcEncode(w, pver); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, t); err != nil {
			return err
		}
	}
	counters := [2]int64{s.dsqCount, s.dseeCount}
	return binary.Write(w, binary.LittleEndian, counters)
}

func (s *registryState) decode(r io.Reader, pver uint32) error {
	n, err := readCount(r, pver)
	if err != nil {
		return err
	}
	s.masternodes = make([]*Masternode, 0, n)
	for i := uint64(0); i < n; i++ {
		mn, err := readRecord(r, pver)
		if err != nil {
			return err
		}
		s.masternodes = append(s.masternodes, mn)
	}
	if s.askedUsForList, err = readTimes(r, pver); err != nil {
		return err
	}
	if s.weAskedForList, err = readTimes(r, pver); err != nil {
		return err
	}
	if n, err = readCount(r, pver); err != nil {
		return err
	}
	s.weAskedForEntry = make(map[wire.OutPoint]int64, n)
	for i := uint64(0); i < n; i++ {
		var req mnwire.MsgListRequest
		if err := req.BtcDecode(r, pver); err != nil {
			return err
		}
		var t int64
		if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
			return err
		}
		s.weAskedForEntry[req.Vin] = t
	}
	var counters [2]int64
	if err := binary.Read(r, binary.LittleEndian, &counters); err != nil {
		return err
	}
	s.dsqCount, s.dseeCount = counters[0], counters[1]
	return nil
}

// SaveCache writes the registry to the masternode list cache at path.
func (m *Manager) SaveCache(path string) error {
	params := m.cfg.Params
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	state := registryState{
		masternodes:     m.masternodes,
		askedUsForList:  m.askedUsForList,
		weAskedForList:  m.weAskedForList,
		weAskedForEntry: m.weAskedForEntry,
		dsqCount:        m.dsqCount,
		dseeCount:       m.dseeCount,
	}
	err := flatdb.Store(path, params.ListCacheMagic, params.Net,
		func(w io.Writer) error {
			return state.encode(w, params.ProtocolVersion)
		})
	if err != nil {
		return err
	}
	log.Debugf("Wrote %d masternodes to %s", len(state.masternodes), path)
	return nil
}

// LoadCache replaces the registry with the masternode list cache at path.
// The registry is left untouched when the cache cannot be loaded.
func (m *Manager) LoadCache(path string) error {
	params := m.cfg.Params
	var state registryState
	err := flatdb.Load(path, params.ListCacheMagic, params.Net,
		func(r io.Reader) error {
			return state.decode(r, params.ProtocolVersion)
		})
	if err != nil {
		return err
	}

	seen := make(map[chainhash.Hash]*mnwire.MsgMNBroadcast,
		len(state.masternodes))
	for _, mn := range state.masternodes {
		mnb := mn.Broadcast()
		seen[mnb.Hash()] = mnb
	}

	m.mtx.Lock()
	m.masternodes = state.masternodes
	m.askedUsForList = state.askedUsForList
	m.weAskedForList = state.weAskedForList
	m.weAskedForEntry = state.weAskedForEntry
	m.dsqCount = state.dsqCount
	m.dseeCount = state.dseeCount
	m.seenBroadcasts = seen
	m.seenPings = make(map[chainhash.Hash]*mnwire.MsgMNPing)
	m.mtx.Unlock()

	log.Infof("Loaded %d masternodes from %s", len(state.masternodes), path)
	return nil
}

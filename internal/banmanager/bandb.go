// Copyright (c) 2024 The AnonSend developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package banmanager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// banKeyPrefix prefixes every ban record key.  Values are the big endian
// unix time the ban ends.
var banKeyPrefix = []byte("ban-")

// BanDB persists banned hosts so bans survive restarts.
type BanDB struct {
	db *leveldb.DB
}

// OpenBanDB opens the ban database at dbPath, creating it when needed.
func OpenBanDB(dbPath string) (*BanDB, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, err
	}
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
	}
	db, err := leveldb.OpenFile(dbPath, &opts)
	if ldberrors.IsCorrupted(err) {
		log.Warnf("Ban database at %s is corrupted, recovering", dbPath)
		db, err = leveldb.RecoverFile(dbPath, &opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ban database: %w", err)
	}
	return &BanDB{db: db}, nil
}

func banKey(host string) []byte {
	key := make([]byte, 0, len(banKeyPrefix)+len(host))
	key = append(key, banKeyPrefix...)
	return append(key, host...)
}

// Put records host as banned until the passed time.
func (b *BanDB) Put(host string, until time.Time) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(until.Unix()))
	return b.db.Put(banKey(host), v[:], nil)
}

// Delete forgets the ban of host.
func (b *BanDB) Delete(host string) error {
	return b.db.Delete(banKey(host), nil)
}

// Load returns every recorded ban that ends after now.  Expired records are
// removed.
func (b *BanDB) Load(now time.Time) (map[string]time.Time, error) {
	banned := make(map[string]time.Time)
	var expired leveldb.Batch
	iter := b.db.NewIterator(util.BytesPrefix(banKeyPrefix), nil)
	for iter.Next() {
		host := string(iter.Key()[len(banKeyPrefix):])
		if len(iter.Value()) != 8 {
			log.Warnf("Dropping malformed ban record for %s", host)
			expired.Delete(append([]byte(nil), iter.Key()...))
			continue
		}
		until := time.Unix(int64(binary.BigEndian.Uint64(iter.Value())), 0)
		if !until.After(now) {
			expired.Delete(append([]byte(nil), iter.Key()...))
			continue
		}
		banned[host] = until
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if expired.Len() > 0 {
		if err := b.db.Write(&expired, nil); err != nil {
			return nil, err
		}
	}
	return banned, nil
}

// Close closes the database.
func (b *BanDB) Close() error {
	err := b.db.Close()
	if errors.Is(err, leveldb.ErrClosed) {
		return nil
	}
	return err
}

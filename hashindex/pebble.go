package hashindex

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/b-open-io/token-index/token"
)

// PebbleStore keys entries by the raw 32-byte digest and packs the token key
// into an 8-byte big-endian value. Level watermarks live under a meta prefix
// outside the digest keyspace.
type PebbleStore struct {
	db *pebble.DB
}

var metaPrefix = []byte("!meta:checkpoint:")

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(64 << 20),
		MemTableSize:                32 << 20,
		MemTableStopWritesThreshold: 2,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble index at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) PutBatch(level, last int, entries []Entry) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, e := range entries {
		key, err := hex.DecodeString(e.Hash)
		if err != nil {
			return fmt.Errorf("bad hash %q: %w", e.Hash, err)
		}
		var value [8]byte
		binary.BigEndian.PutUint32(value[:4], uint32(e.Level))
		binary.BigEndian.PutUint32(value[4:], uint32(e.Number))
		if err := batch.Set(key, value[:], nil); err != nil {
			return err
		}
	}
	var mark [4]byte
	binary.BigEndian.PutUint32(mark[:], uint32(last))
	if err := batch.Set(checkpointKey(level), mark[:], nil); err != nil {
		return err
	}
	// Sync here: the batch is the resume unit, so it must be durable before
	// the watermark is trusted.
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) Lookup(hash string) (token.Key, error) {
	key, err := hex.DecodeString(hash)
	if err != nil || len(key) != 32 {
		return token.Key{}, ErrNotFound
	}
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return token.Key{}, ErrNotFound
	}
	if err != nil {
		return token.Key{}, err
	}
	defer closer.Close()
	if len(value) != 8 {
		return token.Key{}, fmt.Errorf("corrupt index value for %s: %d bytes", hash, len(value))
	}
	return token.Key{
		Level:  int(binary.BigEndian.Uint32(value[:4])),
		Number: int(binary.BigEndian.Uint32(value[4:])),
	}, nil
}

func (s *PebbleStore) Checkpoint(level int) (int, error) {
	value, closer, err := s.db.Get(checkpointKey(level))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return int(binary.BigEndian.Uint32(value)), nil
}

func (s *PebbleStore) Count() (int64, error) {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var count int64
	for iter.First(); iter.Valid(); iter.Next() {
		if len(iter.Key()) == 32 {
			count++
		}
	}
	return count, iter.Error()
}

func (s *PebbleStore) Clear() error {
	// Full-keyspace range delete; 0xff... is above any digest or meta key.
	start := []byte{0x00}
	end := make([]byte, 33)
	for i := range end {
		end[i] = 0xff
	}
	if err := s.db.DeleteRange(start, end, pebble.Sync); err != nil {
		return err
	}
	return s.db.Compact(start, end, false)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func checkpointKey(level int) []byte {
	return append(append([]byte{}, metaPrefix...), byte(level))
}

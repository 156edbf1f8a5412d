package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/chain"
	"github.com/uhyunpark/custodex/pkg/ledger"
)

// PebbleStore persists blocks, receipts, events and the latest state
// snapshot. Each block is written in a single synced batch.
type PebbleStore struct {
	db *pebble.DB
}

var _ Store = (*PebbleStore)(nil)

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20, // 64MB
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// CommitBlock writes the block, its receipts, its events, the state
// snapshot and the new head atomically.
func (s *PebbleStore) CommitBlock(rec BlockRecord) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	set := func(key []byte, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return batch.Set(key, data, nil)
	}

	height := rec.Block.Height
	if err := set(blockKey(height), rec.Block); err != nil {
		return fmt.Errorf("failed to stage block %d: %w", height, err)
	}
	if err := set(receiptsKey(height), rec.Receipts); err != nil {
		return fmt.Errorf("failed to stage receipts %d: %w", height, err)
	}
	for i, r := range rec.Receipts {
		if err := set(txKey(r.TxHash), TxReceipt{Height: height, Index: i, Result: r}); err != nil {
			return fmt.Errorf("failed to stage tx receipt: %w", err)
		}
	}
	for _, ev := range rec.Events {
		if err := set(eventKey(ev.Seq), ev); err != nil {
			return fmt.Errorf("failed to stage event %d: %w", ev.Seq, err)
		}
	}
	if rec.Snapshot != nil {
		if err := batch.Set([]byte(keySnapshot), rec.Snapshot, nil); err != nil {
			return fmt.Errorf("failed to stage snapshot: %w", err)
		}
	}
	if err := batch.Set([]byte(keyHead), []byte(strconv.FormatInt(height, 10)), nil); err != nil {
		return fmt.Errorf("failed to stage head: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", height, err)
	}
	return nil
}

func (s *PebbleStore) get(key []byte) ([]byte, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return append([]byte(nil), data...), nil
}

func (s *PebbleStore) getJSON(key []byte, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Head returns the newest committed height
func (s *PebbleStore) Head() (int64, bool, error) {
	data, err := s.get([]byte(keyHead))
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	h, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt head %q: %w", data, err)
	}
	return h, true, nil
}

// LoadBlock loads a block by height
func (s *PebbleStore) LoadBlock(height int64) (chain.Block, error) {
	var b chain.Block
	err := s.getJSON(blockKey(height), &b)
	return b, err
}

// LoadReceipts loads the tx results of a block
func (s *PebbleStore) LoadReceipts(height int64) ([]abci.TxResult, error) {
	var rs []abci.TxResult
	err := s.getJSON(receiptsKey(height), &rs)
	return rs, err
}

// LoadTxReceipt loads the receipt of a transaction by hash
func (s *PebbleStore) LoadTxReceipt(hash string) (TxReceipt, error) {
	var r TxReceipt
	err := s.getJSON(txKey(hash), &r)
	return r, err
}

// LoadSnapshot returns the state snapshot written with the head block
func (s *PebbleStore) LoadSnapshot() ([]byte, error) {
	return s.get([]byte(keySnapshot))
}

// LoadEvents scans events in sequence order starting at from
func (s *PebbleStore) LoadEvents(from uint64, limit int) ([]ledger.Event, error) {
	prefix := []byte(prefixEvent)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: eventKey(from),
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event iterator: %w", err)
	}
	defer iter.Close()

	var events []ledger.Event
	for iter.First(); iter.Valid(); iter.Next() {
		if limit > 0 && len(events) >= limit {
			break
		}
		var ev ledger.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s: %w", iter.Key(), err)
		}
		events = append(events, ev)
	}
	return events, iter.Error()
}

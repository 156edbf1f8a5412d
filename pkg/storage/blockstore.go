package storage

import (
	"strings"
	"sync"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/chain"
	"github.com/uhyunpark/custodex/pkg/ledger"
)

// InMemoryStore keeps everything in maps. Used when no data directory is
// configured and in tests.
type InMemoryStore struct {
	mu       sync.Mutex
	blocks   map[int64]chain.Block
	receipts map[int64][]abci.TxResult
	txs      map[string]TxReceipt
	events   []ledger.Event
	snapshot []byte
	head     int64
	hasHead  bool
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blocks:   make(map[int64]chain.Block),
		receipts: make(map[int64][]abci.TxResult),
		txs:      make(map[string]TxReceipt),
	}
}

func (s *InMemoryStore) CommitBlock(rec BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := rec.Block.Height
	s.blocks[h] = rec.Block
	s.receipts[h] = append([]abci.TxResult(nil), rec.Receipts...)
	for i, r := range rec.Receipts {
		s.txs[strings.ToLower(r.TxHash)] = TxReceipt{Height: h, Index: i, Result: r}
	}
	s.events = append(s.events, rec.Events...)
	if rec.Snapshot != nil {
		s.snapshot = append([]byte(nil), rec.Snapshot...)
	}
	s.head, s.hasHead = h, true
	return nil
}

func (s *InMemoryStore) Head() (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, s.hasHead, nil
}

func (s *InMemoryStore) LoadBlock(height int64) (chain.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	if !ok {
		return chain.Block{}, ErrNotFound
	}
	return b, nil
}

func (s *InMemoryStore) LoadReceipts(height int64) ([]abci.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.receipts[height]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]abci.TxResult(nil), rs...), nil
}

func (s *InMemoryStore) LoadTxReceipt(hash string) (TxReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.txs[strings.ToLower(hash)]
	if !ok {
		return TxReceipt{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) LoadSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s.snapshot...), nil
}

func (s *InMemoryStore) LoadEvents(from uint64, limit int) ([]ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Event
	for _, ev := range s.events {
		if ev.Seq < from {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

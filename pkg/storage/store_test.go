package storage

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/chain"
	"github.com/uhyunpark/custodex/pkg/ledger"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ps, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open pebble store: %v", err)
	}
	t.Cleanup(func() { ps.Close() })
	return map[string]Store{
		"pebble": ps,
		"memory": NewInMemoryStore(),
	}
}

func record(height int64, firstSeq uint64, n int) BlockRecord {
	txs := [][]byte{[]byte(`{"type":"deposit"}`)}
	rec := BlockRecord{
		Block: chain.Block{Height: height, Time: 1_700_000_000 + height, Txs: txs},
		Receipts: []abci.TxResult{{
			TxHash:     chain.TxHash(txs[0]).Hex(),
			FirstEvent: firstSeq,
			EventCount: n,
		}},
		Snapshot: []byte(`{"height":` + big.NewInt(height).String() + `}`),
	}
	for i := 0; i < n; i++ {
		rec.Events = append(rec.Events, ledger.Event{
			Seq:  firstSeq + uint64(i),
			Kind: ledger.EventDeposit,
			Transfer: &ledger.BalanceChange{
				Asset:   common.HexToAddress("0x01"),
				Account: common.HexToAddress("0xAA"),
				Amount:  big.NewInt(int64(i + 1)),
				Balance: big.NewInt(int64(i + 1)),
			},
		})
	}
	return rec
}

func TestCommitAndLoad(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Head(); err != nil || ok {
				t.Fatalf("fresh store head: ok=%v err=%v", ok, err)
			}
			if _, err := s.LoadSnapshot(); !errors.Is(err, ErrNotFound) {
				t.Errorf("fresh snapshot err = %v, want ErrNotFound", err)
			}

			if err := s.CommitBlock(record(1, 1, 2)); err != nil {
				t.Fatalf("commit 1: %v", err)
			}
			rec2 := record(2, 3, 3)
			if err := s.CommitBlock(rec2); err != nil {
				t.Fatalf("commit 2: %v", err)
			}

			head, ok, err := s.Head()
			if err != nil || !ok || head != 2 {
				t.Fatalf("head = %d ok=%v err=%v, want 2", head, ok, err)
			}

			b, err := s.LoadBlock(2)
			if err != nil {
				t.Fatalf("load block: %v", err)
			}
			if b.Time != rec2.Block.Time || len(b.Txs) != 1 || b.Hash() != rec2.Block.Hash() {
				t.Errorf("block 2 did not round-trip: %+v", b)
			}
			if _, err := s.LoadBlock(3); !errors.Is(err, ErrNotFound) {
				t.Errorf("missing block err = %v, want ErrNotFound", err)
			}

			rs, err := s.LoadReceipts(2)
			if err != nil || len(rs) != 1 || rs[0].FirstEvent != 3 {
				t.Errorf("receipts = %+v err=%v", rs, err)
			}
			r, err := s.LoadTxReceipt(rec2.Receipts[0].TxHash)
			if err != nil || r.Height != 2 || r.Index != 0 {
				t.Errorf("tx receipt = %+v err=%v", r, err)
			}

			snap, err := s.LoadSnapshot()
			if err != nil || string(snap) != `{"height":2}` {
				t.Errorf("snapshot = %s err=%v, want the latest", snap, err)
			}
		})
	}
}

func TestLoadEventsRange(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			s.CommitBlock(record(1, 1, 4))
			s.CommitBlock(record(2, 5, 8))

			all, err := s.LoadEvents(0, 0)
			if err != nil {
				t.Fatalf("load events: %v", err)
			}
			if len(all) != 12 {
				t.Fatalf("events = %d, want 12", len(all))
			}
			for i, ev := range all {
				if ev.Seq != uint64(i+1) {
					t.Fatalf("event %d has seq %d: out of order", i, ev.Seq)
				}
			}
			if all[0].Transfer.Amount.Cmp(big.NewInt(1)) != 0 {
				t.Errorf("event payload did not round-trip: %+v", all[0].Transfer)
			}

			// Crosses the block boundary; 9 < 10 checks numeric, not lexical, order
			page, err := s.LoadEvents(3, 7)
			if err != nil {
				t.Fatalf("load page: %v", err)
			}
			if len(page) != 7 {
				t.Fatalf("page = %d events, want 7", len(page))
			}
			if page[0].Seq != 3 || page[6].Seq != 9 {
				t.Errorf("page spans %d..%d, want 3..9", page[0].Seq, page[6].Seq)
			}

			if tail, _ := s.LoadEvents(100, 10); len(tail) != 0 {
				t.Errorf("expected no events past the end, got %d", len(tail))
			}
		})
	}
}

func TestPebbleStoreReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.CommitBlock(record(7, 1, 1)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	head, ok, err := s.Head()
	if err != nil || !ok || head != 7 {
		t.Errorf("head after reopen = %d ok=%v err=%v, want 7", head, ok, err)
	}
	if evs, _ := s.LoadEvents(0, 0); len(evs) != 1 {
		t.Errorf("events after reopen = %d, want 1", len(evs))
	}
}

package storage

import (
	"errors"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/chain"
	"github.com/uhyunpark/custodex/pkg/ledger"
)

var ErrNotFound = errors.New("not found")

// BlockRecord is everything a committed block changes. A store writes a
// record all at once or not at all.
type BlockRecord struct {
	Block    chain.Block
	Receipts []abci.TxResult
	Events   []ledger.Event
	Snapshot []byte // encoded application state after the block
}

// TxReceipt locates a transaction and its outcome.
type TxReceipt struct {
	Height int64         `json:"height"`
	Index  int           `json:"index"`
	Result abci.TxResult `json:"result"`
}

// Store persists committed blocks and the state they produce.
type Store interface {
	CommitBlock(rec BlockRecord) error

	// Head returns the height of the newest committed block.
	Head() (int64, bool, error)
	LoadBlock(height int64) (chain.Block, error)
	LoadReceipts(height int64) ([]abci.TxResult, error)
	LoadTxReceipt(hash string) (TxReceipt, error)
	LoadSnapshot() ([]byte, error)
	// LoadEvents returns up to limit events with Seq >= from. limit <= 0
	// means no limit.
	LoadEvents(from uint64, limit int) ([]ledger.Event, error)

	Close() error
}

package exchange

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/chain"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/ledger"
	"github.com/uhyunpark/custodex/pkg/mempool"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/token"
	"github.com/uhyunpark/custodex/pkg/transaction"
)

type Config struct {
	ChainID      int64
	FeeAccount   common.Address
	FeePercent   uint64
	Genesis      Genesis
	MempoolLimit int
	Store        storage.Store // nil = in-memory
	Logger       *zap.SugaredLogger
}

// Commit is what observers receive after each block is persisted.
type Commit struct {
	Block   chain.Block
	Results []abci.TxResult
	Events  []ledger.Event
}

// blockClock is the ledger clock: every tx in a block sees the block time.
type blockClock struct{ now time.Time }

func (c *blockClock) Now() time.Time { return c.now }

// App hosts the token contracts and the exchange ledger behind the abci
// interface. It is the single writer: FinalizeBlock holds the write lock
// for the whole block, queries take the read lock.
type App struct {
	mu  sync.RWMutex
	log *zap.SugaredLogger

	chainID  int64
	genesis  Genesis
	registry *token.Registry
	ex       *ledger.Exchange
	exCfg    ledger.Config
	clock    *blockClock
	nonces   map[common.Address]uint64

	verifier *transaction.Verifier
	mempool  *mempool.Mempool
	store    storage.Store

	height        int64
	lastBlockHash abci.Hash
	appHash       abci.Hash

	obsMu     sync.Mutex
	observers []func(Commit)
}

var _ abci.Application = (*App)(nil)

// New builds the app from the store's latest snapshot, or from genesis if
// the store is empty.
func New(cfg Config) (*App, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	store := cfg.Store
	if store == nil {
		store = storage.NewInMemoryStore()
	}
	if len(cfg.Genesis.Tokens) == 0 {
		cfg.Genesis.Tokens = DefaultTokens
	}

	a := &App{
		log:     log,
		chainID: cfg.ChainID,
		genesis: cfg.Genesis,
		clock:   &blockClock{},
		nonces:  make(map[common.Address]uint64),
		mempool: mempool.NewMempool(cfg.MempoolLimit),
		store:   store,
	}

	exAddr := cfg.Genesis.ExchangeAddress()
	domain := crypto.DefaultDomain().WithContract(exAddr)
	domain.ChainID = big.NewInt(cfg.ChainID)
	a.verifier = transaction.NewVerifier(domain)
	a.exCfg = ledger.Config{
		Address:    exAddr,
		FeeAccount: cfg.FeeAccount,
		FeePercent: cfg.FeePercent,
		Clock:      a.clock,
	}

	snap, err := store.LoadSnapshot()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		a.registry, err = cfg.Genesis.deployTokens()
		if err != nil {
			return nil, err
		}
		a.exCfg.Assets = a.registry
		a.ex = ledger.New(a.exCfg)
		log.Infow("genesis",
			"exchange", exAddr.Hex(),
			"fee_account", cfg.FeeAccount.Hex(),
			"fee_percent", cfg.FeePercent,
			"tokens", len(cfg.Genesis.Tokens),
		)
	case err != nil:
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	default:
		if err := a.restore(snap); err != nil {
			return nil, err
		}
		log.Infow("state_restored",
			"height", a.height,
			"app_hash", a.appHash.Hex(),
			"orders", a.ex.OrderCount(),
			"events", a.ex.Events().LastSeq(),
		)
	}
	return a, nil
}

// Subscribe registers fn to run after every committed block. Observers run
// on the producer goroutine outside the state lock and must not block.
func (a *App) Subscribe(fn func(Commit)) {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	a.observers = append(a.observers, fn)
}

func (a *App) notify(c Commit) {
	a.obsMu.Lock()
	obs := append([]func(Commit){}, a.observers...)
	a.obsMu.Unlock()
	for _, fn := range obs {
		fn(c)
	}
}

// ---- abci ----

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal accepts everything: invalid txs are rejected one by one
// inside FinalizeBlock.
func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock applies txs in order with the block time as the ledger
// clock, then persists the block and resulting state in one write. A
// persistence failure is returned; the in-memory state has already moved
// on, so the caller must stop producing blocks.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	a.mu.Lock()

	if req.Height != a.height+1 {
		a.mu.Unlock()
		return abci.ResponseFinalizeBlock{}, fmt.Errorf("unexpected height %d, last committed %d", req.Height, a.height)
	}

	a.clock.now = time.Unix(req.Timestamp, 0)
	lastSeq := a.ex.Events().LastSeq()

	results := make([]abci.TxResult, len(req.Txs))
	applied := 0
	for i, raw := range req.Txs {
		results[i] = a.applyTx(raw)
		if results[i].Code == CodeOK {
			applied++
		}
	}
	events := a.ex.Events().Since(lastSeq)

	a.appHash = a.computeStateHash(req.Height, req.Timestamp)
	block := chain.Block{
		Height:  req.Height,
		Time:    req.Timestamp,
		Parent:  a.lastBlockHash,
		Txs:     req.Txs,
		AppHash: a.appHash,
	}
	a.height = req.Height
	a.lastBlockHash = block.Hash()

	snap, err := a.encodeState()
	if err == nil {
		err = a.store.CommitBlock(storage.BlockRecord{
			Block:    block,
			Receipts: results,
			Events:   events,
			Snapshot: snap,
		})
	}
	a.mu.Unlock()
	if err != nil {
		a.log.Errorw("block_persist_failed", "height", req.Height, "err", err)
		return abci.ResponseFinalizeBlock{}, err
	}

	if len(req.Txs) > 0 {
		a.log.Infow("block_committed",
			"height", req.Height,
			"txs", len(req.Txs),
			"applied", applied,
			"events", len(events),
			"app_hash", a.appHash.Hex(),
		)
	}
	a.notify(Commit{Block: block, Results: results, Events: events})

	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: block.AppHash}, nil
}

// ---- submission ----

// CheckTx verifies a transaction and admits it to the mempool. The nonce
// only has to be ahead of the last applied one; ordering among pending txs
// is settled at apply time.
func (a *App) CheckTx(raw []byte) (*transaction.Call, abci.Hash, error) {
	call, err := a.verifier.VerifyRaw(raw)
	if err != nil {
		return nil, abci.Hash{}, err
	}
	if last := a.Nonce(call.From); call.Nonce <= last {
		return nil, abci.Hash{}, fmt.Errorf("%w: got %d, last %d", ErrBadNonce, call.Nonce, last)
	}
	if _, err := a.mempool.Push(mempool.Tx{Raw: raw, Type: call.Type, From: call.From, Nonce: call.Nonce}); err != nil {
		return nil, abci.Hash{}, err
	}
	return call, chain.TxHash(raw), nil
}

// PendingTxs returns the number of txs waiting for a block.
func (a *App) PendingTxs() int { return a.mempool.Len() }

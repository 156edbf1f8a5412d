package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/chain"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/ledger"
	"github.com/uhyunpark/custodex/pkg/storage"
)

// Read-side queries. All of them take the read lock and return copies.

type ExchangeInfo struct {
	ChainID    int64
	Address    common.Address
	FeeAccount common.Address
	FeePercent uint64
	OrderCount uint64
	Height     int64
	AppHash    abci.Hash
}

type TokenInfo struct {
	Address     common.Address
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
	Custodied   *big.Int // held by the exchange on behalf of depositors
}

// OrderView is an order with its current status.
type OrderView struct {
	ledger.Order
	Status ledger.OrderStatus
}

func (a *App) Info() ExchangeInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return ExchangeInfo{
		ChainID:    a.chainID,
		Address:    a.ex.Address(),
		FeeAccount: a.ex.FeeAccount(),
		FeePercent: a.ex.FeePercent(),
		OrderCount: a.ex.OrderCount(),
		Height:     a.height,
		AppHash:    a.appHash,
	}
}

func (a *App) Height() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

// Nonce returns the last nonce applied for account.
func (a *App) Nonce(account common.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nonces[account]
}

func (a *App) Tokens() []TokenInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	list := a.registry.List()
	out := make([]TokenInfo, len(list))
	for i, t := range list {
		out[i] = TokenInfo{
			Address:     t.Address(),
			Name:        t.Name(),
			Symbol:      t.Symbol(),
			Decimals:    t.Decimals(),
			TotalSupply: t.TotalSupply(),
			Custodied:   a.ex.TotalCustodied(t.Address()),
		}
	}
	return out
}

func (a *App) Token(addr common.Address) (TokenInfo, bool) {
	for _, t := range a.Tokens() {
		if t.Address == addr {
			return t, true
		}
	}
	return TokenInfo{}, false
}

// WalletBalance is the account's balance on the token contract itself.
func (a *App) WalletBalance(tokenAddr, account common.Address) (*big.Int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.registry.Get(tokenAddr)
	if !ok {
		return nil, false
	}
	return t.BalanceOf(account), true
}

func (a *App) Allowance(tokenAddr, owner, spender common.Address) (*big.Int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.registry.Get(tokenAddr)
	if !ok {
		return nil, false
	}
	return t.Allowance(owner, spender), true
}

// CustodyBalance is the account's balance held inside the exchange.
func (a *App) CustodyBalance(asset, account common.Address) *big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ex.BalanceOf(asset, account)
}

// CustodyBalances returns the account's custody balance for every known
// token, in token address order.
func (a *App) CustodyBalances(account common.Address) map[common.Address]*big.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[common.Address]*big.Int, a.registry.Count())
	for _, t := range a.registry.List() {
		out[t.Address()] = a.ex.BalanceOf(t.Address(), account)
	}
	return out
}

func (a *App) Order(id uint64) (OrderView, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, err := a.ex.GetOrder(id)
	if err != nil {
		return OrderView{}, err
	}
	st, _ := a.ex.OrderStatus(id)
	return OrderView{Order: o, Status: st}, nil
}

// Orders lists orders in id order. A nil status returns every order.
func (a *App) Orders(status *ledger.OrderStatus) []OrderView {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []OrderView
	for id := uint64(1); id <= a.ex.OrderCount(); id++ {
		st, _ := a.ex.OrderStatus(id)
		if status != nil && st != *status {
			continue
		}
		o, _ := a.ex.GetOrder(id)
		out = append(out, OrderView{Order: o, Status: st})
	}
	return out
}

// Events returns up to limit events with Seq >= from.
func (a *App) Events(from uint64, limit int) []ledger.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if from > 0 {
		from--
	}
	evs := a.ex.Events().Since(from)
	if limit > 0 && len(evs) > limit {
		evs = evs[:limit]
	}
	return evs
}

// TxReceipt looks up a committed transaction by hash.
func (a *App) TxReceipt(hash abci.Hash) (storage.TxReceipt, error) {
	return a.store.LoadTxReceipt(hash.Hex())
}

// Domain is the EIP-712 domain every tx must be signed under.
func (a *App) Domain() crypto.EIP712Domain { return a.verifier.Domain() }

// Block loads a committed block with the results of its txs.
func (a *App) Block(height int64) (chain.Block, []abci.TxResult, error) {
	b, err := a.store.LoadBlock(height)
	if err != nil {
		return chain.Block{}, nil, err
	}
	rs, err := a.store.LoadReceipts(height)
	if err != nil {
		return chain.Block{}, nil, err
	}
	return b, rs, nil
}

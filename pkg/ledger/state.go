package ledger

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceEntry is one non-zero custody balance.
type BalanceEntry struct {
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
}

// State is a deterministic snapshot of the exchange. The event log is not
// part of it; LastEventSeq records where the log stood.
type State struct {
	Balances     []BalanceEntry `json:"balances"`
	Orders       []Order        `json:"orders"`
	Cancelled    []uint64       `json:"cancelled"`
	Filled       []uint64       `json:"filled"`
	LastEventSeq uint64         `json:"lastEventSeq"`
}

// Snapshot copies the exchange state. Slices are sorted so equal states
// serialize to equal bytes.
func (e *Exchange) Snapshot() State {
	st := State{
		Balances:     make([]BalanceEntry, 0, len(e.custody.balances)),
		Orders:       make([]Order, len(e.orders.orders)),
		Cancelled:    sortedIDs(e.orders.cancelled),
		Filled:       sortedIDs(e.orders.filled),
		LastEventSeq: e.log.LastSeq(),
	}
	for k, v := range e.custody.balances {
		st.Balances = append(st.Balances, BalanceEntry{Asset: k.asset, Account: k.account, Amount: new(big.Int).Set(v)})
	}
	sort.Slice(st.Balances, func(i, j int) bool {
		a, b := st.Balances[i], st.Balances[j]
		if c := bytes.Compare(a.Asset[:], b.Asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Account[:], b.Account[:]) < 0
	})
	for i, o := range e.orders.orders {
		st.Orders[i] = o.clone()
	}
	return st
}

// Restore rebuilds an exchange from a snapshot. tail holds the most recent
// events, if any were kept; sequence numbering resumes after
// st.LastEventSeq either way.
func Restore(cfg Config, st State, tail []Event) *Exchange {
	e := New(cfg)
	for _, b := range st.Balances {
		e.custody.set(b.Asset, b.Account, new(big.Int).Set(b.Amount))
	}
	for _, o := range st.Orders {
		e.orders.orders = append(e.orders.orders, o.clone())
	}
	for _, id := range st.Cancelled {
		e.orders.cancelled[id] = true
	}
	for _, id := range st.Filled {
		e.orders.filled[id] = true
	}
	e.log.events = append(e.log.events, tail...)
	e.log.next = st.LastEventSeq + 1
	return e
}

func sortedIDs(m map[uint64]bool) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id, set := range m {
		if set {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

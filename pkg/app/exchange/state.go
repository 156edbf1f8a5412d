package exchange

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/ledger"
	"github.com/uhyunpark/custodex/pkg/token"
)

// nonceEntry keeps the persisted nonce table in a stable order.
type nonceEntry struct {
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
}

// appState is the snapshot written with every block.
type appState struct {
	Height        int64         `json:"height"`
	LastBlockHash abci.Hash     `json:"lastBlockHash"`
	AppHash       abci.Hash     `json:"appHash"`
	Tokens        []token.State `json:"tokens"`
	Ledger        ledger.State  `json:"ledger"`
	Nonces        []nonceEntry  `json:"nonces"`
}

func (a *App) sortedNonces() []nonceEntry {
	out := make([]nonceEntry, 0, len(a.nonces))
	for acct, n := range a.nonces {
		out = append(out, nonceEntry{Account: acct, Nonce: n})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.Cmp(out[j].Account) < 0
	})
	return out
}

func (a *App) encodeState() ([]byte, error) {
	return json.Marshal(appState{
		Height:        a.height,
		LastBlockHash: a.lastBlockHash,
		AppHash:       a.appHash,
		Tokens:        a.registry.Snapshot(),
		Ledger:        a.ex.Snapshot(),
		Nonces:        a.sortedNonces(),
	})
}

func (a *App) restore(data []byte) error {
	var st appState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	reg, err := token.RestoreRegistry(st.Tokens)
	if err != nil {
		return fmt.Errorf("failed to restore tokens: %w", err)
	}
	events, err := a.store.LoadEvents(1, 0)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	a.registry = reg
	a.exCfg.Assets = reg
	a.ex = ledger.Restore(a.exCfg, st.Ledger, events)
	for _, n := range st.Nonces {
		a.nonces[n.Account] = n.Nonce
	}
	a.height = st.Height
	a.lastBlockHash = st.LastBlockHash
	a.appHash = st.AppHash
	return nil
}

// computeStateHash commits to the height, block time, every token's
// balances and allowances, the ledger state and the nonce table. Every
// collection is iterated in sorted order so all nodes agree.
func (a *App) computeStateHash(height, timestamp int64) abci.Hash {
	h := sha3.NewLegacyKeccak256()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])

	for _, t := range a.registry.List() {
		st := t.Snapshot()
		h.Write(st.Address[:])
		writeBalances(h, st.Balances)
		owners := sortedAddrs(st.Allowances)
		for _, owner := range owners {
			h.Write(owner[:])
			writeBalances(h, st.Allowances[owner])
		}
	}

	ls := a.ex.Snapshot()
	for _, b := range ls.Balances {
		h.Write(b.Asset[:])
		h.Write(b.Account[:])
		h.Write(b.Amount.Bytes())
	}
	for _, o := range ls.Orders {
		binary.BigEndian.PutUint64(buf[:], o.ID)
		h.Write(buf[:])
		h.Write(o.Creator[:])
		h.Write(o.AssetWanted[:])
		h.Write(o.AmountWanted.Bytes())
		h.Write(o.AssetOffered[:])
		h.Write(o.AmountOffered.Bytes())
		binary.BigEndian.PutUint64(buf[:], uint64(o.Timestamp))
		h.Write(buf[:])
	}
	for _, id := range ls.Cancelled {
		binary.BigEndian.PutUint64(buf[:], id)
		h.Write([]byte{'c'})
		h.Write(buf[:])
	}
	for _, id := range ls.Filled {
		binary.BigEndian.PutUint64(buf[:], id)
		h.Write([]byte{'f'})
		h.Write(buf[:])
	}
	binary.BigEndian.PutUint64(buf[:], ls.LastEventSeq)
	h.Write(buf[:])

	for _, n := range a.sortedNonces() {
		h.Write(n.Account[:])
		binary.BigEndian.PutUint64(buf[:], n.Nonce)
		h.Write(buf[:])
	}

	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out
}

type hashWriter interface{ Write([]byte) (int, error) }

func writeBalances[V interface{ Bytes() []byte }](h hashWriter, m map[common.Address]V) {
	for _, addr := range sortedAddrs(m) {
		h.Write(addr[:])
		h.Write(m[addr].Bytes())
	}
}

func sortedAddrs[V any](m map[common.Address]V) []common.Address {
	out := make([]common.Address, 0, len(m))
	for addr := range m {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

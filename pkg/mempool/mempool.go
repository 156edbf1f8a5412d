package mempool

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/transaction"
)

// Class buckets transactions for block ordering.
type Class int

const (
	ClassNonOrder Class = iota // approve, transfer, deposit, withdraw
	ClassCancel                // cancelOrder
	ClassOrder                 // createOrder, fillOrder
)

func (c Class) String() string {
	switch c {
	case ClassNonOrder:
		return "non-order"
	case ClassCancel:
		return "cancel"
	default:
		return "order"
	}
}

var ErrFull = errors.New("mempool full")

// ClassifyRaw classifies a raw transaction by its JSON type field.
//
//	{"type": "deposit", ...}     -> ClassNonOrder
//	{"type": "cancelOrder", ...} -> ClassCancel
//	{"type": "fillOrder", ...}   -> ClassOrder
//
// Anything unparseable lands in ClassOrder; the app rejects it at apply time.
func ClassifyRaw(b []byte) Class {
	var envelope struct {
		Type transaction.TxType `json:"type"`
	}
	if len(b) == 0 || b[0] != '{' || json.Unmarshal(b, &envelope) != nil {
		return ClassOrder
	}
	return Classify(envelope.Type)
}

// Classify maps a transaction type to its bucket.
func Classify(t transaction.TxType) Class {
	switch t {
	case transaction.TxTypeApprove, transaction.TxTypeTransfer,
		transaction.TxTypeDeposit, transaction.TxTypeWithdraw:
		return ClassNonOrder
	case transaction.TxTypeCancelOrder:
		return ClassCancel
	default:
		return ClassOrder
	}
}

// Tx is a pending transaction with the fields block ordering needs. A zero
// From marks a tx whose sender is unknown; it is never held back.
type Tx struct {
	Raw   []byte
	Type  transaction.TxType
	From  common.Address
	Nonce uint64
}

type entry struct {
	raw    []byte
	sender common.Address
	nonce  uint64
}

// Mempool maintains three FIFO queues drained in this order per block:
// (1) non-order, (2) cancel, (3) orders. Funds land before orders that
// need them, and cancels win over fills submitted in the same block.
// Bucket order never overrides a sender's nonce order: a tx is only
// selected once every pending tx of the same sender with a lower nonce
// has been.
type Mempool struct {
	mu     sync.Mutex
	limit  int
	queues [3][]entry
}

// NewMempool creates a mempool holding at most limit txs. Zero means
// unbounded.
func NewMempool(limit int) *Mempool {
	return &Mempool{limit: limit}
}

// Push enqueues a decoded tx.
func (m *Mempool) Push(tx Tx) (Class, error) {
	class := Classify(tx.Type)
	e := entry{raw: append([]byte(nil), tx.Raw...), sender: tx.From, nonce: tx.Nonce}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && m.lenLocked() >= m.limit {
		return class, ErrFull
	}
	m.queues[class] = append(m.queues[class], e)
	return class, nil
}

// PushRaw reads type, sender and nonce from the JSON envelope and
// enqueues the tx. Unparseable txs go to the order bucket with no sender.
func (m *Mempool) PushRaw(b []byte) (Class, error) {
	var envelope struct {
		Type  transaction.TxType `json:"type"`
		From  string             `json:"from"`
		Nonce uint64             `json:"nonce"`
	}
	tx := Tx{Raw: b, Type: transaction.TxTypeCreateOrder}
	if len(b) > 0 && b[0] == '{' && json.Unmarshal(b, &envelope) == nil {
		tx.Type = envelope.Type
		tx.Nonce = envelope.Nonce
		if common.IsHexAddress(envelope.From) {
			tx.From = common.HexToAddress(envelope.From)
		}
	}
	return m.Push(tx)
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing selected txs from the mempool. maxBytes <= 0 takes everything.
// Buckets are swept repeatedly so a tx held back behind its sender's
// lower nonce in a later bucket is picked up once that nonce is selected.
// Selection stops at the first tx that does not fit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Pending nonces per sender, ascending
	pending := make(map[common.Address][]uint64)
	for _, q := range m.queues {
		for _, e := range q {
			if e.sender != (common.Address{}) {
				pending[e.sender] = append(pending[e.sender], e.nonce)
			}
		}
	}
	for _, ns := range pending {
		slices.Sort(ns)
	}
	ready := func(e entry) bool {
		if e.sender == (common.Address{}) {
			return true
		}
		return pending[e.sender][0] == e.nonce
	}

	var out [][]byte
	var used int64
	full := false

	for progress := true; progress && !full; {
		progress = false
		for c := range m.queues {
			kept := make([]entry, 0, len(m.queues[c]))
			for _, e := range m.queues[c] {
				if full || !ready(e) {
					kept = append(kept, e)
					continue
				}
				n := int64(len(e.raw))
				if maxBytes > 0 && used+n > maxBytes {
					full = true
					kept = append(kept, e)
					continue
				}
				out = append(out, e.raw)
				used += n
				if e.sender != (common.Address{}) {
					pending[e.sender] = pending[e.sender][1:]
				}
				progress = true
			}
			m.queues[c] = kept
		}
	}

	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Mempool) lenLocked() int {
	return len(m.queues[ClassNonOrder]) + len(m.queues[ClassCancel]) + len(m.queues[ClassOrder])
}

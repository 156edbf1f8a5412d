package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a committed state transition.
type EventKind string

const (
	EventDeposit  EventKind = "Deposit"
	EventWithdraw EventKind = "Withdraw"
	EventOrder    EventKind = "Order"
	EventCancel   EventKind = "Cancel"
	EventTrade    EventKind = "Trade"
)

// BalanceChange is the payload of Deposit and Withdraw events. Balance is
// the account's custody balance after the change.
type BalanceChange struct {
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"`
}

// Trade is the payload of a Trade event.
type Trade struct {
	OrderID       uint64         `json:"orderId"`
	Filler        common.Address `json:"filler"`
	AssetWanted   common.Address `json:"assetWanted"`
	AmountWanted  *big.Int       `json:"amountWanted"`
	AssetOffered  common.Address `json:"assetOffered"`
	AmountOffered *big.Int       `json:"amountOffered"`
	Creator       common.Address `json:"creator"`
	Timestamp     int64          `json:"timestamp"`
}

// Event is one entry of the append-only log. Exactly one payload is set:
// Transfer for Deposit/Withdraw, Order for Order/Cancel, Trade for Trade.
// A Cancel carries the original order tuple with Timestamp set to the
// cancellation time.
type Event struct {
	Seq      uint64         `json:"seq"`
	Kind     EventKind      `json:"kind"`
	Transfer *BalanceChange `json:"transfer,omitempty"`
	Order    *Order         `json:"order,omitempty"`
	Trade    *Trade         `json:"trade,omitempty"`
}

// Accounts returns the accounts an event concerns, used for routing to
// per-account subscribers.
func (e Event) Accounts() []common.Address {
	switch {
	case e.Transfer != nil:
		return []common.Address{e.Transfer.Account}
	case e.Order != nil:
		return []common.Address{e.Order.Creator}
	case e.Trade != nil:
		return []common.Address{e.Trade.Creator, e.Trade.Filler}
	}
	return nil
}

// EventLog is append-only. Sequence numbers start at 1 and have no gaps.
type EventLog struct {
	events []Event
	next   uint64
}

func newEventLog() *EventLog {
	return &EventLog{next: 1}
}

func (l *EventLog) append(ev Event) Event {
	ev.Seq = l.next
	l.next++
	l.events = append(l.events, ev)
	return ev
}

// Len returns the number of events appended so far.
func (l *EventLog) Len() int { return len(l.events) }

// LastSeq returns the sequence number of the newest event, 0 if empty.
func (l *EventLog) LastSeq() uint64 { return l.next - 1 }

// Since returns the events with Seq > seq, oldest first.
func (l *EventLog) Since(seq uint64) []Event {
	if len(l.events) == 0 {
		return nil
	}
	first, last := l.events[0].Seq, l.events[len(l.events)-1].Seq
	if seq >= last {
		return nil
	}
	if seq < first {
		seq = first - 1
	}
	idx := int(seq - first + 1)
	out := make([]Event, len(l.events)-idx)
	copy(out, l.events[idx:])
	return out
}

// All returns a copy of every event.
func (l *EventLog) All() []Event {
	return l.Since(0)
}

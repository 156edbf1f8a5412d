package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus is the derived lifecycle state of an order.
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderCancelled
	OrderFilled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderCancelled:
		return "cancelled"
	case OrderFilled:
		return "filled"
	default:
		return "unknown"
	}
}

// ParseOrderStatus is the inverse of OrderStatus.String.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch s {
	case "open":
		return OrderOpen, nil
	case "cancelled":
		return OrderCancelled, nil
	case "filled":
		return OrderFilled, nil
	default:
		return 0, fmt.Errorf("unknown order status %q", s)
	}
}

// Order is a standing offer to give AmountOffered of AssetOffered in exchange
// for AmountWanted of AssetWanted. Records never change after creation.
type Order struct {
	ID            uint64         `json:"id"`
	Creator       common.Address `json:"creator"`
	AssetWanted   common.Address `json:"assetWanted"`
	AmountWanted  *big.Int       `json:"amountWanted"`
	AssetOffered  common.Address `json:"assetOffered"`
	AmountOffered *big.Int       `json:"amountOffered"`
	Timestamp     int64          `json:"timestamp"` // unix seconds
}

func (o Order) clone() Order {
	o.AmountWanted = new(big.Int).Set(o.AmountWanted)
	o.AmountOffered = new(big.Int).Set(o.AmountOffered)
	return o
}

// orderStore keeps orders in a dense slice: the order with id n lives at
// index n-1. The cancelled and filled flags only ever go false -> true.
type orderStore struct {
	orders    []Order
	cancelled map[uint64]bool
	filled    map[uint64]bool
}

func newOrderStore() *orderStore {
	return &orderStore{
		cancelled: make(map[uint64]bool),
		filled:    make(map[uint64]bool),
	}
}

func (s *orderStore) count() uint64 { return uint64(len(s.orders)) }

// allocate stores the record under the next id. Validation belongs to the
// Exchange.
func (s *orderStore) allocate(creator, assetWanted common.Address, amountWanted *big.Int,
	assetOffered common.Address, amountOffered *big.Int, timestamp int64) uint64 {
	id := s.count() + 1
	s.orders = append(s.orders, Order{
		ID:            id,
		Creator:       creator,
		AssetWanted:   assetWanted,
		AmountWanted:  new(big.Int).Set(amountWanted),
		AssetOffered:  assetOffered,
		AmountOffered: new(big.Int).Set(amountOffered),
		Timestamp:     timestamp,
	})
	return id
}

func (s *orderStore) get(id uint64) (Order, error) {
	if id == 0 || id > s.count() {
		return Order{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	return s.orders[id-1].clone(), nil
}

func (s *orderStore) status(id uint64) OrderStatus {
	switch {
	case s.cancelled[id]:
		return OrderCancelled
	case s.filled[id]:
		return OrderFilled
	default:
		return OrderOpen
	}
}

func (s *orderStore) isOpen(id uint64) bool {
	return !s.cancelled[id] && !s.filled[id]
}

func (s *orderStore) markCancelled(id uint64) error {
	if !s.isOpen(id) {
		return fmt.Errorf("%w: %d", ErrAlreadyFinalized, id)
	}
	s.cancelled[id] = true
	return nil
}

func (s *orderStore) markFilled(id uint64) error {
	if !s.isOpen(id) {
		return fmt.Errorf("%w: %d", ErrAlreadyFinalized, id)
	}
	s.filled[id] = true
	return nil
}

// unmarkFilled reverts markFilled when settlement fails after the latch.
func (s *orderStore) unmarkFilled(id uint64) {
	delete(s.filled, id)
}

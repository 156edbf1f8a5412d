package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/custodex/pkg/token"
)

// AssetResolver maps an asset address to the token contract deployed there.
type AssetResolver interface {
	Resolve(asset common.Address) (token.Interface, bool)
}

// Clock supplies the timestamp stamped on orders and events.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config fixes the exchange parameters at construction. There is no setter
// for the fee account or percentage.
type Config struct {
	// Address is the exchange's own account on every token. Deposits are
	// pulled into it and withdrawals paid out of it.
	Address    common.Address
	FeeAccount common.Address
	FeePercent uint64
	Assets     AssetResolver
	Clock      Clock
}

// Exchange custodies token balances, records limit orders and settles fills.
//
// Exchange holds no lock. Callers must serialize every call, including
// reads made while a write is in progress.
type Exchange struct {
	address    common.Address
	feeAccount common.Address
	feePercent *big.Int
	assets     AssetResolver
	clock      Clock

	custody *custody
	orders  *orderStore
	log     *EventLog
}

// New creates an empty exchange.
func New(cfg Config) *Exchange {
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Exchange{
		address:    cfg.Address,
		feeAccount: cfg.FeeAccount,
		feePercent: new(big.Int).SetUint64(cfg.FeePercent),
		assets:     cfg.Assets,
		clock:      clock,
		custody:    newCustody(),
		orders:     newOrderStore(),
		log:        newEventLog(),
	}
}

func (e *Exchange) Address() common.Address    { return e.address }
func (e *Exchange) FeeAccount() common.Address { return e.feeAccount }
func (e *Exchange) FeePercent() uint64         { return e.feePercent.Uint64() }

// Events exposes the append-only event log for reading.
func (e *Exchange) Events() *EventLog { return e.log }

func (e *Exchange) now() int64 { return e.clock.Now().Unix() }

func (e *Exchange) resolve(asset common.Address) (token.Interface, error) {
	if e.assets == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	tok, ok := e.assets.Resolve(asset)
	if !ok || tok == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return tok, nil
}

func positive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// Fee returns the fee charged to a filler for an order wanting amountWanted.
// Division truncates toward zero.
func (e *Exchange) Fee(amountWanted *big.Int) *big.Int {
	fee := new(big.Int).Mul(amountWanted, e.feePercent)
	return fee.Quo(fee, big.NewInt(100))
}

// ---- custody ----

// BalanceOf returns the custodied balance of account in asset.
func (e *Exchange) BalanceOf(asset, account common.Address) *big.Int {
	return e.custody.balanceOf(asset, account)
}

// Tokens is BalanceOf under its public-mapping name.
func (e *Exchange) Tokens(asset, account common.Address) *big.Int {
	return e.BalanceOf(asset, account)
}

// TotalCustodied sums every account's balance of asset.
func (e *Exchange) TotalCustodied(asset common.Address) *big.Int {
	return e.custody.total(asset)
}

// Deposit pulls amount of asset from account into custody. The account
// must have approved the exchange for at least amount beforehand. The pull
// completes before the balance is credited, so a token calling back into
// the exchange mid-pull cannot spend the incoming funds.
func (e *Exchange) Deposit(asset, account common.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}
	tok, err := e.resolve(asset)
	if err != nil {
		return err
	}
	if allowed := tok.Allowance(account, e.address); allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowed %s, need %s", ErrInsufficientAllowance, allowed, amount)
	}
	if err := tok.TransferFrom(e.address, account, e.address, amount); err != nil {
		if errors.Is(err, token.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
		}
		return fmt.Errorf("%w: %w", ErrTransferRejected, err)
	}

	bal := e.custody.credit(asset, account, amount)
	e.log.append(Event{
		Kind: EventDeposit,
		Transfer: &BalanceChange{
			Asset:   asset,
			Account: account,
			Amount:  new(big.Int).Set(amount),
			Balance: bal,
		},
	})
	return nil
}

// Withdraw pays amount of asset out of account's custodied balance. The
// balance is reduced before the token transfer and restored if the
// transfer fails.
func (e *Exchange) Withdraw(asset, account common.Address, amount *big.Int) error {
	if !positive(amount) {
		return ErrInvalidAmount
	}
	if account == (common.Address{}) {
		return ErrInvalidRecipient
	}
	if have := e.custody.balanceOf(asset, account); have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amount)
	}
	tok, err := e.resolve(asset)
	if err != nil {
		return err
	}

	bal := e.custody.debit(asset, account, amount)
	if err := tok.Transfer(e.address, account, amount); err != nil {
		e.custody.credit(asset, account, amount)
		return fmt.Errorf("%w: %w", ErrTransferRejected, err)
	}

	e.log.append(Event{
		Kind: EventWithdraw,
		Transfer: &BalanceChange{
			Asset:   asset,
			Account: account,
			Amount:  new(big.Int).Set(amount),
			Balance: bal,
		},
	})
	return nil
}

// ---- orders ----

// OrderCount returns the number of orders ever created. It is also the id
// of the newest order.
func (e *Exchange) OrderCount() uint64 { return e.orders.count() }

// GetOrder returns a copy of order id.
func (e *Exchange) GetOrder(id uint64) (Order, error) { return e.orders.get(id) }

func (e *Exchange) IsCancelled(id uint64) bool { return e.orders.cancelled[id] }
func (e *Exchange) IsFilled(id uint64) bool    { return e.orders.filled[id] }

// OrderStatus reports whether order id is open, cancelled or filled.
func (e *Exchange) OrderStatus(id uint64) (OrderStatus, error) {
	if _, err := e.orders.get(id); err != nil {
		return 0, err
	}
	return e.orders.status(id), nil
}

// CreateOrder records a standing offer by creator. The creator must hold
// amountOffered at creation time, but nothing is reserved: the same balance
// may back several orders and is only checked again at fill time.
func (e *Exchange) CreateOrder(creator, assetWanted common.Address, amountWanted *big.Int,
	assetOffered common.Address, amountOffered *big.Int) (uint64, error) {
	if !positive(amountWanted) || !positive(amountOffered) {
		return 0, ErrInvalidAmount
	}
	if have := e.custody.balanceOf(assetOffered, creator); have.Cmp(amountOffered) < 0 {
		return 0, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amountOffered)
	}

	id := e.orders.allocate(creator, assetWanted, amountWanted, assetOffered, amountOffered, e.now())
	o, _ := e.orders.get(id)
	e.log.append(Event{Kind: EventOrder, Order: &o})
	return id, nil
}

// CancelOrder lets the creator withdraw an open order. Ownership is checked
// before status, so a stranger gets ErrUnauthorized even for a finalized
// order.
func (e *Exchange) CancelOrder(id uint64, caller common.Address) error {
	o, err := e.orders.get(id)
	if err != nil {
		return err
	}
	if o.Creator != caller {
		return fmt.Errorf("%w: order %d", ErrUnauthorized, id)
	}
	if err := e.orders.markCancelled(id); err != nil {
		return err
	}

	o.Timestamp = e.now()
	e.log.append(Event{Kind: EventCancel, Order: &o})
	return nil
}

// FillOrder settles order id against filler in full. The filler pays
// amountWanted to the creator plus the fee to the fee account, and receives
// amountOffered from the creator. All four balance changes land together
// or not at all.
func (e *Exchange) FillOrder(id uint64, filler common.Address) error {
	o, err := e.orders.get(id)
	if err != nil {
		return err
	}
	if !e.orders.isOpen(id) {
		return fmt.Errorf("%w: %d", ErrAlreadyFinalized, id)
	}

	fee := e.Fee(o.AmountWanted)
	cost := new(big.Int).Add(o.AmountWanted, fee)
	if have := e.custody.balanceOf(o.AssetWanted, filler); have.Cmp(cost) < 0 {
		return fmt.Errorf("%w: filler has %s, needs %s", ErrInsufficientBalance, have, cost)
	}
	if have := e.custody.balanceOf(o.AssetOffered, o.Creator); have.Cmp(o.AmountOffered) < 0 {
		return fmt.Errorf("%w: creator has %s, needs %s", ErrInsufficientBalance, have, o.AmountOffered)
	}

	if err := e.orders.markFilled(id); err != nil {
		return err
	}
	err = e.custody.apply([]delta{
		{o.AssetWanted, filler, new(big.Int).Neg(cost)},
		{o.AssetWanted, o.Creator, o.AmountWanted},
		{o.AssetWanted, e.feeAccount, fee},
		{o.AssetOffered, o.Creator, new(big.Int).Neg(o.AmountOffered)},
		{o.AssetOffered, filler, o.AmountOffered},
	})
	if err != nil {
		e.orders.unmarkFilled(id)
		return fmt.Errorf("settle order %d: %w", id, err)
	}

	e.log.append(Event{
		Kind: EventTrade,
		Trade: &Trade{
			OrderID:       id,
			Filler:        filler,
			AssetWanted:   o.AssetWanted,
			AmountWanted:  o.AmountWanted,
			AssetOffered:  o.AssetOffered,
			AmountOffered: o.AmountOffered,
			Creator:       o.Creator,
			Timestamp:     e.now(),
		},
	})
	return nil
}

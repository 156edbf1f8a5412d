package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultDecimals matches the ether-style 18 decimal tokens deployed at genesis.
const DefaultDecimals = 18

var (
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrInvalidSpender        = errors.New("invalid spender")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// EventKind names the events a token emits.
type EventKind string

const (
	EventTransfer EventKind = "Transfer"
	EventApproval EventKind = "Approval"
)

// Event is emitted on every successful transfer or approval.
// For approvals From is the owner and To the spender.
type Event struct {
	Kind   EventKind      `json:"kind"`
	Token  common.Address `json:"token"`
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

// Interface is the surface a custodian needs from a fungible token. The
// caller argument carries the identity the call is made as.
type Interface interface {
	Address() common.Address
	BalanceOf(account common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	Transfer(caller, to common.Address, amount *big.Int) error
	Approve(caller, spender common.Address, amount *big.Int) error
	TransferFrom(caller, from, to common.Address, amount *big.Int) error
}

var _ Interface = (*Token)(nil)

// Hook runs after a transfer has moved balances. It models a recipient
// contract that executes code on receipt and may call back into its caller.
type Hook func(from, to common.Address, amount *big.Int)

// Token is an in-memory fungible token with standard transfer, approve and
// allowance semantics. It is not safe for concurrent use; the hosting
// runtime serializes access.
type Token struct {
	address     common.Address
	name        string
	symbol      string
	decimals    uint8
	totalSupply *big.Int

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int

	hook     Hook
	observer func(Event)
}

// New deploys a token at address and mints the whole supply to deployer.
func New(address common.Address, name, symbol string, supply *big.Int, deployer common.Address) *Token {
	t := &Token{
		address:     address,
		name:        name,
		symbol:      symbol,
		decimals:    DefaultDecimals,
		totalSupply: new(big.Int).Set(supply),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
	}
	t.balances[deployer] = new(big.Int).Set(supply)
	return t
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

func (t *Token) TotalSupply() *big.Int { return new(big.Int).Set(t.totalSupply) }

// SetHook installs a post-transfer hook. Passing nil removes it.
func (t *Token) SetHook(h Hook) { t.hook = h }

// Observe registers fn to receive every emitted event.
func (t *Token) Observe(fn func(Event)) { t.observer = fn }

// BalanceOf returns the balance of account, zero if it never held tokens.
func (t *Token) BalanceOf(account common.Address) *big.Int {
	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns how much spender may still pull from owner.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Transfer moves amount from the caller to to.
func (t *Token) Transfer(caller, to common.Address, amount *big.Int) error {
	if err := t.move(caller, to, amount); err != nil {
		return err
	}
	t.afterTransfer(caller, to, amount)
	return nil
}

// Approve sets the amount spender may pull from the caller.
func (t *Token) Approve(caller, spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return ErrInvalidSpender
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	t.setAllowance(caller, spender, new(big.Int).Set(amount))
	t.emit(Event{Kind: EventApproval, Token: t.address, From: caller, To: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferFrom lets the caller pull amount from from to to, consuming
// allowance granted by from.
func (t *Token) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	allowed := t.Allowance(from, caller)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowed %s, need %s", ErrInsufficientAllowance, allowed, amount)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	t.setAllowance(from, caller, allowed.Sub(allowed, amount))
	t.afterTransfer(from, to, amount)
	return nil
}

func (t *Token) setAllowance(owner, spender common.Address, amount *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = amount
}

func (t *Token) move(from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrInvalidRecipient
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	have := t.BalanceOf(from)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, have, amount)
	}
	t.balances[from] = have.Sub(have, amount)
	t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
	return nil
}

func (t *Token) afterTransfer(from, to common.Address, amount *big.Int) {
	t.emit(Event{Kind: EventTransfer, Token: t.address, From: from, To: to, Amount: new(big.Int).Set(amount)})
	if t.hook != nil {
		t.hook(from, to, new(big.Int).Set(amount))
	}
}

func (t *Token) emit(ev Event) {
	if t.observer != nil {
		t.observer(ev)
	}
}

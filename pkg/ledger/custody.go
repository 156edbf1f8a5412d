package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type balanceKey struct {
	asset   common.Address
	account common.Address
}

// custody is the (asset, account) -> amount mapping. Missing entries read as
// zero. Only the Exchange mutates it.
type custody struct {
	balances map[balanceKey]*big.Int
}

func newCustody() *custody {
	return &custody{balances: make(map[balanceKey]*big.Int)}
}

func (c *custody) balanceOf(asset, account common.Address) *big.Int {
	if b, ok := c.balances[balanceKey{asset, account}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (c *custody) set(asset, account common.Address, amount *big.Int) {
	k := balanceKey{asset, account}
	if amount.Sign() == 0 {
		delete(c.balances, k)
		return
	}
	c.balances[k] = amount
}

func (c *custody) credit(asset, account common.Address, amount *big.Int) *big.Int {
	bal := c.balanceOf(asset, account)
	bal.Add(bal, amount)
	c.set(asset, account, bal)
	return new(big.Int).Set(bal)
}

// debit assumes the caller has checked the balance covers amount.
func (c *custody) debit(asset, account common.Address, amount *big.Int) *big.Int {
	bal := c.balanceOf(asset, account)
	bal.Sub(bal, amount)
	c.set(asset, account, bal)
	return new(big.Int).Set(bal)
}

// total sums the recorded balances of asset over all accounts.
func (c *custody) total(asset common.Address) *big.Int {
	sum := new(big.Int)
	for k, v := range c.balances {
		if k.asset == asset {
			sum.Add(sum, v)
		}
	}
	return sum
}

// delta is one signed balance change inside a settlement.
type delta struct {
	asset   common.Address
	account common.Address
	amount  *big.Int
}

// apply stages every delta, rejects the whole set if any resulting balance
// would go negative, and only then writes. Deltas touching the same key are
// netted, so a set is all-or-nothing regardless of account aliasing.
func (c *custody) apply(deltas []delta) error {
	staged := make(map[balanceKey]*big.Int, len(deltas))
	order := make([]balanceKey, 0, len(deltas))
	for _, d := range deltas {
		k := balanceKey{d.asset, d.account}
		cur, ok := staged[k]
		if !ok {
			cur = c.balanceOf(d.asset, d.account)
			staged[k] = cur
			order = append(order, k)
		}
		cur.Add(cur, d.amount)
	}
	for _, k := range order {
		if staged[k].Sign() < 0 {
			return ErrInsufficientBalance
		}
	}
	for _, k := range order {
		c.set(k.asset, k.account, staged[k])
	}
	return nil
}

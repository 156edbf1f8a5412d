package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State is the persisted form of a token contract.
type State struct {
	Address     common.Address                                 `json:"address"`
	Name        string                                         `json:"name"`
	Symbol      string                                         `json:"symbol"`
	Decimals    uint8                                          `json:"decimals"`
	TotalSupply *big.Int                                       `json:"totalSupply"`
	Balances    map[common.Address]*big.Int                    `json:"balances"`
	Allowances  map[common.Address]map[common.Address]*big.Int `json:"allowances"`
}

// Snapshot returns a deep copy of the token state.
func (t *Token) Snapshot() State {
	st := State{
		Address:     t.address,
		Name:        t.name,
		Symbol:      t.symbol,
		Decimals:    t.decimals,
		TotalSupply: new(big.Int).Set(t.totalSupply),
		Balances:    make(map[common.Address]*big.Int, len(t.balances)),
		Allowances:  make(map[common.Address]map[common.Address]*big.Int, len(t.allowances)),
	}
	for addr, bal := range t.balances {
		if bal.Sign() == 0 {
			continue
		}
		st.Balances[addr] = new(big.Int).Set(bal)
	}
	for owner, spenders := range t.allowances {
		m := make(map[common.Address]*big.Int, len(spenders))
		for spender, amt := range spenders {
			m[spender] = new(big.Int).Set(amt)
		}
		st.Allowances[owner] = m
	}
	return st
}

// FromState rebuilds a token from a snapshot.
func FromState(st State) *Token {
	t := &Token{
		address:     st.Address,
		name:        st.Name,
		symbol:      st.Symbol,
		decimals:    st.Decimals,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int, len(st.Balances)),
		allowances:  make(map[common.Address]map[common.Address]*big.Int, len(st.Allowances)),
	}
	if st.TotalSupply != nil {
		t.totalSupply.Set(st.TotalSupply)
	}
	for addr, bal := range st.Balances {
		t.balances[addr] = new(big.Int).Set(bal)
	}
	for owner, spenders := range st.Allowances {
		for spender, amt := range spenders {
			t.setAllowance(owner, spender, new(big.Int).Set(amt))
		}
	}
	return t
}

package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/uhyunpark/custodex/pkg/token"
)

// GenesisToken is a token deployed before the first block.
type GenesisToken struct {
	Name   string
	Symbol string
}

// DefaultTokens matches the local deployment: three 18 decimal tokens.
var DefaultTokens = []GenesisToken{
	{Name: "Uniron", Symbol: "URON"},
	{Name: "mETH", Symbol: "mETH"},
	{Name: "mDAI", Symbol: "mDAI"},
}

// Genesis describes the initial deployment. Contract addresses follow the
// CREATE rule from the deployer: tokens take nonces 0..n-1 in order and the
// exchange takes nonce n.
type Genesis struct {
	Deployer common.Address
	Supply   *big.Int // per token, base units
	Tokens   []GenesisToken
}

// ExchangeAddress is where the exchange is deployed for g.
func (g Genesis) ExchangeAddress() common.Address {
	return crypto.CreateAddress(g.Deployer, uint64(len(g.Tokens)))
}

// TokenAddress is where the i-th genesis token is deployed.
func (g Genesis) TokenAddress(i int) common.Address {
	return crypto.CreateAddress(g.Deployer, uint64(i))
}

func (g Genesis) deployTokens() (*token.Registry, error) {
	if g.Supply == nil || g.Supply.Sign() <= 0 {
		return nil, fmt.Errorf("genesis supply must be positive")
	}
	reg := token.NewRegistry()
	for i, gt := range g.Tokens {
		t := token.New(g.TokenAddress(i), gt.Name, gt.Symbol, g.Supply, g.Deployer)
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("deploy %s: %w", gt.Symbol, err)
		}
	}
	return reg, nil
}

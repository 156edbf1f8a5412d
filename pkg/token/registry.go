package token

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Registry holds the token contracts deployed on the node, keyed by address.
type Registry struct {
	tokens map[common.Address]*Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]*Token)}
}

// Register adds a token. Addresses must be unique.
func (r *Registry) Register(t *Token) error {
	if t == nil {
		return fmt.Errorf("cannot register nil token")
	}
	if _, exists := r.tokens[t.Address()]; exists {
		return fmt.Errorf("token %s already registered", t.Address().Hex())
	}
	r.tokens[t.Address()] = t
	return nil
}

// Get returns the token deployed at addr.
func (r *Registry) Get(addr common.Address) (*Token, bool) {
	t, ok := r.tokens[addr]
	return t, ok
}

// Resolve is Get narrowed to Interface. A miss returns an untyped nil.
func (r *Registry) Resolve(addr common.Address) (Interface, bool) {
	t, ok := r.tokens[addr]
	if !ok {
		return nil, false
	}
	return t, true
}

// BySymbol finds a token by its ticker symbol.
func (r *Registry) BySymbol(symbol string) (*Token, bool) {
	for _, t := range r.tokens {
		if t.Symbol() == symbol {
			return t, true
		}
	}
	return nil, false
}

// List returns all tokens sorted by address for deterministic iteration.
func (r *Registry) List() []*Token {
	out := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address().Cmp(out[j].Address()) < 0
	})
	return out
}

// Count returns the number of registered tokens.
func (r *Registry) Count() int { return len(r.tokens) }

// Snapshot returns the state of every token in address order.
func (r *Registry) Snapshot() []State {
	list := r.List()
	out := make([]State, len(list))
	for i, t := range list {
		out[i] = t.Snapshot()
	}
	return out
}

// RestoreRegistry rebuilds a registry from snapshots.
func RestoreRegistry(states []State) (*Registry, error) {
	r := NewRegistry()
	for _, st := range states {
		if err := r.Register(FromState(st)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

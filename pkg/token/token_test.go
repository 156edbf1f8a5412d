package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	deployer = common.HexToAddress("0xD0000000000000000000000000000000000000D0")
	receiver = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	spender  = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	tokenAt  = common.HexToAddress("0x7000000000000000000000000000000000000001")
)

func newTestToken(t *testing.T) *Token {
	t.Helper()
	return New(tokenAt, "Uniron", "URON", Ether("1000000"), deployer)
}

func TestDeployment(t *testing.T) {
	tok := newTestToken(t)

	if tok.Name() != "Uniron" {
		t.Errorf("name = %q, want Uniron", tok.Name())
	}
	if tok.Symbol() != "URON" {
		t.Errorf("symbol = %q, want URON", tok.Symbol())
	}
	if tok.Decimals() != 18 {
		t.Errorf("decimals = %d, want 18", tok.Decimals())
	}
	if tok.TotalSupply().Cmp(Ether("1000000")) != 0 {
		t.Errorf("total supply = %s, want 1e24", tok.TotalSupply())
	}
	if tok.BalanceOf(deployer).Cmp(Ether("1000000")) != 0 {
		t.Errorf("deployer balance = %s, want full supply", tok.BalanceOf(deployer))
	}
}

func TestTransfer(t *testing.T) {
	tok := newTestToken(t)

	var events []Event
	tok.Observe(func(ev Event) { events = append(events, ev) })

	if err := tok.Transfer(deployer, receiver, Ether("100")); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := tok.BalanceOf(deployer); got.Cmp(Ether("999900")) != 0 {
		t.Errorf("deployer balance = %s, want 999900 ether", got)
	}
	if got := tok.BalanceOf(receiver); got.Cmp(Ether("100")) != 0 {
		t.Errorf("receiver balance = %s, want 100 ether", got)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Kind != EventTransfer || ev.From != deployer || ev.To != receiver || ev.Amount.Cmp(Ether("100")) != 0 {
		t.Errorf("unexpected transfer event: %+v", ev)
	}
}

func TestTransferFailures(t *testing.T) {
	tok := newTestToken(t)

	tests := []struct {
		name    string
		to      common.Address
		amount  *big.Int
		wantErr error
	}{
		{"insufficient balance", receiver, Ether("100000000"), ErrInsufficientBalance},
		{"zero recipient", common.Address{}, Ether("100"), ErrInvalidRecipient},
		{"negative amount", receiver, big.NewInt(-1), ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tok.Transfer(deployer, tt.to, tt.amount)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tok.BalanceOf(deployer).Cmp(Ether("1000000")) != 0 {
				t.Errorf("failed transfer mutated deployer balance")
			}
		})
	}
}

func TestApprove(t *testing.T) {
	tok := newTestToken(t)

	var events []Event
	tok.Observe(func(ev Event) { events = append(events, ev) })

	if err := tok.Approve(deployer, spender, Ether("100")); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if got := tok.Allowance(deployer, spender); got.Cmp(Ether("100")) != 0 {
		t.Errorf("allowance = %s, want 100 ether", got)
	}
	if len(events) != 1 || events[0].Kind != EventApproval || events[0].To != spender {
		t.Errorf("unexpected approval events: %+v", events)
	}

	if err := tok.Approve(deployer, common.Address{}, Ether("100")); !errors.Is(err, ErrInvalidSpender) {
		t.Errorf("zero spender err = %v, want ErrInvalidSpender", err)
	}
}

func TestTransferFrom(t *testing.T) {
	tok := newTestToken(t)
	if err := tok.Approve(deployer, spender, Ether("100")); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	if err := tok.TransferFrom(spender, deployer, receiver, Ether("60")); err != nil {
		t.Fatalf("transferFrom failed: %v", err)
	}
	if got := tok.Allowance(deployer, spender); got.Cmp(Ether("40")) != 0 {
		t.Errorf("remaining allowance = %s, want 40 ether", got)
	}
	if got := tok.BalanceOf(receiver); got.Cmp(Ether("60")) != 0 {
		t.Errorf("receiver balance = %s, want 60 ether", got)
	}

	err := tok.TransferFrom(spender, deployer, receiver, Ether("41"))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}
	if got := tok.Allowance(deployer, spender); got.Cmp(Ether("40")) != 0 {
		t.Errorf("failed pull consumed allowance: %s", got)
	}

	// No approval at all
	if err := tok.TransferFrom(receiver, deployer, receiver, Ether("1")); !errors.Is(err, ErrInsufficientAllowance) {
		t.Errorf("err = %v, want ErrInsufficientAllowance", err)
	}
}

func TestHookRunsAfterBalancesMove(t *testing.T) {
	tok := newTestToken(t)

	var seen *big.Int
	tok.SetHook(func(from, to common.Address, amount *big.Int) {
		seen = tok.BalanceOf(to)
	})

	if err := tok.Transfer(deployer, receiver, Ether("5")); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if seen == nil || seen.Cmp(Ether("5")) != 0 {
		t.Errorf("hook observed balance %v, want 5 ether", seen)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	tok := newTestToken(t)
	tok.Transfer(deployer, receiver, Ether("10"))
	tok.Approve(receiver, spender, Ether("3"))

	restored := FromState(tok.Snapshot())

	if restored.Symbol() != "URON" || restored.Address() != tokenAt {
		t.Errorf("metadata not restored: %s %s", restored.Symbol(), restored.Address().Hex())
	}
	if restored.BalanceOf(receiver).Cmp(Ether("10")) != 0 {
		t.Errorf("receiver balance not restored: %s", restored.BalanceOf(receiver))
	}
	if restored.Allowance(receiver, spender).Cmp(Ether("3")) != 0 {
		t.Errorf("allowance not restored: %s", restored.Allowance(receiver, spender))
	}

	// Snapshot must not alias live balances
	restored.Transfer(receiver, spender, Ether("1"))
	if tok.BalanceOf(receiver).Cmp(Ether("10")) != 0 {
		t.Errorf("restored token shares state with original")
	}
}

func TestUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.9", "900000000000000000"},
		{"0.1", "100000000000000000"},
		{"1000000", "1000000000000000000000000"},
	}
	for _, tt := range tests {
		got, err := Units(tt.in, 18)
		if err != nil {
			t.Fatalf("Units(%q) error: %v", tt.in, err)
		}
		if got.String() != tt.want {
			t.Errorf("Units(%q) = %s, want %s", tt.in, got, tt.want)
		}
		if back := Format(got, 18); back != tt.in {
			t.Errorf("Format(%s) = %q, want %q", got, back, tt.in)
		}
	}

	if _, err := Units("0.0000000000000000001", 18); err == nil {
		t.Error("expected error for sub-unit precision")
	}
	if _, err := Units("abc", 18); err == nil {
		t.Error("expected error for non-numeric amount")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := New(common.HexToAddress("0x02"), "B", "B", Ether("1"), deployer)
	b := New(common.HexToAddress("0x01"), "A", "A", Ether("1"), deployer)

	if err := r.Register(a); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(b); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(a); err == nil {
		t.Error("expected duplicate registration to fail")
	}

	list := r.List()
	if len(list) != 2 || list[0] != b || list[1] != a {
		t.Errorf("list not sorted by address")
	}
	if got, ok := r.BySymbol("B"); !ok || got != a {
		t.Errorf("BySymbol(B) failed")
	}
	if _, ok := r.Get(common.HexToAddress("0x03")); ok {
		t.Error("expected miss for unknown token")
	}
}

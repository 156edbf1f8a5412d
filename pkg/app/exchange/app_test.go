package exchange

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/ledger"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/token"
	"github.com/uhyunpark/custodex/pkg/transaction"
)

const testChainID = 1337

var feeAccount = common.HexToAddress("0x8626f6940E2eb28930eFb4CeF49B2d1F2C9C1199")

type harness struct {
	t        *testing.T
	app      *App
	eip      *crypto.EIP712Signer
	deployer *crypto.Signer
	user1    *crypto.Signer
	user2    *crypto.Signer
	nonces   map[common.Address]uint64
	height   int64
}

func newKey(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return s
}

func newHarness(t *testing.T, store storage.Store) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		deployer: newKey(t),
		user1:    newKey(t),
		user2:    newKey(t),
		nonces:   make(map[common.Address]uint64),
	}
	h.app = h.open(store)
	return h
}

func (h *harness) config(store storage.Store) Config {
	return Config{
		ChainID:    testChainID,
		FeeAccount: feeAccount,
		FeePercent: 10,
		Genesis: Genesis{
			Deployer: h.deployer.Address(),
			Supply:   token.Ether("1000000"),
		},
		MempoolLimit: 100,
		Store:        store,
	}
}

func (h *harness) open(store storage.Store) *App {
	h.t.Helper()
	app, err := New(h.config(store))
	if err != nil {
		h.t.Fatalf("failed to create app: %v", err)
	}
	h.eip = crypto.NewEIP712Signer(crypto.EIP712Domain{
		Name:              "Custodex",
		Version:           "1",
		ChainID:           big.NewInt(testChainID),
		VerifyingContract: app.Info().Address,
	})
	h.height = app.Height()
	return app
}

func (h *harness) uron() common.Address { return h.app.genesis.TokenAddress(0) }
func (h *harness) meth() common.Address { return h.app.genesis.TokenAddress(1) }

// sign assigns the signer's next nonce to c and returns the raw tx.
func (h *harness) sign(s *crypto.Signer, c *transaction.Call) []byte {
	h.t.Helper()
	h.nonces[s.Address()]++
	c.Nonce = h.nonces[s.Address()]
	tx, err := transaction.Sign(h.eip, s, c)
	if err != nil {
		h.t.Fatalf("failed to sign %s: %v", c.Type, err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		h.t.Fatalf("failed to serialize: %v", err)
	}
	return raw
}

func (h *harness) submit(s *crypto.Signer, c *transaction.Call) []byte {
	h.t.Helper()
	raw := h.sign(s, c)
	if _, _, err := h.app.CheckTx(raw); err != nil {
		h.t.Fatalf("CheckTx(%s) failed: %v", c.Type, err)
	}
	return raw
}

// commit cuts a block from the mempool and finalizes it.
func (h *harness) commit() []abci.TxResult {
	h.t.Helper()
	return h.finalize(h.app.PrepareProposal(abci.RequestPrepareProposal{Height: h.height + 1}).Txs)
}

func (h *harness) finalize(txs [][]byte) []abci.TxResult {
	h.t.Helper()
	h.height++
	res, err := h.app.FinalizeBlock(abci.RequestFinalizeBlock{
		Height:    h.height,
		Timestamp: 1_700_000_000 + h.height,
		Txs:       txs,
	})
	if err != nil {
		h.t.Fatalf("FinalizeBlock(%d) failed: %v", h.height, err)
	}
	return res.TxResults
}

func requireOK(t *testing.T, results []abci.TxResult) {
	t.Helper()
	for i, r := range results {
		if r.Code != CodeOK {
			t.Fatalf("tx %d rejected: code %d, %s", i, r.Code, r.Log)
		}
	}
}

// fund moves wallet tokens to both users and deposits them.
func (h *harness) fund() {
	h.t.Helper()
	ex := h.app.Info().Address
	h.submit(h.deployer, transaction.NewTransfer(h.deployer.Address(), h.uron(), h.user1.Address(), token.Ether("100"), 0))
	h.submit(h.deployer, transaction.NewTransfer(h.deployer.Address(), h.meth(), h.user2.Address(), token.Ether("100"), 0))
	h.submit(h.user1, transaction.NewApprove(h.user1.Address(), h.uron(), ex, token.Ether("100"), 0))
	h.submit(h.user1, transaction.NewDeposit(h.user1.Address(), h.uron(), token.Ether("100"), 0))
	h.submit(h.user2, transaction.NewApprove(h.user2.Address(), h.meth(), ex, token.Ether("100"), 0))
	h.submit(h.user2, transaction.NewDeposit(h.user2.Address(), h.meth(), token.Ether("100"), 0))
	requireOK(h.t, h.commit())
}

func wantAmount(t *testing.T, what string, got *big.Int, want string) {
	t.Helper()
	if got.Cmp(token.Ether(want)) != 0 {
		t.Errorf("%s = %s, want %s ether", what, token.Format(got, 18), want)
	}
}

func TestGenesis(t *testing.T) {
	h := newHarness(t, nil)

	info := h.app.Info()
	if info.FeeAccount != feeAccount || info.FeePercent != 10 || info.ChainID != testChainID {
		t.Errorf("unexpected exchange info: %+v", info)
	}
	if info.Height != 0 || info.OrderCount != 0 {
		t.Errorf("fresh app has height %d, %d orders", info.Height, info.OrderCount)
	}

	tokens := h.app.Tokens()
	if len(tokens) != len(DefaultTokens) {
		t.Fatalf("got %d tokens, want %d", len(tokens), len(DefaultTokens))
	}
	for i, gt := range DefaultTokens {
		tk, ok := h.app.Token(h.app.genesis.TokenAddress(i))
		if !ok {
			t.Fatalf("token %s not deployed", gt.Symbol)
		}
		if tk.Symbol != gt.Symbol || tk.Decimals != 18 {
			t.Errorf("token %d = %s/%d, want %s/18", i, tk.Symbol, tk.Decimals, gt.Symbol)
		}
		bal, _ := h.app.WalletBalance(tk.Address, h.deployer.Address())
		wantAmount(t, gt.Symbol+" deployer balance", bal, "1000000")
	}
	if info.Address == h.app.genesis.TokenAddress(0) {
		t.Error("exchange address collides with a token")
	}
}

func TestTradeFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.fund()

	wantAmount(t, "user1 URON custody", h.app.CustodyBalance(h.uron(), h.user1.Address()), "100")
	wantAmount(t, "user2 mETH custody", h.app.CustodyBalance(h.meth(), h.user2.Address()), "100")
	wallet, _ := h.app.WalletBalance(h.uron(), h.user1.Address())
	wantAmount(t, "user1 URON wallet", wallet, "0")

	// user1 wants 10 mETH for 5 URON
	h.submit(h.user1, transaction.NewCreateOrder(h.user1.Address(), h.meth(), token.Ether("10"), h.uron(), token.Ether("5"), 0))
	res := h.commit()
	requireOK(t, res)
	if res[0].Log != "order 1" {
		t.Errorf("create order log = %q, want order 1", res[0].Log)
	}

	h.submit(h.user2, transaction.NewFillOrder(h.user2.Address(), 1, 0))
	requireOK(t, h.commit())

	wantAmount(t, "user2 mETH", h.app.CustodyBalance(h.meth(), h.user2.Address()), "89")
	wantAmount(t, "user1 mETH", h.app.CustodyBalance(h.meth(), h.user1.Address()), "10")
	wantAmount(t, "fee mETH", h.app.CustodyBalance(h.meth(), feeAccount), "1")
	wantAmount(t, "user1 URON", h.app.CustodyBalance(h.uron(), h.user1.Address()), "95")
	wantAmount(t, "user2 URON", h.app.CustodyBalance(h.uron(), h.user2.Address()), "5")

	o, err := h.app.Order(1)
	if err != nil {
		t.Fatalf("Order(1) failed: %v", err)
	}
	if o.Status != ledger.OrderFilled {
		t.Errorf("order status = %s, want filled", o.Status)
	}
	filled := ledger.OrderFilled
	if got := h.app.Orders(&filled); len(got) != 1 {
		t.Errorf("got %d filled orders, want 1", len(got))
	}

	// user2 withdraws what it bought
	h.submit(h.user2, transaction.NewWithdraw(h.user2.Address(), h.uron(), token.Ether("5"), 0))
	requireOK(t, h.commit())
	wallet, _ = h.app.WalletBalance(h.uron(), h.user2.Address())
	wantAmount(t, "user2 URON wallet", wallet, "5")
	tk, _ := h.app.Token(h.uron())
	wantAmount(t, "URON custodied", tk.Custodied, "95")
}

func TestSameBlockTxsApplyInNonceOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.fund()

	// An order, a withdraw and a cancel of that order land in three
	// different buckets but must apply in the order they were signed.
	h.submit(h.user1, transaction.NewCreateOrder(h.user1.Address(), h.meth(), token.Ether("10"), h.uron(), token.Ether("5"), 0))
	h.submit(h.user1, transaction.NewWithdraw(h.user1.Address(), h.uron(), token.Ether("1"), 0))
	h.submit(h.user1, transaction.NewCancelOrder(h.user1.Address(), 1, 0))
	res := h.commit()

	if len(res) != 3 {
		t.Fatalf("got %d results, want 3", len(res))
	}
	requireOK(t, res)
	if res[0].Log != "order 1" {
		t.Errorf("first tx log = %q, want order 1", res[0].Log)
	}
	o, err := h.app.Order(1)
	if err != nil {
		t.Fatalf("Order(1) failed: %v", err)
	}
	if o.Status != ledger.OrderCancelled {
		t.Errorf("order status = %s, want cancelled", o.Status)
	}
	wantAmount(t, "user1 URON custody", h.app.CustodyBalance(h.uron(), h.user1.Address()), "99")
	if n := h.app.Nonce(h.user1.Address()); n != h.nonces[h.user1.Address()] {
		t.Errorf("nonce = %d, want %d", n, h.nonces[h.user1.Address()])
	}
}

func TestRejectedTxsKeepTheirSlot(t *testing.T) {
	h := newHarness(t, nil)
	h.fund()

	ok := h.sign(h.user1, transaction.NewCreateOrder(h.user1.Address(), h.meth(), token.Ether("1"), h.uron(), token.Ether("1"), 0))
	broke := h.sign(h.user1, transaction.NewWithdraw(h.user1.Address(), h.meth(), token.Ether("1"), 0))
	stranger := h.sign(h.user2, transaction.NewCancelOrder(h.user2.Address(), 1, 0))
	missing := h.sign(h.user2, transaction.NewFillOrder(h.user2.Address(), 42, 0))

	res := h.finalize([][]byte{ok, broke, stranger, missing, []byte("not json")})
	want := []uint32{CodeOK, CodeInsufficientBalance, CodeUnauthorized, CodeOrderNotFound, CodeMalformed}
	if len(res) != len(want) {
		t.Fatalf("got %d results, want %d", len(res), len(want))
	}
	for i, code := range want {
		if res[i].Code != code {
			t.Errorf("tx %d code = %d (%s), want %d", i, res[i].Code, res[i].Log, code)
		}
	}
	if res[0].EventCount != 1 || res[1].EventCount != 0 {
		t.Errorf("event counts = %d, %d; want 1, 0", res[0].EventCount, res[1].EventCount)
	}

	// Failed txs still consume their nonce
	if got := h.app.Nonce(h.user2.Address()); got != h.nonces[h.user2.Address()] {
		t.Errorf("user2 nonce = %d, want %d", got, h.nonces[h.user2.Address()])
	}
}

func TestReplayIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	raw := h.submit(h.deployer, transaction.NewTransfer(h.deployer.Address(), h.uron(), h.user1.Address(), token.Ether("1"), 0))
	requireOK(t, h.commit())

	if _, _, err := h.app.CheckTx(raw); !errors.Is(err, ErrBadNonce) {
		t.Errorf("CheckTx(replay) err = %v, want ErrBadNonce", err)
	}

	// Smuggled into a block directly it is rejected at apply time
	res := h.finalize([][]byte{raw})
	if res[0].Code != CodeBadNonce {
		t.Errorf("replay code = %d, want %d", res[0].Code, CodeBadNonce)
	}
	bal, _ := h.app.WalletBalance(h.uron(), h.user1.Address())
	wantAmount(t, "user1 wallet", bal, "1")
}

func TestWrongDomainIsRejected(t *testing.T) {
	h := newHarness(t, nil)

	other := crypto.NewEIP712Signer(crypto.DefaultDomain().WithContract(common.HexToAddress("0x01")))
	c := transaction.NewTransfer(h.deployer.Address(), h.uron(), h.user1.Address(), token.Ether("1"), 1)
	tx, err := transaction.Sign(other, h.deployer, c)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	raw, _ := tx.Serialize()

	if _, _, err := h.app.CheckTx(raw); !errors.Is(err, transaction.ErrSignerMismatch) && !errors.Is(err, transaction.ErrInvalidSignature) {
		t.Errorf("CheckTx err = %v, want a signature error", err)
	}
	if h.app.PendingTxs() != 0 {
		t.Errorf("rejected tx reached the mempool")
	}
}

func TestFinalizeRejectsHeightGap(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 5, Timestamp: 1})
	if err == nil {
		t.Fatal("expected error for non-sequential height")
	}
}

func TestBlockTimeIsLedgerClock(t *testing.T) {
	h := newHarness(t, nil)
	h.fund()

	h.submit(h.user1, transaction.NewCreateOrder(h.user1.Address(), h.meth(), token.Ether("1"), h.uron(), token.Ether("1"), 0))
	h.commit()

	o, _ := h.app.Order(1)
	if want := 1_700_000_000 + h.height; o.Timestamp != want {
		t.Errorf("order timestamp = %d, want block time %d", o.Timestamp, want)
	}
}

func TestObserversSeeCommittedEvents(t *testing.T) {
	h := newHarness(t, nil)

	var commits []Commit
	h.app.Subscribe(func(c Commit) { commits = append(commits, c) })
	h.fund()

	if len(commits) != 1 {
		t.Fatalf("got %d commits, want 1", len(commits))
	}
	c := commits[0]
	if c.Block.Height != 1 || len(c.Results) != 6 {
		t.Errorf("commit height %d with %d results", c.Block.Height, len(c.Results))
	}
	if len(c.Events) != 2 {
		t.Fatalf("got %d events, want 2 deposits", len(c.Events))
	}
	for i, ev := range c.Events {
		if ev.Kind != ledger.EventDeposit || ev.Seq != uint64(i+1) {
			t.Errorf("event %d = %s seq %d", i, ev.Kind, ev.Seq)
		}
	}
}

func TestRestartRestoresState(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	h := newHarness(t, store)
	h.fund()
	h.submit(h.user1, transaction.NewCreateOrder(h.user1.Address(), h.meth(), token.Ether("2"), h.uron(), token.Ether("1"), 0))
	h.submit(h.user1, transaction.NewCreateOrder(h.user1.Address(), h.meth(), token.Ether("3"), h.uron(), token.Ether("1"), 0))
	h.commit()
	h.submit(h.user1, transaction.NewCancelOrder(h.user1.Address(), 2, 0))
	h.submit(h.user2, transaction.NewFillOrder(h.user2.Address(), 1, 0))
	requireOK(t, h.commit())

	before := h.app.Info()
	beforeEvents := h.app.Events(1, 0)
	store.Close()

	store, err = storage.NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store.Close()
	h.app = h.open(store)

	after := h.app.Info()
	if after != before {
		t.Errorf("info after restart = %+v, want %+v", after, before)
	}
	if got := h.app.Events(1, 0); len(got) != len(beforeEvents) {
		t.Errorf("got %d events after restart, want %d", len(got), len(beforeEvents))
	}
	if st, _ := h.app.Order(2); st.Status != ledger.OrderCancelled {
		t.Errorf("order 2 status = %s, want cancelled", st.Status)
	}
	wantAmount(t, "fee mETH", h.app.CustodyBalance(h.meth(), feeAccount), "0.2")
	if h.app.Nonce(h.user1.Address()) != h.nonces[h.user1.Address()] {
		t.Errorf("nonce not restored")
	}

	// The chain continues where it left off
	h.submit(h.user2, transaction.NewFillOrder(h.user2.Address(), 2, 0))
	res := h.commit()
	if res[0].Code != CodeAlreadyFinalized {
		t.Errorf("fill of cancelled order code = %d, want %d", res[0].Code, CodeAlreadyFinalized)
	}
	if h.app.Height() != before.Height+1 {
		t.Errorf("height = %d, want %d", h.app.Height(), before.Height+1)
	}
	if got := h.app.Events(0, 0); got[len(got)-1].Seq != uint64(len(beforeEvents)) {
		t.Errorf("event sequence moved after a rejected tx")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want uint32
	}{
		{nil, CodeOK},
		{ledger.ErrInsufficientBalance, CodeInsufficientBalance},
		{errors.Join(ledger.ErrTransferRejected, token.ErrInvalidRecipient), CodeTransferRejected},
		{token.ErrInsufficientAllowance, CodeInsufficientAllowance},
		{ErrBadNonce, CodeBadNonce},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// Command seed populates a fresh devnet node with balances, deposits and a
// handful of orders in each state, signing every call the way a wallet would.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/api"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/token"
	"github.com/uhyunpark/custodex/pkg/transaction"
	"github.com/uhyunpark/custodex/pkg/util"
)

// Hardhat accounts #0 and #1. Account #0 is the default genesis deployer.
const (
	defaultUser1Key = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	defaultUser2Key = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

func main() {
	_ = godotenv.Load()

	logger, err := util.NewLogger(envOr("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, sugar); err != nil {
		sugar.Errorw("seed_failed", "err", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type seeder struct {
	client *api.Client
	eip    *crypto.EIP712Signer
	log    *zap.SugaredLogger
}

func run(ctx context.Context, log *zap.SugaredLogger) error {
	user1, err := crypto.FromPrivateKeyHex(envOr("SEED_USER1_KEY", defaultUser1Key))
	if err != nil {
		return fmt.Errorf("user1 key: %w", err)
	}
	user2, err := crypto.FromPrivateKeyHex(envOr("SEED_USER2_KEY", defaultUser2Key))
	if err != nil {
		return fmt.Errorf("user2 key: %w", err)
	}

	client := api.NewClient(envOr("NODE_URL", "http://localhost:8080"))
	info, err := client.Exchange(ctx)
	if err != nil {
		return fmt.Errorf("fetch exchange: %w", err)
	}
	tokens, err := client.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("fetch tokens: %w", err)
	}
	bySymbol := make(map[string]common.Address, len(tokens))
	for _, t := range tokens {
		bySymbol[t.Symbol] = common.HexToAddress(t.Address)
	}
	uron, ok1 := bySymbol["URON"]
	meth, ok2 := bySymbol["mETH"]
	if !ok1 || !ok2 {
		return errors.New("node does not list URON and mETH")
	}

	exchange := common.HexToAddress(info.Address)
	s := &seeder{
		client: client,
		eip: crypto.NewEIP712Signer(crypto.EIP712Domain{
			Name:              "Custodex",
			Version:           "1",
			ChainID:           big.NewInt(info.ChainID),
			VerifyingContract: exchange,
		}),
		log: log,
	}
	log.Infow("seeding", "exchange", exchange.Hex(), "user1", user1.Address().Hex(), "user2", user2.Address().Hex())

	amount := token.Ether("10000")
	steps := []struct {
		who  *crypto.Signer
		call func(from common.Address) *transaction.Call
	}{
		{user1, func(f common.Address) *transaction.Call { return transaction.NewTransfer(f, meth, user2.Address(), amount, 0) }},
		{user1, func(f common.Address) *transaction.Call { return transaction.NewApprove(f, uron, exchange, amount, 0) }},
		{user1, func(f common.Address) *transaction.Call { return transaction.NewDeposit(f, uron, amount, 0) }},
		{user2, func(f common.Address) *transaction.Call { return transaction.NewApprove(f, meth, exchange, amount, 0) }},
		{user2, func(f common.Address) *transaction.Call { return transaction.NewDeposit(f, meth, amount, 0) }},
	}
	for _, st := range steps {
		if _, err := s.send(ctx, st.who, st.call(st.who.Address())); err != nil {
			return err
		}
	}

	// Cancelled order
	id, err := s.order(ctx, user1, meth, "100", uron, "5")
	if err != nil {
		return err
	}
	if _, err := s.send(ctx, user1, transaction.NewCancelOrder(user1.Address(), id, 0)); err != nil {
		return err
	}

	// Filled orders
	for _, f := range []struct{ want, offer string }{{"100", "10"}, {"50", "15"}, {"200", "20"}} {
		id, err := s.order(ctx, user1, meth, f.want, uron, f.offer)
		if err != nil {
			return err
		}
		if _, err := s.send(ctx, user2, transaction.NewFillOrder(user2.Address(), id, 0)); err != nil {
			return err
		}
	}

	// Open orders on both sides
	for i := 1; i <= 3; i++ {
		if _, err := s.order(ctx, user1, meth, fmt.Sprint(10*i), uron, "10"); err != nil {
			return err
		}
	}
	for i := 1; i <= 3; i++ {
		if _, err := s.order(ctx, user2, uron, "10", meth, fmt.Sprint(10*i)); err != nil {
			return err
		}
	}

	final, err := client.Exchange(ctx)
	if err != nil {
		return err
	}
	log.Infow("seeded",
		"orders", final.OrderCount,
		"fee_account", final.FeeAccount,
		"fee_percent", final.FeePercent,
		"height", final.Height,
	)
	return nil
}

func (s *seeder) order(ctx context.Context, who *crypto.Signer, wanted common.Address, amtWanted string,
	offered common.Address, amtOffered string) (uint64, error) {
	c := transaction.NewCreateOrder(who.Address(), wanted, token.Ether(amtWanted), offered, token.Ether(amtOffered), 0)
	rc, err := s.send(ctx, who, c)
	if err != nil {
		return 0, err
	}
	var id uint64
	if _, err := fmt.Sscanf(rc.Log, "order %d", &id); err != nil {
		return 0, fmt.Errorf("order id from receipt %q: %w", rc.Log, err)
	}
	return id, nil
}

// send signs c with the next nonce, submits it and waits for the block
// that includes it.
func (s *seeder) send(ctx context.Context, who *crypto.Signer, c *transaction.Call) (api.TxReceipt, error) {
	nonce, err := s.client.Nonce(ctx, who.Address())
	if err != nil {
		return api.TxReceipt{}, fmt.Errorf("fetch nonce: %w", err)
	}
	c.Nonce = nonce + 1

	tx, err := transaction.Sign(s.eip, who, c)
	if err != nil {
		return api.TxReceipt{}, err
	}
	raw, err := tx.Serialize()
	if err != nil {
		return api.TxReceipt{}, err
	}
	sub, err := s.client.Submit(ctx, raw)
	if err != nil {
		return api.TxReceipt{}, fmt.Errorf("submit %s: %w", c.PrimaryType(), err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	rc, err := s.client.WaitReceipt(waitCtx, sub.TxHash, 100*time.Millisecond)
	if err != nil {
		return rc, fmt.Errorf("wait %s: %w", sub.TxHash, err)
	}
	if rc.Code != 0 {
		return rc, fmt.Errorf("%s %s failed: code %d: %s", c.PrimaryType(), sub.TxHash, rc.Code, rc.Log)
	}
	s.log.Infow("tx_committed", "type", c.PrimaryType(), "from", who.Address().Hex(), "tx", sub.TxHash, "height", rc.Height)
	return rc, nil
}

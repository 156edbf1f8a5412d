package exchange

import (
	"fmt"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/chain"
	"github.com/uhyunpark/custodex/pkg/ledger"
	"github.com/uhyunpark/custodex/pkg/transaction"
)

// applyTx verifies and executes one transaction. Caller holds a.mu.
//
// The nonce is consumed as soon as the signature and nonce check pass, so
// a tx that fails inside the ledger cannot be replayed either.
func (a *App) applyTx(raw []byte) abci.TxResult {
	res := abci.TxResult{TxHash: chain.TxHash(raw).Hex()}
	before := a.ex.Events().LastSeq()

	call, err := a.verifier.VerifyRaw(raw)
	if err == nil {
		if last := a.nonces[call.From]; call.Nonce <= last {
			err = fmt.Errorf("%w: got %d, last %d", ErrBadNonce, call.Nonce, last)
		}
	}
	if err != nil {
		res.Code = CodeOf(err)
		res.Log = err.Error()
		a.log.Warnw("tx_rejected", "tx", res.TxHash, "code", res.Code, "err", err)
		return res
	}
	a.nonces[call.From] = call.Nonce

	var orderID uint64
	err = a.execute(call, &orderID)

	res.Code = CodeOf(err)
	if err != nil {
		res.Log = err.Error()
		a.log.Warnw("tx_rejected",
			"tx", res.TxHash,
			"type", call.Type,
			"from", call.From.Hex(),
			"code", res.Code,
			"err", err,
		)
		return res
	}

	if after := a.ex.Events().LastSeq(); after > before {
		res.FirstEvent = before + 1
		res.EventCount = int(after - before)
	}
	if call.Type == transaction.TxTypeCreateOrder {
		res.Log = fmt.Sprintf("order %d", orderID)
	}
	a.log.Infow("tx_applied",
		"tx", res.TxHash,
		"type", call.Type,
		"from", call.From.Hex(),
		"nonce", call.Nonce,
	)
	return res
}

func (a *App) execute(c *transaction.Call, orderID *uint64) error {
	switch c.Type {
	case transaction.TxTypeApprove:
		t, ok := a.registry.Get(c.Token)
		if !ok {
			return fmt.Errorf("%w: %s", ledger.ErrUnknownAsset, c.Token.Hex())
		}
		return t.Approve(c.From, c.To, c.Amount)

	case transaction.TxTypeTransfer:
		t, ok := a.registry.Get(c.Token)
		if !ok {
			return fmt.Errorf("%w: %s", ledger.ErrUnknownAsset, c.Token.Hex())
		}
		return t.Transfer(c.From, c.To, c.Amount)

	case transaction.TxTypeDeposit:
		return a.ex.Deposit(c.Token, c.From, c.Amount)

	case transaction.TxTypeWithdraw:
		return a.ex.Withdraw(c.Token, c.From, c.Amount)

	case transaction.TxTypeCreateOrder:
		id, err := a.ex.CreateOrder(c.From, c.AssetWanted, c.AmountWanted, c.AssetOffered, c.AmountOffered)
		*orderID = id
		return err

	case transaction.TxTypeCancelOrder:
		return a.ex.CancelOrder(c.OrderID, c.From)

	case transaction.TxTypeFillOrder:
		return a.ex.FillOrder(c.OrderID, c.From)

	default:
		return fmt.Errorf("%w: unsupported type %q", transaction.ErrMalformed, c.Type)
	}
}

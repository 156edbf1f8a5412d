package exchange

import (
	"errors"

	"github.com/uhyunpark/custodex/pkg/ledger"
	"github.com/uhyunpark/custodex/pkg/token"
	"github.com/uhyunpark/custodex/pkg/transaction"
)

// Result codes carried in abci.TxResult.Code.
const (
	CodeOK uint32 = iota
	CodeMalformed
	CodeBadSignature
	CodeBadNonce
	CodeInvalidAmount
	CodeInvalidRecipient
	CodeInsufficientBalance
	CodeInsufficientAllowance
	CodeTransferRejected
	CodeOrderNotFound
	CodeAlreadyFinalized
	CodeUnauthorized
	CodeUnknownAsset
	CodeInternal
)

var ErrBadNonce = errors.New("nonce too low")

// codeMap is checked in order; wrapped errors can match several sentinels
// and the first one wins.
var codeMap = []struct {
	err  error
	code uint32
}{
	{transaction.ErrMalformed, CodeMalformed},
	{transaction.ErrInvalidSignature, CodeBadSignature},
	{transaction.ErrSignerMismatch, CodeBadSignature},
	{ErrBadNonce, CodeBadNonce},
	{ledger.ErrInvalidAmount, CodeInvalidAmount},
	{ledger.ErrInvalidRecipient, CodeInvalidRecipient},
	{ledger.ErrInsufficientBalance, CodeInsufficientBalance},
	{ledger.ErrInsufficientAllowance, CodeInsufficientAllowance},
	{ledger.ErrTransferRejected, CodeTransferRejected},
	{ledger.ErrOrderNotFound, CodeOrderNotFound},
	{ledger.ErrAlreadyFinalized, CodeAlreadyFinalized},
	{ledger.ErrUnauthorized, CodeUnauthorized},
	{ledger.ErrUnknownAsset, CodeUnknownAsset},
	{token.ErrInvalidAmount, CodeInvalidAmount},
	{token.ErrInvalidRecipient, CodeInvalidRecipient},
	{token.ErrInvalidSpender, CodeInvalidRecipient},
	{token.ErrInsufficientBalance, CodeInsufficientBalance},
	{token.ErrInsufficientAllowance, CodeInsufficientAllowance},
}

// CodeOf maps an apply error to its result code.
func CodeOf(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	for _, m := range codeMap {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return CodeInternal
}

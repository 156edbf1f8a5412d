package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeApprove     TxType = "approve"     // token allowance (signed)
	TxTypeTransfer    TxType = "transfer"    // token transfer (signed)
	TxTypeDeposit     TxType = "deposit"     // pull tokens into custody
	TxTypeWithdraw    TxType = "withdraw"    // pay tokens out of custody
	TxTypeCreateOrder TxType = "createOrder" // post an order
	TxTypeCancelOrder TxType = "cancelOrder" // cancel own order
	TxTypeFillOrder   TxType = "fillOrder"   // take an order in full
)

var (
	ErrMalformed        = errors.New("malformed transaction")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signer does not match from")
)

// SignedTransaction is the wire format submitted by clients. Exactly one
// payload matching Type is set. Amounts are base-unit integers encoded as
// decimal strings.
type SignedTransaction struct {
	Type      TxType           `json:"type"`
	From      string           `json:"from"`  // Ethereum address (0x...)
	Nonce     uint64           `json:"nonce"` // must exceed the sender's last nonce
	Approve   *ApprovePayload  `json:"approve,omitempty"`
	Transfer  *TransferPayload `json:"transfer,omitempty"`
	Deposit   *CustodyPayload  `json:"deposit,omitempty"`
	Withdraw  *CustodyPayload  `json:"withdraw,omitempty"`
	Order     *OrderPayload    `json:"order,omitempty"`
	Cancel    *OrderRefPayload `json:"cancel,omitempty"`
	Fill      *OrderRefPayload `json:"fill,omitempty"`
	Signature string           `json:"signature"` // Hex-encoded signature (0x...)
}

// ApprovePayload lets Spender pull up to Amount of Token from the sender
type ApprovePayload struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// TransferPayload moves Amount of Token from the sender's wallet to To
type TransferPayload struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// CustodyPayload is shared by deposit and withdraw
type CustodyPayload struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// OrderPayload contains the order terms
type OrderPayload struct {
	AssetWanted   string `json:"assetWanted"`
	AmountWanted  string `json:"amountWanted"`
	AssetOffered  string `json:"assetOffered"`
	AmountOffered string `json:"amountOffered"`
}

// OrderRefPayload names an existing order for cancel and fill
type OrderRefPayload struct {
	OrderID uint64 `json:"orderId"`
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &tx, nil
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if err := tx.validateBody(); err != nil {
		return err
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	return nil
}

// validateBody checks everything but the signature.
func (tx *SignedTransaction) validateBody() error {
	if tx.Type == "" {
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	}
	if tx.From == "" {
		return fmt.Errorf("%w: missing from", ErrMalformed)
	}

	var present bool
	switch tx.Type {
	case TxTypeApprove:
		present = tx.Approve != nil
	case TxTypeTransfer:
		present = tx.Transfer != nil
	case TxTypeDeposit:
		present = tx.Deposit != nil
	case TxTypeWithdraw:
		present = tx.Withdraw != nil
	case TxTypeCreateOrder:
		present = tx.Order != nil
	case TxTypeCancelOrder:
		present = tx.Cancel != nil
	case TxTypeFillOrder:
		present = tx.Fill != nil
	default:
		return fmt.Errorf("%w: unknown transaction type: %s", ErrMalformed, tx.Type)
	}
	if !present {
		return fmt.Errorf("%w: %s requires its payload", ErrMalformed, tx.Type)
	}
	return nil
}

// ParseTransaction parses and structurally validates a JSON transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Example:
//   {
//     "type": "createOrder",
//     "from": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//     "nonce": 7,
//     "order": {
//       "assetWanted": "0x...mETH",
//       "amountWanted": "1000000000000000000",
//       "assetOffered": "0x...URON",
//       "amountOffered": "1000000000000000000"
//     },
//     "signature": "0x1234567890abcdef..."
//   }

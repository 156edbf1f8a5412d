package transaction

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/uhyunpark/custodex/pkg/crypto"
)

// Call is the decoded form of a transaction: typed addresses and amounts
// in place of strings. Only the fields meaningful for Type are set.
type Call struct {
	Type  TxType
	From  common.Address
	Nonce uint64

	Token  common.Address // approve, transfer, deposit, withdraw
	To     common.Address // transfer recipient or approve spender
	Amount *big.Int

	AssetWanted   common.Address
	AmountWanted  *big.Int
	AssetOffered  common.Address
	AmountOffered *big.Int

	OrderID uint64 // cancelOrder, fillOrder
}

func NewApprove(from, token, spender common.Address, amount *big.Int, nonce uint64) *Call {
	return &Call{Type: TxTypeApprove, From: from, Nonce: nonce, Token: token, To: spender, Amount: amount}
}

func NewTransfer(from, token, to common.Address, amount *big.Int, nonce uint64) *Call {
	return &Call{Type: TxTypeTransfer, From: from, Nonce: nonce, Token: token, To: to, Amount: amount}
}

func NewDeposit(from, token common.Address, amount *big.Int, nonce uint64) *Call {
	return &Call{Type: TxTypeDeposit, From: from, Nonce: nonce, Token: token, Amount: amount}
}

func NewWithdraw(from, token common.Address, amount *big.Int, nonce uint64) *Call {
	return &Call{Type: TxTypeWithdraw, From: from, Nonce: nonce, Token: token, Amount: amount}
}

func NewCreateOrder(from, assetWanted common.Address, amountWanted *big.Int,
	assetOffered common.Address, amountOffered *big.Int, nonce uint64) *Call {
	return &Call{
		Type:          TxTypeCreateOrder,
		From:          from,
		Nonce:         nonce,
		AssetWanted:   assetWanted,
		AmountWanted:  amountWanted,
		AssetOffered:  assetOffered,
		AmountOffered: amountOffered,
	}
}

func NewCancelOrder(from common.Address, orderID, nonce uint64) *Call {
	return &Call{Type: TxTypeCancelOrder, From: from, Nonce: nonce, OrderID: orderID}
}

func NewFillOrder(from common.Address, orderID, nonce uint64) *Call {
	return &Call{Type: TxTypeFillOrder, From: from, Nonce: nonce, OrderID: orderID}
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid %s address %q", ErrMalformed, field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, field, s)
	}
	return v, nil
}

// Decode validates tx and converts it into a Call.
func (tx *SignedTransaction) Decode() (*Call, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx.decode()
}

// DecodeUnsigned converts a tx that has not been signed yet, so a wallet
// can be handed the typed data to sign.
func (tx *SignedTransaction) DecodeUnsigned() (*Call, error) {
	if err := tx.validateBody(); err != nil {
		return nil, err
	}
	return tx.decode()
}

func (tx *SignedTransaction) decode() (*Call, error) {
	from, err := parseAddress("from", tx.From)
	if err != nil {
		return nil, err
	}
	c := &Call{Type: tx.Type, From: from, Nonce: tx.Nonce}

	switch tx.Type {
	case TxTypeApprove:
		p := tx.Approve
		if c.Token, err = parseAddress("token", p.Token); err != nil {
			return nil, err
		}
		if c.To, err = parseAddress("spender", p.Spender); err != nil {
			return nil, err
		}
		c.Amount, err = parseAmount("amount", p.Amount)
	case TxTypeTransfer:
		p := tx.Transfer
		if c.Token, err = parseAddress("token", p.Token); err != nil {
			return nil, err
		}
		if c.To, err = parseAddress("to", p.To); err != nil {
			return nil, err
		}
		c.Amount, err = parseAmount("amount", p.Amount)
	case TxTypeDeposit, TxTypeWithdraw:
		p := tx.Deposit
		if tx.Type == TxTypeWithdraw {
			p = tx.Withdraw
		}
		if c.Token, err = parseAddress("token", p.Token); err != nil {
			return nil, err
		}
		c.Amount, err = parseAmount("amount", p.Amount)
	case TxTypeCreateOrder:
		p := tx.Order
		if c.AssetWanted, err = parseAddress("assetWanted", p.AssetWanted); err != nil {
			return nil, err
		}
		if c.AmountWanted, err = parseAmount("amountWanted", p.AmountWanted); err != nil {
			return nil, err
		}
		if c.AssetOffered, err = parseAddress("assetOffered", p.AssetOffered); err != nil {
			return nil, err
		}
		c.AmountOffered, err = parseAmount("amountOffered", p.AmountOffered)
	case TxTypeCancelOrder:
		c.OrderID = tx.Cancel.OrderID
	case TxTypeFillOrder:
		c.OrderID = tx.Fill.OrderID
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Encode converts c into its unsigned wire form.
func (c *Call) Encode() *SignedTransaction {
	tx := &SignedTransaction{Type: c.Type, From: c.From.Hex(), Nonce: c.Nonce}
	switch c.Type {
	case TxTypeApprove:
		tx.Approve = &ApprovePayload{Token: c.Token.Hex(), Spender: c.To.Hex(), Amount: c.Amount.String()}
	case TxTypeTransfer:
		tx.Transfer = &TransferPayload{Token: c.Token.Hex(), To: c.To.Hex(), Amount: c.Amount.String()}
	case TxTypeDeposit:
		tx.Deposit = &CustodyPayload{Token: c.Token.Hex(), Amount: c.Amount.String()}
	case TxTypeWithdraw:
		tx.Withdraw = &CustodyPayload{Token: c.Token.Hex(), Amount: c.Amount.String()}
	case TxTypeCreateOrder:
		tx.Order = &OrderPayload{
			AssetWanted:   c.AssetWanted.Hex(),
			AmountWanted:  c.AmountWanted.String(),
			AssetOffered:  c.AssetOffered.Hex(),
			AmountOffered: c.AmountOffered.String(),
		}
	case TxTypeCancelOrder:
		tx.Cancel = &OrderRefPayload{OrderID: c.OrderID}
	case TxTypeFillOrder:
		tx.Fill = &OrderRefPayload{OrderID: c.OrderID}
	}
	return tx
}

// ---- EIP-712 ----

var (
	fromNonce = []apitypes.Type{
		{Name: "from", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	}

	typeFields = map[TxType][]apitypes.Type{
		TxTypeApprove: {
			{Name: "token", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
		TxTypeTransfer: {
			{Name: "token", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
		TxTypeDeposit: {
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
		TxTypeWithdraw: {
			{Name: "token", Type: "address"},
			{Name: "amount", Type: "uint256"},
		},
		TxTypeCreateOrder: {
			{Name: "assetWanted", Type: "address"},
			{Name: "amountWanted", Type: "uint256"},
			{Name: "assetOffered", Type: "address"},
			{Name: "amountOffered", Type: "uint256"},
		},
		TxTypeCancelOrder: {
			{Name: "orderId", Type: "uint256"},
		},
		TxTypeFillOrder: {
			{Name: "orderId", Type: "uint256"},
		},
	}

	primaryTypes = map[TxType]string{
		TxTypeApprove:     "Approve",
		TxTypeTransfer:    "Transfer",
		TxTypeDeposit:     "Deposit",
		TxTypeWithdraw:    "Withdraw",
		TxTypeCreateOrder: "CreateOrder",
		TxTypeCancelOrder: "CancelOrder",
		TxTypeFillOrder:   "FillOrder",
	}
)

var _ crypto.TypedMessage = (*Call)(nil)

func (c *Call) PrimaryType() string { return primaryTypes[c.Type] }

func (c *Call) Fields() []apitypes.Type {
	fields := append([]apitypes.Type{}, typeFields[c.Type]...)
	return append(fields, fromNonce...)
}

func (c *Call) Message() apitypes.TypedDataMessage {
	m := apitypes.TypedDataMessage{
		"from":  c.From.Hex(),
		"nonce": strconv.FormatUint(c.Nonce, 10),
	}
	switch c.Type {
	case TxTypeApprove:
		m["token"], m["spender"], m["amount"] = c.Token.Hex(), c.To.Hex(), c.Amount.String()
	case TxTypeTransfer:
		m["token"], m["to"], m["amount"] = c.Token.Hex(), c.To.Hex(), c.Amount.String()
	case TxTypeDeposit, TxTypeWithdraw:
		m["token"], m["amount"] = c.Token.Hex(), c.Amount.String()
	case TxTypeCreateOrder:
		m["assetWanted"] = c.AssetWanted.Hex()
		m["amountWanted"] = c.AmountWanted.String()
		m["assetOffered"] = c.AssetOffered.Hex()
		m["amountOffered"] = c.AmountOffered.String()
	case TxTypeCancelOrder, TxTypeFillOrder:
		m["orderId"] = strconv.FormatUint(c.OrderID, 10)
	}
	return m
}

// Sign encodes c and signs it under eip. The signer must own c.From.
func Sign(eip *crypto.EIP712Signer, signer *crypto.Signer, c *Call) (*SignedTransaction, error) {
	if signer.Address() != c.From {
		return nil, fmt.Errorf("%w: key %s, from %s", ErrSignerMismatch, signer.Address().Hex(), c.From.Hex())
	}
	sig, err := eip.Sign(signer, c)
	if err != nil {
		return nil, err
	}
	tx := c.Encode()
	tx.Signature = crypto.EncodeSignature(sig)
	return tx, nil
}

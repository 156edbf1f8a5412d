package api

import (
	"math/big"

	"github.com/uhyunpark/custodex/pkg/app/exchange"
	"github.com/uhyunpark/custodex/pkg/ledger"
	"github.com/uhyunpark/custodex/pkg/token"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// Amount carries a token amount both as exact base units and as a decimal
// string for display. All genesis tokens use 18 decimals.
type Amount struct {
	Raw   string `json:"raw"`   // base units, e.g. "900000000000000000"
	Value string `json:"value"` // e.g. "0.9"
}

func newAmount(v *big.Int) Amount {
	if v == nil {
		v = new(big.Int)
	}
	return Amount{Raw: v.String(), Value: token.Format(v, token.DefaultDecimals)}
}

// ExchangeInfo is the exchange's static configuration plus chain position.
type ExchangeInfo struct {
	ChainID    int64  `json:"chainId"`
	Address    string `json:"address"`    // verifying contract for signatures
	FeeAccount string `json:"feeAccount"` // receives every trade fee
	FeePercent uint64 `json:"feePercent"`
	OrderCount uint64 `json:"orderCount"`
	Height     int64  `json:"height"`
	AppHash    string `json:"appHash"`
	Pending    int    `json:"pending"` // txs waiting in the mempool
}

type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply Amount `json:"totalSupply"`
	Custodied   Amount `json:"custodied"` // held by the exchange
}

// WalletBalance is an account's balance on a token contract.
type WalletBalance struct {
	Token     string `json:"token"`
	Account   string `json:"account"`
	Balance   Amount `json:"balance"`
	Allowance Amount `json:"allowance"` // granted to the exchange
}

// CustodyBalance is an account's balance inside the exchange.
type CustodyBalance struct {
	Token   string `json:"token"`
	Symbol  string `json:"symbol,omitempty"`
	Balance Amount `json:"balance"`
}

type OrderInfo struct {
	ID            uint64 `json:"id"`
	Creator       string `json:"creator"`
	AssetWanted   string `json:"assetWanted"`
	AmountWanted  Amount `json:"amountWanted"`
	AssetOffered  string `json:"assetOffered"`
	AmountOffered Amount `json:"amountOffered"`
	Timestamp     int64  `json:"timestamp"` // unix seconds
	Status        string `json:"status"`    // "open", "cancelled", "filled"
}

// EventInfo is one ledger event. Exactly one of Transfer, Order, Trade is set.
type EventInfo struct {
	Seq      uint64        `json:"seq"`
	Kind     string        `json:"kind"` // Deposit, Withdraw, Order, Cancel, Trade
	Transfer *TransferInfo `json:"transfer,omitempty"`
	Order    *OrderInfo    `json:"order,omitempty"`
	Trade    *TradeInfo    `json:"trade,omitempty"`
}

type TransferInfo struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  Amount `json:"amount"`
	Balance Amount `json:"balance"` // custody balance after the change
}

type TradeInfo struct {
	OrderID       uint64 `json:"orderId"`
	Filler        string `json:"filler"`
	Creator       string `json:"creator"`
	AssetWanted   string `json:"assetWanted"`
	AmountWanted  Amount `json:"amountWanted"`
	AssetOffered  string `json:"assetOffered"`
	AmountOffered Amount `json:"amountOffered"`
	Timestamp     int64  `json:"timestamp"`
}

type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"` // last applied; the next tx must use a larger one
}

// SubmitTxResponse acknowledges a transaction admitted to the mempool.
// Whether it applied is only known once it is in a block; poll
// GET /api/v1/tx/{hash}.
type SubmitTxResponse struct {
	ID     string `json:"id"` // submission id, also logged
	TxHash string `json:"txHash"`
	Type   string `json:"type"`
	From   string `json:"from"`
	Nonce  uint64 `json:"nonce"`
	Status string `json:"status"` // "pending"
}

type TxReceipt struct {
	TxHash     string `json:"txHash"`
	Height     int64  `json:"height"`
	Index      int    `json:"index"`
	Code       uint32 `json:"code"`
	Log        string `json:"log,omitempty"`
	FirstEvent uint64 `json:"firstEvent,omitempty"`
	EventCount int    `json:"eventCount"`
}

// BlockInfo is a committed block with the outcome of each tx.
type BlockInfo struct {
	Height  int64       `json:"height"`
	Time    int64       `json:"time"`
	Hash    string      `json:"hash"`
	Parent  string      `json:"parent"`
	AppHash string      `json:"appHash"`
	Txs     []TxReceipt `json:"txs"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "events", "orders", "blocks", "account:<address>"
}

// EventUpdate pushes one committed event.
type EventUpdate struct {
	Type    string    `json:"type"` // "event"
	Channel string    `json:"channel"`
	Height  int64     `json:"height"`
	Event   EventInfo `json:"event"`
}

// BlockUpdate pushes a committed block header.
type BlockUpdate struct {
	Type    string `json:"type"` // "block"
	Height  int64  `json:"height"`
	Time    int64  `json:"time"`
	Hash    string `json:"hash"`
	AppHash string `json:"appHash"`
	Txs     int    `json:"txs"`
	Events  int    `json:"events"`
}

// ==============================
// Conversions
// ==============================

func toOrderInfo(o ledger.Order, status ledger.OrderStatus) OrderInfo {
	return OrderInfo{
		ID:            o.ID,
		Creator:       o.Creator.Hex(),
		AssetWanted:   o.AssetWanted.Hex(),
		AmountWanted:  newAmount(o.AmountWanted),
		AssetOffered:  o.AssetOffered.Hex(),
		AmountOffered: newAmount(o.AmountOffered),
		Timestamp:     o.Timestamp,
		Status:        status.String(),
	}
}

func toOrderView(v exchange.OrderView) OrderInfo {
	return toOrderInfo(v.Order, v.Status)
}

func toEventInfo(ev ledger.Event) EventInfo {
	info := EventInfo{Seq: ev.Seq, Kind: string(ev.Kind)}
	switch {
	case ev.Transfer != nil:
		info.Transfer = &TransferInfo{
			Asset:   ev.Transfer.Asset.Hex(),
			Account: ev.Transfer.Account.Hex(),
			Amount:  newAmount(ev.Transfer.Amount),
			Balance: newAmount(ev.Transfer.Balance),
		}
	case ev.Order != nil:
		status := ledger.OrderOpen
		if ev.Kind == ledger.EventCancel {
			status = ledger.OrderCancelled
		}
		o := toOrderInfo(*ev.Order, status)
		info.Order = &o
	case ev.Trade != nil:
		info.Trade = &TradeInfo{
			OrderID:       ev.Trade.OrderID,
			Filler:        ev.Trade.Filler.Hex(),
			Creator:       ev.Trade.Creator.Hex(),
			AssetWanted:   ev.Trade.AssetWanted.Hex(),
			AmountWanted:  newAmount(ev.Trade.AmountWanted),
			AssetOffered:  ev.Trade.AssetOffered.Hex(),
			AmountOffered: newAmount(ev.Trade.AmountOffered),
			Timestamp:     ev.Trade.Timestamp,
		}
	}
	return info
}

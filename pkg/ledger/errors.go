package ledger

import "errors"

// Every failing operation returns one of these (possibly wrapped) and leaves
// balances, orders and the event log untouched.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTransferRejected      = errors.New("token transfer rejected")
	ErrOrderNotFound         = errors.New("order not found")
	ErrAlreadyFinalized      = errors.New("order already cancelled or filled")
	ErrUnauthorized          = errors.New("caller is not the order creator")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidRecipient      = errors.New("invalid recipient")
	ErrUnknownAsset          = errors.New("unknown asset")
)

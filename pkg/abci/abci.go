package abci

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash is a 32-byte digest of application state.
type Hash [32]byte

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}
	if len(b) != len(h) {
		return fmt.Errorf("invalid hash length: %d", len(b))
	}
	copy(h[:], b)
	return nil
}

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// TxResult is the outcome of one transaction in a block. Code 0 means the
// transaction applied; any other code means it was rejected without
// touching state. A rejected transaction still occupies its slot.
type TxResult struct {
	TxHash     string `json:"txHash"`
	Code       uint32 `json:"code"`
	Log        string `json:"log,omitempty"`
	FirstEvent uint64 `json:"firstEvent,omitempty"` // seq of the first event emitted
	EventCount int    `json:"eventCount"`
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   Hash // Hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}

package p2p

import (
	"bytes"
	"encoding/gob"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/ledger"
)

func init() {
	gob.Register(CommitWire{})
}

// CommitWire is the gossip payload for one committed block: its header
// fields and the ledger events it produced, in sequence order.
type CommitWire struct {
	Height    int64
	Time      int64
	BlockHash abci.Hash
	AppHash   abci.Hash
	Events    []ledger.Event
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

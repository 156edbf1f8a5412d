package chain

import (
	"encoding/binary"

	"github.com/uhyunpark/custodex/pkg/abci"
	"golang.org/x/crypto/sha3"
)

// Block is one batch of transactions applied by the sequencer.
type Block struct {
	Height  int64     `json:"height"`
	Time    int64     `json:"time"` // unix seconds, the ledger clock for every tx inside
	Parent  abci.Hash `json:"parent"`
	Txs     [][]byte  `json:"txs"`
	AppHash abci.Hash `json:"appHash"` // state after applying Txs
}

// Hash commits to the header and every transaction.
func (b Block) Hash() abci.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Time))
	h.Write(buf[:])
	h.Write(b.Parent[:])
	h.Write(b.AppHash[:])
	for _, tx := range b.Txs {
		txh := TxHash(tx)
		h.Write(txh[:])
	}
	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// TxHash is the keccak256 of the raw transaction bytes.
func TxHash(tx []byte) abci.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(tx)
	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out
}

package storage

import (
	"fmt"
	"strings"
)

// Pebble key schema
// Heights and sequence numbers are zero-padded to 20 digits so that
// lexicographic order equals numeric order for range scans.
const (
	prefixBlock    = "blk:"  // block by height
	prefixReceipts = "rcpt:" // tx results of a block, by height
	prefixEvent    = "evt:"  // ledger event by sequence number
	prefixTx       = "tx:"   // tx receipt by hash
	keyHead        = "meta:head"
	keySnapshot    = "meta:state"
)

// blockKey returns the key for a block
// Format: "blk:{height}"
// Example: "blk:00000000000000000042"
func blockKey(height int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, height))
}

// receiptsKey returns the key for a block's tx results
// Format: "rcpt:{height}"
func receiptsKey(height int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixReceipts, height))
}

// eventKey returns the key for a ledger event
// Format: "evt:{seq}"
func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// txKey returns the key for a tx receipt
// Format: "tx:{hash}" with the hash lower-cased and 0x-prefixed
func txKey(hash string) []byte {
	return []byte(prefixTx + strings.ToLower(hash))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "evt:" -> upper bound "evt;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

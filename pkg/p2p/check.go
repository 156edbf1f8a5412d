package p2p

import (
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/chain"
)

// BlockSource is the part of the app a peer check reads.
type BlockSource interface {
	Block(height int64) (chain.Block, []abci.TxResult, error)
}

// CommitChecker compares commits gossiped by peers with the local chain.
// A peer reporting a different app hash for a height we committed is
// running divergent state.
type CommitChecker struct {
	src BlockSource
	log *zap.SugaredLogger

	onMismatch func(from peer.ID, height int64)
}

func NewCommitChecker(src BlockSource, logger *zap.SugaredLogger) *CommitChecker {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CommitChecker{src: src, log: logger}
}

// Handle is a Gossip handler.
func (c *CommitChecker) Handle(from peer.ID, w CommitWire) {
	b, _, err := c.src.Block(w.Height)
	if err != nil {
		// Peer is ahead of us or the block was never ours
		c.log.Debugw("peer_commit_unknown", "peer", from, "height", w.Height)
		return
	}
	if b.AppHash != w.AppHash {
		c.log.Warnw("peer_app_hash_mismatch",
			"peer", from,
			"height", w.Height,
			"local", b.AppHash.Hex(),
			"remote", w.AppHash.Hex(),
		)
		if c.onMismatch != nil {
			c.onMismatch(from, w.Height)
		}
	}
}

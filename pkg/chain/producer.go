package chain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/abci"
	"github.com/uhyunpark/custodex/pkg/util"
)

// Sequencer is the application side of the producer: an abci application
// that also knows its committed height and pending work.
type Sequencer interface {
	abci.Application
	Height() int64
	PendingTxs() int
}

type ProducerConfig struct {
	MinBlockTime time.Duration
	MaxTxBytes   int64 // per block, 0 = no limit
}

// Producer is the single-sequencer run loop. Every MinBlockTime it cuts a
// block from whatever is pending; idle ticks produce nothing.
type Producer struct {
	cfg    ProducerConfig
	app    Sequencer
	clock  util.Clock
	logger *zap.SugaredLogger

	lastTime int64
}

func NewProducer(cfg ProducerConfig, app Sequencer, clock util.Clock, logger *zap.SugaredLogger) *Producer {
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.MinBlockTime <= 0 {
		cfg.MinBlockTime = 200 * time.Millisecond
	}
	return &Producer{cfg: cfg, app: app, clock: clock, logger: logger}
}

// Run produces blocks until ctx is cancelled or a block fails to commit.
// A commit failure is fatal: the app state has advanced past what the
// store holds.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Infow("producer_started", "min_block_time", p.cfg.MinBlockTime, "height", p.app.Height())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.clock.After(p.cfg.MinBlockTime):
		}
		if p.app.PendingTxs() == 0 {
			continue
		}
		if _, err := p.ProduceBlock(); err != nil {
			return err
		}
	}
}

// ProduceBlock cuts and finalizes one block at the next height. Block time
// never goes backwards even if the wall clock does.
func (p *Producer) ProduceBlock() (abci.ResponseFinalizeBlock, error) {
	height := p.app.Height() + 1

	prep := p.app.PrepareProposal(abci.RequestPrepareProposal{Height: height, MaxTxBytes: p.cfg.MaxTxBytes})
	if !p.app.ProcessProposal(abci.RequestProcessProposal{Height: height, Txs: prep.Txs}).Accept {
		return abci.ResponseFinalizeBlock{}, fmt.Errorf("proposal at height %d rejected", height)
	}

	ts := p.clock.Now().Unix()
	if ts < p.lastTime {
		ts = p.lastTime
	}
	p.lastTime = ts

	res, err := p.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: height, Timestamp: ts, Txs: prep.Txs})
	if err != nil {
		return res, fmt.Errorf("finalize block %d: %w", height, err)
	}
	p.logger.Debugw("block_produced", "height", height, "txs", len(prep.Txs), "app_hash", res.AppHash.Hex())
	return res, nil
}

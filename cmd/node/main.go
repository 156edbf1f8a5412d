package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/params"
	"github.com/uhyunpark/custodex/pkg/api"
	"github.com/uhyunpark/custodex/pkg/app/exchange"
	"github.com/uhyunpark/custodex/pkg/chain"
	"github.com/uhyunpark/custodex/pkg/metrics"
	"github.com/uhyunpark/custodex/pkg/p2p"
	"github.com/uhyunpark/custodex/pkg/sink"
	"github.com/uhyunpark/custodex/pkg/storage"
	"github.com/uhyunpark/custodex/pkg/token"
	"github.com/uhyunpark/custodex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, sugar); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var store storage.Store = storage.NewInMemoryStore()
	if cfg.Node.DataDir != "" {
		ps, err := storage.NewPebbleStore(cfg.Node.DataDir)
		if err != nil {
			return err
		}
		store = ps
	}
	defer store.Close()

	// ---- App ----
	supply, err := token.Units(cfg.Genesis.Supply, token.DefaultDecimals)
	if err != nil {
		return err
	}
	app, err := exchange.New(exchange.Config{
		ChainID:    cfg.Node.ChainID,
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
		Genesis: exchange.Genesis{
			Deployer: cfg.Genesis.Deployer,
			Supply:   supply,
			Tokens:   exchange.DefaultTokens,
		},
		MempoolLimit: cfg.Node.MempoolLimit,
		Store:        store,
		Logger:       sugar.Named("app"),
	})
	if err != nil {
		return err
	}

	info := app.Info()
	sugar.Infow("node_starting",
		"chain_id", info.ChainID,
		"exchange", info.Address.Hex(),
		"height", info.Height,
		"data_dir", cfg.Node.DataDir,
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds(),
	)
	for _, t := range app.Tokens() {
		sugar.Infow("token", "symbol", t.Symbol, "address", t.Address.Hex())
	}

	// ---- Event gossip (optional) ----
	if len(cfg.P2P.Listen) > 0 {
		g, err := p2p.NewGossip(ctx, p2p.GossipConfig{
			ListenAddrs: cfg.P2P.Listen,
			Bootstrap:   cfg.P2P.Bootstrap,
			Topic:       cfg.P2P.Topic,
			Logger:      sugar.Named("p2p"),
		})
		if err != nil {
			return err
		}
		defer g.Close()
		g.SetHandler(p2p.NewCommitChecker(app, sugar.Named("p2p")).Handle)
		app.Subscribe(g.OnCommit)
	}

	// ---- Kafka export (optional) ----
	if len(cfg.Kafka.Brokers) > 0 {
		ks := sink.NewKafkaSink(sink.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			Exchange: info.Address.Hex(),
			Logger:   sugar.Named("kafka"),
		})
		sinkCtx, cancelSink := context.WithCancel(context.Background())
		go ks.Run(sinkCtx)
		defer func() {
			// Give queued commits a moment to flush after the producer stops
			time.Sleep(200 * time.Millisecond)
			cancelSink()
			ks.Close()
		}()
		app.Subscribe(ks.OnCommit)
	}

	// ---- API Server ----
	m := metrics.New()
	app.Subscribe(m.OnCommit)

	apiServer := api.NewServer(app, api.Options{
		CORSOrigins: cfg.API.CORSOrigins,
		Logger:      sugar.Named("api"),
		Metrics:     m.Handler(),
	})
	app.Subscribe(apiServer.OnCommit)
	m.Gauge("mempool_pending", "Transactions waiting for a block.", func() float64 { return float64(app.PendingTxs()) })
	m.Gauge("ws_clients", "Connected websocket clients.", func() float64 { return float64(apiServer.Hub().ClientCount()) })

	errCh := make(chan error, 2)
	go func() { errCh <- apiServer.Start(ctx, cfg.API.Addr) }()

	// ---- Block production ----
	producer := chain.NewProducer(chain.ProducerConfig{MinBlockTime: cfg.Node.MinBlockTime}, app, util.RealClock{}, sugar.Named("chain"))
	go func() { errCh <- producer.Run(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		stop()
		return err
	}
}

package p2p

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/exchange"
)

const DefaultTopic = "custodex-events"

// Gossip publishes committed ledger events on a GossipSub topic so that
// indexers and read replicas can follow the exchange without polling the
// API. Peers on the same topic may also receive, see SetHandler.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	log   *zap.SugaredLogger
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	out chan CommitWire

	muH     sync.RWMutex
	handler func(from peer.ID, c CommitWire)
}

type GossipConfig struct {
	ListenAddrs []string
	Bootstrap   []string
	Topic       string
	Logger      *zap.SugaredLogger
	// QueueSize bounds commits waiting to be published. A full queue drops
	// the newest commit rather than stall block production.
	QueueSize int
}

func NewGossip(ctx context.Context, cfg GossipConfig) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	var opts []libp2p.Option
	if len(cfg.ListenAddrs) > 0 {
		addrs := make([]ma.Multiaddr, 0, len(cfg.ListenAddrs))
		for _, a := range cfg.ListenAddrs {
			maddr, err := ma.NewMultiaddr(a)
			if err != nil {
				return nil, fmt.Errorf("listen addr %q: %w", a, err)
			}
			addrs = append(addrs, maddr)
		}
		opts = append(opts, libp2p.ListenAddrs(addrs...))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	g := &Gossip{
		h:   h,
		ps:  ps,
		log: cfg.Logger,
		out: make(chan CommitWire, cfg.QueueSize),
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if g.topic, err = ps.Join(cfg.Topic); err != nil {
		h.Close()
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	go g.publishLoop(ctx)
	go g.receiveLoop(ctx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddrs, "topic", cfg.Topic)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns the full dialable addresses of this node, /p2p/<id>
// included, suitable as another node's Bootstrap entry.
func (g *Gossip) Addrs() []string {
	var out []string
	for _, a := range g.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, g.h.ID()))
	}
	return out
}

// SetHandler installs the callback for commits published by other peers.
func (g *Gossip) SetHandler(fn func(from peer.ID, c CommitWire)) {
	g.muH.Lock()
	g.handler = fn
	g.muH.Unlock()
}

// OnCommit queues a committed block for publication. Register it with
// App.Subscribe; it never blocks the producer.
func (g *Gossip) OnCommit(c exchange.Commit) {
	if len(c.Events) == 0 {
		return
	}
	msg := CommitWire{
		Height:    c.Block.Height,
		Time:      c.Block.Time,
		BlockHash: c.Block.Hash(),
		AppHash:   c.Block.AppHash,
		Events:    c.Events,
	}
	select {
	case g.out <- msg:
	default:
		g.log.Warnw("gossip_dropped", "height", msg.Height, "events", len(msg.Events))
	}
}

// Publish sends one commit immediately.
func (g *Gossip) Publish(ctx context.Context, c CommitWire) error {
	data, err := gobEncode(c)
	if err != nil {
		return err
	}
	return g.topic.Publish(ctx, data)
}

func (g *Gossip) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-g.out:
			if err := g.Publish(ctx, c); err != nil {
				g.log.Warnw("gossip_publish_failed", "height", c.Height, "err", err)
			}
		}
	}
}

func (g *Gossip) receiveLoop(ctx context.Context) {
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == g.h.ID() {
			continue
		}
		var c CommitWire
		if err := gobDecode(msg.Data, &c); err != nil {
			g.log.Debugw("gossip_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		g.muH.RLock()
		fn := g.handler
		g.muH.RUnlock()
		if fn != nil {
			fn(msg.ReceivedFrom, c)
		}
	}
}

func (g *Gossip) Close() error {
	g.sub.Cancel()
	if err := g.topic.Close(); err != nil {
		g.log.Debugw("topic_close_failed", "err", err)
	}
	return g.h.Close()
}

// Package metrics exports node counters for Prometheus scraping.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/custodex/pkg/app/exchange"
)

const namespace = "custodex"

// Metrics owns a private registry so several nodes can live in one process
// (tests) without colliding on the default one.
type Metrics struct {
	reg *prometheus.Registry

	blocks   prometheus.Counter
	height   prometheus.Gauge
	txs      *prometheus.CounterVec
	events   *prometheus.CounterVec
	blockTxs prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_committed_total",
			Help:      "Blocks committed since start.",
		}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Height of the last committed block.",
		}),
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs_total",
			Help:      "Transactions included in blocks, by result code.",
		}, []string{"code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_events_total",
			Help:      "Ledger events appended, by kind.",
		}, []string{"kind"}),
		blockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_txs",
			Help:      "Transactions per committed block.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
	}
	m.reg.MustRegister(m.blocks, m.height, m.txs, m.events, m.blockTxs)
	return m
}

// Gauge registers a gauge sampled from fn at scrape time.
func (m *Metrics) Gauge(name, help string, fn func() float64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// OnCommit is an exchange.App observer.
func (m *Metrics) OnCommit(c exchange.Commit) {
	m.blocks.Inc()
	m.height.Set(float64(c.Block.Height))
	m.blockTxs.Observe(float64(len(c.Results)))
	for _, r := range c.Results {
		m.txs.WithLabelValues(strconv.FormatUint(uint64(r.Code), 10)).Inc()
	}
	for _, ev := range c.Events {
		m.events.WithLabelValues(string(ev.Kind)).Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

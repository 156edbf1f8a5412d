package sink

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/exchange"
	"github.com/uhyunpark/custodex/pkg/ledger"
)

// Record is the Kafka message value: one ledger event plus the block that
// committed it.
type Record struct {
	Height int64        `json:"height"`
	Time   int64        `json:"time"`
	Event  ledger.Event `json:"event"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink exports committed ledger events to a Kafka topic. Every
// message is keyed by the exchange address so the whole log lands on one
// partition and consumers see it in sequence order.
type KafkaSink struct {
	writer messageWriter
	key    []byte
	log    *zap.SugaredLogger
	queue  chan exchange.Commit
	done   chan struct{}
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	Exchange string // message key
	Logger   *zap.SugaredLogger
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaSink(w, cfg.Exchange, cfg.Logger)
}

func newKafkaSink(w messageWriter, key string, logger *zap.SugaredLogger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &KafkaSink{
		writer: w,
		key:    []byte(key),
		log:    logger,
		queue:  make(chan exchange.Commit, 1024),
		done:   make(chan struct{}),
	}
}

// OnCommit queues a commit for export. Register it with App.Subscribe.
func (s *KafkaSink) OnCommit(c exchange.Commit) {
	if len(c.Events) == 0 {
		return
	}
	select {
	case s.queue <- c:
	default:
		s.log.Errorw("kafka_sink_dropped", "height", c.Block.Height, "events", len(c.Events))
	}
}

// Run drains the queue until ctx is cancelled. A failed write is retried
// with backoff; the exporter never skips ahead of an unwritten block.
func (s *KafkaSink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.queue:
			backoff := 100 * time.Millisecond
			for {
				err := s.Send(ctx, c)
				if err == nil {
					break
				}
				s.log.Warnw("kafka_write_failed", "height", c.Block.Height, "err", err, "retry_in", backoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 5*time.Second {
					backoff *= 2
				}
			}
		}
	}
}

// Send writes every event of c as one batch.
func (s *KafkaSink) Send(ctx context.Context, c exchange.Commit) error {
	msgs := make([]kafka.Message, 0, len(c.Events))
	for _, ev := range c.Events {
		value, err := json.Marshal(Record{Height: c.Block.Height, Time: c.Block.Time, Event: ev})
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   s.key,
			Value: value,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(ev.Kind)},
				{Key: "seq", Value: []byte(strconv.FormatUint(ev.Seq, 10))},
			},
		})
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

// Close waits for Run to return, then closes the writer. Cancel Run's
// context first.
func (s *KafkaSink) Close() error {
	<-s.done
	return s.writer.Close()
}

// Package events publishes one ingest event per catalog row to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/clipship/internal/core/observability"
)

type Event struct {
	RunID   string    `json:"run_id"`
	Catalog string    `json:"catalog"`
	RowID   int64     `json:"row_id"`
	ItemID  int64     `json:"item_id"`
	Raster  string    `json:"raster"`
	Clipped bool      `json:"clipped"`
	TS      time.Time `json:"ts"`
}

// Publisher never blocks the caller; delivery is best effort.
type Publisher interface {
	Publish(ev Event)
	Close() error
}

type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close() error  { return nil }

type Kafka struct {
	logger  *slog.Logger
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errDone chan struct{}
}

func NewKafka(logger *slog.Logger, brokers []string, topic string, queueSize int) (*Kafka, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return NewWithProducer(logger, prod, topic, queueSize), nil
}

// NewWithProducer starts the publisher on an existing producer, which it
// then owns and closes.
func NewWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *Kafka {
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &Kafka{
		logger:  logger,
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("event marshal failed", "err", err)
				observability.IncEvent("failed")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Catalog),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("event delivery failed", "topic", p.topic, "err", err.Err)
				observability.IncEvent("failed")
			}
		}
	}()

	return p
}

func (p *Kafka) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
		observability.IncEvent("queued")
	default:
		// queue full; the run must not wait on the broker
		observability.IncEvent("dropped")
		p.logger.Debug("event dropped", "row_id", ev.RowID)
	}
}

// Close drains queued events into the producer and flushes it.
func (p *Kafka) Close() error {
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}

// Package feedevents publishes feed update notifications to Kafka.
package feedevents

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/gbfs-spatial-cache/internal/core/model"
)

// Event marks one successfully refreshed feed. Downstream consumers use it to
// re-read the feed cache instead of polling.
type Event struct {
	Provider string         `json:"provider"`
	FeedType model.FeedType `json:"feed_type"`
	TS       time.Time      `json:"ts"`
}

// Publisher emits feed update events. Publishing never blocks the fetch path.
type Publisher interface {
	Publish(ev Event)
	Close() error
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
func (noopPublisher) Close() error  { return nil }

// NewNoop returns a publisher that discards every event, for deployments
// without a Kafka cluster.
func NewNoop() Publisher {
	return noopPublisher{}
}

type kafkaPublisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	log     zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, queueSize int, log zerolog.Logger) (Publisher, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("feedevents: create async producer: %w", err)
	}

	p := &kafkaPublisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		log:     log,
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error().Err(err).Msg("feedevents: marshal error")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Provider),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Error().Err(err).Msg("feedevents: producer error")
			}
		}
	}()

	return p, nil
}

func (p *kafkaPublisher) Publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		// queue full, drop rather than stall the fetch path
	}
}

func (p *kafkaPublisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("feedevents: close producer: %w", err)
	}
	return nil
}

// Package events publishes series lifecycle events to Kafka for the
// platform's analytics and notification consumers. The producer degrades
// gracefully: without reachable brokers the engine runs with publication
// disabled rather than refusing to serve matches.
package events

import (
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/gomokuhub/match-backend/internal/match"
)

const TopicMatchEvents = "match-events"

// queueSize bounds the in-flight lifecycle events. A sustained broker outage
// drops events rather than backing up into the match actors.
const queueSize = 256

type Producer struct {
	producer sarama.SyncProducer
	log      *zap.Logger
	enabled  bool
	queue    chan match.LifecycleEvent
	done     chan struct{}
}

func NewProducer(brokers []string, log *zap.Logger) *Producer {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		log.Warn("kafka producer unavailable, events disabled", zap.Error(err))
		return &Producer{log: log}
	}
	log.Info("kafka producer connected", zap.Strings("brokers", brokers))
	return newProducer(sp, log)
}

func newProducer(sp sarama.SyncProducer, log *zap.Logger) *Producer {
	p := &Producer{
		producer: sp,
		log:      log,
		enabled:  true,
		queue:    make(chan match.LifecycleEvent, queueSize),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Producer) Enabled() bool { return p.enabled }

// Publish implements match.Publisher. It only enqueues; the broker round trip
// happens on the producer's own goroutine, so a slow broker never stalls a
// match actor. A full queue drops the event.
func (p *Producer) Publish(evt match.LifecycleEvent) {
	if !p.enabled {
		return
	}
	select {
	case p.queue <- evt:
	default:
		p.log.Warn("event queue full, dropping",
			zap.String("type", string(evt.Type)),
			zap.String("series_id", evt.SeriesID))
	}
}

// run drains the queue until Close. Events are keyed by series id so one
// series stays ordered within a partition.
func (p *Producer) run() {
	defer close(p.done)
	for evt := range p.queue {
		payload, err := json.Marshal(evt)
		if err != nil {
			p.log.Error("marshal lifecycle event", zap.Error(err))
			continue
		}
		_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
			Topic: TopicMatchEvents,
			Key:   sarama.StringEncoder(evt.SeriesID),
			Value: sarama.ByteEncoder(payload),
		})
		if err != nil {
			p.log.Error("publish lifecycle event",
				zap.String("type", string(evt.Type)),
				zap.String("series_id", evt.SeriesID),
				zap.Error(err))
		}
	}
}

// Close flushes the queue and releases the underlying producer.
func (p *Producer) Close() {
	if !p.enabled {
		return
	}
	close(p.queue)
	<-p.done
	_ = p.producer.Close()
}

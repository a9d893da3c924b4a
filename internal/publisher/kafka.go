package publisher

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"bustracker/internal/feed"
	"bustracker/internal/fleet"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes locations keyed by bus id, so one bus always lands
// on the same partition.
type KafkaPublisher struct {
	writer  messageWriter
	logger  *logrus.Entry
	metrics PublisherMetrics
}

func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger, m PublisherMetrics) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{
		writer:  w,
		logger:  logger.WithField("component", "kafka-publisher"),
		metrics: m,
	}
}

func (p *KafkaPublisher) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.WithError(err).Warn("closing kafka writer")
	}
}

func (p *KafkaPublisher) PublishLocation(ctx context.Context, loc fleet.LiveLocation) error {
	b, err := feed.EncodeJSON(loc)
	if err != nil {
		return err
	}
	start := time.Now()
	err = p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(loc.BusID), Value: b})
	observe(p.metrics, start, err)
	return err
}

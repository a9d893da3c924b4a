package feed

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Format  string
}

// messageReader is the part of *kafka.Reader the source uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource applies location messages from a Kafka topic to a Hub.
// The message key is the bus id for JSON payloads.
type KafkaSource struct {
	reader  messageReader
	format  string
	logger  *logrus.Entry
	metrics ConnMetrics
}

func NewKafkaSource(cfg KafkaConfig, logger *logrus.Logger, m ConnMetrics) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &KafkaSource{
		reader:  reader,
		format:  cfg.Format,
		logger:  logger.WithField("component", "feed.kafka"),
		metrics: m,
	}
}

// Run reads until ctx is done or the reader fails.
func (s *KafkaSource) Run(ctx context.Context, hub *Hub) error {
	defer s.reader.Close()
	if s.metrics != nil {
		s.metrics.FeedSetConnected(true)
		defer s.metrics.FeedSetConnected(false)
	}
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		locs, err := Decode(s.format, string(msg.Key), msg.Value)
		if err != nil {
			if s.metrics != nil {
				s.metrics.FeedDecodeErrInc()
			}
			s.logger.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Warn("dropping location message")
			continue
		}
		for _, l := range locs {
			hub.Apply(l)
		}
	}
}

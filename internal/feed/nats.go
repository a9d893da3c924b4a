package feed

import (
	"context"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// SubjectPrefix is the NATS subject namespace for location events: locations.<busId>.
const SubjectPrefix = "locations"

// ConnMetrics receives transport health and decode failures.
type ConnMetrics interface {
	FeedSetConnected(connected bool)
	FeedDecodeErrInc()
}

// Subject returns the subject a bus publishes its location on.
func Subject(busID string) string {
	return SubjectPrefix + "." + SubjectToken(busID)
}

// SubjectToken makes s usable as a single NATS subject token.
func SubjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

// Connect dials NATS with handlers that keep the connected gauge current.
func Connect(url, name string, logger *logrus.Logger, m ConnMetrics) (*nats.Conn, error) {
	log := logger.WithField("component", "nats")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.FeedSetConnected(false)
			}
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.FeedSetConnected(true)
			}
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.FeedSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.FeedSetConnected(true)
	}
	return nc, nil
}

// NATSSource applies location events from locations.* to a Hub.
type NATSSource struct {
	nc      *nats.Conn
	format  string
	logger  *logrus.Entry
	metrics ConnMetrics
}

func NewNATSSource(nc *nats.Conn, format string, logger *logrus.Logger, m ConnMetrics) *NATSSource {
	return &NATSSource{
		nc:      nc,
		format:  format,
		logger:  logger.WithField("component", "feed.nats"),
		metrics: m,
	}
}

// Run subscribes and blocks until ctx is done.
func (s *NATSSource) Run(ctx context.Context, hub *Hub) error {
	sub, err := s.nc.Subscribe(SubjectPrefix+".*", func(msg *nats.Msg) {
		s.handle(hub, msg.Subject, msg.Data)
	})
	if err != nil {
		return err
	}
	s.logger.WithField("subject", sub.Subject).Info("subscribed to location feed")
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
		s.logger.WithError(err).Warn("unsubscribe location feed")
	}
	return nil
}

func (s *NATSSource) handle(hub *Hub, subject string, data []byte) {
	busID := ""
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		busID = subject[i+1:]
	}
	locs, err := Decode(s.format, busID, data)
	if err != nil {
		if s.metrics != nil {
			s.metrics.FeedDecodeErrInc()
		}
		s.logger.WithError(err).WithField("subject", subject).Warn("dropping location message")
		return
	}
	for _, l := range locs {
		hub.Apply(l)
	}
}

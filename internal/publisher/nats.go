package publisher

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"bustracker/internal/feed"
	"bustracker/internal/fleet"
)

// Publisher sends a bus device's location onto the live feed.
type Publisher interface {
	PublishLocation(ctx context.Context, loc fleet.LiveLocation) error
	Close()
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
}

// natsConn is the part of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subj string, data []byte) error
	Drain() error
	Close()
}

type NATSPublisher struct {
	nc          natsConn
	logSubjects bool
	logger      *logrus.Entry
	metrics     PublisherMetrics
}

// NewNATSPublisher publishes on nc, which the publisher owns from now on.
func NewNATSPublisher(nc *nats.Conn, logSubjects bool, logger *logrus.Logger, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{
		nc:          nc,
		logSubjects: logSubjects,
		logger:      logger.WithField("component", "nats-publisher"),
		metrics:     m,
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.WithError(err).Warn("draining nats connection")
		}
		p.nc.Close()
	}
}

func (p *NATSPublisher) PublishLocation(_ context.Context, loc fleet.LiveLocation) error {
	b, err := feed.EncodeJSON(loc)
	if err != nil {
		return err
	}
	subject := feed.Subject(loc.BusID)
	if p.logSubjects {
		p.logger.Debugf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	observe(p.metrics, start, err)
	return err
}

func observe(m PublisherMetrics, start time.Time, err error) {
	if m == nil {
		return
	}
	m.PublishObserve(time.Since(start))
	if err != nil {
		m.NATSPublishErrInc()
	} else {
		m.NATSPublishedInc()
	}
}

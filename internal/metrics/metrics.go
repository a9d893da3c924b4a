package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Collector struct {
	reg *prometheus.Registry

	FeedUpdates      prometheus.Counter
	FeedDecodeErrs   prometheus.Counter
	FeedConnected    prometheus.Gauge
	FeedSubscribers  prometheus.Gauge
	FeedFanoutDrops  prometheus.Counter
	ActiveSubs       prometheus.Gauge
	StaleDiscarded   prometheus.Counter
	FetchErrors      *prometheus.CounterVec // kind label: routes|buses|subscribe|prefs
	SignIns          *prometheus.CounterVec // result label: ok|popup|network|cancelled|failed
	NATSPublished    prometheus.Counter
	NATSPublishErrs  prometheus.Counter
	PublishDuration  prometheus.Histogram
	ReplaysRunning   prometheus.Gauge
	SnapshotDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		FeedUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_feed_updates_total",
			Help: "Location change events applied to the live feed.",
		}),
		FeedDecodeErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_feed_decode_errors_total",
			Help: "Location messages that could not be decoded.",
		}),
		FeedConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_feed_connected",
			Help: "1 if the feed transport is connected, 0 otherwise.",
		}),
		FeedSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_feed_subscribers",
			Help: "Number of open live-location subscriptions on the hub.",
		}),
		FeedFanoutDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_feed_coalesced_snapshots_total",
			Help: "Snapshots superseded before a slow subscriber consumed them.",
		}),
		ActiveSubs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_active_subscriptions",
			Help: "Live-location subscriptions held by mounted trackers.",
		}),
		StaleDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_stale_results_discarded_total",
			Help: "Fetch results or feed callbacks dropped because the route changed or the screen unmounted.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_fetch_errors_total",
			Help: "Remote fetch, subscription and local storage failures.",
		}, []string{"kind"}),
		SignIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_sign_ins_total",
			Help: "Interactive sign-in attempts by result.",
		}, []string{"result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_published_total",
			Help: "Total NATS location messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a location message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		ReplaysRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_replays_running",
			Help: "Number of bus tracks currently being replayed.",
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bustracker_snapshot_filter_duration_seconds",
			Help:    "Time to filter a full feed snapshot down to the route's buses.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
	}

	reg.MustRegister(
		c.FeedUpdates, c.FeedDecodeErrs, c.FeedConnected, c.FeedSubscribers, c.FeedFanoutDrops,
		c.ActiveSubs, c.StaleDiscarded, c.FetchErrors, c.SignIns,
		c.NATSPublished, c.NATSPublishErrs, c.PublishDuration,
		c.ReplaysRunning, c.SnapshotDuration,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server error")
		}
	}()
	logger.Infof("metrics listening on %s", addr)
	return srv
}

// The methods below let packages report through small interfaces
// without importing prometheus. All of them are nil-safe.

func (c *Collector) FeedUpdateInc() {
	if c != nil {
		c.FeedUpdates.Inc()
	}
}

func (c *Collector) FeedDecodeErrInc() {
	if c != nil {
		c.FeedDecodeErrs.Inc()
	}
}

func (c *Collector) FeedSetConnected(b bool) {
	if c == nil {
		return
	}
	if b {
		c.FeedConnected.Set(1)
	} else {
		c.FeedConnected.Set(0)
	}
}

func (c *Collector) FeedSubscribersSet(n int) {
	if c != nil {
		c.FeedSubscribers.Set(float64(n))
	}
}

func (c *Collector) FeedCoalescedInc() {
	if c != nil {
		c.FeedFanoutDrops.Inc()
	}
}

func (c *Collector) SubscriptionOpened() {
	if c != nil {
		c.ActiveSubs.Inc()
	}
}

func (c *Collector) SubscriptionClosed() {
	if c != nil {
		c.ActiveSubs.Dec()
	}
}

func (c *Collector) StaleInc() {
	if c != nil {
		c.StaleDiscarded.Inc()
	}
}

func (c *Collector) FetchErrInc(kind string) {
	if c != nil {
		c.FetchErrors.WithLabelValues(kind).Inc()
	}
}

func (c *Collector) SnapshotObserve(d time.Duration) {
	if c != nil {
		c.SnapshotDuration.Observe(d.Seconds())
	}
}

func (c *Collector) SignInInc(result string) {
	if c != nil {
		c.SignIns.WithLabelValues(result).Inc()
	}
}

func (c *Collector) NATSPublishedInc() {
	if c != nil {
		c.NATSPublished.Inc()
	}
}

func (c *Collector) NATSPublishErrInc() {
	if c != nil {
		c.NATSPublishErrs.Inc()
	}
}

func (c *Collector) PublishObserve(d time.Duration) {
	if c != nil {
		c.PublishDuration.Observe(d.Seconds())
	}
}

func (c *Collector) ReplaysSet(n int) {
	if c != nil {
		c.ReplaysRunning.Set(float64(n))
	}
}

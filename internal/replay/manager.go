// Package replay drives recorded bus tracks onto the live feed, standing in
// for the devices on board.
package replay

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"bustracker/internal/fleet"
	"bustracker/internal/geo"
)

type Sink interface {
	PublishLocation(ctx context.Context, loc fleet.LiveLocation) error
}

type Store interface {
	UpsertLocation(ctx context.Context, loc fleet.LiveLocation) error
}

type Metrics interface {
	ReplaysSet(n int)
}

type Options struct {
	PublishInterval time.Duration
	SpeedMultiplier float64
	// MaxRate caps publishes per second across all tracks; 0 means no cap.
	MaxRate float64
}

type Manager struct {
	sink    Sink
	store   Store
	opts    Options
	limiter *rate.Limiter
	logger  *logrus.Entry
	metrics Metrics

	mu      sync.Mutex
	running map[string]context.CancelFunc // busID -> cancel
	wg      sync.WaitGroup
}

// NewManager publishes to sink and, when store is non-nil, also records every
// position there.
func NewManager(sink Sink, store Store, opts Options, logger *logrus.Logger, m Metrics) *Manager {
	if opts.SpeedMultiplier <= 0 {
		opts.SpeedMultiplier = 1
	}
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = time.Second
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.MaxRate > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.MaxRate), int(math.Max(1, math.Ceil(opts.MaxRate))))
	}
	return &Manager{
		sink:    sink,
		store:   store,
		opts:    opts,
		limiter: lim,
		logger:  logger.WithField("component", "replay"),
		metrics: m,
		running: make(map[string]context.CancelFunc),
	}
}

func (m *Manager) Start(ctx context.Context, tracks []Track) {
	for _, t := range tracks {
		m.startTrack(ctx, t)
	}
}

// Running is the number of tracks still being driven.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) startTrack(parent context.Context, t Track) {
	m.mu.Lock()
	if _, exists := m.running[t.BusID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[t.BusID] = cancel
	m.wg.Add(1)
	m.reportLocked()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{"bus": t.BusID, "points": len(t.Points), "loop": t.Loop}).Info("starting track")
	go func() {
		defer m.wg.Done()
		if err := m.runTrack(ctx, t); err != nil && ctx.Err() == nil {
			m.logger.WithError(err).WithField("bus", t.BusID).Error("track stopped")
		}
		m.mu.Lock()
		delete(m.running, t.BusID)
		m.reportLocked()
		m.mu.Unlock()
	}()
}

func (m *Manager) runTrack(ctx context.Context, t Track) error {
	if len(t.Points) < 2 {
		return fmt.Errorf("track %s has %d points", t.BusID, len(t.Points))
	}
	cum := geo.CumDistances(t.Points)
	total := cum[len(cum)-1]

	tick := time.NewTicker(m.opts.PublishInterval)
	defer tick.Stop()

	start := time.Now()
	var last *fleet.LiveLocation
	lastDist := 0.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			elapsed := time.Duration(float64(now.Sub(start)) * m.opts.SpeedMultiplier)
			dist, done := Position(t, total, elapsed)
			pt, heading := geo.Interpolate(t.Points, cum, dist)

			loc := fleet.LiveLocation{
				BusID:     t.BusID,
				Latitude:  pt.Lat,
				Longitude: pt.Lon,
				Timestamp: now.UTC(),
				Heading:   heading,
			}
			switch {
			case last == nil:
			case dist < lastDist:
				// wrapped to the start of a loop
				loc.Speed = last.Speed
			default:
				if dt := now.Sub(last.Timestamp).Seconds(); dt > 0 {
					loc.Speed = geo.Haversine(geo.Point{Lat: last.Latitude, Lon: last.Longitude}, pt) / dt
				}
			}
			last, lastDist = &loc, dist

			if err := m.limiter.Wait(ctx); err != nil {
				return err
			}
			m.emit(ctx, loc)
			if done {
				m.logger.WithField("bus", t.BusID).Info("finished track")
				return nil
			}
		}
	}
}

func (m *Manager) emit(ctx context.Context, loc fleet.LiveLocation) {
	if err := m.sink.PublishLocation(ctx, loc); err != nil {
		m.logger.WithError(err).WithField("bus", loc.BusID).Warn("publish error")
	}
	if m.store == nil {
		return
	}
	if err := m.store.UpsertLocation(ctx, loc); err != nil {
		m.logger.WithError(err).WithField("bus", loc.BusID).Warn("store location error")
	}
}

// Position is the distance along t after elapsed track time. done reports
// that a non-looping track has reached its end.
func Position(t Track, total float64, elapsed time.Duration) (dist float64, done bool) {
	if total <= 0 || t.Lap <= 0 {
		return 0, !t.Loop
	}
	laps := float64(elapsed) / float64(t.Lap)
	if !t.Loop {
		if laps >= 1 {
			return total, true
		}
		return laps * total, false
	}
	return (laps - math.Floor(laps)) * total, false
}

// Stop cancels every track and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Wait blocks until every track has finished on its own or been stopped.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) reportLocked() {
	if m.metrics != nil {
		m.metrics.ReplaysSet(len(m.running))
	}
}

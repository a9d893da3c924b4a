// Package tracker holds the client-side data hooks: the route catalog and the
// per-route bus list paired with its live location feed.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bustracker/internal/feed"
	"bustracker/internal/fleet"
)

// BusSource answers point-in-time queries for the buses assigned to a route.
type BusSource interface {
	BusesByRoute(ctx context.Context, routeID string) ([]fleet.Bus, error)
}

// LocationFeed opens live subscriptions on the full location collection.
type LocationFeed interface {
	Subscribe(fn func([]fleet.LiveLocation)) (feed.Subscription, error)
}

type Metrics interface {
	StaleInc()
	FetchErrInc(kind string)
	SubscriptionOpened()
	SubscriptionClosed()
	SnapshotObserve(d time.Duration)
}

type State struct {
	RouteID       string               `json:"routeId"`
	Buses         []fleet.Bus          `json:"buses"`
	LiveLocations []fleet.LiveLocation `json:"liveLocations"`
	Loading       bool                 `json:"loading"`
}

// Tracker pairs the selected route's bus list with a live, filtered view of
// the location feed. It holds at most one subscription at a time.
//
// Every SetRoute bumps a generation counter; fetch results and feed callbacks
// carry the generation they were started under and are dropped when it is no
// longer current, or when the tracker has been unmounted.
type Tracker struct {
	buses   BusSource
	feed    LocationFeed
	logger  *logrus.Entry
	metrics Metrics

	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	state   State
	gen     uint64
	mounted bool
	sub     feed.Subscription
	cancel  context.CancelFunc

	lmu       sync.Mutex
	listeners map[uint64]func()
	nextL     uint64

	inflight sync.WaitGroup
}

func NewTracker(buses BusSource, f LocationFeed, logger *logrus.Logger, m Metrics) *Tracker {
	ctx, stop := context.WithCancel(context.Background())
	return &Tracker{
		buses:     buses,
		feed:      f,
		logger:    logger.WithField("component", "tracker"),
		metrics:   m,
		ctx:       ctx,
		stop:      stop,
		mounted:   true,
		state:     emptyState("", true),
		listeners: make(map[uint64]func()),
	}
}

func emptyState(routeID string, loading bool) State {
	return State{
		RouteID:       routeID,
		Buses:         []fleet.Bus{},
		LiveLocations: []fleet.LiveLocation{},
		Loading:       loading,
	}
}

// SetRoute switches the tracked route. An empty id means no route is selected:
// loading settles immediately and no subscription is opened. The previous
// subscription is always cancelled before the new fetch starts.
func (t *Tracker) SetRoute(routeID string) {
	t.mu.Lock()
	if !t.mounted {
		t.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	oldSub, oldCancel := t.sub, t.cancel
	t.sub, t.cancel = nil, nil

	if routeID == "" {
		t.state = emptyState("", false)
		t.mu.Unlock()
		t.teardown(oldSub, oldCancel)
		t.emit()
		return
	}

	ctx, cancel := context.WithCancel(t.ctx)
	t.cancel = cancel
	t.state = emptyState(routeID, true)
	t.inflight.Add(1)
	t.mu.Unlock()

	t.teardown(oldSub, oldCancel)
	t.emit()
	go t.fetchAndSubscribe(ctx, gen, routeID)
}

func (t *Tracker) teardown(sub feed.Subscription, cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Cancel()
		if t.metrics != nil {
			t.metrics.SubscriptionClosed()
		}
	}
}

func (t *Tracker) currentLocked(gen uint64) bool {
	return t.mounted && t.gen == gen
}

func (t *Tracker) stale() {
	if t.metrics != nil {
		t.metrics.StaleInc()
	}
}

func (t *Tracker) fetchAndSubscribe(ctx context.Context, gen uint64, routeID string) {
	defer t.inflight.Done()
	log := t.logger.WithField("route", routeID)

	buses, err := t.buses.BusesByRoute(ctx, routeID)

	t.mu.Lock()
	if !t.currentLocked(gen) {
		t.mu.Unlock()
		t.stale()
		return
	}
	if err != nil {
		t.state.Loading = false
		t.mu.Unlock()
		log.WithError(err).Error("Failed to fetch buses or subscribe to locations")
		if t.metrics != nil {
			t.metrics.FetchErrInc("buses")
		}
		t.emit()
		return
	}
	if buses == nil {
		buses = []fleet.Bus{}
	}
	t.state.Buses = buses
	t.mu.Unlock()
	t.emit()

	sub, err := t.feed.Subscribe(func(locs []fleet.LiveLocation) {
		t.onSnapshot(gen, buses, locs)
	})

	t.mu.Lock()
	if err != nil {
		current := t.currentLocked(gen)
		if current {
			t.state.Loading = false
		}
		t.mu.Unlock()
		log.WithError(err).Error("Failed to fetch buses or subscribe to locations")
		if t.metrics != nil {
			t.metrics.FetchErrInc("subscribe")
		}
		if current {
			t.emit()
		}
		return
	}
	if !t.currentLocked(gen) {
		t.mu.Unlock()
		sub.Cancel()
		t.stale()
		return
	}
	t.sub = sub
	t.state.Loading = false
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.SubscriptionOpened()
	}
	log.WithField("buses", len(buses)).Debug("subscribed to live locations")
	t.emit()
}

// onSnapshot replaces the published locations with the route's subset of snap.
func (t *Tracker) onSnapshot(gen uint64, buses []fleet.Bus, snap []fleet.LiveLocation) {
	start := time.Now()
	filtered := fleet.FilterLocations(snap, buses)

	t.mu.Lock()
	if !t.currentLocked(gen) {
		t.mu.Unlock()
		t.stale()
		return
	}
	t.state.LiveLocations = filtered
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.SnapshotObserve(time.Since(start))
	}
	t.emit()
}

// State returns a copy of the published state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	s.Buses = append([]fleet.Bus{}, t.state.Buses...)
	s.LiveLocations = append([]fleet.LiveLocation{}, t.state.LiveLocations...)
	return s
}

// OnChange registers fn to be called after every state change. fn runs on the
// goroutine that made the change and should only signal; read State() for data.
func (t *Tracker) OnChange(fn func()) (cancel func()) {
	t.lmu.Lock()
	id := t.nextL
	t.nextL++
	t.listeners[id] = fn
	t.lmu.Unlock()
	return func() {
		t.lmu.Lock()
		delete(t.listeners, id)
		t.lmu.Unlock()
	}
}

func (t *Tracker) emit() {
	t.mu.Lock()
	mounted := t.mounted
	t.mu.Unlock()
	if !mounted {
		return
	}
	t.lmu.Lock()
	fns := make([]func(), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.lmu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Unmount cancels the subscription and any fetch in flight. Nothing is
// published afterwards; the tracker cannot be reused.
func (t *Tracker) Unmount() {
	t.mu.Lock()
	if !t.mounted {
		t.mu.Unlock()
		return
	}
	t.mounted = false
	t.gen++
	sub, cancel := t.sub, t.cancel
	t.sub, t.cancel = nil, nil
	t.mu.Unlock()

	t.teardown(sub, cancel)
	t.stop()
	t.lmu.Lock()
	t.listeners = make(map[uint64]func())
	t.lmu.Unlock()
}

// Wait blocks until every fetch/subscribe sequence started so far has finished.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

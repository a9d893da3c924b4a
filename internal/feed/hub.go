// Package feed maintains the client's live view of the location collection.
//
// Transports (NATS, Kafka) push individual change events into a Hub; the Hub
// hands every subscriber the complete current snapshot after each change, the
// same contract as a document-database live query.
package feed

import (
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"bustracker/internal/fleet"
)

var ErrClosed = errors.New("feed: hub closed")

// Metrics is the subset of the collector the hub reports through.
type Metrics interface {
	FeedUpdateInc()
	FeedSubscribersSet(n int)
	FeedCoalescedInc()
}

// Subscription is a standing live query; Cancel stops delivery.
type Subscription interface {
	Cancel()
}

type Hub struct {
	logger  *logrus.Entry
	metrics Metrics

	mu     sync.Mutex
	locs   map[string]fleet.LiveLocation
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

func NewHub(logger *logrus.Logger, m Metrics) *Hub {
	return &Hub{
		logger:  logger.WithField("component", "feed"),
		metrics: m,
		locs:    make(map[string]fleet.LiveLocation),
		subs:    make(map[uint64]*subscriber),
	}
}

// Seed replaces the whole location set, e.g. with the rows loaded at startup.
func (h *Hub) Seed(locs []fleet.LiveLocation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.locs = make(map[string]fleet.LiveLocation, len(locs))
	for _, l := range locs {
		h.locs[l.BusID] = l
	}
	h.broadcastLocked()
}

// Apply overwrites the record for loc.BusID and notifies every subscriber.
func (h *Hub) Apply(loc fleet.LiveLocation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.locs[loc.BusID] = loc
	if h.metrics != nil {
		h.metrics.FeedUpdateInc()
	}
	h.broadcastLocked()
}

// Snapshot returns the current location set ordered by bus id.
func (h *Hub) Snapshot() []fleet.LiveLocation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Subscribe registers fn; it receives the current snapshot right away and
// again after every change until the subscription is cancelled.
// Callbacks for one subscription never run concurrently.
func (h *Hub) Subscribe(fn func([]fleet.LiveLocation)) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	id := h.nextID
	h.nextID++
	s := &subscriber{
		hub:  h,
		id:   id,
		fn:   fn,
		mail: make(chan []fleet.LiveLocation, 1),
		done: make(chan struct{}),
	}
	h.subs[id] = s
	h.reportSubsLocked()
	s.mail <- h.snapshotLocked()
	go s.loop()
	return s, nil
}

// Close cancels all subscriptions; later Subscribe calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.closed = true
	h.reportSubsLocked()
	h.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

func (h *Hub) snapshotLocked() []fleet.LiveLocation {
	out := make([]fleet.LiveLocation, 0, len(h.locs))
	for _, l := range h.locs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusID < out[j].BusID })
	return out
}

func (h *Hub) broadcastLocked() {
	if len(h.subs) == 0 {
		return
	}
	snap := h.snapshotLocked()
	for _, s := range h.subs {
		if s.offer(snap) && h.metrics != nil {
			h.metrics.FeedCoalescedInc()
		}
	}
}

func (h *Hub) reportSubsLocked() {
	if h.metrics != nil {
		h.metrics.FeedSubscribersSet(len(h.subs))
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		h.reportSubsLocked()
	}
}

type subscriber struct {
	hub  *Hub
	id   uint64
	fn   func([]fleet.LiveLocation)
	mail chan []fleet.LiveLocation
	done chan struct{}
	once sync.Once
}

// offer leaves snap as the only pending snapshot. Callers hold hub.mu, which
// makes them the only sender. Reports whether an undelivered snapshot was replaced.
func (s *subscriber) offer(snap []fleet.LiveLocation) bool {
	select {
	case s.mail <- snap:
		return false
	default:
	}
	replaced := false
	select {
	case <-s.mail:
		replaced = true
	default:
	}
	s.mail <- snap
	return replaced
}

func (s *subscriber) loop() {
	for {
		select {
		case <-s.done:
			return
		case snap := <-s.mail:
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(snap)
		}
	}
}

func (s *subscriber) deliver(snap []fleet.LiveLocation) {
	defer func() {
		if r := recover(); r != nil {
			s.hub.logger.WithField("panic", r).Error("location subscriber panicked")
		}
	}()
	s.fn(snap)
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Cancel is idempotent and safe to call from inside the callback.
func (s *subscriber) Cancel() {
	s.stop()
	s.hub.remove(s.id)
}

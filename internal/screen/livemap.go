package screen

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bustracker/internal/fleet"
	"bustracker/internal/mapview"
	"bustracker/internal/prefs"
	"bustracker/internal/status"
	"bustracker/internal/tracker"
)

type LiveTracker interface {
	SetRoute(routeID string)
	State() tracker.State
	OnChange(fn func()) (cancel func())
	Unmount()
}

type EmptyState struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

var noRouteSelected = EmptyState{
	Title:  "No Route Selected",
	Detail: "Please select a route from the Routes tab to view live bus locations",
}

type LiveMapView struct {
	RouteID  string             `json:"routeId,omitempty"`
	Empty    *EmptyState        `json:"empty,omitempty"`
	Title    string             `json:"title,omitempty"`
	Subtitle string             `json:"subtitle,omitempty"`
	Loading  bool               `json:"loading"`
	Map      *mapview.View      `json:"map,omitempty"`
	Statuses []status.BusStatus `json:"statuses,omitempty"`
}

// LiveMap drives a tracker from the stored route preference and renders its
// state for the current platform.
type LiveMap struct {
	tracker  LiveTracker
	prefs    prefs.Store
	renderer mapview.Renderer
	logger   *logrus.Entry
	metrics  Metrics

	mu      sync.Mutex
	routeID string
	started bool
}

func NewLiveMap(t LiveTracker, store prefs.Store, r mapview.Renderer, logger *logrus.Logger, m Metrics) *LiveMap {
	return &LiveMap{
		tracker:  t,
		prefs:    store,
		renderer: r,
		logger:   logger.WithField("component", "live-map"),
		metrics:  m,
	}
}

func (l *LiveMap) Mount(ctx context.Context) { l.Refresh(ctx) }

// Refresh re-reads the selected route and retargets the tracker when it changed.
func (l *LiveMap) Refresh(ctx context.Context) {
	id, _, err := l.prefs.Get(ctx, fleet.PrefLastSelectedRoute)
	if err != nil {
		l.logger.WithError(err).Error("Error loading selected route")
		if l.metrics != nil {
			l.metrics.FetchErrInc("prefs")
		}
		id = ""
	}

	l.mu.Lock()
	if l.started && id == l.routeID {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.routeID = id
	l.mu.Unlock()

	l.tracker.SetRoute(id)
}

func (l *LiveMap) OnChange(fn func()) (cancel func()) { return l.tracker.OnChange(fn) }

func (l *LiveMap) Unmount() { l.tracker.Unmount() }

// View renders the screen; now is sampled by the caller on every render.
func (l *LiveMap) View(now time.Time) LiveMapView {
	st := l.tracker.State()
	if st.RouteID == "" {
		empty := noRouteSelected
		return LiveMapView{Empty: &empty, Loading: st.Loading}
	}

	mv := l.renderer.Render(st.Buses, st.LiveLocations)
	v := LiveMapView{
		RouteID:  st.RouteID,
		Title:    "Live Bus Tracking",
		Subtitle: status.BusCountLabel(len(st.Buses)),
		Loading:  st.Loading,
		Map:      &mv,
	}
	if len(st.Buses) > 0 {
		v.Statuses = status.Derive(st.Buses, st.LiveLocations, now)
	}
	return v
}

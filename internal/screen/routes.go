package screen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bustracker/internal/fleet"
	"bustracker/internal/prefs"
	"bustracker/internal/tracker"
)

type RouteCatalog interface {
	Mount(ctx context.Context)
	Unmount()
	State() tracker.CatalogState
}

type Metrics interface {
	FetchErrInc(kind string)
}

type RouteCard struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	StartPoint string `json:"startPoint"`
	EndPoint   string `json:"endPoint"`
	StopsLabel string `json:"stopsLabel,omitempty"`
	Selected   bool   `json:"selected"`
}

type RouteSelectionView struct {
	Title      string      `json:"title"`
	Subtitle   string      `json:"subtitle"`
	Loading    bool        `json:"loading"`
	Routes     []RouteCard `json:"routes"`
	SelectedID string      `json:"selectedId,omitempty"`
	CanViewBus bool        `json:"canViewBus"`
}

// RouteSelection lists the routes and remembers the chosen one. The in-memory
// selection changes immediately; the preference write happens in the
// background and a failed write leaves the selection in place.
type RouteSelection struct {
	catalog RouteCatalog
	prefs   prefs.Store
	logger  *logrus.Entry
	metrics Metrics

	mu       sync.Mutex
	selected string

	wmu    sync.Mutex
	writes sync.WaitGroup
}

func NewRouteSelection(c RouteCatalog, store prefs.Store, logger *logrus.Logger, m Metrics) *RouteSelection {
	return &RouteSelection{
		catalog: c,
		prefs:   store,
		logger:  logger.WithField("component", "route-selection"),
		metrics: m,
	}
}

// Mount loads the routes and restores the last selection as a highlight.
func (s *RouteSelection) Mount(ctx context.Context) {
	s.catalog.Mount(ctx)

	last, ok, err := s.prefs.Get(ctx, fleet.PrefLastSelectedRoute)
	if err != nil {
		s.logger.WithError(err).Error("Error loading last selected route")
		s.fetchErr()
		return
	}
	if ok && last != "" {
		s.mu.Lock()
		if s.selected == "" {
			s.selected = last
		}
		s.mu.Unlock()
	}
}

func (s *RouteSelection) Unmount() { s.catalog.Unmount() }

func (s *RouteSelection) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *RouteSelection) Select(routeID string) {
	s.mu.Lock()
	s.selected = routeID
	s.mu.Unlock()

	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		s.wmu.Lock()
		defer s.wmu.Unlock()

		// writes are serialised and always store the newest selection
		id := s.Selected()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.prefs.Set(ctx, fleet.PrefLastSelectedRoute, id); err != nil {
			s.logger.WithError(err).WithField("route", id).Error("Error saving selected route")
			s.fetchErr()
		}
	}()
}

// Navigate reports where "View Live Bus" leads.
func (s *RouteSelection) Navigate() (Destination, error) {
	if s.Selected() == "" {
		return "", ErrNoRouteSelected
	}
	return DestinationMap, nil
}

func (s *RouteSelection) View() RouteSelectionView {
	cs := s.catalog.State()
	sel := s.Selected()

	cards := make([]RouteCard, 0, len(cs.Routes))
	for _, r := range cs.Routes {
		c := RouteCard{
			ID:         r.ID,
			Name:       r.Name,
			StartPoint: r.StartPoint,
			EndPoint:   r.EndPoint,
			Selected:   r.ID == sel,
		}
		if len(r.Stops) > 0 {
			c.StopsLabel = fmt.Sprintf("%d stops", len(r.Stops))
		}
		cards = append(cards, c)
	}
	return RouteSelectionView{
		Title:      "Select Your Route",
		Subtitle:   "Choose the bus route you want to track",
		Loading:    cs.Loading,
		Routes:     cards,
		SelectedID: sel,
		CanViewBus: sel != "",
	}
}

// Wait blocks until queued preference writes have finished.
func (s *RouteSelection) Wait() { s.writes.Wait() }

func (s *RouteSelection) fetchErr() {
	if s.metrics != nil {
		s.metrics.FetchErrInc("prefs")
	}
}

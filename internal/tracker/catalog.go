package tracker

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"bustracker/internal/fleet"
)

// RouteSource reads the full route collection.
type RouteSource interface {
	AllRoutes(ctx context.Context) ([]fleet.Route, error)
}

type CatalogState struct {
	Routes  []fleet.Route `json:"routes"`
	Loading bool          `json:"loading"`
}

// Catalog fetches the route collection once per mount. Routes are
// slow-changing reference data so there is no subscription.
type Catalog struct {
	src     RouteSource
	logger  *logrus.Entry
	metrics Metrics

	mu      sync.Mutex
	state   CatalogState
	mounted bool
	done    chan struct{}
}

func NewCatalog(src RouteSource, logger *logrus.Logger, m Metrics) *Catalog {
	return &Catalog{
		src:     src,
		logger:  logger.WithField("component", "catalog"),
		metrics: m,
		state:   CatalogState{Routes: []fleet.Route{}, Loading: true},
	}
}

// Mount starts the fetch and returns immediately. Mounting an already mounted
// catalog is a no-op.
func (c *Catalog) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.state = CatalogState{Routes: []fleet.Route{}, Loading: true}
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		routes, err := c.src.AllRoutes(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.mounted || c.done != done {
			if c.metrics != nil {
				c.metrics.StaleInc()
			}
			return
		}
		if err != nil {
			c.logger.WithError(err).Error("Failed to fetch routes")
			if c.metrics != nil {
				c.metrics.FetchErrInc("routes")
			}
		} else {
			c.state.Routes = routes
		}
		c.state.Loading = false
	}()
}

// Unmount discards any result still in flight.
func (c *Catalog) Unmount() {
	c.mu.Lock()
	c.mounted = false
	c.mu.Unlock()
}

func (c *Catalog) State() CatalogState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Routes = append([]fleet.Route(nil), c.state.Routes...)
	if s.Routes == nil {
		s.Routes = []fleet.Route{}
	}
	return s
}

// Wait blocks until the current fetch has settled.
func (c *Catalog) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

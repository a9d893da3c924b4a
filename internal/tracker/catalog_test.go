package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker/internal/fleet"
	"bustracker/internal/logging"
)

type fakeRoutes struct {
	routes []fleet.Route
	err    error
	gate   chan struct{}
	calls  int
}

func (f *fakeRoutes) AllRoutes(ctx context.Context) ([]fleet.Route, error) {
	f.calls++
	if f.gate != nil {
		<-f.gate
	}
	return f.routes, f.err
}

func TestCatalogLoadsOncePerMount(t *testing.T) {
	src := &fakeRoutes{routes: []fleet.Route{{ID: "R1", Name: "Campus Loop"}}}
	c := NewCatalog(src, logging.Discard(), nil)
	assert.True(t, c.State().Loading)

	c.Mount(context.Background())
	c.Mount(context.Background())
	c.Wait()

	s := c.State()
	assert.False(t, s.Loading)
	require.Len(t, s.Routes, 1)
	assert.Equal(t, "Campus Loop", s.Routes[0].Name)
	assert.Equal(t, 1, src.calls)
}

func TestCatalogErrorDegradesToEmpty(t *testing.T) {
	c := NewCatalog(&fakeRoutes{err: errors.New("offline")}, logging.Discard(), nil)
	c.Mount(context.Background())
	c.Wait()

	s := c.State()
	assert.False(t, s.Loading)
	assert.NotNil(t, s.Routes)
	assert.Empty(t, s.Routes)
}

func TestCatalogUnmountDropsLateResult(t *testing.T) {
	src := &fakeRoutes{routes: []fleet.Route{{ID: "R1"}}, gate: make(chan struct{})}
	c := NewCatalog(src, logging.Discard(), nil)
	c.Mount(context.Background())
	c.Unmount()
	close(src.gate)
	c.Wait()

	s := c.State()
	assert.True(t, s.Loading, "no write after unmount")
	assert.Empty(t, s.Routes)
}

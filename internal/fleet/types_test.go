package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterLocationsKeepsOnlyRouteBuses(t *testing.T) {
	buses := []Bus{{ID: "b1"}, {ID: "b2"}}
	locs := []LiveLocation{{BusID: "b1"}, {BusID: "x9"}, {BusID: "b2"}, {BusID: "b3"}}

	got := FilterLocations(locs, buses)

	require.Len(t, got, 2)
	assert.Equal(t, "b1", got[0].BusID)
	assert.Equal(t, "b2", got[1].BusID)
}

func TestFilterLocationsNoBuses(t *testing.T) {
	got := FilterLocations([]LiveLocation{{BusID: "b1"}}, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFindLocation(t *testing.T) {
	locs := []LiveLocation{{BusID: "b1", Speed: 3}, {BusID: "b2"}}
	l := FindLocation(locs, "b1")
	require.NotNil(t, l)
	assert.Equal(t, 3.0, l.Speed)
	assert.Nil(t, FindLocation(locs, "nope"))
}

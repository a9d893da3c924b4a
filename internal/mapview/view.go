// Package mapview turns buses and their live locations into a renderable map
// description. The web and native renderers differ only in tiles and framing.
package mapview

import (
	"fmt"
	"math"

	"bustracker/internal/fleet"
)

const (
	PlatformWeb    = "web"
	PlatformNative = "native"

	// MinSpan keeps a single bus from producing a zero-size viewport.
	MinSpan = 0.01
)

var defaultRegion = Viewport{
	Latitude:       37.7749,
	Longitude:      -122.4194,
	LatitudeDelta:  0.05,
	LongitudeDelta: 0.05,
}

// Renderer renders one frame of the live map.
type Renderer interface {
	Render(buses []fleet.Bus, locs []fleet.LiveLocation) View
}

type Marker struct {
	BusID       string  `json:"busId"`
	Label       string  `json:"label"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Rotation    float64 `json:"rotation"`
}

// Viewport is a center plus full spans in degrees.
type Viewport struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	LatitudeDelta  float64 `json:"latitudeDelta"`
	LongitudeDelta float64 `json:"longitudeDelta"`
}

// Bounds returns the south-west and north-east corners.
func (v Viewport) Bounds() (sw, ne [2]float64) {
	sw = [2]float64{v.Latitude - v.LatitudeDelta/2, v.Longitude - v.LongitudeDelta/2}
	ne = [2]float64{v.Latitude + v.LatitudeDelta/2, v.Longitude + v.LongitudeDelta/2}
	return sw, ne
}

type Placeholder struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

var noBuses = Placeholder{
	Title:  "No buses currently sharing location",
	Detail: "Check back in a few minutes",
}

type Tiles struct {
	URLTemplate string `json:"urlTemplate"`
	Attribution string `json:"attribution,omitempty"`
	MaxZoom     int    `json:"maxZoom,omitempty"`
}

type View struct {
	Platform    string       `json:"platform"`
	Tiles       Tiles        `json:"tiles"`
	Markers     []Marker     `json:"markers"`
	Viewport    Viewport     `json:"viewport"`
	Placeholder *Placeholder `json:"placeholder,omitempty"`
}

// markers builds one marker per location whose bus is known.
func markers(buses []fleet.Bus, locs []fleet.LiveLocation) []Marker {
	byID := make(map[string]fleet.Bus, len(buses))
	for _, b := range buses {
		byID[b.ID] = b
	}
	out := make([]Marker, 0, len(locs))
	for _, l := range locs {
		b, ok := byID[l.BusID]
		if !ok {
			continue
		}
		out = append(out, Marker{
			BusID:       b.ID,
			Label:       b.Number,
			Title:       "Bus " + b.Number,
			Description: fmt.Sprintf("Last updated: %s", l.Timestamp.Local().Format("15:04:05")),
			Latitude:    l.Latitude,
			Longitude:   l.Longitude,
			Rotation:    l.Heading,
		})
	}
	return out
}

// fit frames all markers, flooring each span at MinSpan before applying pad.
func fit(ms []Marker, pad float64) Viewport {
	if len(ms) == 0 {
		return defaultRegion
	}
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	for _, m := range ms {
		minLat = math.Min(minLat, m.Latitude)
		maxLat = math.Max(maxLat, m.Latitude)
		minLng = math.Min(minLng, m.Longitude)
		maxLng = math.Max(maxLng, m.Longitude)
	}
	return Viewport{
		Latitude:       (minLat + maxLat) / 2,
		Longitude:      (minLng + maxLng) / 2,
		LatitudeDelta:  math.Max(maxLat-minLat, MinSpan) * pad,
		LongitudeDelta: math.Max(maxLng-minLng, MinSpan) * pad,
	}
}

func render(platform string, tiles Tiles, pad float64, buses []fleet.Bus, locs []fleet.LiveLocation) View {
	ms := markers(buses, locs)
	v := View{
		Platform: platform,
		Tiles:    tiles,
		Markers:  ms,
		Viewport: fit(ms, pad),
	}
	if len(ms) == 0 {
		p := noBuses
		v.Placeholder = &p
	}
	return v
}

package mapview

import (
	"sync"

	"bustracker/internal/fleet"
)

// WebRenderer frames like Leaflet's fitBounds(bounds.pad(0.1)).
type WebRenderer struct{}

func (WebRenderer) Render(buses []fleet.Bus, locs []fleet.LiveLocation) View {
	return render(PlatformWeb, Tiles{
		URLTemplate: "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: "© OpenStreetMap contributors",
	}, 1.2, buses, locs)
}

// NativeRenderer frames a region with a 1.3x margin.
type NativeRenderer struct{}

func (NativeRenderer) Render(buses []fleet.Bus, locs []fleet.LiveLocation) View {
	return render(PlatformNative, Tiles{
		URLTemplate: "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		MaxZoom:     19,
	}, 1.3, buses, locs)
}

// Dispatcher picks a renderer once, from the platform named at startup.
// The native renderer is only built on first use.
type Dispatcher struct {
	platform string

	once      sync.Once
	newNative func() Renderer
	native    Renderer
}

func NewDispatcher(platform string) *Dispatcher {
	return &Dispatcher{
		platform:  platform,
		newNative: func() Renderer { return NativeRenderer{} },
	}
}

func (d *Dispatcher) Platform() string {
	if d.platform == PlatformWeb {
		return PlatformWeb
	}
	return PlatformNative
}

func (d *Dispatcher) Render(buses []fleet.Bus, locs []fleet.LiveLocation) View {
	if d.platform == PlatformWeb {
		return WebRenderer{}.Render(buses, locs)
	}
	d.once.Do(func() { d.native = d.newNative() })
	return d.native.Render(buses, locs)
}

// Package status derives the per-bus display state shown on the live map.
// Everything here is a pure function of the location timestamp and "now".
package status

import (
	"fmt"
	"time"

	"bustracker/internal/fleet"
)

// OnlineWindow is the strict cutoff for the online indicator.
const OnlineWindow = 60 * time.Second

const offlineLabel = "Offline"

// IsOnline reports whether loc was reported less than OnlineWindow before now.
func IsOnline(loc *fleet.LiveLocation, now time.Time) bool {
	if loc == nil {
		return false
	}
	return now.Sub(loc.Timestamp) < OnlineWindow
}

// LastSeen renders the "last update" label: Just now, <n>m ago or <h>h ago.
func LastSeen(loc *fleet.LiveLocation, now time.Time) string {
	if loc == nil {
		return offlineLabel
	}
	age := now.Sub(loc.Timestamp)
	minutes := int64(age / time.Minute)
	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	default:
		return fmt.Sprintf("%dh ago", minutes/60)
	}
}

// BusCountLabel is the header line above the map.
func BusCountLabel(n int) string {
	if n == 1 {
		return "1 bus on this route"
	}
	return fmt.Sprintf("%d buses on this route", n)
}

// BusStatus is one row of the status panel.
type BusStatus struct {
	BusID      string `json:"busId"`
	Number     string `json:"number"`
	Online     bool   `json:"online"`
	LastUpdate string `json:"lastUpdate"`
}

// Derive builds a status row for every bus, in bus order.
func Derive(buses []fleet.Bus, locs []fleet.LiveLocation, now time.Time) []BusStatus {
	out := make([]BusStatus, 0, len(buses))
	for _, b := range buses {
		loc := fleet.FindLocation(locs, b.ID)
		out = append(out, BusStatus{
			BusID:      b.ID,
			Number:     b.Number,
			Online:     IsOnline(loc, now),
			LastUpdate: LastSeen(loc, now),
		})
	}
	return out
}

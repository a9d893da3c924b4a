package fleet

import "time"

// RolePassenger is the only role this client ever assigns to a profile.
const RolePassenger = "passenger"

// PrefLastSelectedRoute is the local preference key holding the last chosen route id.
const PrefLastSelectedRoute = "lastSelectedRoute"

type Route struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	StartPoint string   `json:"startPoint"`
	EndPoint   string   `json:"endPoint"`
	Stops      []string `json:"stops"`
}

type Bus struct {
	ID       string `json:"id"`
	Number   string `json:"number"`
	RouteID  string `json:"routeId"`
	DriverID string `json:"driverId"`
}

// LiveLocation is the last position reported by a bus device, keyed by BusID.
type LiveLocation struct {
	BusID     string    `json:"busId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`   // m/s
	Heading   float64   `json:"heading"` // degrees clockwise from north
}

// Principal is the identity returned by the identity provider after sign-in.
type Principal struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// User is the profile document stored for a principal.
type User struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLogin   time.Time `json:"lastLogin"`
}

// BusIDs returns the set of ids in buses.
func BusIDs(buses []Bus) map[string]struct{} {
	ids := make(map[string]struct{}, len(buses))
	for _, b := range buses {
		ids[b.ID] = struct{}{}
	}
	return ids
}

// FilterLocations keeps only locations whose bus is in buses, preserving order.
func FilterLocations(locs []LiveLocation, buses []Bus) []LiveLocation {
	ids := BusIDs(buses)
	out := make([]LiveLocation, 0, len(locs))
	for _, l := range locs {
		if _, ok := ids[l.BusID]; ok {
			out = append(out, l)
		}
	}
	return out
}

// FindLocation returns the location reported by busID, or nil.
func FindLocation(locs []LiveLocation, busID string) *LiveLocation {
	for i := range locs {
		if locs[i].BusID == busID {
			return &locs[i]
		}
	}
	return nil
}

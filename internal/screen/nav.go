// Package screen holds the passenger-facing screen state: route selection,
// the live map, the profile and the navigation gate in front of them.
package screen

import (
	"errors"

	"bustracker/internal/auth"
)

type Destination string

const (
	DestinationLoading Destination = "loading"
	DestinationAuth    Destination = "auth"
	DestinationRoutes  Destination = "routes"
	DestinationMap     Destination = "map"
)

// ErrNoRouteSelected is returned when navigating to the map before a route
// has been chosen.
var ErrNoRouteSelected = errors.New("no route selected")

// Root picks the first screen for the given session state.
func Root(st auth.State) Destination {
	switch {
	case st.Loading():
		return DestinationLoading
	case st.User != nil:
		return DestinationRoutes
	default:
		return DestinationAuth
	}
}

// Notice is a transient notification shown after a user action.
type Notice struct {
	Kind   string `json:"kind"` // success | error
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func SignInNotice(err error) Notice {
	if err != nil {
		return Notice{Kind: "error", Title: "Authentication Failed", Detail: auth.Message(err)}
	}
	return Notice{Kind: "success", Title: "Welcome!", Detail: "Successfully signed in with Google"}
}

func LogoutNotice(err error) Notice {
	if err != nil {
		return Notice{Kind: "error", Title: "Logout failed", Detail: "Please try again"}
	}
	return Notice{Kind: "success", Title: "Logged out successfully"}
}

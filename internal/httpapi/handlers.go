package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bustracker/internal/auth"
	"bustracker/internal/screen"
)

const (
	signInTimeout = 5 * time.Minute
	authURLWait   = 2 * time.Second
)

// nav handles GET /api/nav
func (s *Server) nav(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"destination": screen.Root(s.deps.Session.State()),
	})
}

// me handles GET /api/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Session.State()
	if st.User == nil {
		writeError(w, http.StatusUnauthorized, "Not signed in", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    st.User,
		"profile": screen.Profile(st.User),
	})
}

// startGoogleSignIn handles POST /api/auth/google. It starts (or joins) an
// attempt and replies with the URL the front end should open.
func (s *Server) startGoogleSignIn(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	att := s.signIn
	if att == nil {
		att = &signInAttempt{done: make(chan struct{})}
		s.signIn = att
		s.notice = nil
		go s.runSignIn(att)
	}
	s.mu.Unlock()

	deadline := time.NewTimer(authURLWait)
	defer deadline.Stop()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	for {
		if u, ok := s.deps.SignIn.Pending(); ok {
			writeJSON(w, http.StatusAccepted, map[string]string{"authUrl": u})
			return
		}
		select {
		case <-att.done:
			s.writeNotice(w)
			return
		case <-deadline.C:
			writeError(w, http.StatusGatewayTimeout, "Sign-in did not start", nil)
			return
		case <-r.Context().Done():
			return
		case <-poll.C:
		}
	}
}

func (s *Server) runSignIn(att *signInAttempt) {
	ctx, cancel := context.WithTimeout(s.ctx, signInTimeout)
	defer cancel()
	err := s.deps.Session.SignInWithGoogle(ctx)
	n := screen.SignInNotice(err)

	s.mu.Lock()
	s.notice = &n
	if s.signIn == att {
		s.signIn = nil
	}
	s.mu.Unlock()
	close(att.done)
}

func (s *Server) writeNotice(w http.ResponseWriter) {
	s.mu.Lock()
	n := s.notice
	s.mu.Unlock()
	if n != nil && n.Kind == "error" {
		writeError(w, http.StatusBadRequest, n.Title, map[string]interface{}{"detail": n.Detail})
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// authCallback handles GET /auth/callback, the OAuth2 redirect target.
func (s *Server) authCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := s.deps.SignIn.HandleCallback(q.Get("state"), q.Get("code"), q.Get("error"))
	if errors.Is(err, auth.ErrNoPendingSignIn) {
		writeError(w, http.StatusBadRequest, "No sign-in in progress", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sign-in callback failed", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!doctype html><title>BusTracker</title><p>Sign-in received. You can close this window.</p>")
}

// authStatus handles GET /api/auth/status
func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	inProgress := s.signIn != nil
	n := s.notice
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"inProgress": inProgress,
		"notice":     n,
		"session":    s.deps.Session.State().Status.String(),
	})
}

// logout handles POST /api/auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Session.Logout(r.Context())
	n := screen.LogoutNotice(err)
	if err != nil {
		writeError(w, http.StatusBadGateway, n.Title, map[string]interface{}{"detail": n.Detail})
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// listRoutes handles GET /api/routes
func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Routes.View())
}

// selectRoute handles POST /api/routes/{routeID}/select
func (s *Server) selectRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "routeID")
	v := s.deps.Routes.View()
	if !v.Loading && !hasRoute(v, id) {
		writeError(w, http.StatusNotFound, "Route not found", map[string]interface{}{"routeId": id})
		return
	}
	s.deps.Routes.Select(id)
	writeJSON(w, http.StatusOK, s.deps.Routes.View())
}

func hasRoute(v screen.RouteSelectionView, id string) bool {
	for _, c := range v.Routes {
		if c.ID == id {
			return true
		}
	}
	return false
}

// navigate handles POST /api/routes/navigate ("View Live Bus").
func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	dest, err := s.deps.Routes.Navigate()
	if errors.Is(err, screen.ErrNoRouteSelected) {
		writeError(w, http.StatusConflict, "Select a route first", nil)
		return
	}
	// the map reads the stored preference, so let the write land first
	s.deps.Routes.Wait()
	s.deps.Map.Refresh(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"destination": dest})
}

// liveMap handles GET /api/map
func (s *Server) liveMap(w http.ResponseWriter, r *http.Request) {
	s.deps.Map.Refresh(r.Context())
	writeJSON(w, http.StatusOK, s.deps.Map.View(s.now()))
}

// streamMap handles GET /api/map/stream as server-sent events. A view is sent
// on connect, after every tracker change and on a heartbeat so the
// "last update" labels keep ageing.
func (s *Server) streamMap(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}
	s.deps.Map.Refresh(r.Context())

	changed := make(chan struct{}, 1)
	cancel := s.deps.Map.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	tick := time.NewTicker(s.heartbeat)
	defer tick.Stop()

	send := func() bool {
		b, err := json.Marshal(s.deps.Map.View(s.now()))
		if err != nil {
			s.logger.WithError(err).Error("encode map view")
			return false
		}
		if _, err := fmt.Fprintf(w, "event: map\ndata: %s\n\n", b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case <-changed:
		case <-tick.C:
		}
		if !send() {
			return
		}
	}
}

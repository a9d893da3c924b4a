// Package httpapi serves the passenger screens to a local front end.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"
	"github.com/sirupsen/logrus"

	"bustracker/internal/auth"
	"bustracker/internal/screen"
)

type SessionAPI interface {
	State() auth.State
	SignInWithGoogle(ctx context.Context) error
	Logout(ctx context.Context) error
}

// SignInFlow is the redirect half of an interactive sign-in.
type SignInFlow interface {
	Pending() (authURL string, ok bool)
	HandleCallback(state, code, errCode string) error
}

type RoutesScreen interface {
	View() screen.RouteSelectionView
	Select(routeID string)
	Navigate() (screen.Destination, error)
	Wait()
}

type MapScreen interface {
	Refresh(ctx context.Context)
	View(now time.Time) screen.LiveMapView
	OnChange(fn func()) (cancel func())
}

type Deps struct {
	Session     SessionAPI
	SignIn      SignInFlow
	Routes      RoutesScreen
	Map         MapScreen
	Ping        func(ctx context.Context) error
	Metrics     http.Handler
	CORSOrigins []string
	Logger      *logrus.Logger
}

// ErrorResponse is the JSON body of every non-2xx reply.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type Server struct {
	deps   Deps
	logger *logrus.Entry
	now    func() time.Time

	// sign-in attempts outlive the request that started them
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	signIn *signInAttempt
	notice *screen.Notice

	heartbeat time.Duration
}

type signInAttempt struct {
	done chan struct{}
}

func New(d Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		deps:      d,
		logger:    d.Logger.WithField("component", "http"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		heartbeat: 15 * time.Second,
	}
}

// Close aborts a sign-in still waiting for its callback.
func (s *Server) Close() { s.cancel() }

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// the event stream must not sit behind the gzip buffer
	r.Get("/api/map/stream", s.streamMap)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

		r.Get("/health", s.health)
		if s.deps.Metrics != nil {
			r.Handle("/metrics", s.deps.Metrics)
		}

		r.Get("/api/nav", s.nav)
		r.Get("/api/me", s.me)

		r.Post("/api/auth/google", s.startGoogleSignIn)
		r.Get("/auth/callback", s.authCallback)
		r.Get("/api/auth/status", s.authStatus)
		r.Post("/api/auth/logout", s.logout)

		r.Get("/api/routes", s.listRoutes)
		r.Post("/api/routes/navigate", s.navigate)
		r.Post("/api/routes/{routeID}/select", s.selectRoute)

		r.Get("/api/map", s.liveMap)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
			"req_id":   middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, details map[string]interface{}) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.deps.Ping != nil {
		if err := s.deps.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":    "error",
				"database":  "disconnected",
				"timestamp": time.Now().UTC(),
				"error":     err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"database":  "connected",
		"timestamp": time.Now().UTC(),
	})
}

package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bustracker/internal/db"
	"bustracker/internal/fleet"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusLoading
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// ProfileStore is the per-user profile record store.
type ProfileStore interface {
	GetUser(ctx context.Context, uid string) (*fleet.User, error)
	CreateUser(ctx context.Context, usr fleet.User) error
	TouchLastLogin(ctx context.Context, uid string, at time.Time) error
}

type Metrics interface {
	SignInInc(result string)
}

type State struct {
	Status Status
	User   *fleet.Principal
}

func (s State) Loading() bool { return s.Status == StatusUnknown || s.Status == StatusLoading }

// Session follows a provider for its whole lifetime and keeps the signed-in
// user's profile record up to date.
type Session struct {
	provider Provider
	profiles ProfileStore
	logger   *logrus.Entry
	metrics  Metrics
	now      func() time.Time

	mu     sync.Mutex
	state  State
	change map[uint64]func()
	nextID uint64

	// latest principal not yet processed
	mail        chan *fleet.Principal
	done        chan struct{}
	stopped     chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

func NewSession(p Provider, profiles ProfileStore, logger *logrus.Logger, m Metrics) *Session {
	s := &Session{
		provider: p,
		profiles: profiles,
		logger:   logger.WithField("component", "session"),
		metrics:  m,
		now:      time.Now,
		state:    State{Status: StatusLoading},
		change:   make(map[uint64]func()),
		mail:     make(chan *fleet.Principal, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go s.loop()
	s.unsubscribe = p.OnAuthStateChanged(s.offer)
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Status: s.state.Status, User: copyPrincipal(s.state.User)}
}

// OnChange registers fn to be called after every state transition.
func (s *Session) OnChange(fn func()) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.change[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.change, id)
		s.mu.Unlock()
	}
}

// SignInWithGoogle runs the provider's interactive sign-in. The returned
// error is one of ErrPopupBlocked, ErrNetwork, ErrSignInCancelled or
// ErrSignInFailed.
func (s *Session) SignInWithGoogle(ctx context.Context) error {
	s.logger.Info("starting google sign-in")
	_, err := s.provider.SignIn(ctx)
	if s.metrics != nil {
		s.metrics.SignInInc(resultLabel(err))
	}
	if err != nil {
		s.logger.WithError(err).Warn("google sign-in failed")
		return Classify(err)
	}
	return nil
}

// Logout signs out of the provider. Failures are returned unchanged.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.WithError(err).Error("logout failed")
		return err
	}
	return nil
}

// Close detaches from the provider and waits for in-flight processing.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		close(s.done)
	})
	<-s.stopped
}

func (s *Session) offer(p *fleet.Principal) {
	select {
	case s.mail <- p:
		return
	default:
	}
	select {
	case <-s.mail:
	default:
	}
	select {
	case s.mail <- p:
	default:
	}
}

func (s *Session) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case p := <-s.mail:
			s.apply(p)
		}
	}
}

func (s *Session) apply(p *fleet.Principal) {
	if p != nil {
		s.logger.WithField("uid", p.UID).Info("auth state: signed in")
		if err := s.upsertProfile(context.Background(), *p); err != nil {
			s.logger.WithError(err).WithField("uid", p.UID).Error("profile upsert failed")
		}
	} else {
		s.logger.Info("auth state: signed out")
	}

	s.mu.Lock()
	if p != nil {
		s.state = State{Status: StatusAuthenticated, User: p}
	} else {
		s.state = State{Status: StatusAnonymous}
	}
	fns := make([]func(), 0, len(s.change))
	for _, fn := range s.change {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// upsertProfile creates the record with passenger defaults on first sign-in
// and otherwise only refreshes lastLogin.
func (s *Session) upsertProfile(ctx context.Context, p fleet.Principal) error {
	if s.profiles == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	now := s.now()
	_, err := s.profiles.GetUser(ctx, p.UID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return s.profiles.CreateUser(ctx, fleet.User{
			UID:         p.UID,
			Email:       p.Email,
			DisplayName: p.DisplayName,
			PhotoURL:    p.PhotoURL,
			Role:        fleet.RolePassenger,
			CreatedAt:   now,
			LastLogin:   now,
		})
	case err != nil:
		return err
	default:
		return s.profiles.TouchLastLogin(ctx, p.UID, now)
	}
}

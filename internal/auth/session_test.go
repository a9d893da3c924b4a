package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker/internal/db"
	"bustracker/internal/fleet"
	"bustracker/internal/logging"
)

type fakeProvider struct {
	mu         sync.Mutex
	user       *fleet.Principal
	listeners  map[int]func(*fleet.Principal)
	next       int
	signInErr  error
	signOutErr error
}

func newFakeProvider(user *fleet.Principal) *fakeProvider {
	return &fakeProvider{user: user, listeners: map[int]func(*fleet.Principal){}}
}

func (f *fakeProvider) SignIn(ctx context.Context) (fleet.Principal, error) {
	f.mu.Lock()
	if f.signInErr != nil {
		err := f.signInErr
		f.mu.Unlock()
		return fleet.Principal{}, err
	}
	pr := fleet.Principal{UID: "u1", Email: "ana@example.com", DisplayName: "Ana"}
	f.mu.Unlock()
	f.set(&pr)
	return pr, nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	err := f.signOutErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.set(nil)
	return nil
}

func (f *fakeProvider) CurrentUser() *fleet.Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return copyPrincipal(f.user)
}

func (f *fakeProvider) OnAuthStateChanged(fn func(*fleet.Principal)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = fn
	cur := copyPrincipal(f.user)
	f.mu.Unlock()
	fn(cur)
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeProvider) set(p *fleet.Principal) {
	f.mu.Lock()
	f.user = p
	fns := make([]func(*fleet.Principal), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(copyPrincipal(p))
	}
}

func (f *fakeProvider) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

type fakeProfiles struct {
	mu      sync.Mutex
	users   map[string]fleet.User
	getErr  error
	touched int
}

func newFakeProfiles() *fakeProfiles { return &fakeProfiles{users: map[string]fleet.User{}} }

func (f *fakeProfiles) GetUser(_ context.Context, uid string) (*fleet.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[uid]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

func (f *fakeProfiles) CreateUser(_ context.Context, u fleet.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.UID] = u
	return nil
}

func (f *fakeProfiles) TouchLastLogin(_ context.Context, uid string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[uid]
	if !ok {
		return db.ErrNotFound
	}
	u.LastLogin = at
	f.users[uid] = u
	f.touched++
	return nil
}

func (f *fakeProfiles) get(uid string) (fleet.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[uid]
	return u, ok
}

type labelCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *labelCounter) SignInInc(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[result]++
}

func waitStatus(t *testing.T, s *Session, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State().Status == want }, time.Second, 5*time.Millisecond)
}

func TestSessionSettlesAnonymous(t *testing.T) {
	p := newFakeProvider(nil)
	s := NewSession(p, newFakeProfiles(), logging.Discard(), nil)
	defer s.Close()

	waitStatus(t, s, StatusAnonymous)
	assert.False(t, s.State().Loading())
	assert.Nil(t, s.State().User)
}

func TestSignInCreatesPassengerProfile(t *testing.T) {
	p := newFakeProvider(nil)
	profiles := newFakeProfiles()
	s := NewSession(p, profiles, logging.Discard(), nil)
	defer s.Close()
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	waitStatus(t, s, StatusAnonymous)

	require.NoError(t, s.SignInWithGoogle(context.Background()))
	waitStatus(t, s, StatusAuthenticated)
	assert.Equal(t, "u1", s.State().User.UID)

	u, ok := profiles.get("u1")
	require.True(t, ok)
	assert.Equal(t, fleet.RolePassenger, u.Role)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, fixed, u.CreatedAt)
	assert.Equal(t, fixed, u.LastLogin)
}

func TestReturningUserOnlyTouchesLastLogin(t *testing.T) {
	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	profiles := newFakeProfiles()
	profiles.users["u1"] = fleet.User{UID: "u1", Role: fleet.RolePassenger, DisplayName: "Old", CreatedAt: created, LastLogin: created}

	p := newFakeProvider(&fleet.Principal{UID: "u1", DisplayName: "New"})
	s := NewSession(p, profiles, logging.Discard(), nil)
	defer s.Close()
	waitStatus(t, s, StatusAuthenticated)

	u, _ := profiles.get("u1")
	assert.Equal(t, created, u.CreatedAt)
	assert.Equal(t, "Old", u.DisplayName)
	assert.True(t, u.LastLogin.After(created))
	assert.Equal(t, 1, profiles.touched)
}

func TestProfileFailureStillAuthenticates(t *testing.T) {
	profiles := newFakeProfiles()
	profiles.getErr = errors.New("db down")
	p := newFakeProvider(&fleet.Principal{UID: "u1"})
	s := NewSession(p, profiles, logging.Discard(), nil)
	defer s.Close()

	waitStatus(t, s, StatusAuthenticated)
}

func TestSignInErrorsAreClassified(t *testing.T) {
	cases := []struct {
		err   error
		want  error
		label string
	}{
		{fmt.Errorf("window: %w", ErrPopupBlocked), ErrPopupBlocked, "popup"},
		{&url.Error{Op: "Post", URL: "https://oauth2.googleapis.com/token", Err: &net.DNSError{Err: "no such host"}}, ErrNetwork, "network"},
		{context.Canceled, ErrSignInCancelled, "cancelled"},
		{context.DeadlineExceeded, ErrSignInCancelled, "cancelled"},
		{fmt.Errorf("exchange code: %w", context.DeadlineExceeded), ErrSignInCancelled, "cancelled"},
		{errors.New("invalid_grant"), ErrSignInFailed, "failed"},
	}
	for _, tc := range cases {
		p := newFakeProvider(nil)
		p.signInErr = tc.err
		m := &labelCounter{}
		s := NewSession(p, newFakeProfiles(), logging.Discard(), m)

		err := s.SignInWithGoogle(context.Background())
		assert.ErrorIs(t, err, tc.want)
		assert.Equal(t, 1, m.counts[tc.label])
		s.Close()
	}
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "Google sign-in popup was blocked. Please allow popups and try again.", Message(ErrPopupBlocked))
	assert.Equal(t, "Network error. Please check your internet connection and try again.", Message(ErrNetwork))
	assert.Equal(t, "Google sign-in was cancelled.", Message(context.Canceled))
	assert.Equal(t, "Google sign-in failed. Please try again.", Message(errors.New("boom")))
}

func TestLogoutPropagatesFailure(t *testing.T) {
	p := newFakeProvider(&fleet.Principal{UID: "u1"})
	p.signOutErr = errors.New("revoke failed")
	s := NewSession(p, newFakeProfiles(), logging.Discard(), nil)
	defer s.Close()
	waitStatus(t, s, StatusAuthenticated)

	assert.EqualError(t, s.Logout(context.Background()), "revoke failed")
	assert.Equal(t, StatusAuthenticated, s.State().Status)

	p.mu.Lock()
	p.signOutErr = nil
	p.mu.Unlock()
	require.NoError(t, s.Logout(context.Background()))
	waitStatus(t, s, StatusAnonymous)
}

func TestCloseDetachesListener(t *testing.T) {
	p := newFakeProvider(nil)
	s := NewSession(p, newFakeProfiles(), logging.Discard(), nil)
	assert.Equal(t, 1, p.listenerCount())

	var calls int
	var mu sync.Mutex
	s.OnChange(func() { mu.Lock(); calls++; mu.Unlock() })
	waitStatus(t, s, StatusAnonymous)

	s.Close()
	s.Close()
	assert.Equal(t, 0, p.listenerCount())

	mu.Lock()
	before := calls
	mu.Unlock()
	p.set(&fleet.Principal{UID: "late"})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, before, calls)
	mu.Unlock()
	assert.NotEqual(t, StatusAuthenticated, s.State().Status)
}

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"bustracker/internal/fleet"
	"bustracker/internal/prefs"
)

// SessionKey is the prefs key holding the signed-in principal.
const SessionKey = "session"

const userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleProvider signs passengers in with the OAuth2 authorization code flow.
// SignIn parks until the browser is redirected back to HandleCallback.
type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	store       prefs.Store
	logger      *logrus.Entry

	mu        sync.Mutex
	user      *fleet.Principal
	pending   *pendingSignIn
	listeners map[uint64]func(*fleet.Principal)
	nextID    uint64

	// serialises listener calls so they observe changes in order
	notifyMu sync.Mutex
}

type pendingSignIn struct {
	state   string
	authURL string
	result  chan callbackResult
}

type callbackResult struct {
	code string
	err  error
}

type userInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// NewGoogleProvider restores a persisted session from store, if any.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig, store prefs.Store, logger *logrus.Logger) (*GoogleProvider, error) {
	p := &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: userInfoURL,
		store:       store,
		logger:      logger.WithField("component", "google-auth"),
		listeners:   make(map[uint64]func(*fleet.Principal)),
	}

	raw, ok, err := store.Get(ctx, SessionKey)
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	if ok {
		var pr fleet.Principal
		if err := json.Unmarshal([]byte(raw), &pr); err != nil || pr.UID == "" {
			p.logger.WithError(err).Warn("discarding unreadable persisted session")
		} else {
			p.user = &pr
			p.logger.WithField("uid", pr.UID).Info("restored session")
		}
	}
	return p, nil
}

func (p *GoogleProvider) CurrentUser() *fleet.Principal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyPrincipal(p.user)
}

// Pending returns the authorization URL of the sign-in in progress.
func (p *GoogleProvider) Pending() (authURL string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return "", false
	}
	return p.pending.authURL, true
}

func (p *GoogleProvider) SignIn(ctx context.Context) (fleet.Principal, error) {
	p.mu.Lock()
	if p.pending != nil {
		p.mu.Unlock()
		return fleet.Principal{}, fmt.Errorf("another sign-in window is open: %w", ErrPopupBlocked)
	}
	state := uuid.NewString()
	pend := &pendingSignIn{
		state:   state,
		authURL: p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline),
		result:  make(chan callbackResult, 1),
	}
	p.pending = pend
	p.mu.Unlock()

	defer p.clearPending(pend)

	var res callbackResult
	select {
	case <-ctx.Done():
		return fleet.Principal{}, ctx.Err()
	case res = <-pend.result:
	}
	if res.err != nil {
		return fleet.Principal{}, res.err
	}

	tok, err := p.oauth.Exchange(ctx, res.code)
	if err != nil {
		return fleet.Principal{}, fmt.Errorf("exchange code: %w", err)
	}
	pr, err := p.fetchUserInfo(ctx, tok)
	if err != nil {
		return fleet.Principal{}, err
	}

	if b, err := json.Marshal(pr); err == nil {
		if err := p.store.Set(ctx, SessionKey, string(b)); err != nil {
			p.logger.WithError(err).Warn("persist session failed")
		}
	}

	p.mu.Lock()
	p.user = &pr
	p.mu.Unlock()
	p.logger.WithField("uid", pr.UID).Info("signed in")
	p.notify()
	return pr, nil
}

// HandleCallback completes the pending sign-in. errCode is the OAuth2 error
// parameter of the redirect, empty on success.
func (p *GoogleProvider) HandleCallback(state, code, errCode string) error {
	p.mu.Lock()
	pend := p.pending
	p.mu.Unlock()
	if pend == nil || pend.state != state {
		return ErrNoPendingSignIn
	}

	res := callbackResult{code: code}
	switch {
	case errCode == "access_denied":
		res.err = fmt.Errorf("consent denied: %w", ErrSignInCancelled)
	case errCode != "":
		res.err = fmt.Errorf("authorization error %q", errCode)
	case code == "":
		res.err = errors.New("callback without code")
	}
	select {
	case pend.result <- res:
	default:
		// a callback for this state was already delivered
		return ErrNoPendingSignIn
	}
	return nil
}

func (p *GoogleProvider) SignOut(ctx context.Context) error {
	if err := p.store.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	p.mu.Lock()
	p.user = nil
	p.mu.Unlock()
	p.logger.Info("signed out")
	p.notify()
	return nil
}

func (p *GoogleProvider) OnAuthStateChanged(fn func(*fleet.Principal)) func() {
	p.notifyMu.Lock()
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	cur := copyPrincipal(p.user)
	p.mu.Unlock()
	fn(cur)
	p.notifyMu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *GoogleProvider) notify() {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	cur := p.user
	fns := make([]func(*fleet.Principal), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(copyPrincipal(cur))
	}
}

func (p *GoogleProvider) clearPending(pend *pendingSignIn) {
	p.mu.Lock()
	if p.pending == pend {
		p.pending = nil
	}
	p.mu.Unlock()
}

func (p *GoogleProvider) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (fleet.Principal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return fleet.Principal{}, err
	}
	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return fleet.Principal{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fleet.Principal{}, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}

	var ui userInfo
	if err := json.NewDecoder(resp.Body).Decode(&ui); err != nil {
		return fleet.Principal{}, fmt.Errorf("decode userinfo: %w", err)
	}
	if ui.Sub == "" {
		return fleet.Principal{}, errors.New("userinfo without subject")
	}
	return fleet.Principal{UID: ui.Sub, Email: ui.Email, DisplayName: ui.Name, PhotoURL: ui.Picture}, nil
}

func copyPrincipal(p *fleet.Principal) *fleet.Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

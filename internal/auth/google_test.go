package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"bustracker/internal/fleet"
	"bustracker/internal/logging"
	"bustracker/internal/prefs"
)

func fakeGoogle(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(userInfo{Sub: "g-42", Email: "ana@example.com", Name: "Ana", Picture: "https://p/a.png"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvider(t *testing.T, store prefs.Store) *GoogleProvider {
	t.Helper()
	srv := fakeGoogle(t)
	p, err := NewGoogleProvider(context.Background(), GoogleConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:8090/auth/callback",
	}, store, logging.Discard())
	require.NoError(t, err)
	p.oauth.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	p.userInfoURL = srv.URL + "/userinfo"
	return p
}

// pendingState waits for SignIn to publish its authorization URL and returns its state.
func pendingState(t *testing.T, p *GoogleProvider) string {
	t.Helper()
	var authURL string
	require.Eventually(t, func() bool {
		var ok bool
		authURL, ok = p.Pending()
		return ok
	}, time.Second, time.Millisecond)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

type signInResult struct {
	pr  fleet.Principal
	err error
}

func startSignIn(ctx context.Context, p *GoogleProvider) chan signInResult {
	ch := make(chan signInResult, 1)
	go func() {
		pr, err := p.SignIn(ctx)
		ch <- signInResult{pr, err}
	}()
	return ch
}

func TestGoogleSignInPersistsAndNotifies(t *testing.T) {
	store := prefs.NewMemoryStore()
	p := newTestProvider(t, store)

	var seen []*fleet.Principal
	unsub := p.OnAuthStateChanged(func(pr *fleet.Principal) { seen = append(seen, pr) })
	defer unsub()

	res := startSignIn(context.Background(), p)
	state := pendingState(t, p)
	assert.ErrorIs(t, p.HandleCallback("wrong", "good-code", ""), ErrNoPendingSignIn)
	require.NoError(t, p.HandleCallback(state, "good-code", ""))

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, "g-42", r.pr.UID)
	assert.Equal(t, "Ana", p.CurrentUser().DisplayName)

	require.Len(t, seen, 2)
	assert.Nil(t, seen[0])
	assert.Equal(t, "g-42", seen[1].UID)

	_, ok := p.Pending()
	assert.False(t, ok)

	raw, ok, err := store.Get(context.Background(), SessionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, raw, `"uid":"g-42"`)

	restored, err := NewGoogleProvider(context.Background(), GoogleConfig{}, store, logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, restored.CurrentUser())
	assert.Equal(t, "g-42", restored.CurrentUser().UID)
}

func TestGoogleSignInCancelledByContext(t *testing.T) {
	p := newTestProvider(t, prefs.NewMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	res := startSignIn(ctx, p)
	pendingState(t, p)
	cancel()

	r := <-res
	assert.ErrorIs(t, Classify(r.err), ErrSignInCancelled)
	_, ok := p.Pending()
	assert.False(t, ok)
}

func TestGoogleConsentDenied(t *testing.T) {
	p := newTestProvider(t, prefs.NewMemoryStore())
	res := startSignIn(context.Background(), p)
	require.NoError(t, p.HandleCallback(pendingState(t, p), "", "access_denied"))

	r := <-res
	assert.ErrorIs(t, r.err, ErrSignInCancelled)
	assert.Nil(t, p.CurrentUser())
}

func TestGoogleSecondSignInIsBlocked(t *testing.T) {
	p := newTestProvider(t, prefs.NewMemoryStore())
	res := startSignIn(context.Background(), p)
	state := pendingState(t, p)

	_, err := p.SignIn(context.Background())
	assert.ErrorIs(t, err, ErrPopupBlocked)

	require.NoError(t, p.HandleCallback(state, "bad-code", ""))
	r := <-res
	require.Error(t, r.err)
	assert.ErrorIs(t, Classify(r.err), ErrSignInFailed)
}

func TestGoogleSignOutClearsSession(t *testing.T) {
	store := prefs.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), SessionKey, `{"uid":"g-1"}`))
	p := newTestProvider(t, store)
	require.NotNil(t, p.CurrentUser())

	require.NoError(t, p.SignOut(context.Background()))
	assert.Nil(t, p.CurrentUser())
	_, ok, _ := store.Get(context.Background(), SessionKey)
	assert.False(t, ok)
}

func TestGoogleDiscardsCorruptSession(t *testing.T) {
	store := prefs.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), SessionKey, `not json`))
	p := newTestProvider(t, store)
	assert.Nil(t, p.CurrentUser())
}

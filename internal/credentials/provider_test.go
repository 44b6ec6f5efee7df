package credentials

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ptssworkshopschedule/workshopbot/internal/storage/sqlite"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
)

type memStore struct {
	mu    sync.Mutex
	tok   *oauth2.Token
	saves int
}

func (s *memStore) Load(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return nil, errors.ErrTokenNotFound
	}
	cp := *s.tok
	return &cp, nil
}

func (s *memStore) Save(ctx context.Context, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tok = &cp
	s.saves++
	return nil
}

type countingAuthorizer struct {
	calls atomic.Int32
	tok   *oauth2.Token
	err   error
}

func (a *countingAuthorizer) Authorize(ctx context.Context) (*oauth2.Token, error) {
	a.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	return a.tok, a.err
}

// consentAuthorizer waits for the user to grant access. It records whether
// the context it was given ended before then.
type consentAuthorizer struct {
	calls     atomic.Int32
	granted   chan struct{}
	cancelled atomic.Bool
	tok       *oauth2.Token
}

func (a *consentAuthorizer) Authorize(ctx context.Context) (*oauth2.Token, error) {
	a.calls.Add(1)
	select {
	case <-a.granted:
		return a.tok, nil
	case <-ctx.Done():
		a.cancelled.Store(true)
		return nil, ctx.Err()
	}
}

// tokenServer is a fake OAuth token endpoint.
type tokenServer struct {
	*httptest.Server
	refreshes atomic.Int32
	failing   atomic.Bool
}

func newTokenServer(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if ts.failing.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "refresh_token":
			ts.refreshes.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": fmt.Sprintf("refreshed-%d", ts.refreshes.Load()),
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "authorization_code":
			assert.Equal(t, "the-code", r.PostForm.Get("code"))
			assert.NotEmpty(t, r.PostForm.Get("code_verifier"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  "authorized",
				"refresh_token": "refresh-new",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   ts.URL + "/auth",
			TokenURL:  ts.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"https://www.googleapis.com/auth/calendar"},
	}
}

func TestProvider_UsesValidStoredToken(t *testing.T) {
	ts := newTokenServer(t)
	store := &memStore{tok: &oauth2.Token{AccessToken: "stored", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}}
	auth := &countingAuthorizer{}

	p := NewProvider(ts.config(), store, auth)
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", tok.AccessToken)
	assert.Equal(t, int32(0), ts.refreshes.Load())
	assert.Equal(t, int32(0), auth.calls.Load())
}

func TestProvider_RefreshesExpiredToken(t *testing.T) {
	ts := newTokenServer(t)
	store := &memStore{tok: &oauth2.Token{AccessToken: "old", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Minute)}}
	auth := &countingAuthorizer{}

	p := NewProvider(ts.config(), store, auth)
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken, "refresh token must survive a refresh")
	assert.Equal(t, 1, store.saves)
	assert.Equal(t, int32(0), auth.calls.Load())

	// second call is served from memory
	tok, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", tok.AccessToken)
	assert.Equal(t, int32(1), ts.refreshes.Load())
}

func TestProvider_TokenNearExpiryIsRefreshed(t *testing.T) {
	ts := newTokenServer(t)
	now := time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC)
	store := &memStore{tok: &oauth2.Token{AccessToken: "old", RefreshToken: "r", Expiry: now.Add(5 * time.Second)}}

	p := NewProvider(ts.config(), store, nil, WithClock(func() time.Time { return now }))
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", tok.AccessToken)
}

func TestProvider_FallsBackToAuthorization(t *testing.T) {
	ts := newTokenServer(t)
	ts.failing.Store(true)
	store := &memStore{tok: &oauth2.Token{AccessToken: "old", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Minute)}}
	auth := &countingAuthorizer{tok: &oauth2.Token{AccessToken: "fresh", RefreshToken: "r2", Expiry: time.Now().Add(time.Hour)}}

	p := NewProvider(ts.config(), store, auth)
	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, int32(1), auth.calls.Load())

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.AccessToken)
}

func TestProvider_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		auth Authorizer
	}{
		{name: "no authorizer", auth: nil},
		{name: "authorizer fails", auth: &countingAuthorizer{err: fmt.Errorf("consent timed out")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(nil, &memStore{}, tt.auth)
			_, err := p.Token(context.Background())
			assert.True(t, stderrors.Is(err, errors.ErrAuthUnavailable))
		})
	}
}

func TestProvider_SingleWriter(t *testing.T) {
	auth := &countingAuthorizer{tok: &oauth2.Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}}
	p := NewProvider(nil, &memStore{}, auth)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := p.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "fresh", tok.AccessToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestProvider_AuthorizationOutlivesCaller(t *testing.T) {
	auth := &consentAuthorizer{
		granted: make(chan struct{}),
		tok:     &oauth2.Token{AccessToken: "consented", Expiry: time.Now().Add(time.Hour)},
	}
	store := &memStore{}
	p := NewProvider(nil, store, auth)

	// A webhook request gives up long before the user answers.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Token(ctx)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrAuthUnavailable))
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))

	// A second caller joins the same consent flow.
	waiting := make(chan *oauth2.Token, 1)
	go func() {
		tok, err := p.Token(context.Background())
		assert.NoError(t, err)
		waiting <- tok
	}()

	close(auth.granted)
	select {
	case tok := <-waiting:
		assert.Equal(t, "consented", tok.AccessToken)
	case <-time.After(2 * time.Second):
		t.Fatal("authorization did not complete")
	}

	assert.False(t, auth.cancelled.Load())
	assert.Equal(t, int32(1), auth.calls.Load())
	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "consented", stored.AccessToken)

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "consented", tok.AccessToken)
	assert.Equal(t, int32(1), auth.calls.Load())
}

func TestProvider_Refresh(t *testing.T) {
	ts := newTokenServer(t)
	store := &memStore{tok: &oauth2.Token{AccessToken: "still-valid", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}}

	p := NewProvider(ts.config(), store, nil)
	tok, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-1", tok.AccessToken)

	_, err = NewProvider(ts.config(), &memStore{tok: &oauth2.Token{AccessToken: "x"}}, nil).Refresh(context.Background())
	assert.True(t, stderrors.Is(err, errors.ErrAuthUnavailable))
}

func TestStatic(t *testing.T) {
	tok, err := NewStatic(&oauth2.Token{AccessToken: "a"}).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)

	_, err = NewStatic(nil).Token(context.Background())
	assert.True(t, stderrors.Is(err, errors.ErrAuthUnavailable))
}

func TestStorageStore(t *testing.T) {
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	store := NewStorageStore(db, "calendar")
	ctx := context.Background()

	_, err = store.Load(ctx)
	assert.True(t, stderrors.Is(err, errors.ErrTokenNotFound))

	expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, store.Save(ctx, &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: expiry}))

	tok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(expiry))
}

func TestLoadOAuthConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	secrets := `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret",` +
		`"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",` +
		`"redirect_uris":["http://localhost"]}}`
	require.NoError(t, os.WriteFile(path, []byte(secrets), 0o600))

	cfg, err := LoadOAuthConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "id.apps.googleusercontent.com", cfg.ClientID)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/calendar"}, cfg.Scopes)

	_, err = LoadOAuthConfig(filepath.Join(dir, "missing.json"))
	assert.True(t, stderrors.Is(err, errors.ErrConfigurationInvalid))
}

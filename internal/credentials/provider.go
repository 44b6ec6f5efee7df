// Package credentials owns the process-wide calendar credential.
package credentials

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

// expiryDelta treats tokens this close to expiry as already expired.
const expiryDelta = 10 * time.Second

// Store persists a single token.
// Load fails with errors.ErrTokenNotFound when nothing is stored.
type Store interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, tok *oauth2.Token) error
}

// Authorizer obtains a brand new token through interactive consent.
type Authorizer interface {
	Authorize(ctx context.Context) (*oauth2.Token, error)
}

// Provider hands out a valid access token. Load, refresh and
// re-authorization happen under one mutex, so there is a single writer.
type Provider struct {
	mu         sync.Mutex
	config     *oauth2.Config
	store      Store
	authorizer Authorizer
	current    *oauth2.Token
	pending    *authorization
	now        func() time.Time
	logger     *logger.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates a provider. authorizer may be nil, in which case a
// missing or unrefreshable token is reported as errors.ErrAuthUnavailable.
func NewProvider(config *oauth2.Config, store Store, authorizer Authorizer, opts ...ProviderOption) *Provider {
	p := &Provider{
		config:     config,
		store:      store,
		authorizer: authorizer,
		now:        time.Now,
		logger:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Token returns a valid token, refreshing or re-authorizing as needed.
// Interactive authorization is not bound to ctx: when ctx ends first the
// caller gets errors.ErrAuthUnavailable, and the consent flow keeps running
// until the authorizer's own timeout so a later call can use its token.
func (p *Provider) Token(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	if tok, ok := p.usableLocked(ctx); ok {
		p.mu.Unlock()
		return tok, nil
	}
	a, err := p.authorizeLocked(ctx)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return a.wait(ctx)
}

// usableLocked returns the current, stored or refreshed token when one is valid.
func (p *Provider) usableLocked(ctx context.Context) (*oauth2.Token, bool) {
	tok := p.current
	if tok == nil && p.store != nil {
		loaded, err := p.store.Load(ctx)
		switch {
		case err == nil:
			tok = loaded
		case stderrors.Is(err, errors.ErrTokenNotFound):
			p.logger.Info("No stored calendar token")
		default:
			p.logger.Warn("Failed to load calendar token", logger.Error(err))
		}
	}

	if p.valid(tok) {
		p.current = tok
		metrics.RecordCredential("cached", "success")
		return tok, true
	}

	if tok != nil && tok.RefreshToken != "" {
		refreshed, err := p.refreshLocked(ctx, tok)
		if err == nil {
			return refreshed, true
		}
		p.logger.Warn("Calendar token refresh failed, falling back to authorization", logger.Error(err))
	}
	return nil, false
}

// Refresh forces a refresh of the current token.
func (p *Provider) Refresh(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok := p.current
	if tok == nil && p.store != nil {
		loaded, err := p.store.Load(ctx)
		if err != nil {
			return nil, errors.ErrAuthUnavailable.WithError(err)
		}
		tok = loaded
	}
	if tok == nil || tok.RefreshToken == "" {
		return nil, errors.ErrAuthUnavailable.WithContext(map[string]interface{}{
			"reason": "no refresh token",
		})
	}

	refreshed, err := p.refreshLocked(ctx, tok)
	if err != nil {
		return nil, errors.ErrAuthUnavailable.WithError(err)
	}
	return refreshed, nil
}

func (p *Provider) valid(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return p.now().Add(expiryDelta).Before(tok.Expiry)
}

func (p *Provider) refreshLocked(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if p.config == nil {
		return nil, fmt.Errorf("no oauth client configuration")
	}

	// A past expiry makes the token source go to the token endpoint.
	stale := *tok
	stale.Expiry = time.Unix(1, 0)

	refreshed, err := p.config.TokenSource(ctx, &stale).Token()
	if err != nil {
		metrics.RecordCredential("refresh", "error")
		return nil, err
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tok.RefreshToken
	}

	p.persist(ctx, refreshed)
	p.current = refreshed
	metrics.RecordCredential("refresh", "success")
	p.logger.Info("Calendar token refreshed", logger.Time("expiry", refreshed.Expiry))
	return refreshed, nil
}

// authorization is a consent flow in progress. tok and err are set before
// done is closed.
type authorization struct {
	done chan struct{}
	tok  *oauth2.Token
	err  error
}

func (a *authorization) wait(ctx context.Context) (*oauth2.Token, error) {
	select {
	case <-a.done:
		return a.tok, a.err
	case <-ctx.Done():
		return nil, errors.ErrAuthUnavailable.WithError(ctx.Err()).WithContext(map[string]interface{}{
			"reason": "authorization still pending",
		})
	}
}

// authorizeLocked joins the consent flow in progress or starts one.
func (p *Provider) authorizeLocked(ctx context.Context) (*authorization, error) {
	if p.authorizer == nil {
		metrics.RecordCredential("authorize", "unavailable")
		return nil, errors.ErrAuthUnavailable.WithContext(map[string]interface{}{
			"reason": "no authorizer configured",
		})
	}
	if p.pending != nil {
		return p.pending, nil
	}

	a := &authorization{done: make(chan struct{})}
	p.pending = a
	go p.authorize(context.WithoutCancel(ctx), a)
	return a, nil
}

func (p *Provider) authorize(ctx context.Context, a *authorization) {
	tok, err := p.authorizer.Authorize(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	defer close(a.done)
	p.pending = nil

	if err != nil {
		metrics.RecordCredential("authorize", "error")
		p.logger.Warn("Calendar authorization failed", logger.Error(err))
		a.err = errors.ErrAuthUnavailable.WithError(err)
		return
	}

	p.persist(ctx, tok)
	p.current = tok
	a.tok = tok
	metrics.RecordCredential("authorize", "success")
	p.logger.Info("Calendar access authorized")
}

// persist saves tok. A failed save keeps the in-memory token usable.
func (p *Provider) persist(ctx context.Context, tok *oauth2.Token) {
	if p.store == nil {
		return
	}
	if err := p.store.Save(ctx, tok); err != nil {
		p.logger.Error("Failed to persist calendar token", logger.Error(err))
	}
}

// Static is a credential source that always returns the same token.
type Static struct {
	tok *oauth2.Token
}

// NewStatic creates a static source.
func NewStatic(tok *oauth2.Token) *Static {
	return &Static{tok: tok}
}

// Token returns the configured token.
func (s *Static) Token(ctx context.Context) (*oauth2.Token, error) {
	if s.tok == nil {
		return nil, errors.ErrAuthUnavailable
	}
	return s.tok, nil
}

// LoadOAuthConfig reads a Google client secrets file and scopes it to the calendar.
func LoadOAuthConfig(path string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ErrConfigurationInvalid.WithError(err).WithContext(map[string]interface{}{
			"file": path,
		})
	}

	cfg, err := google.ConfigFromJSON(b, gcal.CalendarScope)
	if err != nil {
		return nil, errors.ErrConfigurationInvalid.WithError(err).WithContext(map[string]interface{}{
			"file": path,
		})
	}
	return cfg, nil
}

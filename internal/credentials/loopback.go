package credentials

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/ptssworkshopschedule/workshopbot/pkg/logger"
)

// URLHandler is told the consent URL an operator has to open.
type URLHandler func(ctx context.Context, url string)

// LoopbackAuthorizer runs the OAuth authorization-code flow with PKCE,
// receiving the code on a short-lived local listener.
type LoopbackAuthorizer struct {
	config  *oauth2.Config
	addr    string
	timeout time.Duration
	onURL   URLHandler
	logger  *logger.Logger
}

// NewLoopbackAuthorizer creates an authorizer listening on addr (e.g. "localhost:8085")
// while a consent is pending. onURL may be nil.
func NewLoopbackAuthorizer(config *oauth2.Config, addr string, timeout time.Duration, onURL URLHandler, l *logger.Logger) *LoopbackAuthorizer {
	if l == nil {
		l = logger.NewNop()
	}
	return &LoopbackAuthorizer{
		config:  config,
		addr:    addr,
		timeout: timeout,
		onURL:   onURL,
		logger:  l,
	}
}

type callbackResult struct {
	code string
	err  error
}

// Authorize blocks until the consent redirect arrives, the timeout passes or ctx is done.
func (a *LoopbackAuthorizer) Authorize(ctx context.Context) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for oauth callback: %w", err)
	}

	cfg := *a.config
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/"

	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier))

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           a.callbackHandler(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("OAuth callback listener failed", logger.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Warn("Calendar authorization required, open the consent URL",
		logger.String("url", authURL))
	if a.onURL != nil {
		a.onURL(ctx, authURL)
	}

	waitCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-waitCtx.Done():
		return nil, fmt.Errorf("waiting for oauth consent: %w", waitCtx.Err())
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

func (a *LoopbackAuthorizer) callbackHandler(state string, results chan<- callbackResult) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/", func(c *gin.Context) {
		var res callbackResult
		switch {
		case c.Query("state") != state:
			c.String(http.StatusBadRequest, "State mismatch.")
			return
		case c.Query("error") != "":
			res.err = fmt.Errorf("authorization denied: %s", c.Query("error"))
			c.String(http.StatusOK, "Authorization was denied. You can close this window.")
		case c.Query("code") == "":
			c.String(http.StatusBadRequest, "Missing authorization code.")
			return
		default:
			res.code = c.Query("code")
			c.String(http.StatusOK, "Authorization complete. You can close this window.")
		}

		select {
		case results <- res:
		default:
		}
	})

	return router
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Authorizer runs the interactive consent step and yields a fresh token.
// Implementations must return once ctx is done.
type Authorizer interface {
	Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)
}

// LocalServerAuthorizer sends the user to the consent page and waits for the
// provider to redirect back to a loopback listener with the authorization code.
type LocalServerAuthorizer struct {
	// ListenAddr defaults to 127.0.0.1:0 (random port).
	ListenAddr string
	// Open shows the consent URL to the user; defaults to the system browser.
	Open func(url string) error
}

type callbackResult struct {
	code string
	err  error
}

func (a LocalServerAuthorizer) Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	addr := a.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("start callback listener: %w", err)
	}

	oc := *cfg
	oc.RedirectURL = "http://" + ln.Addr().String() + "/"
	state := uuid.NewString()

	results := make(chan callbackResult, 1)
	deliver := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			q := r.URL.Query()
			switch {
			case q.Get("error") != "":
				deliver(callbackResult{err: fmt.Errorf("authorization denied: %s", q.Get("error"))})
				http.Error(w, "Authorization failed, you may close this window.", http.StatusForbidden)
			case q.Get("state") != state:
				deliver(callbackResult{err: errors.New("authorization callback state mismatch")})
				http.Error(w, "Invalid state.", http.StatusBadRequest)
			case q.Get("code") == "":
				deliver(callbackResult{err: errors.New("authorization callback without code")})
				http.Error(w, "Missing code.", http.StatusBadRequest)
			default:
				deliver(callbackResult{code: q.Get("code")})
				_, _ = fmt.Fprintln(w, "Authorization complete, you may close this window.")
			}
		}),
	}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	authURL := oc.AuthCodeURL(state, oauth2.AccessTypeOffline)
	log.Info().
		Str("action", "auth_interactive").
		Str("redirect", oc.RedirectURL).
		Str("url", authURL).
		Msg("waiting for authorization in the browser")
	open := a.Open
	if open == nil {
		open = browser.OpenURL
	}
	if err := open(authURL); err != nil {
		log.Warn().Err(err).Str("action", "auth_interactive").Msg("could not open browser, visit the URL manually")
	}

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("authorization aborted: %w", ctx.Err())
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := oc.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

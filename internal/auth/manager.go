package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Chapsvision-dev/spare/internal/fault"
)

// Manager obtains a provider credential, reusing the persisted one when it
// is still usable and running the interactive flow only as a last resort.
type Manager struct {
	Store      Store
	Authorizer Authorizer
	Scopes     []string
	// Timeout bounds the interactive step; zero means only ctx bounds it.
	Timeout time.Duration
}

// Session is an acquired credential bound to its OAuth client configuration.
type Session struct {
	Config *oauth2.Config
	Token  *oauth2.Token
	store  Store
}

// Acquire loads, refreshes or interactively obtains a credential for the
// client described by the secret file, persisting any new token.
func (m *Manager) Acquire(ctx context.Context, secretPath string) (*Session, error) {
	start := time.Now()
	secret, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fault.Authentication("read client secret", err)
	}
	oc, err := google.ConfigFromJSON(secret, m.Scopes...)
	if err != nil {
		return nil, fault.Authentication("parse client secret", err)
	}

	tok, err := m.Store.Load()
	if err != nil && !errors.Is(err, ErrNoCredential) {
		log.Warn().Err(err).Str("action", "auth_acquire").Msg("ignoring unreadable stored credential")
	}
	if err != nil {
		tok = nil
	}

	var method string
	switch {
	case tok != nil && tok.Valid():
		log.Debug().Str("action", "auth_acquire").Str("method", "cached").Msg("stored credential is valid")
		return &Session{Config: oc, Token: tok, store: m.Store}, nil

	case tok != nil && tok.RefreshToken != "":
		method = "refresh"
		tok, err = refresh(ctx, oc, tok)
		if err != nil {
			return nil, fault.Authentication("refresh credential", err)
		}

	default:
		method = "interactive"
		if m.Authorizer == nil {
			return nil, fault.Authentication("authorize", errors.New("no stored credential and no interactive authorizer"))
		}
		actx := ctx
		if m.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, m.Timeout)
			defer cancel()
		}
		tok, err = m.Authorizer.Authorize(actx, oc)
		if err != nil {
			return nil, fault.Authentication("authorize", err)
		}
		if tok == nil || tok.AccessToken == "" {
			return nil, fault.Authentication("authorize", errors.New("provider returned an empty token"))
		}
	}

	if err := m.Store.Save(tok); err != nil {
		return nil, fault.LocalIO("persist credential", err)
	}
	log.Info().
		Str("action", "auth_acquire").
		Str("method", method).
		Dur("elapsed_ms", time.Since(start)).
		Msg("credential acquired")
	return &Session{Config: oc, Token: tok, store: m.Store}, nil
}

func refresh(ctx context.Context, oc *oauth2.Config, old *oauth2.Token) (*oauth2.Token, error) {
	tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: old.RefreshToken}).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = old.RefreshToken
	}
	return tok, nil
}

// Client returns an HTTP client that authenticates with the session token,
// refreshes it when it expires and writes refreshed tokens back to the store.
func (s *Session) Client(ctx context.Context) *http.Client {
	src := &persistingSource{
		base:  s.Config.TokenSource(ctx, s.Token),
		store: s.store,
		last:  s.Token.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(s.Token, src))
}

type persistingSource struct {
	mu    sync.Mutex
	base  oauth2.TokenSource
	store Store
	last  string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last && p.store != nil {
		if err := p.store.Save(tok); err != nil {
			log.Warn().Err(err).Str("action", "auth_persist").Msg("failed to persist refreshed credential")
		} else {
			log.Debug().Str("action", "auth_persist").Msg("refreshed credential persisted")
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}

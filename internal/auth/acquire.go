package auth

import (
	"github.com/Chapsvision-dev/spare/internal/config"
)

// NewFromConfig builds the default Manager: the per-user token file and the
// browser-based loopback authorizer, bounded by cfg.AuthTimeout.
func NewFromConfig(cfg config.Config, scopes ...string) *Manager {
	return &Manager{
		Store:      FileStore{Path: cfg.TokenPath},
		Authorizer: LocalServerAuthorizer{},
		Scopes:     scopes,
		Timeout:    cfg.AuthTimeout,
	}
}

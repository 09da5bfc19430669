// Package session persists the staff session between CLI invocations.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fumapis/config"
	"fumapis/models"
)

// ErrNoSession is returned by Load when nothing is stored or the stored
// session has expired.
var ErrNoSession = errors.New("session: no active session, run login first")

// Store loads and saves the current staff session.
type Store interface {
	Load(ctx context.Context) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Clear(ctx context.Context) error
	Close() error
}

// Open returns the Store selected by cfg.SessionBackend ("file" or "redis").
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch strings.ToLower(cfg.SessionBackend) {
	case "", "file":
		return NewFileStore(cfg.SessionPath, cfg.SessionTTL), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.SessionProfile, cfg.SessionTTL)
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.SessionBackend)
	}
}

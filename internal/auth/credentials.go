// Package auth holds the bearer token used for REST calls and the realtime
// channel.
package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// TokenStore persists the token between runs.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// Credentials is the in-memory token. An override (from config or the
// environment) wins over the stored token and is never persisted.
type Credentials struct {
	store TokenStore

	mu       sync.RWMutex
	token    string
	override bool
}

func New(store TokenStore) *Credentials {
	return &Credentials{store: store}
}

// Load reads the stored token unless override is set.
func (c *Credentials) Load(ctx context.Context, override string) error {
	override = strings.TrimSpace(override)
	if override != "" {
		c.mu.Lock()
		c.token = override
		c.override = true
		c.mu.Unlock()
		return nil
	}
	if c.store == nil {
		return nil
	}

	token, err := c.store.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "load stored token")
	}
	c.mu.Lock()
	c.token = token
	c.override = false
	c.mu.Unlock()
	return nil
}

func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Credentials) Authenticated() bool {
	return c.Token() != ""
}

// Overridden reports whether the token came from config or the environment.
func (c *Credentials) Overridden() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.override
}

func (c *Credentials) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}
	if c.store != nil {
		if err := c.store.SaveToken(ctx, token); err != nil {
			return errors.Wrap(err, "store token")
		}
	}
	c.mu.Lock()
	c.token = token
	c.override = false
	c.mu.Unlock()
	return nil
}

func (c *Credentials) Clear(ctx context.Context) error {
	if c.store != nil {
		if err := c.store.ClearToken(ctx); err != nil {
			return errors.Wrap(err, "clear token")
		}
	}
	c.mu.Lock()
	c.token = ""
	c.override = false
	c.mu.Unlock()
	return nil
}

// Package token supplies bearer tokens for Halo Waypoint API requests.
//
// Token acquisition and refresh (the OAuth / XSTS / Spartan flow) is handled
// by an external process that rewrites the token cache file on its own
// schedule. This package only reads the current value; callers must re-read
// per request since the token can rotate mid-run.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNoToken is returned when no usable token is available.
var ErrNoToken = errors.New("no valid spartan token available")

// Provider supplies the current bearer token for API requests.
// Implementations must be safe for concurrent use.
type Provider interface {
	// CurrentToken returns a bearer token valid at the time of the call.
	CurrentToken(ctx context.Context) (string, error)
}

// Static is a fixed-token provider, mainly for tests.
type Static string

// CurrentToken implements Provider.
func (s Static) CurrentToken(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// cacheEntry mirrors one entry of the token cache file written by the
// external auth flow.
type cacheEntry struct {
	Token     string  `json:"token"`
	ExpiresAt float64 `json:"expires_at"`
}

// cacheFile mirrors the token cache file layout. Only the spartan token is
// consumed here; the remaining entries belong to the auth flow.
type cacheFile struct {
	Spartan *cacheEntry `json:"spartan"`
}

// FileProvider reads the spartan token from a JSON cache file on every call,
// so an external refresher rotating the file takes effect immediately.
type FileProvider struct {
	// Path is the location of the token cache file.
	Path string

	// Now allows overriding the clock in tests. Defaults to time.Now.
	Now func() time.Time
}

// NewFileProvider creates a provider backed by the given token cache file.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

// CurrentToken implements Provider. It returns ErrNoToken when the file is
// missing, unparseable, or the spartan token is absent or expired.
func (p *FileProvider) CurrentToken(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		return "", fmt.Errorf("read token cache: %w", err)
	}

	var cache cacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		return "", fmt.Errorf("parse token cache: %w", err)
	}

	if cache.Spartan == nil || cache.Spartan.Token == "" {
		return "", ErrNoToken
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if cache.Spartan.ExpiresAt > 0 && cache.Spartan.ExpiresAt <= float64(now().Unix()) {
		return "", fmt.Errorf("%w: spartan token expired", ErrNoToken)
	}

	return cache.Spartan.Token, nil
}

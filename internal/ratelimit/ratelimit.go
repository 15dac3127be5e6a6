// Package ratelimit enforces per-client submission ceilings for the
// telemetry daemon. Client addresses are stored only as SHA-256 hashes, and
// the state file survives daemon restarts.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"kiln/internal/logging"
)

const idleEviction = time.Hour

// Option configures the limiter.
type Option func(*Limiter)

// WithClock injects a time source (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// Limiter applies sliding per-minute and per-hour request windows keyed by
// hashed client address. The limiter fails open: internal errors are logged
// and the request is allowed.
type Limiter struct {
	path      string
	perMinute int
	perHour   int
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a limiter persisting state at path. Non-positive limits
// disable the corresponding window.
func New(path string, perMinute, perHour int, logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Limiter{
		path:      path,
		perMinute: perMinute,
		perHour:   perHour,
		logger:    logging.NewComponentLogger(logger, "ratelimit"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a request for the client address and reports whether it is
// within both windows. Denied requests are not recorded.
func (l *Limiter) Allow(addr string) bool {
	key := hashAddr(addr)
	now := l.now().UTC()
	allowed := true

	err := l.withState(func(state map[string][]time.Time) map[string][]time.Time {
		pruneIdle(state, now)

		recent := withinWindow(state[key], now, idleEviction)
		if l.perHour > 0 && len(recent) >= l.perHour {
			allowed = false
		}
		if allowed && l.perMinute > 0 {
			lastMinute := withinWindow(recent, now, time.Minute)
			if len(lastMinute) >= l.perMinute {
				allowed = false
			}
		}

		if !allowed {
			state[key] = recent
			return state
		}
		state[key] = append(recent, now)
		return state
	})
	if err != nil {
		l.logger.Warn("rate limiter state unavailable, allowing request", logging.Error(err))
		return true
	}
	return allowed
}

func (l *Limiter) withState(update func(map[string][]time.Time) map[string][]time.Time) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	fileLock := flock.New(l.path + ".lock")
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("acquire state lock: %w", err)
	}
	defer fileLock.Unlock()

	state := make(map[string][]time.Time)
	data, err := os.ReadFile(l.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read state: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &state); err != nil {
			// Corrupt state resets rather than wedging submissions.
			l.logger.Warn("rate limiter state corrupt, resetting", logging.Error(err))
			state = make(map[string][]time.Time)
		}
	}

	state = update(state)

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmpPath := l.path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func withinWindow(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	out := stamps[:0:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}

// pruneIdle evicts clients whose newest request is older than the hour
// window, keeping the state file from growing without bound.
func pruneIdle(state map[string][]time.Time, now time.Time) {
	cutoff := now.Add(-idleEviction)
	for key, stamps := range state {
		idle := true
		for _, ts := range stamps {
			if ts.After(cutoff) {
				idle = false
				break
			}
		}
		if idle {
			delete(state, key)
		}
	}
}

func hashAddr(addr string) string {
	sum := sha256.Sum256([]byte(addr))
	return hex.EncodeToString(sum[:])
}

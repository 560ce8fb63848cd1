package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RevocationRegistry is a process-local set of revoked token ids. Each entry
// remembers the expiry of its token so Sweep can forget tokens that would be
// rejected as expired anyway.
type RevocationRegistry struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewRevocationRegistry() *RevocationRegistry {
	return &RevocationRegistry{entries: make(map[string]time.Time)}
}

func (r *RevocationRegistry) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a zero expiry pins the entry; otherwise keep the later of the two
	prev, ok := r.entries[jti]
	if ok && (prev.IsZero() || (!expiresAt.IsZero() && prev.After(expiresAt))) {
		return nil
	}
	r.entries[jti] = expiresAt
	return nil
}

func (r *RevocationRegistry) IsRevoked(_ context.Context, jti string) (bool, error) {
	r.mu.RLock()
	_, ok := r.entries[jti]
	r.mu.RUnlock()
	return ok, nil
}

// Sweep removes entries whose token expired before now. Entries with a zero
// expiry are never removed.
func (r *RevocationRegistry) Sweep(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for jti, exp := range r.entries {
		if !exp.IsZero() && exp.Before(now) {
			delete(r.entries, jti)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many token ids are currently revoked.
func (r *RevocationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Sweeper is the subset of a revocation registry RunSweeper needs.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// RunSweeper calls Sweep every interval until ctx is done.
func RunSweeper(ctx context.Context, registry Sweeper, interval time.Duration, logger logrus.FieldLogger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := registry.Sweep(ctx, now)
			if err != nil {
				logger.Warnf("sweep revoked tokens: %v", err)
				continue
			}
			if removed > 0 {
				logger.WithField("removed", removed).Debug("swept expired revocations")
			}
		}
	}
}

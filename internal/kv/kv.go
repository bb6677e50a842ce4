// Package kv implements the KV contract of §6: rate-limit counters and
// active-session sets shared across distributed replicas. Admission
// wraps a local golang.org/x/time/rate token bucket as a cheap
// admission-control check; the engine and handlers do not call it, so
// every turn's counters are read from the KV backend.
package kv

import (
	"context"
	"time"
)

// KV is the distributed counter/lock contract the engine depends on.
type KV interface {
	// IncrWindow increments a counter for key and returns its value
	// within the window implied by ttl (the counter resets once
	// ttl elapses since its first increment).
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int, error)

	// ActiveSessionCount returns how many sessions are currently
	// registered as active for userID.
	ActiveSessionCount(ctx context.Context, userID string) (int, error)

	// RegisterSession marks sessionID active for userID until ttl
	// elapses or ReleaseSession is called.
	RegisterSession(ctx context.Context, userID, sessionID string, ttl time.Duration) error

	// ReleaseSession removes sessionID from userID's active set.
	ReleaseSession(ctx context.Context, userID, sessionID string) error
}

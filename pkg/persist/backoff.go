package persist

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffPolicy bounds the retry schedule for failed durable writes.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxJitter   time.Duration
	MaxAttempts int
}

// DefaultBackoffPolicy returns the retry schedule used by the event store's
// debounced writer.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:        250 * time.Millisecond,
		Max:         30 * time.Second,
		MaxJitter:   500 * time.Millisecond,
		MaxAttempts: 8,
	}
}

// Backoff returns the delay before retry attempt (0-based). The jitter is a
// PRF of the project id and attempt index, so a given retry schedule is
// reproducible in tests and across restarts.
func Backoff(projectID string, attempt int, p BackoffPolicy) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}
	delay := p.Base * time.Duration(factor)
	if delay > p.Max || delay <= 0 {
		delay = p.Max
	}
	return delay + deterministicJitter(projectID, attempt, p.MaxJitter)
}

func deterministicJitter(projectID string, attempt int, max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", projectID, attempt)))
	n := binary.BigEndian.Uint64(sum[:8])
	return time.Duration(n % uint64(max))
}

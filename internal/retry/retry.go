// Package retry provides the one bounded-retry-with-backoff primitive shared
// by the journal and snapshot layers.
package retry

import (
	"fmt"
	"time"
)

// Policy describes a bounded linear backoff: attempt n (1-based) sleeps
// n*Base after a failure, up to Attempts total tries.
type Policy struct {
	Attempts int
	Base     time.Duration
}

// sleep is swapped in tests to avoid real delays.
var sleep = time.Sleep

// Do runs fn until it succeeds or the policy is exhausted. The returned error
// wraps the last failure; fn is never retried after success. A Policy with
// Attempts < 1 performs exactly one try.
func (p Policy) Do(label string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < attempts {
			sleep(time.Duration(attempt) * p.Base)
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", label, attempts, err)
}

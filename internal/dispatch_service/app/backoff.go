package app

import (
	"math/rand"
	"time"
)

// BackoffPolicy names for configuration.
const (
	BackoffPolicyExponential  = "exponential"
	BackoffPolicyDecorrelated = "decorrelated"
)

// BackoffCalculator computes the delay before a retry attempt. Pure: no I/O,
// deterministic for a seeded rand source.
type BackoffCalculator struct {
	policy    string
	baseDelay time.Duration
	maxDelay  time.Duration
	rng       *rand.Rand
}

// NewBackoffCalculator builds a calculator for the named policy. Unknown policy
// names fall back to exponential. rng must not be nil; tests inject a seeded
// source.
func NewBackoffCalculator(policy string, baseDelay, maxDelay time.Duration, rng *rand.Rand) *BackoffCalculator {
	if policy != BackoffPolicyDecorrelated {
		policy = BackoffPolicyExponential
	}
	return &BackoffCalculator{
		policy:    policy,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		rng:       rng,
	}
}

// Delay returns the wait before the given retry. attempt counts completed
// attempts (0 for the delay before the first retry). previous is the delay
// returned for the prior retry; only the decorrelated policy reads it.
func (b *BackoffCalculator) Delay(attempt int, previous time.Duration) time.Duration {
	switch b.policy {
	case BackoffPolicyDecorrelated:
		return b.decorrelatedJitter(attempt, previous)
	default:
		return b.exponentialJitter(attempt)
	}
}

// exponentialJitter: min(maxDelay, baseDelay * 2^attempt) + rand(0, delay/2).
func (b *BackoffCalculator) exponentialJitter(attempt int) time.Duration {
	delay := b.baseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= b.maxDelay {
			delay = b.maxDelay
			break
		}
	}
	if delay > b.maxDelay {
		delay = b.maxDelay
	}
	jitter := time.Duration(0)
	if delay > 0 {
		jitter = time.Duration(b.rng.Int63n(int64(delay)/2 + 1))
	}
	return delay + jitter
}

// decorrelatedJitter follows the canonical decorrelated-jitter definition:
// sleep = min(maxDelay, rand_between(baseDelay, previous*3)), with attempt 0
// returning baseDelay unconditionally.
func (b *BackoffCalculator) decorrelatedJitter(attempt int, previous time.Duration) time.Duration {
	if attempt <= 0 || previous < b.baseDelay {
		return b.baseDelay
	}
	upper := previous * 3
	if upper <= b.baseDelay {
		return b.baseDelay
	}
	delay := b.baseDelay + time.Duration(b.rng.Int63n(int64(upper-b.baseDelay)+1))
	if delay > b.maxDelay {
		delay = b.maxDelay
	}
	return delay
}

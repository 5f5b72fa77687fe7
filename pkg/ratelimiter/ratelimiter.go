// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ratelimiter implements a token-bucket admission controller used
// by the Stream Forwarder to cap upload throughput.
package ratelimiter

import "github.com/clustercockpit/cc-edge-agent/pkg/clock"

const (
	DefaultMaxTokens           = 100
	DefaultTokenRefillsPerSec  = DefaultMaxTokens
)

// RateLimiter grants at most maxTokens/refillPerSecond tokens, replenished
// in whole-second steps. It is not safe for concurrent use by design: each
// caller (each forwarder worker) owns its own instance, matching the
// component's "race-free use requires external serialization" contract.
type RateLimiter struct {
	clock clock.Clock

	maxTokens       uint32
	refillPerSecond uint32

	currentTokens  uint32
	lastRefillTime int64
}

// New creates a token bucket starting full.
func New(c clock.Clock, maxTokens, refillPerSecond uint32) *RateLimiter {
	return &RateLimiter{
		clock:           c,
		maxTokens:       maxTokens,
		refillPerSecond: refillPerSecond,
		currentTokens:   maxTokens,
		lastRefillTime:  c.MonotonicTimeMillis(),
	}
}

// NewDefault creates a token bucket using the default rate (100 tokens/s).
func NewDefault(c clock.Clock) *RateLimiter {
	return New(c, DefaultMaxTokens, DefaultTokenRefillsPerSec)
}

// ConsumeToken returns true and decrements the bucket iff a token was
// available. It never blocks and never fails.
func (r *RateLimiter) ConsumeToken() bool {
	r.refillTokens()
	if r.currentTokens > 0 {
		r.currentTokens--
		return true
	}
	return false
}

// refillTokens recomputes the bucket level from whole seconds elapsed since
// the last refill. Partial seconds contribute nothing — this is not an
// additive top-up of leftover tokens, it replaces the current level with
// secondsElapsed*refillPerSecond (capped at maxTokens), matching the
// upstream implementation exactly (see DESIGN.md for why this isn't a
// simple running total).
func (r *RateLimiter) refillTokens() {
	now := r.clock.MonotonicTimeMillis()
	secondsElapsed := (now - r.lastRefillTime) / 1000
	if secondsElapsed > 0 {
		newTokens := uint64(secondsElapsed) * uint64(r.refillPerSecond)
		if newTokens >= uint64(r.maxTokens) {
			r.currentTokens = r.maxTokens
		} else {
			r.currentTokens = uint32(newTokens)
		}
		r.lastRefillTime = now
	}
}

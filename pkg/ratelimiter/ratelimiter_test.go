// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ratelimiter

import (
	"testing"
	"time"

	"github.com/clustercockpit/cc-edge-agent/pkg/clock"
	"github.com/stretchr/testify/assert"
)

func TestConsumeTokenSaturatesAtMax(t *testing.T) {
	fc := clock.NewFake()
	rl := New(fc, 10, 10)

	for i := 0; i < 10; i++ {
		assert.True(t, rl.ConsumeToken())
	}
	assert.False(t, rl.ConsumeToken(), "bucket should be empty after draining maxTokens")
}

func TestPartialSecondsDoNotRefill(t *testing.T) {
	fc := clock.NewFake()
	rl := New(fc, 5, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.ConsumeToken())
	}

	fc.Advance(900 * time.Millisecond)
	assert.False(t, rl.ConsumeToken(), "sub-second elapsed time must not refill tokens")
}

func TestWholeSecondRefill(t *testing.T) {
	// Scenario 6 from spec.md §8: maxTokens=10, refill=10/s, polled every
	// 5ms for 2500ms starting full -> exactly 10*ceil(2500/1000) = 30 successes.
	fc := clock.NewFake()
	rl := New(fc, 10, 10)

	successes := 0
	for elapsed := time.Duration(0); elapsed <= 2500*time.Millisecond; elapsed += 5 * time.Millisecond {
		if rl.ConsumeToken() {
			successes++
		}
		fc.Advance(5 * time.Millisecond)
	}

	assert.Equal(t, 30, successes)
}

func TestRefillReplacesRatherThanAccumulates(t *testing.T) {
	fc := clock.NewFake()
	rl := New(fc, 100, 10)

	for i := 0; i < 95; i++ {
		assert.True(t, rl.ConsumeToken())
	}
	// currentTokens == 5 here.

	fc.Advance(3 * time.Second)
	// newTokens = 3*10 = 30, which replaces the 5 leftover tokens rather
	// than adding to them.
	granted := 0
	for i := 0; i < 40; i++ {
		if rl.ConsumeToken() {
			granted++
		}
	}
	assert.Equal(t, 30, granted)
}

func TestDefaultRateMatchesUpstreamDefaults(t *testing.T) {
	fc := clock.NewFake()
	rl := NewDefault(fc)
	assert.Equal(t, uint32(DefaultMaxTokens), rl.currentTokens)
	assert.Equal(t, uint32(100), rl.maxTokens)
	assert.Equal(t, uint32(100), rl.refillPerSecond)
}

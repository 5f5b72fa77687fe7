// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryMetricExactlyOnce(t *testing.T) {
	m := New()

	m.SignalsDecoded.WithLabelValues("CAN").Inc()
	m.DecodeErrors.WithLabelValues("OBD", "bad-length").Inc()
	m.RateLimiterDrops.Inc()
	m.TokensAvailable.Set(42)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SignalsDecoded.WithLabelValues("CAN")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DecodeErrors.WithLabelValues("OBD", "bad-length")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimiterDrops))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.TokensAvailable))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewReturnsIndependentRegistriesPerCall(t *testing.T) {
	a := New()
	b := New()

	a.SignalsDecoded.WithLabelValues("CAN").Inc()
	assert.Equal(t, float64(0), testutil.ToFloat64(b.SignalsDecoded.WithLabelValues("CAN")), "separate New() calls must not share counter state")
}

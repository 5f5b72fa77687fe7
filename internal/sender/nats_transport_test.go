// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNatsTransportRequiresAddress(t *testing.T) {
	_, err := NewNatsTransport(NatsConfig{})
	require.Error(t, err)
}

func TestNatsTransportSendBufferWithoutConnectionReportsNoConnection(t *testing.T) {
	tr := &NatsTransport{maxSendSize: 1024}
	done := make(chan ConnectivityError, 1)
	tr.SendBuffer("edge/up", []byte("hi"), func(ce ConnectivityError) { done <- ce })
	assert.Equal(t, ConnNoConnection, <-done)
}

func TestNatsTransportGetMaxSendSize(t *testing.T) {
	tr := &NatsTransport{maxSendSize: 2048}
	assert.Equal(t, 2048, tr.GetMaxSendSize())
}

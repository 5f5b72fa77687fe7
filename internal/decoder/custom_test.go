// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"testing"

	"github.com/clustercockpit/cc-edge-agent/internal/decodermanifest"
	"github.com/clustercockpit/cc-edge-agent/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomDecoderEvaluatesExpression(t *testing.T) {
	d := NewCustomDecoder()
	f := decodermanifest.CustomSignalFormat{
		SignalID:      42,
		DecoderString: "float(Bytes[0]) + float(Bytes[1])",
		SignalType:    signal.TypeFloat32,
	}
	decoded, err := d.Decode(f, []byte{10, 20}, 1234)
	require.NoError(t, err)
	assert.Equal(t, signal.ID(42), decoded.SignalID)
	assert.InDelta(t, float32(30), decoded.Value.F32, 1e-6)
	assert.Equal(t, int64(1234), decoded.TimestampMs)
}

func TestCustomDecoderCachesCompiledProgram(t *testing.T) {
	d := NewCustomDecoder()
	f := decodermanifest.CustomSignalFormat{SignalID: 1, DecoderString: "float(Bytes[0])", SignalType: signal.TypeFloat32}

	_, err := d.Decode(f, []byte{5}, 0)
	require.NoError(t, err)

	// A second call with the same decoder string must reuse the cached
	// program rather than fail to recompile (and must still evaluate
	// correctly against new input).
	decoded, err := d.Decode(f, []byte{9}, 0)
	require.NoError(t, err)
	assert.InDelta(t, float32(9), decoded.Value.F32, 1e-6)
}

func TestCustomDecoderRejectsInvalidExpression(t *testing.T) {
	d := NewCustomDecoder()
	f := decodermanifest.CustomSignalFormat{SignalID: 1, DecoderString: "this is not valid expr (((", SignalType: signal.TypeFloat32}
	_, err := d.Decode(f, []byte{1}, 0)
	assert.Error(t, err)
}

func TestCustomDecoderRejectsNonNumericResult(t *testing.T) {
	d := NewCustomDecoder()
	f := decodermanifest.CustomSignalFormat{SignalID: 1, DecoderString: `"hello"`, SignalType: signal.TypeFloat32}
	_, err := d.Decode(f, nil, 0)
	assert.Error(t, err)
}

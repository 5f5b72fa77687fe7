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

// spec §8 scenario 3: OBD mode-1 PID 0x04 response 41 04 99 -> ENGINE_LOAD
// = 60 (= 0x99 * 100/255).
func TestDecodeOBDResponseEngineLoad(t *testing.T) {
	pdu := []byte{0x41, 0x04, 0x99}
	formats := formatsByPID{
		0x04: {
			{SignalID: 100, ServiceMode: 1, PID: 0x04, ResponseLength: 1, StartByte: 0, ByteLength: 1, BitMaskLength: 8, Factor: 100.0 / 255.0, SignalType: signal.TypeFloat32},
		},
	}
	var out []signal.Decoded
	err := DecodeOBDResponse(pdu, 1, formats, 0, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 60.0, out[0].Value.F32, 1e-6)
}

// spec §8 scenario 4: OBD mode-1 PID 0x70 response
// 41 70 3F 64 64 64 64 64 64 64 64 0F ->
// BOOST_PRESSURE_CONTROL[1..4] = 803.125 each (= 0x6464 * 0.03125),
// byte-0 status bits 0x3F.
func TestDecodeOBDResponseBoostPressureControl(t *testing.T) {
	pdu := []byte{0x41, 0x70, 0x3F, 0x64, 0x64, 0x64, 0x64, 0x64, 0x64, 0x64, 0x64, 0x0F}
	formats := formatsByPID{
		0x70: {
			{SignalID: 1, PID: 0x70, ResponseLength: 10, StartByte: 0, ByteLength: 1, BitMaskLength: 8, Factor: 1, SignalType: signal.TypeUint8},
			{SignalID: 2, PID: 0x70, ResponseLength: 10, StartByte: 1, ByteLength: 2, BitMaskLength: 16, Factor: 0.03125, SignalType: signal.TypeFloat32},
			{SignalID: 3, PID: 0x70, ResponseLength: 10, StartByte: 3, ByteLength: 2, BitMaskLength: 16, Factor: 0.03125, SignalType: signal.TypeFloat32},
			{SignalID: 4, PID: 0x70, ResponseLength: 10, StartByte: 5, ByteLength: 2, BitMaskLength: 16, Factor: 0.03125, SignalType: signal.TypeFloat32},
			{SignalID: 5, PID: 0x70, ResponseLength: 10, StartByte: 7, ByteLength: 2, BitMaskLength: 16, Factor: 0.03125, SignalType: signal.TypeFloat32},
		},
	}
	var out []signal.Decoded
	err := DecodeOBDResponse(pdu, 1, formats, 0, &out)
	require.NoError(t, err)
	require.Len(t, out, 5)

	bySignal := map[signal.ID]signal.Decoded{}
	for _, d := range out {
		bySignal[d.SignalID] = d
	}
	assert.Equal(t, uint8(0x3F), bySignal[1].Value.U8)
	for _, id := range []signal.ID{2, 3, 4, 5} {
		assert.InDelta(t, 803.125, bySignal[id].Value.F32, 1e-6, "signal %d", id)
	}
}

func TestDecodeOBDResponseRejectsNonPositiveResponse(t *testing.T) {
	pdu := []byte{0x7F, 0x04, 0x31} // negative response tag
	var out []signal.Decoded
	err := DecodeOBDResponse(pdu, 1, formatsByPID{}, 0, &out)
	assert.ErrorIs(t, err, ErrNotPositiveResponse)
}

func TestDecodeOBDResponseFallsBackForUnknownPID(t *testing.T) {
	// PID 0x0C has no manifest entry; fallback table says 2 bytes, so a
	// trailing PID in the same batch should still decode.
	pdu := []byte{0x41, 0x0C, 0x1A, 0x2B, 0x04, 0x99}
	formats := formatsByPID{
		0x04: {
			{SignalID: 100, PID: 0x04, ResponseLength: 1, StartByte: 0, ByteLength: 1, BitMaskLength: 8, Factor: 1, SignalType: signal.TypeUint8},
		},
	}
	var out []signal.Decoded
	err := DecodeOBDResponse(pdu, 1, formats, 0, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, signal.ID(100), out[0].SignalID)
	assert.Equal(t, uint8(0x99), out[0].Value.U8)
}

// spec §8 scenario 5: DTC decode of 01 43 41 96 81 48 C1 48 (the DTC-count
// body, with the "43 04" positive-response/count header already stripped
// by the caller) -> ["P0143","C0196","B0148","U0148"].
func TestDecodeDTC(t *testing.T) {
	body := []byte{0x01, 0x43, 0x41, 0x96, 0x81, 0x48, 0xC1, 0x48}
	codes, err := DecodeDTC(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"P0143", "C0196", "B0148", "U0148"}, codes)
}

func TestDecodeDTCRejectsOddLength(t *testing.T) {
	_, err := DecodeDTC([]byte{0x01})
	assert.Error(t, err)
}

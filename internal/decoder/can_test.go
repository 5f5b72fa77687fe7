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

// spec §8 scenario 1: little-endian 16-bit at bit 0, frame 01 23 45 67 89
// AB -> 0x2301.
func TestDecodeCANFrameLittleEndian(t *testing.T) {
	data := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB}
	format := decodermanifest.CANMessageFormat{
		Signals: []decodermanifest.CANSignalFormat{
			{SignalID: 1, StartBit: 0, LengthBits: 16, BigEndian: false, Factor: 1, SignalType: signal.TypeUint16},
		},
	}
	var out []signal.Decoded
	err := DecodeCANFrame(data, format, map[signal.ID]bool{1: true}, 0, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint16(0x2301), out[0].Value.U16)
}

// spec §8 scenario 2: big-endian 16-bit at bit 24 -> 0x4567; another at bit
// 40 -> 0x89AB.
func TestDecodeCANFrameBigEndian(t *testing.T) {
	data := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB}
	format := decodermanifest.CANMessageFormat{
		Signals: []decodermanifest.CANSignalFormat{
			{SignalID: 1, StartBit: 24, LengthBits: 16, BigEndian: true, Factor: 1, SignalType: signal.TypeUint16},
			{SignalID: 2, StartBit: 40, LengthBits: 16, BigEndian: true, Factor: 1, SignalType: signal.TypeUint16},
		},
	}
	var out []signal.Decoded
	err := DecodeCANFrame(data, format, nil, 0, &out)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, uint16(0x4567), out[0].Value.U16)
	assert.Equal(t, uint16(0x89AB), out[1].Value.U16)
}

func TestDecodeCANFrameSkipsOutOfRangeSignal(t *testing.T) {
	data := []byte{0x01, 0x23}
	format := decodermanifest.CANMessageFormat{
		Signals: []decodermanifest.CANSignalFormat{
			{SignalID: 1, StartBit: 0, LengthBits: 32, Factor: 1, SignalType: signal.TypeUint32},
		},
	}
	var out []signal.Decoded
	err := DecodeCANFrame(data, format, nil, 0, &out)
	require.NoError(t, err)
	assert.Empty(t, out, "signal whose window exceeds the frame length must be skipped, not errored")
}

func TestDecodeCANFrameZeroLengthSkipped(t *testing.T) {
	data := []byte{0xFF}
	format := decodermanifest.CANMessageFormat{
		Signals: []decodermanifest.CANSignalFormat{
			{SignalID: 1, StartBit: 0, LengthBits: 0, Factor: 1},
		},
	}
	var out []signal.Decoded
	err := DecodeCANFrame(data, format, nil, 0, &out)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecodeCANFrameIllegalFloatWidthFailsButKeepsOthers(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	format := decodermanifest.CANMessageFormat{
		Signals: []decodermanifest.CANSignalFormat{
			{SignalID: 1, StartBit: 0, LengthBits: 16, RawKind: decodermanifest.RawKindFloat, Factor: 1, SignalType: signal.TypeFloat32},
			{SignalID: 2, StartBit: 16, LengthBits: 16, Factor: 1, SignalType: signal.TypeUint16},
		},
	}
	var out []signal.Decoded
	err := DecodeCANFrame(data, format, nil, 0, &out)
	assert.ErrorIs(t, err, ErrDecodeBounds)
	require.Len(t, out, 1, "the legal signal must still be emitted despite the other's failure")
	assert.Equal(t, signal.ID(2), out[0].SignalID)
}

func TestDecodeCANFrameFloat32RoundTrip(t *testing.T) {
	// factor=1, offset=0 round-trip invariant (spec §8).
	data := []byte{0x00, 0x00, 0x80, 0x3F} // 1.0f little-endian bit pattern
	format := decodermanifest.CANMessageFormat{
		Signals: []decodermanifest.CANSignalFormat{
			{SignalID: 1, StartBit: 0, LengthBits: 32, RawKind: decodermanifest.RawKindFloat, Factor: 1, SignalType: signal.TypeFloat32},
		},
	}
	var out []signal.Decoded
	err := DecodeCANFrame(data, format, nil, 0, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, float32(1.0), out[0].Value.F32, 1e-9)
}

func TestDecodeCANFrameSignedSignExtension(t *testing.T) {
	// -1 in 8 bits is 0xFF; sign-extended it must read back as -1.
	data := []byte{0xFF}
	format := decodermanifest.CANMessageFormat{
		Signals: []decodermanifest.CANSignalFormat{
			{SignalID: 1, StartBit: 0, LengthBits: 8, Signed: true, Factor: 1, SignalType: signal.TypeInt8},
		},
	}
	var out []signal.Decoded
	err := DecodeCANFrame(data, format, nil, 0, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int8(-1), out[0].Value.I8)
}

func TestDecodeCANFrameHonorsCollectFilter(t *testing.T) {
	data := []byte{0x01, 0x02}
	format := decodermanifest.CANMessageFormat{
		Signals: []decodermanifest.CANSignalFormat{
			{SignalID: 1, StartBit: 0, LengthBits: 8, Factor: 1, SignalType: signal.TypeUint8},
			{SignalID: 2, StartBit: 8, LengthBits: 8, Factor: 1, SignalType: signal.TypeUint8},
		},
	}
	var out []signal.Decoded
	err := DecodeCANFrame(data, format, map[signal.ID]bool{2: true}, 0, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, signal.ID(2), out[0].SignalID)
}

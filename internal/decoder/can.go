// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decoder implements the CAN/OBD/custom/DTC decoding algorithms
// (spec §4.D): given a raw frame and a decoder dictionary entry, produce
// decoded (signalId, value, type, timestamp) records.
package decoder

import (
	"fmt"
	"math"

	"github.com/clustercockpit/cc-edge-agent/internal/decodermanifest"
	"github.com/clustercockpit/cc-edge-agent/internal/signal"
)

// ErrDecodeBounds is returned when any signal's bit window is out of
// range; already-decoded signals in out remain valid (spec §4.D, §7).
var ErrDecodeBounds = fmt.Errorf("decode bounds violation")

// DecodeCANFrame decodes every signal in the format whose SignalID is
// marked for collection, appending results to out. It returns
// ErrDecodeBounds if any signal's window was illegal, but still emits every
// signal that *was* decodable.
func DecodeCANFrame(data []byte, format decodermanifest.CANMessageFormat, collect map[signal.ID]bool, timestampMs int64, out *[]signal.Decoded) error {
	lengthBits := len(data) * 8
	var failed error

	for _, sf := range format.Signals {
		if collect != nil && !collect[sf.SignalID] {
			continue
		}
		if sf.LengthBits == 0 || sf.LengthBits > 64 {
			continue
		}
		if int(sf.StartBit)+int(sf.LengthBits) > lengthBits {
			continue
		}
		if sf.RawKind == decodermanifest.RawKindFloat && sf.LengthBits != 32 && sf.LengthBits != 64 {
			failed = ErrDecodeBounds
			continue
		}

		raw, err := extractBits(data, sf.StartBit, sf.LengthBits, sf.BigEndian)
		if err != nil {
			failed = err
			continue
		}

		var physical float64
		switch {
		case sf.RawKind == decodermanifest.RawKindFloat:
			physical = decodeFloatBits(raw, sf.LengthBits)*sf.Factor + sf.Offset
		case sf.Signed:
			physical = float64(signExtend(int64(raw), sf.LengthBits))*sf.Factor + sf.Offset
		default:
			physical = float64(raw)*sf.Factor + sf.Offset
		}

		*out = append(*out, signal.Decoded{
			SignalID:    sf.SignalID,
			Value:       signal.FromFloat64(sf.SignalType, physical),
			Type:        sf.SignalType,
			TimestampMs: timestampMs,
		})
	}
	return failed
}

// extractBits pulls a lengthBits-wide field starting at startBit out of
// data, in either little-endian ("Intel") or big-endian ("Motorola
// backward") bit order (spec §4.D).
func extractBits(data []byte, startBit, lengthBits uint16, bigEndian bool) (uint64, error) {
	if int(startBit)+int(lengthBits) > len(data)*8 {
		return 0, ErrDecodeBounds
	}
	if bigEndian {
		return extractMotorolaBackward(data, startBit, lengthBits), nil
	}
	return extractLittleEndian(data, startBit, lengthBits), nil
}

// extractLittleEndian implements "extract bytes from firstBitPosition/8
// upward; right-shift by firstBitPosition%8; mask to sizeInBits".
func extractLittleEndian(data []byte, startBit, lengthBits uint16) uint64 {
	startByte := int(startBit / 8)
	bitOffset := uint(startBit % 8)

	var raw uint64
	bitsCollected := uint(0)
	byteIdx := startByte
	for bitsCollected < uint(lengthBits) && byteIdx < len(data) {
		raw |= uint64(data[byteIdx]) << bitsCollected
		bitsCollected += 8
		byteIdx++
	}
	raw >>= bitOffset
	return maskBits(raw, lengthBits)
}

// extractMotorolaBackward implements the canonical DBC big-endian bit
// walk. startBit names the field's first (most toward-LSB) byte and the
// bit within it, using sawtooth Motorola numbering (bitInByte counted from
// the byte's LSB upward, 7 = MSB). The field's first byte contributes its
// low (bitInByte+1) bits as the result's low-order bits; each subsequent,
// lower-indexed byte is consumed whole (or, for the final byte, from its
// top down) and placed progressively higher in the result — the "backward"
// walk that produces a logically contiguous big-endian bitfield out of
// non-contiguous byte order.
func extractMotorolaBackward(data []byte, startBit, lengthBits uint16) uint64 {
	byteIdx := int(startBit) / 8
	bitInByte := 7 - (int(startBit) % 8)

	var raw uint64
	bitsCollected := 0
	remaining := int(lengthBits)

	take := bitInByte + 1
	if take > remaining {
		take = remaining
	}
	if byteIdx < len(data) && byteIdx >= 0 {
		mask := uint64(1)<<uint(take) - 1
		raw |= (uint64(data[byteIdx]) & mask) << uint(bitsCollected)
	}
	bitsCollected += take
	remaining -= take
	byteIdx--

	for remaining > 0 && byteIdx >= 0 {
		take := 8
		if take > remaining {
			take = remaining
		}
		var chunk uint64
		if take == 8 {
			chunk = uint64(data[byteIdx])
		} else {
			chunk = uint64(data[byteIdx]) >> uint(8-take)
		}
		raw |= chunk << uint(bitsCollected)
		bitsCollected += take
		remaining -= take
		byteIdx--
	}
	return raw
}

func maskBits(v uint64, lengthBits uint16) uint64 {
	if lengthBits >= 64 {
		return v
	}
	return v & ((uint64(1) << lengthBits) - 1)
}

// signExtend sign-extends the low lengthBits of v.
func signExtend(v int64, lengthBits uint16) int64 {
	if lengthBits >= 64 {
		return v
	}
	shift := 64 - lengthBits
	return (v << shift) >> shift
}

func decodeFloatBits(raw uint64, lengthBits uint16) float64 {
	if lengthBits == 32 {
		return float64(math.Float32frombits(uint32(raw)))
	}
	return math.Float64frombits(raw)
}

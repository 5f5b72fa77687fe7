// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"fmt"

	"github.com/clustercockpit/cc-edge-agent/internal/decodermanifest"
	"github.com/clustercockpit/cc-edge-agent/internal/signal"
)

// ErrNotPositiveResponse is returned when the PDU's first byte does not
// carry the positive-response tag (0x40 + serviceMode).
var ErrNotPositiveResponse = fmt.Errorf("obd: not a positive response")

// FallbackPIDLength is consulted for PIDs the manifest doesn't describe, so
// a batched response's remaining PIDs stay decodable (spec §4.D). Only a
// representative subset of mode-1 PIDs is seeded; extend as needed.
var FallbackPIDLength = map[uint8]int{
	0x04: 1,
	0x05: 1,
	0x0C: 2,
	0x0D: 1,
	0x0F: 1,
	0x10: 2,
	0x11: 1,
	0x70: 10,
}

// formatsByPID indexes the manifest's OBD entries for batched-response
// decoding.
type formatsByPID map[uint8][]decodermanifest.OBDSignalFormat

// DecodeOBDResponse decodes a positive-response PDU `[0x40+SID, PID,
// bytes...]`, possibly carrying several PIDs back to back, using the
// manifest for response length and falling back to FallbackPIDLength for
// unknown PIDs so later PIDs in the batch remain decodable.
func DecodeOBDResponse(pdu []byte, serviceMode uint8, formats formatsByPID, timestampMs int64, out *[]signal.Decoded) error {
	if len(pdu) < 2 {
		return fmt.Errorf("obd: response too short")
	}
	if pdu[0] != 0x40+serviceMode {
		return ErrNotPositiveResponse
	}

	i := 1
	for i < len(pdu) {
		pid := pdu[i]
		i++

		respLen := fallbackLength(formats, pid)
		end := i + respLen
		if end > len(pdu) {
			end = len(pdu)
		}
		body := pdu[i:end]

		for _, f := range formats[pid] {
			decodeOneOBDSignal(f, body, timestampMs, out)
		}
		i = end
	}
	return nil
}

func fallbackLength(formats formatsByPID, pid uint8) int {
	for _, f := range formats[pid] {
		if int(f.ResponseLength) > 0 {
			return int(f.ResponseLength)
		}
	}
	if l, ok := FallbackPIDLength[pid]; ok {
		return l
	}
	return 1
}

func decodeOneOBDSignal(f decodermanifest.OBDSignalFormat, body []byte, timestampMs int64, out *[]signal.Decoded) {
	if int(f.StartByte)+int(f.ByteLength) > len(body) {
		return
	}
	window := body[f.StartByte : f.StartByte+f.ByteLength]

	var raw uint64
	for _, b := range window {
		raw = (raw << 8) | uint64(b)
	}
	raw >>= uint(f.BitRightShift)
	if f.BitMaskLength < 64 {
		raw &= uint64(1)<<uint(f.BitMaskLength) - 1
	}

	var physical float64
	if f.Signed {
		physical = float64(signExtend(int64(raw), uint16(f.BitMaskLength)))*f.Factor + f.Offset
	} else {
		physical = float64(raw)*f.Factor + f.Offset
	}

	*out = append(*out, signal.Decoded{
		SignalID:    f.SignalID,
		Value:       signal.FromFloat64(f.SignalType, physical),
		Type:        f.SignalType,
		TimestampMs: timestampMs,
	})
}

// DecodeVIN extracts the 17-character VIN from a mode-9 PID-2 response
// body (the multi-frame reassembly itself is an ISO-TP collaborator's
// concern, out of scope here).
func DecodeVIN(body []byte) string {
	return string(body)
}

var dtcDomainLetters = [4]byte{'P', 'C', 'B', 'U'}

// DecodeDTC decodes a stream of 2-byte DTC codes into their string form
// (spec §4.D, §8 scenario 5): the top two bits of the first byte select a
// domain letter {P,C,B,U}, and the remaining 14 bits render as four hex
// digits.
func DecodeDTC(data []byte) ([]string, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("obd: DTC payload must be an even number of bytes")
	}
	out := make([]string, 0, len(data)/2)
	for i := 0; i < len(data); i += 2 {
		hi, lo := data[i], data[i+1]
		domain := dtcDomainLetters[hi>>6]
		code := (uint16(hi&0x3F) << 8) | uint16(lo)
		out = append(out, fmt.Sprintf("%c%04X", domain, code))
	}
	return out, nil
}

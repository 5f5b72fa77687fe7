// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stream

import (
	"fmt"
	"time"

	"github.com/clustercockpit/cc-edge-agent/internal/signal"
	influx "github.com/influxdata/line-protocol/v2/lineprotocol"
)

// EncodeSignals serializes a set of decoded signal readings into one line
// protocol record, grounded on the teacher's influx decode/encode usage
// (pkg/nats/influxDecoder.go); here the measurement is "signals" and each
// signal id becomes a field keyed by its decimal string.
func EncodeSignals(readings []signal.Decoded, triggerTimeMs int64) ([]byte, error) {
	var enc influx.Encoder
	enc.SetPrecision(influx.Millisecond)

	enc.StartLine("signals")
	for _, r := range readings {
		v, ok := r.Value.Float64()
		var fv influx.Value
		if ok {
			fv = influx.MustNewValue(v)
		} else {
			fv = influx.MustNewValue(r.Value.String())
		}
		enc.AddField(fmt.Sprintf("%d", r.SignalID), fv)
	}
	enc.EndTime(time.UnixMilli(triggerTimeMs))
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("stream: encode signals: %w", err)
	}
	return enc.Bytes(), nil
}

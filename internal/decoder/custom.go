// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decoder

import (
	"fmt"
	"time"

	"github.com/clustercockpit/cc-edge-agent/internal/decodermanifest"
	"github.com/clustercockpit/cc-edge-agent/internal/signal"
	"github.com/clustercockpit/cc-edge-agent/pkg/lrucache"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// defaultCompiledProgramBudget bounds how many distinct decoderString
// expressions stay compiled at once. A manifest with thousands of custom
// signals each carrying a unique expression would otherwise grow this
// cache unboundedly.
const defaultCompiledProgramBudget = 4096

// CustomDecoder evaluates a manifest-supplied decoderString as an
// expression over the raw payload bytes (spec §3: "the decoder string's
// grammar is opaque to the core" — expr-lang is the concrete grammar this
// implementation chooses, grounded on the teacher's compile-then-run usage
// of the same library for collection-scheme style conditions). Compiled
// programs are kept in the teacher's LRU cache (pkg/lrucache) rather than a
// plain map, since manifests can carry far more custom signals than are
// ever exercised in one upload cycle.
type CustomDecoder struct {
	programs *lrucache.Cache
}

func NewCustomDecoder() *CustomDecoder {
	return &CustomDecoder{programs: lrucache.New(defaultCompiledProgramBudget)}
}

// customDecoderEnv is the expression environment exposed to a decoder
// string: the raw payload as Bytes, and only expr-lang's built-in functions.
type customDecoderEnv struct {
	Bytes []byte
}

// Decode evaluates f.DecoderString against payload and returns the decoded
// signal. Programs are compiled once and cached by decoder string.
func (d *CustomDecoder) Decode(f decodermanifest.CustomSignalFormat, payload []byte, timestampMs int64) (signal.Decoded, error) {
	var compileErr error
	cached := d.programs.Get(f.DecoderString, func() (interface{}, time.Duration, int) {
		prog, err := expr.Compile(f.DecoderString, expr.Env(customDecoderEnv{}))
		if err != nil {
			compileErr = err
			return (*vm.Program)(nil), time.Minute, 1
		}
		return prog, 24 * time.Hour, 1 // long TTL: a compiled program is cheap to keep, expensive to recompile
	})
	if compileErr != nil {
		return signal.Decoded{}, fmt.Errorf("custom decoder %q: compile: %w", f.DecoderString, compileErr)
	}
	prog, _ := cached.(*vm.Program)
	if prog == nil {
		return signal.Decoded{}, fmt.Errorf("custom decoder %q: compile: cached nil program", f.DecoderString)
	}

	out, err := expr.Run(prog, customDecoderEnv{Bytes: payload})
	if err != nil {
		return signal.Decoded{}, fmt.Errorf("custom decoder %q: run: %w", f.DecoderString, err)
	}

	physical, ok := toFloat64(out)
	if !ok {
		return signal.Decoded{}, fmt.Errorf("custom decoder %q: result not numeric", f.DecoderString)
	}

	return signal.Decoded{
		SignalID:    f.SignalID,
		Value:       signal.FromFloat64(f.SignalType, physical),
		Type:        f.SignalType,
		TimestampMs: timestampMs,
	}, nil
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

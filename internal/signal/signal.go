// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package signal defines the cloud-assigned signal identifier and the
// tagged-union value type shared by every protocol decoder.
package signal

import "fmt"

// ID is a 32-bit cloud-assigned signal identifier, unique across a vehicle.
// The top bit marks a partial signal: a derived path into a complex
// (nested) signal, internally synthesized by the dictionary extractor.
type ID uint32

const partialSignalBit = ID(1) << 31

// IsPartial reports whether the high bit is set.
func (id ID) IsPartial() bool {
	return id&partialSignalBit != 0
}

// WithPartialBit returns id with the partial-signal marker bit set.
func WithPartialBit(id ID) ID {
	return id | partialSignalBit
}

// Type tags the physical representation of a decoded or configured signal.
type Type int

const (
	TypeUnknown Type = iota
	TypeBool
	TypeUint8
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeUint64
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeString
	// TypeBufferHandle indexes into a raw-data buffer owned by the
	// ingestion layer rather than carrying a value inline.
	TypeBufferHandle
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeUint8:
		return "uint8"
	case TypeInt8:
		return "int8"
	case TypeUint16:
		return "uint16"
	case TypeInt16:
		return "int16"
	case TypeUint32:
		return "uint32"
	case TypeInt32:
		return "int32"
	case TypeUint64:
		return "uint64"
	case TypeInt64:
		return "int64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBufferHandle:
		return "bufferHandle"
	default:
		return "unknown"
	}
}

// Value is the tagged union of every representation a decoded signal or an
// expression literal can take. Exactly one of the typed fields is
// meaningful, selected by Type.
type Value struct {
	Type Type

	Bool bool

	U8  uint8
	I8  int8
	U16 uint16
	I16 int16
	U32 uint32
	I32 int32
	U64 uint64
	I64 int64

	F32 float32
	F64 float64

	Str []byte

	// BufferHandle indexes a raw-data buffer owned by the ingestion layer.
	BufferHandle uint32
}

// Float64 returns the value coerced to float64 for arithmetic/expression
// evaluation. String and buffer-handle values return 0, false.
func (v Value) Float64() (float64, bool) {
	switch v.Type {
	case TypeBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case TypeUint8:
		return float64(v.U8), true
	case TypeInt8:
		return float64(v.I8), true
	case TypeUint16:
		return float64(v.U16), true
	case TypeInt16:
		return float64(v.I16), true
	case TypeUint32:
		return float64(v.U32), true
	case TypeInt32:
		return float64(v.I32), true
	case TypeUint64:
		return float64(v.U64), true
	case TypeInt64:
		return float64(v.I64), true
	case TypeFloat32:
		return float64(v.F32), true
	case TypeFloat64:
		return v.F64, true
	default:
		return 0, false
	}
}

func (v Value) String() string {
	switch v.Type {
	case TypeString:
		return string(v.Str)
	case TypeBufferHandle:
		return fmt.Sprintf("bufferHandle(%d)", v.BufferHandle)
	default:
		f, ok := v.Float64()
		if ok {
			return fmt.Sprintf("%v", f)
		}
		return "<invalid>"
	}
}

// FromFloat64 builds a signal value of the given numeric type from a
// physical float64, applying truncation/rounding the same way the CAN
// decoder's factor/offset scaling does.
func FromFloat64(t Type, physical float64) Value {
	switch t {
	case TypeBool:
		return Value{Type: t, Bool: physical != 0}
	case TypeUint8:
		return Value{Type: t, U8: uint8(physical)}
	case TypeInt8:
		return Value{Type: t, I8: int8(physical)}
	case TypeUint16:
		return Value{Type: t, U16: uint16(physical)}
	case TypeInt16:
		return Value{Type: t, I16: int16(physical)}
	case TypeUint32:
		return Value{Type: t, U32: uint32(physical)}
	case TypeInt32:
		return Value{Type: t, I32: int32(physical)}
	case TypeUint64:
		return Value{Type: t, U64: uint64(physical)}
	case TypeInt64:
		return Value{Type: t, I64: int64(physical)}
	case TypeFloat32:
		return Value{Type: t, F32: float32(physical)}
	default:
		return Value{Type: TypeFloat64, F64: physical}
	}
}

// Decoded is a single decoded reading, the unit of output from every
// protocol decoder and the unit of input into the inspection engine.
type Decoded struct {
	SignalID  ID
	Value     Value
	Type      Type
	TimestampMs int64
}

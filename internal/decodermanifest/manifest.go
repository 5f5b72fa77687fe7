// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decodermanifest models the cloud-supplied Decoder Manifest: the
// rules that turn raw CAN/OBD/custom/complex bytes into typed signals.
// Deserialization format is left to the caller (spec Non-goals); this
// package only owns the in-memory model and its accessors.
package decodermanifest

import (
	"fmt"

	"github.com/clustercockpit/cc-edge-agent/internal/signal"
)

// Protocol identifies which decoding rule family a signal belongs to.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolCAN
	ProtocolOBD
	ProtocolCustom
	ProtocolComplex
)

func (p Protocol) String() string {
	switch p {
	case ProtocolCAN:
		return "CAN"
	case ProtocolOBD:
		return "OBD"
	case ProtocolCustom:
		return "Custom"
	case ProtocolComplex:
		return "Complex"
	default:
		return "Unknown"
	}
}

// RawKind distinguishes integer vs. floating-point bit-pattern decoding.
type RawKind int

const (
	RawKindInteger RawKind = iota
	RawKindFloat
)

// CANSignalFormat describes one CAN signal's bit layout within a frame.
type CANSignalFormat struct {
	SignalID     signal.ID
	InterfaceID  string
	MessageID    uint32
	StartBit     uint16
	LengthBits   uint16
	BigEndian    bool
	Signed       bool
	RawKind      RawKind
	Factor       float64
	Offset       float64
	SignalType   signal.Type
}

// CANMessageFormat is the set of signal formats carried by one frame.
type CANMessageFormat struct {
	MessageID uint32
	SizeBytes uint8
	Signals   []CANSignalFormat
}

// OBDSignalFormat describes one OBD PID signal's bit layout within a
// positive response.
type OBDSignalFormat struct {
	SignalID        signal.ID
	ServiceMode     uint8
	PID             uint8
	ResponseLength  uint16
	StartByte       uint16
	ByteLength      uint16
	BitRightShift   uint8
	BitMaskLength   uint8
	Factor          float64
	Offset          float64
	Signed          bool
	SignalType      signal.Type
}

// CustomSignalFormat is an opaque-grammar decoding rule evaluated by the
// custom decoder (see internal/decoder).
type CustomSignalFormat struct {
	SignalID      signal.ID
	InterfaceID   string
	DecoderString string
	SignalType    signal.Type
}

// ComplexTypeKind tags one node of a complex (nested) signal's type tree.
type ComplexTypeKind int

const (
	ComplexPrimitive ComplexTypeKind = iota
	ComplexStruct
	ComplexArray
	ComplexString
)

// StringEncoding is used by ComplexString type nodes.
type StringEncoding int

const (
	StringUTF8 StringEncoding = iota
	StringUTF16
)

// Reserved typeIds for the two built-in string encodings, per spec §3.
const (
	UTF8StringTypeID  = 0xFFFFFFFE
	UTF16StringTypeID = 0xFFFFFFFF
)

// ComplexType is one node of a complex signal's type map.
type ComplexType struct {
	TypeID          uint32
	Kind            ComplexTypeKind
	PrimitiveType   signal.Type
	OrderedTypeIDs  []uint32 // struct members, in declaration order
	RepeatedTypeID  uint32   // array element type
	ArraySize       uint32
	StringEncoding  StringEncoding
	StringSize      uint32
}

// ComplexSignalFormat describes a complex (nested) signal's root type plus
// the type map reachable from it.
type ComplexSignalFormat struct {
	SignalID signal.ID
	RootTypeID uint32
	TypeMap    map[uint32]ComplexType
}

// Manifest is the fully-parsed Decoder Manifest, versioned by SyncID.
type Manifest struct {
	SyncID string

	canBySignal     map[signal.ID]CANSignalFormat
	canFrames       map[frameKey]CANMessageFormat
	obdBySignal     map[signal.ID]OBDSignalFormat
	customBySignal  map[signal.ID]CustomSignalFormat
	complexBySignal map[signal.ID]ComplexSignalFormat
	protocolOf      map[signal.ID]Protocol
}

type frameKey struct {
	interfaceID string
	messageID   uint32
}

// New returns an empty manifest ready to be populated by Build.
func New(syncID string) *Manifest {
	return &Manifest{
		SyncID:          syncID,
		canBySignal:     map[signal.ID]CANSignalFormat{},
		canFrames:       map[frameKey]CANMessageFormat{},
		obdBySignal:     map[signal.ID]OBDSignalFormat{},
		customBySignal:  map[signal.ID]CustomSignalFormat{},
		complexBySignal: map[signal.ID]ComplexSignalFormat{},
		protocolOf:      map[signal.ID]Protocol{},
	}
}

// ErrProtocolMismatch is returned when a signalId is looked up under a
// protocol it was never registered for (spec §3 invariant).
var ErrProtocolMismatch = fmt.Errorf("invalid protocol: signal routed to a protocol for which no entry exists")

// AddCANSignal registers a CAN signal and folds it into its frame's format.
// Registering the same signalId twice under a different protocol is a
// caller bug; the later registration wins and the invariant is the
// extractor/decoder's responsibility to respect via GetNetworkProtocol.
func (m *Manifest) AddCANSignal(f CANSignalFormat) {
	m.canBySignal[f.SignalID] = f
	m.protocolOf[f.SignalID] = ProtocolCAN

	k := frameKey{f.InterfaceID, f.MessageID}
	fmtMsg, ok := m.canFrames[k]
	if !ok {
		fmtMsg = CANMessageFormat{MessageID: f.MessageID}
	}
	fmtMsg.Signals = append(fmtMsg.Signals, f)
	m.canFrames[k] = fmtMsg
}

// AddOBDSignal registers an OBD PID signal.
func (m *Manifest) AddOBDSignal(f OBDSignalFormat) {
	m.obdBySignal[f.SignalID] = f
	m.protocolOf[f.SignalID] = ProtocolOBD
}

// AddCustomSignal registers a custom-decoder-string signal.
func (m *Manifest) AddCustomSignal(f CustomSignalFormat) {
	m.customBySignal[f.SignalID] = f
	m.protocolOf[f.SignalID] = ProtocolCustom
}

// AddComplexSignal registers a complex (nested) signal.
func (m *Manifest) AddComplexSignal(f ComplexSignalFormat) {
	m.complexBySignal[f.SignalID] = f
	m.protocolOf[f.SignalID] = ProtocolComplex
}

// GetNetworkProtocol returns the protocol a signalId was registered under.
func (m *Manifest) GetNetworkProtocol(id signal.ID) (Protocol, bool) {
	p, ok := m.protocolOf[id]
	return p, ok
}

// GetCANFrameAndInterfaceID returns the (messageId, interfaceId) a CAN
// signal belongs to.
func (m *Manifest) GetCANFrameAndInterfaceID(id signal.ID) (messageID uint32, interfaceID string, err error) {
	f, ok := m.canBySignal[id]
	if !ok {
		return 0, "", ErrProtocolMismatch
	}
	return f.MessageID, f.InterfaceID, nil
}

// GetCANMessageFormat returns the full signal set for one frame.
func (m *Manifest) GetCANMessageFormat(messageID uint32, interfaceID string) (CANMessageFormat, error) {
	f, ok := m.canFrames[frameKey{interfaceID, messageID}]
	if !ok {
		return CANMessageFormat{}, ErrProtocolMismatch
	}
	return f, nil
}

// GetCANSignalFormat returns a single CAN signal's decoding rule.
func (m *Manifest) GetCANSignalFormat(id signal.ID) (CANSignalFormat, error) {
	f, ok := m.canBySignal[id]
	if !ok {
		return CANSignalFormat{}, ErrProtocolMismatch
	}
	return f, nil
}

// GetPIDSignalDecoderFormat returns an OBD signal's decoding rule.
func (m *Manifest) GetPIDSignalDecoderFormat(id signal.ID) (OBDSignalFormat, error) {
	f, ok := m.obdBySignal[id]
	if !ok {
		return OBDSignalFormat{}, ErrProtocolMismatch
	}
	return f, nil
}

// GetCustomSignalDecoderFormat returns a custom signal's decoding rule.
func (m *Manifest) GetCustomSignalDecoderFormat(id signal.ID) (CustomSignalFormat, error) {
	f, ok := m.customBySignal[id]
	if !ok {
		return CustomSignalFormat{}, ErrProtocolMismatch
	}
	return f, nil
}

// GetComplexSignalDecoderFormat returns a complex signal's root type.
func (m *Manifest) GetComplexSignalDecoderFormat(id signal.ID) (ComplexSignalFormat, error) {
	f, ok := m.complexBySignal[id]
	if !ok {
		return ComplexSignalFormat{}, ErrProtocolMismatch
	}
	return f, nil
}

// GetComplexDataType resolves one typeId within a complex signal's type map.
func (f ComplexSignalFormat) GetComplexDataType(typeID uint32) (ComplexType, bool) {
	t, ok := f.TypeMap[typeID]
	return t, ok
}

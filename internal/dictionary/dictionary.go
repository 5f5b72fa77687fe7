// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dictionary implements the Decoder Dictionary Extractor (spec
// §4.C): it projects the active Decoder Manifest through the enabled
// Collection Schemes into a per-protocol lookup used by the ingest
// decoders.
package dictionary

import (
	"github.com/clustercockpit/cc-edge-agent/internal/campaign"
	"github.com/clustercockpit/cc-edge-agent/internal/decodermanifest"
	"github.com/clustercockpit/cc-edge-agent/internal/signal"
	"github.com/clustercockpit/cc-edge-agent/pkg/log"
)

var dictLog = log.WithComponent("dictionary-extractor")

// MaxComplexTypes bounds the type-tree walk performed for complex
// (partial) signals, per spec §4.C.
const MaxComplexTypes = 4096

// CANChannel is one CAN interface's frame table within a CAN dictionary.
type CANChannel struct {
	Frames map[uint32]CANFrameEntry // messageId -> entry
}

// CANFrameEntry pairs a frame's decode format with whether it should be
// collected at all this cycle.
type CANFrameEntry struct {
	Format  decodermanifest.CANMessageFormat
	Collect bool
}

// CANDictionary is the per-channel, per-frame CAN/OBD lookup (OBD uses the
// synthetic channel id CANChannelOBD).
type CANDictionary struct {
	Channels          map[string]*CANChannel
	SignalIDsToCollect map[signal.ID]bool
}

// CANChannelOBD is the synthetic interface id all OBD PIDs are filed
// under, per spec §4.C ("all PIDs are placed under a single synthetic
// channel 0").
const CANChannelOBD = "obd-0"

func newCANDictionary() *CANDictionary {
	return &CANDictionary{
		Channels:           map[string]*CANChannel{},
		SignalIDsToCollect: map[signal.ID]bool{},
	}
}

func (d *CANDictionary) channel(id string) *CANChannel {
	c, ok := d.Channels[id]
	if !ok {
		c = &CANChannel{Frames: map[uint32]CANFrameEntry{}}
		d.Channels[id] = c
	}
	return c
}

// CustomDictionary is keyed by (interfaceId, decoderString).
type CustomDictionary struct {
	Entries map[CustomKey]decodermanifest.CustomSignalFormat
}

// CustomKey identifies one custom-decoder dictionary entry.
type CustomKey struct {
	InterfaceID   string
	DecoderString string
}

// ComplexMessageEntry is one entry of a Complex dictionary.
type ComplexMessageEntry struct {
	RootTypeID   uint32
	CollectRaw   bool
	SignalPaths  []ComplexSignalPath
	TypeMap      map[uint32]decodermanifest.ComplexType
}

// ComplexSignalPath pairs a decoded path with the partial signal id it
// produces.
type ComplexSignalPath struct {
	Path           []uint32
	PartialSignalID signal.ID
}

// ComplexDictionary is keyed by interfaceId -> messageId.
type ComplexDictionary struct {
	Interfaces map[string]map[uint32]ComplexMessageEntry
}

// Dictionaries is the full per-protocol extraction output. A nil field
// means "disabled" for that protocol (spec §4.C invariant: every protocol
// always appears in the output map).
type Dictionaries struct {
	CAN    *CANDictionary
	OBD    *CANDictionary
	Custom *CustomDictionary
	Complex *ComplexDictionary

	// PartialSignalTypes records the resolved signal.Type for every
	// partial signal id synthesized while walking complex paths, consumed
	// by internal/inspection to patch ConditionWithCollectedData entries.
	PartialSignalTypes map[signal.ID]signal.Type
}

// Extract implements spec §4.C's algorithm: walk each enabled scheme whose
// DecoderManifestSyncID matches manifest.SyncID, resolve each
// collectSignal's protocol, and fold it into the appropriate dictionary.
func Extract(manifest *decodermanifest.Manifest, enabled map[string]*campaign.Scheme) *Dictionaries {
	d := &Dictionaries{
		CAN:                newCANDictionary(),
		OBD:                newCANDictionary(),
		Custom:             &CustomDictionary{Entries: map[CustomKey]decodermanifest.CustomSignalFormat{}},
		Complex:            &ComplexDictionary{Interfaces: map[string]map[uint32]ComplexMessageEntry{}},
		PartialSignalTypes: map[signal.ID]signal.Type{},
	}

	for _, scheme := range enabled {
		if scheme.DecoderManifestSyncID != manifest.SyncID {
			continue
		}
		for _, cs := range scheme.CollectSignals {
			extractOne(manifest, d, cs.SignalID)
		}
	}
	return d
}

func extractOne(manifest *decodermanifest.Manifest, d *Dictionaries, id signal.ID) {
	proto, ok := manifest.GetNetworkProtocol(id)
	if !ok {
		dictLog.Warnf("signal %d has no manifest entry, skipping", id)
		return
	}

	switch proto {
	case decodermanifest.ProtocolCAN:
		extractCAN(manifest, d, id)
	case decodermanifest.ProtocolOBD:
		extractOBD(manifest, d, id)
	case decodermanifest.ProtocolCustom:
		extractCustom(manifest, d, id)
	case decodermanifest.ProtocolComplex:
		extractComplex(manifest, d, id)
	default:
		dictLog.Warnf("signal %d has unknown protocol, skipping", id)
	}
}

func extractCAN(manifest *decodermanifest.Manifest, d *Dictionaries, id signal.ID) {
	messageID, interfaceID, err := manifest.GetCANFrameAndInterfaceID(id)
	if err != nil {
		dictLog.Warnf("CAN signal %d malformed: %v", id, err)
		return
	}
	// interfaceId -> channelId translation is canonical identity here: the
	// manifest's interfaceId already names the logical CAN channel. A
	// deployment with a separate physical/logical split would substitute
	// a real translator at this call site.
	channelID := interfaceID

	format, err := manifest.GetCANMessageFormat(messageID, interfaceID)
	if err != nil {
		dictLog.Warnf("CAN frame %d/%s malformed: %v", messageID, interfaceID, err)
		return
	}

	ch := d.CAN.channel(channelID)
	entry, ok := ch.Frames[messageID]
	if !ok {
		entry = CANFrameEntry{Format: format}
	}
	entry.Collect = true
	ch.Frames[messageID] = entry
	d.CAN.SignalIDsToCollect[id] = true
}

func extractOBD(manifest *decodermanifest.Manifest, d *Dictionaries, id signal.ID) {
	f, err := manifest.GetPIDSignalDecoderFormat(id)
	if err != nil {
		dictLog.Warnf("OBD signal %d malformed: %v", id, err)
		return
	}

	ch := d.OBD.channel(dictionaryOBDChannel())
	entry, ok := ch.Frames[uint32(f.PID)]
	if !ok {
		entry = CANFrameEntry{Format: decodermanifest.CANMessageFormat{MessageID: uint32(f.PID)}}
	}
	entry.Collect = true
	entry.Format.Signals = append(entry.Format.Signals, decodermanifest.CANSignalFormat{
		SignalID:   f.SignalID,
		StartBit:   uint16(int(f.StartByte)*8 + int(f.BitRightShift)),
		LengthBits: uint16(int(f.ByteLength-1)*8 + int(f.BitMaskLength)),
		BigEndian:  true,
		Signed:     f.Signed,
		Factor:     f.Factor,
		Offset:     f.Offset,
		SignalType: f.SignalType,
	})
	ch.Frames[uint32(f.PID)] = entry
	d.OBD.SignalIDsToCollect[id] = true
}

func dictionaryOBDChannel() string { return CANChannelOBD }

func extractCustom(manifest *decodermanifest.Manifest, d *Dictionaries, id signal.ID) {
	f, err := manifest.GetCustomSignalDecoderFormat(id)
	if err != nil {
		dictLog.Warnf("custom signal %d malformed: %v", id, err)
		return
	}
	d.Custom.Entries[CustomKey{InterfaceID: f.InterfaceID, DecoderString: f.DecoderString}] = f
}

func extractComplex(manifest *decodermanifest.Manifest, d *Dictionaries, id signal.ID) {
	f, err := manifest.GetComplexSignalDecoderFormat(id)
	if err != nil {
		dictLog.Warnf("complex signal %d malformed: %v", id, err)
		return
	}

	// Bound the type-tree walk by MaxComplexTypes; the complex signal's
	// own map is already the materialized subset produced upstream, so
	// here we simply copy it in, truncating defensively if an upstream
	// manifest ever violates the bound.
	typeMap := map[uint32]decodermanifest.ComplexType{}
	count := 0
	for tid, t := range f.TypeMap {
		if count >= MaxComplexTypes {
			dictLog.Warnf("complex signal %d exceeds MAX_COMPLEX_TYPES, truncating", id)
			break
		}
		typeMap[tid] = t
		count++
	}

	perIface, ok := d.Complex.Interfaces[""]
	if !ok {
		perIface = map[uint32]ComplexMessageEntry{}
		d.Complex.Interfaces[""] = perIface
	}
	entry, ok := perIface[f.RootTypeID]
	if !ok {
		entry = ComplexMessageEntry{RootTypeID: f.RootTypeID, TypeMap: typeMap}
	}
	partialID := signal.WithPartialBit(id)
	entry.SignalPaths = append(entry.SignalPaths, ComplexSignalPath{
		Path:            []uint32{f.RootTypeID},
		PartialSignalID: partialID,
	})
	perIface[f.RootTypeID] = entry

	d.PartialSignalTypes[partialID] = resolveComplexLeafType(f, f.RootTypeID)
}

func resolveComplexLeafType(f decodermanifest.ComplexSignalFormat, typeID uint32) signal.Type {
	t, ok := f.TypeMap[typeID]
	if !ok {
		return signal.TypeUnknown
	}
	switch t.Kind {
	case decodermanifest.ComplexPrimitive:
		return t.PrimitiveType
	case decodermanifest.ComplexString:
		return signal.TypeString
	default:
		return signal.TypeUnknown
	}
}

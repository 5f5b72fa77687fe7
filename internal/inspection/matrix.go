// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package inspection implements the Inspection/Fetch Matrix Extractor
// (spec §4.E): it flattens each Collection Scheme's condition/fetch/forward
// ASTs into a contiguous, pointer-rewritten evaluation structure.
package inspection

import (
	"github.com/clustercockpit/cc-edge-agent/internal/campaign"
	"github.com/clustercockpit/cc-edge-agent/internal/decodermanifest"
	"github.com/clustercockpit/cc-edge-agent/internal/dictionary"
	"github.com/clustercockpit/cc-edge-agent/internal/signal"
	"github.com/clustercockpit/cc-edge-agent/pkg/log"
)

var inspLog = log.WithComponent("inspection-extractor")

// ExprNode is one arena-resident, index-rewritten expression node. It is
// the flattened counterpart of campaign.Node: Left/Right/Params hold
// indices into the owning InspectionMatrix's ExpressionNodeStorage rather
// than pointers, so the whole matrix is a single contiguous, trivially
// shareable immutable value (spec §9).
type ExprNode struct {
	NodeType campaign.NodeType

	Left  int // -1 if absent
	Right int // -1 if absent

	FloatingValue float64
	BooleanValue  bool
	StringValue   string
	SignalID      signal.ID

	Window             campaign.WindowFunction
	CustomFunctionName string
	CustomFunctionParams []int
	InvocationID       uint32
}

const noChild = -1

// CollectedSignal is one entry of ConditionWithCollectedData.Signals.
type CollectedSignal struct {
	SignalID                signal.ID
	SampleBufferSize        uint32
	MinimumSampleIntervalMs uint32
	FixedWindowPeriodMs     uint32
	ConditionOnly           bool
	SignalType              signal.Type
	FetchRequestIDs         []uint32
}

// ConditionForFetch pairs a fetch's trigger condition with its request id.
type ConditionForFetch struct {
	ConditionNodeIndex      int
	TriggerOnlyOnRisingEdge bool
	FetchRequestID          uint32
}

// ConditionForForward pairs a partition upload condition with its index.
type ConditionForForward struct {
	ConditionNodeIndex int
}

// ConditionMetadata carries the scheme-level attributes of one condition.
type ConditionMetadata struct {
	Compress           bool
	Persist            bool
	Priority           uint8
	DecoderID          string
	CollectionSchemeID string
	CampaignARN        string
}

// ConditionWithCollectedData is one scheme's fully-extracted entry.
type ConditionWithCollectedData struct {
	ConditionNodeIndex int // -1 if the scheme has no trigger condition

	Signals          []CollectedSignal
	FetchConditions  []ConditionForFetch
	ForwardConditions []ConditionForForward

	Metadata ConditionMetadata

	MinimumPublishIntervalMs uint32
	AfterDurationMs          uint32
	IncludeActiveDtcs        bool
	TriggerOnlyOnRisingEdge  bool

	IsStaticCondition      bool
	AlwaysEvaluateCondition bool
}

// Matrix is the full Inspection Matrix: a set of conditions plus the
// arena they index into.
type Matrix struct {
	Conditions           []ConditionWithCollectedData
	ExpressionNodeStorage []ExprNode
}

// PeriodicalFetchSetup describes one id's periodic (unconditional) fetch
// schedule.
type PeriodicalFetchSetup struct {
	FetchFrequencyMs          uint32
	MaxExecutionCount         uint32
	MaxExecutionCountResetPeriodMs uint32
}

// FetchArg is one literal argument to a fetch request invocation.
type FetchArg struct {
	SignalID     signal.ID // 0 if this arg is a literal, not a signal
	Value        signal.Value
}

// FetchRequest is one invocation entry of a FetchMatrix.
type FetchRequest struct {
	SignalID     signal.ID
	FunctionName string
	Args         []FetchArg
}

// FetchMatrix is the companion structure produced alongside Matrix.
type FetchMatrix struct {
	FetchRequests               map[uint32][]FetchRequest
	PeriodicalFetchRequestSetup map[uint32]PeriodicalFetchSetup
}

// arena accumulates deduplicated, rewritten nodes during extraction of one
// scheme's trees. Deduplication is by pointer identity within a single
// scheme (spec §4.E: "nodes from a scheme's own tree are reused; nodes
// from different schemes are not deduplicated").
type arena struct {
	storage   []ExprNode
	nodeIndex map[*campaign.Node]int
}

func newArena() *arena {
	return &arena{nodeIndex: map[*campaign.Node]int{}}
}

// insert performs a depth-first preorder walk, copying n (and its
// children, in custom-function-params, then left, then right order) into
// the arena, returning its index. Already-seen pointers are not copied
// again.
func (a *arena) insert(n *campaign.Node) int {
	if n == nil {
		return noChild
	}
	if idx, ok := a.nodeIndex[n]; ok {
		return idx
	}

	idx := len(a.storage)
	a.storage = append(a.storage, ExprNode{}) // reserve slot before recursing
	a.nodeIndex[n] = idx

	params := make([]int, len(n.Function.CustomFunctionParams))
	for i, p := range n.Function.CustomFunctionParams {
		params[i] = a.insert(p)
	}
	left := a.insert(n.Left)
	right := a.insert(n.Right)

	a.storage[idx] = ExprNode{
		NodeType:             n.NodeType,
		Left:                 left,
		Right:                right,
		FloatingValue:        n.FloatingValue,
		BooleanValue:         n.BooleanValue,
		StringValue:          n.StringValue,
		SignalID:             n.SignalID,
		Window:               n.Function.Window,
		CustomFunctionName:   n.Function.CustomFunctionName,
		CustomFunctionParams: params,
		InvocationID:         n.Function.InvocationID,
	}
	return idx
}

// isValidFetchAction reports whether n is a custom-function call with only
// boolean/float/string literal parameters (spec §4.E fetch validity rule).
func isValidFetchAction(n *campaign.Node) bool {
	if n == nil || n.NodeType != campaign.NodeCustomFunction {
		return false
	}
	for _, p := range n.Function.CustomFunctionParams {
		if p == nil || !p.IsLiteral() {
			return false
		}
	}
	return true
}

// Extract builds the InspectionMatrix and FetchMatrix for every enabled
// scheme, resolving each collected signal's type via the manifest and
// patching partial-signal types from dicts.PartialSignalTypes.
func Extract(manifest *decodermanifest.Manifest, enabled map[string]*campaign.Scheme, dicts *dictionary.Dictionaries) (*Matrix, *FetchMatrix) {
	a := newArena()
	matrix := &Matrix{}
	fm := &FetchMatrix{
		FetchRequests:               map[uint32][]FetchRequest{},
		PeriodicalFetchRequestSetup: map[uint32]PeriodicalFetchSetup{},
	}

	var nextFetchID uint32

	for _, syncID := range campaign.SortedSyncIDs(enabled) {
		scheme := enabled[syncID]
		if scheme.DecoderManifestSyncID != manifest.SyncID {
			continue
		}
		// A fresh arena per scheme matches the pointer-identity
		// deduplication rule: distinct schemes never share arena slots
		// even if their trees happen to be structurally equal. base is
		// where this scheme's nodes will land once appended to the
		// shared storage; every index this scheme produces (condition,
		// fetch, forward, and each node's own Left/Right/params) must be
		// rebased by it before being stored in the matrix.
		a = newArena()
		base := len(matrix.ExpressionNodeStorage)

		condIdx := a.insert(scheme.Condition)

		cond := ConditionWithCollectedData{
			ConditionNodeIndex:      rebaseIndex(condIdx, base),
			MinimumPublishIntervalMs: scheme.MinimumPublishIntervalMs,
			AfterDurationMs:          scheme.AfterDurationMs,
			IncludeActiveDtcs:        scheme.IncludeActiveDtcs,
			TriggerOnlyOnRisingEdge:  scheme.TriggerOnlyOnRisingEdge,
			Metadata: ConditionMetadata{
				Compress:           scheme.Compress,
				Persist:            scheme.Persist,
				Priority:           scheme.Priority,
				DecoderID:          manifest.SyncID,
				CollectionSchemeID: scheme.SyncID,
				CampaignARN:        scheme.CampaignARN,
			},
		}
		if scheme.Condition != nil {
			cond.IsStaticCondition = !scheme.Condition.ReferencesSignal()
			cond.AlwaysEvaluateCondition = scheme.Condition.UsesVolatileFunction()
		} else {
			cond.IsStaticCondition = true
		}

		for _, cs := range scheme.CollectSignals {
			sigType := resolveSignalType(manifest, dicts, cs.SignalID)
			cond.Signals = append(cond.Signals, CollectedSignal{
				SignalID:                cs.SignalID,
				SampleBufferSize:        cs.SampleBufferSize,
				MinimumSampleIntervalMs: cs.MinimumSampleIntervalMs,
				FixedWindowPeriodMs:     cs.FixedWindowPeriodMs,
				ConditionOnly:           cs.ConditionOnly,
				SignalType:              sigType,
			})
		}

		for _, fi := range scheme.FetchInformations {
			if !fetchIsValid(fi) {
				inspLog.Warnf("scheme %s: dropping invalid fetch information for signal %d", scheme.SyncID, fi.SignalID)
				continue
			}
			fetchID := nextFetchID
			nextFetchID++

			var reqs []FetchRequest
			for _, action := range fi.Actions {
				reqs = append(reqs, FetchRequest{
					SignalID:     fi.SignalID,
					FunctionName: action.Function.CustomFunctionName,
					Args:         literalArgs(action.Function.CustomFunctionParams),
				})
			}
			fm.FetchRequests[fetchID] = reqs

			if fi.Condition == nil {
				fm.PeriodicalFetchRequestSetup[fetchID] = PeriodicalFetchSetup{
					FetchFrequencyMs:               fi.ExecutionPeriodMs,
					MaxExecutionCount:              fi.MaxExecutionPerInterval,
					MaxExecutionCountResetPeriodMs: fi.ExecutionIntervalMs,
				}
			} else {
				fcIdx := a.insert(fi.Condition)
				cond.FetchConditions = append(cond.FetchConditions, ConditionForFetch{
					ConditionNodeIndex:      rebaseIndex(fcIdx, base),
					TriggerOnlyOnRisingEdge: fi.TriggerOnlyOnRisingEdge,
					FetchRequestID:          fetchID,
				})
			}

			for i := range cond.Signals {
				if cond.Signals[i].SignalID == fi.SignalID {
					cond.Signals[i].FetchRequestIDs = append(cond.Signals[i].FetchRequestIDs, fetchID)
				}
			}
		}

		for _, p := range scheme.Partitions {
			if p.UploadCondition == nil {
				continue
			}
			fwdIdx := a.insert(p.UploadCondition)
			cond.ForwardConditions = append(cond.ForwardConditions, ConditionForForward{ConditionNodeIndex: rebaseIndex(fwdIdx, base)})
		}

		matrix.Conditions = append(matrix.Conditions, cond)
		for i := range a.storage {
			if a.storage[i].Left != noChild {
				a.storage[i].Left += base
			}
			if a.storage[i].Right != noChild {
				a.storage[i].Right += base
			}
			for j := range a.storage[i].CustomFunctionParams {
				a.storage[i].CustomFunctionParams[j] += base
			}
		}
		matrix.ExpressionNodeStorage = append(matrix.ExpressionNodeStorage, a.storage...)
	}

	patchPartialSignalTypes(matrix, dicts)
	return matrix, fm
}

// rebaseIndex shifts a scheme-local arena index into the shared matrix
// storage's index space, preserving noChild as "absent".
func rebaseIndex(idx, base int) int {
	if idx == noChild {
		return noChild
	}
	return idx + base
}

// fetchIsValid implements spec §4.E's fetch validity rule.
func fetchIsValid(fi campaign.FetchInformation) bool {
	if len(fi.Actions) == 0 {
		return false
	}
	for _, a := range fi.Actions {
		if !isValidFetchAction(a) {
			return false
		}
	}
	return fi.Condition != nil || fi.ExecutionPeriodMs > 0
}

func literalArgs(params []*campaign.Node) []FetchArg {
	args := make([]FetchArg, 0, len(params))
	for _, p := range params {
		var v signal.Value
		switch p.NodeType {
		case campaign.NodeFloat:
			v = signal.Value{Type: signal.TypeFloat64, F64: p.FloatingValue}
		case campaign.NodeBoolean:
			v = signal.Value{Type: signal.TypeBool, Bool: p.BooleanValue}
		case campaign.NodeString:
			v = signal.Value{Type: signal.TypeString, Str: []byte(p.StringValue)}
		}
		args = append(args, FetchArg{Value: v})
	}
	return args
}

func resolveSignalType(manifest *decodermanifest.Manifest, dicts *dictionary.Dictionaries, id signal.ID) signal.Type {
	if id.IsPartial() {
		if t, ok := dicts.PartialSignalTypes[id]; ok {
			return t
		}
		return signal.TypeUnknown
	}
	proto, ok := manifest.GetNetworkProtocol(id)
	if !ok {
		return signal.TypeUnknown
	}
	switch proto {
	case decodermanifest.ProtocolCAN:
		f, err := manifest.GetCANSignalFormat(id)
		if err != nil {
			return signal.TypeUnknown
		}
		return f.SignalType
	case decodermanifest.ProtocolOBD:
		f, err := manifest.GetPIDSignalDecoderFormat(id)
		if err != nil {
			return signal.TypeUnknown
		}
		return f.SignalType
	case decodermanifest.ProtocolCustom:
		f, err := manifest.GetCustomSignalDecoderFormat(id)
		if err != nil {
			return signal.TypeUnknown
		}
		return f.SignalType
	default:
		return signal.TypeUnknown
	}
}

// patchPartialSignalTypes applies the dictionary extractor's
// partial-signal type resolutions to every CollectedSignal whose id was
// marked partial at scheme-authoring time but only resolvable after
// dictionary extraction (spec §4.E: "patch signalType for any signalId
// whose top bit marked it as partial").
func patchPartialSignalTypes(matrix *Matrix, dicts *dictionary.Dictionaries) {
	for i := range matrix.Conditions {
		for j := range matrix.Conditions[i].Signals {
			s := &matrix.Conditions[i].Signals[j]
			if !s.SignalID.IsPartial() {
				continue
			}
			if t, ok := dicts.PartialSignalTypes[s.SignalID]; ok {
				s.SignalType = t
			}
		}
	}
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package campaign models the Collection Scheme (spec §3) and owns the
// scheme manager that activates/expires schemes on schedule and re-runs
// extraction whenever the active set changes (spec §4.I).
package campaign

import "github.com/clustercockpit/cc-edge-agent/internal/signal"

// CollectSignal is one entry of a scheme's collectSignals list.
type CollectSignal struct {
	SignalID                signal.ID
	SampleBufferSize        uint32
	MinimumSampleIntervalMs uint32
	FixedWindowPeriodMs     uint32
	ConditionOnly           bool
	PartitionID             *uint32 // nil => defaults to partition 0
}

// FetchInformation is one entry of a scheme's fetchInformations list.
type FetchInformation struct {
	SignalID                signal.ID
	Condition               *Node // nil => periodic fetch
	TriggerOnlyOnRisingEdge bool
	ExecutionPeriodMs       uint32
	MaxExecutionPerInterval uint32
	ExecutionIntervalMs     uint32
	Actions                 []*Node
}

// Partition is one entry of a scheme's store-and-forward partitions list.
type Partition struct {
	StorageLocation string
	MaxBytes        uint64
	MinTTLSeconds   uint32
	UploadCondition *Node // nil => always eligible
}

// Scheme is one Collection Scheme, versioned by SyncID and bound to a
// Decoder Manifest version.
type Scheme struct {
	SyncID                 string
	DecoderManifestSyncID  string

	CampaignARN string // storage identifier; last "/" segment is CampaignName

	StartTimeMs  int64
	ExpiryTimeMs int64

	MinimumPublishIntervalMs uint32
	AfterDurationMs          uint32
	Priority                 uint8
	Persist                  bool
	Compress                 bool
	IncludeActiveDtcs        bool
	TriggerOnlyOnRisingEdge  bool

	Condition *Node

	CollectSignals    []CollectSignal
	FetchInformations []FetchInformation
	Partitions        []Partition
}

// CampaignName returns the human directory-name segment of the ARN
// (spec §3 / Glossary: "the last /-delimited segment").
func (s *Scheme) CampaignName() string {
	arn := s.CampaignARN
	last := 0
	for i := 0; i < len(arn); i++ {
		if arn[i] == '/' {
			last = i + 1
		}
	}
	return arn[last:]
}

// IsActive reports whether s should be enabled at time nowMs.
func (s *Scheme) IsActive(nowMs int64) bool {
	if nowMs < s.StartTimeMs {
		return false
	}
	if s.ExpiryTimeMs != 0 && nowMs >= s.ExpiryTimeMs {
		return false
	}
	return true
}

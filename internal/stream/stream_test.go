// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stream

import (
	"path/filepath"
	"testing"

	"github.com/clustercockpit/cc-edge-agent/internal/persist"
	"github.com/clustercockpit/cc-edge-agent/internal/signal"
	"github.com/clustercockpit/cc-edge-agent/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(clock.NewFake(), nil, t.TempDir())
}

func td(triggerMs int64, signals ...uint32) TriggeredData {
	ids := map[uint32]bool{}
	for _, s := range signals {
		ids[s] = true
	}
	return TriggeredData{
		TriggerTimeMs: triggerMs,
		SignalIDs:     ids,
		Serialize: func(selected map[uint32]bool) []byte {
			return []byte{byte(len(selected))}
		},
	}
}

func TestAppendReadCheckpointRoundTrip(t *testing.T) {
	m := newTestManager(t)
	key := PartitionKey{CampaignARN: "arn:campaign/Test", PartitionID: 0}
	m.OnChangeCollectionSchemeList([]PartitionSpec{{Key: key, StorageLocation: "p0", MaxBytes: 0}})

	partitionSignals := map[PartitionKey]map[uint32]bool{key: {1: true, 2: true}}

	require.Equal(t, Success, m.AppendToStreams(td(100, 1), partitionSignals))
	require.Equal(t, Success, m.AppendToStreams(td(200, 2), partitionSignals))

	rec, checkpoint, code := m.ReadFromStream(key)
	require.Equal(t, Success, code)
	assert.Equal(t, int64(100), rec.TriggerTimeMs)

	// A second read before checkpointing must return the same record.
	rec2, _, code2 := m.ReadFromStream(key)
	require.Equal(t, Success, code2)
	assert.Equal(t, rec.TriggerTimeMs, rec2.TriggerTimeMs)

	require.NoError(t, checkpoint())

	rec3, checkpoint3, code3 := m.ReadFromStream(key)
	require.Equal(t, Success, code3)
	assert.Equal(t, int64(200), rec3.TriggerTimeMs)
	require.NoError(t, checkpoint3())

	_, _, code4 := m.ReadFromStream(key)
	assert.Equal(t, EndOfStream, code4)
}

func TestAppendSkipsEmptyIntersection(t *testing.T) {
	m := newTestManager(t)
	key := PartitionKey{CampaignARN: "arn:campaign/Test", PartitionID: 0}
	m.OnChangeCollectionSchemeList([]PartitionSpec{{Key: key, StorageLocation: "p0"}})

	partitionSignals := map[PartitionKey]map[uint32]bool{key: {99: true}}
	code := m.AppendToStreams(td(100, 1, 2), partitionSignals)
	assert.Equal(t, EmptyData, code)
}

func TestAppendToUnknownStreamSkipped(t *testing.T) {
	m := newTestManager(t)
	key := PartitionKey{CampaignARN: "arn:campaign/Unknown", PartitionID: 0}
	code := m.AppendToStreams(td(1, 1), map[PartitionKey]map[uint32]bool{key: {1: true}})
	assert.Equal(t, EmptyData, code)
}

func TestReadFromRetractedStreamNotFound(t *testing.T) {
	m := newTestManager(t)
	key := PartitionKey{CampaignARN: "arn:campaign/Test", PartitionID: 0}
	m.OnChangeCollectionSchemeList([]PartitionSpec{{Key: key, StorageLocation: "p0"}})
	m.OnChangeCollectionSchemeList(nil) // retract everything

	_, _, code := m.ReadFromStream(key)
	assert.Equal(t, StreamNotFound, code)
}

func TestEvictionDropsOldestRecordsOverMaxBytes(t *testing.T) {
	m := newTestManager(t)
	key := PartitionKey{CampaignARN: "arn:campaign/Test", PartitionID: 0}
	m.OnChangeCollectionSchemeList([]PartitionSpec{{Key: key, StorageLocation: "p0", MaxBytes: 1}})

	partitionSignals := map[PartitionKey]map[uint32]bool{key: {1: true}}
	require.Equal(t, Success, m.AppendToStreams(td(1, 1), partitionSignals))
	require.Equal(t, Success, m.AppendToStreams(td(2, 1), partitionSignals))

	// maxBytes=1 means only the newest 1-byte record should survive.
	rec, checkpoint, code := m.ReadFromStream(key)
	require.Equal(t, Success, code)
	assert.Equal(t, int64(2), rec.TriggerTimeMs, "eviction must drop the oldest record first")
	require.NoError(t, checkpoint())

	_, _, code2 := m.ReadFromStream(key)
	assert.Equal(t, EndOfStream, code2)
}

func TestManagerRehydratesRecordsAndCursorAcrossRestart(t *testing.T) {
	root := t.TempDir()
	cat, err := persist.OpenCatalog(filepath.Join(root, "catalog.db"))
	require.NoError(t, err)
	defer cat.Close()

	key := PartitionKey{CampaignARN: "arn:campaign/Restart", PartitionID: 0}
	specs := []PartitionSpec{{Key: key, StorageLocation: "p0"}}

	m1 := NewManager(clock.NewFake(), cat, root)
	m1.OnChangeCollectionSchemeList(specs)

	partitionSignals := map[PartitionKey]map[uint32]bool{key: {1: true}}
	require.Equal(t, Success, m1.AppendToStreams(td(100, 1), partitionSignals))
	require.Equal(t, Success, m1.AppendToStreams(td(200, 1), partitionSignals))

	_, checkpoint, code := m1.ReadFromStream(key)
	require.Equal(t, Success, code)
	require.NoError(t, checkpoint())

	// A fresh Manager over the same root+catalog simulates a process restart.
	m2 := NewManager(clock.NewFake(), cat, root)
	m2.OnChangeCollectionSchemeList(specs)

	rec, checkpoint2, code2 := m2.ReadFromStream(key)
	require.Equal(t, Success, code2, "buffered records must survive a restart")
	assert.Equal(t, int64(200), rec.TriggerTimeMs, "the persisted cursor must resume past the checkpointed record")
	require.NoError(t, checkpoint2())

	_, _, code3 := m2.ReadFromStream(key)
	assert.Equal(t, EndOfStream, code3)
}

func TestManagerRehydrationHonorsPriorEviction(t *testing.T) {
	root := t.TempDir()
	key := PartitionKey{CampaignARN: "arn:campaign/EvictRestart", PartitionID: 0}
	specs := []PartitionSpec{{Key: key, StorageLocation: "p0", MaxBytes: 1}}

	m1 := NewManager(clock.NewFake(), nil, root)
	m1.OnChangeCollectionSchemeList(specs)

	partitionSignals := map[PartitionKey]map[uint32]bool{key: {1: true}}
	require.Equal(t, Success, m1.AppendToStreams(td(1, 1), partitionSignals))
	require.Equal(t, Success, m1.AppendToStreams(td(2, 1), partitionSignals))

	m2 := NewManager(clock.NewFake(), nil, root)
	m2.OnChangeCollectionSchemeList(specs)

	rec, checkpoint, code := m2.ReadFromStream(key)
	require.Equal(t, Success, code)
	assert.Equal(t, int64(2), rec.TriggerTimeMs, "the on-disk log must reflect eviction, not just the in-memory mirror")
	require.NoError(t, checkpoint())

	_, _, code2 := m2.ReadFromStream(key)
	assert.Equal(t, EndOfStream, code2)
}

func TestAppendWithPersistWritesThroughToBlobStore(t *testing.T) {
	root := t.TempDir()
	store, err := persist.New(root, 0, 0)
	require.NoError(t, err)

	m := NewManager(clock.NewFake(), nil, t.TempDir())
	m.SetBlobStore(store)

	key := PartitionKey{CampaignARN: "arn:campaign/Persisted", PartitionID: 0}
	m.OnChangeCollectionSchemeList([]PartitionSpec{{Key: key, StorageLocation: "p0", Persist: true}})

	readings := []signal.Decoded{
		{SignalID: 1, Value: signal.FromFloat64(signal.TypeFloat64, 42), Type: signal.TypeFloat64, TimestampMs: 100},
	}
	data := TriggeredData{
		TriggerTimeMs: 100,
		SignalIDs:     map[uint32]bool{1: true},
		Serialize:     func(selected map[uint32]bool) []byte { return []byte{byte(len(selected))} },
		Readings:      readings,
	}

	require.Equal(t, Success, m.AppendToStreams(data, map[PartitionKey]map[uint32]bool{key: {1: true}}))

	blob, code := store.Read(persist.CategoryEdgeToCloudPayload, blobFilename(key, 0), 0)
	require.Equal(t, persist.Success, code, "a persist=true partition's record must write through to the blob store")
	assert.NotEmpty(t, blob)
	assert.Contains(t, string(blob), "signals", "the persisted blob must carry the EncodeSignals line-protocol payload, not the record log's opaque Serialize bytes")
}

func TestAppendWithoutPersistSkipsBlobStore(t *testing.T) {
	root := t.TempDir()
	store, err := persist.New(root, 0, 0)
	require.NoError(t, err)

	m := NewManager(clock.NewFake(), nil, t.TempDir())
	m.SetBlobStore(store)

	key := PartitionKey{CampaignARN: "arn:campaign/NotPersisted", PartitionID: 0}
	m.OnChangeCollectionSchemeList([]PartitionSpec{{Key: key, StorageLocation: "p0"}})

	partitionSignals := map[PartitionKey]map[uint32]bool{key: {1: true}}
	require.Equal(t, Success, m.AppendToStreams(td(100, 1), partitionSignals))

	_, code := store.Read(persist.CategoryEdgeToCloudPayload, blobFilename(key, 0), 0)
	assert.NotEqual(t, persist.Success, code, "a non-persist partition must not write through to the blob store")
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stream implements the Stream Manager (spec §4.F): per-(campaign,
// partition) append-only record logs on disk, with durable iterators and
// checkpoint advance.
package stream

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/clustercockpit/cc-edge-agent/internal/persist"
	"github.com/clustercockpit/cc-edge-agent/internal/signal"
	"github.com/clustercockpit/cc-edge-agent/pkg/clock"
	"github.com/clustercockpit/cc-edge-agent/pkg/log"
)

var streamLog = log.WithComponent("stream-manager")

// ReturnCode mirrors the explicit error enum pattern used throughout the
// core (spec §6).
type ReturnCode int

const (
	Success ReturnCode = iota
	EmptyData
	EndOfStream
	StreamNotFound
	ErrorGeneric
)

// Record is one stream record (spec §3).
type Record struct {
	TriggerTimeMs     int64
	NumSignals        uint32
	SerializedPayload []byte
}

// PartitionKey identifies one (campaign, partition) stream.
type PartitionKey struct {
	CampaignARN string
	PartitionID uint32
}

// Checkpoint, once invoked, advances the stream's iterator past the
// just-read record and persists the new cursor.
type Checkpoint func() error

type partitionStream struct {
	mu sync.Mutex

	key           PartitionKey
	dir           string
	logPath       string
	maxBytes      uint64
	minTTLSeconds uint32
	persist       bool

	records []Record // in-memory mirror of the on-disk append-only log
	cursor  uint64   // index of the next record to read
	nextSeq uint64   // monotonically increasing record sequence, survives eviction
}

// Manager owns every active partition stream.
type Manager struct {
	clock   clock.Clock
	catalog *persist.Catalog
	root    string

	mu         sync.Mutex
	partitions map[PartitionKey]*partitionStream
	store      *persist.Store
}

// NewManager creates a Stream Manager rooted at root, using catalog for
// durable cursor persistence.
func NewManager(c clock.Clock, catalog *persist.Catalog, root string) *Manager {
	return &Manager{
		clock:      c,
		catalog:    catalog,
		root:       root,
		partitions: map[PartitionKey]*partitionStream{},
	}
}

// SetBlobStore wires the CacheAndPersist blob store (spec §4.B) into the
// Stream Manager, so records appended to a persist=true partition are also
// written through as a durable EDGE_TO_CLOUD_PAYLOAD blob (spec §6).
func (m *Manager) SetBlobStore(store *persist.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
}

// PartitionSpec is the subset of campaign.Partition the Stream Manager
// needs to (re)create a stream.
type PartitionSpec struct {
	Key             PartitionKey
	StorageLocation string
	MaxBytes        uint64
	MinTTLSeconds   uint32
	Persist         bool
}

// OnChangeCollectionSchemeList diffs the new desired partition set against
// the currently open streams: creates streams for new pairs, drops streams
// for removed campaigns (spec §4.F).
func (m *Manager) OnChangeCollectionSchemeList(desired []PartitionSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := map[PartitionKey]bool{}
	for _, spec := range desired {
		wanted[spec.Key] = true
		if _, ok := m.partitions[spec.Key]; !ok {
			m.partitions[spec.Key] = m.openLocked(spec)
		}
	}
	for key := range m.partitions {
		if !wanted[key] {
			delete(m.partitions, key)
			if m.catalog != nil {
				if err := m.catalog.DeleteCursor(key.CampaignARN, key.PartitionID); err != nil {
					streamLog.Warnf("dropping cursor for retracted stream %+v: %v", key, err)
				}
			}
		}
	}
}

func (m *Manager) openLocked(spec PartitionSpec) *partitionStream {
	dir := filepath.Join(m.root, spec.StorageLocation)
	_ = os.MkdirAll(dir, 0o755)

	var cursor uint64
	if m.catalog != nil {
		if c, err := m.catalog.GetCursor(spec.Key.CampaignARN, spec.Key.PartitionID); err == nil {
			cursor = c
		}
	}

	logPath := filepath.Join(dir, "records.log")
	records := loadRecordLog(logPath)

	return &partitionStream{
		key:           spec.Key,
		dir:           dir,
		logPath:       logPath,
		maxBytes:      spec.MaxBytes,
		minTTLSeconds: spec.MinTTLSeconds,
		persist:       spec.Persist,
		records:       records,
		nextSeq:       uint64(len(records)),
		cursor:        cursor,
	}
}

// TriggeredData is the minimal shape the Stream Manager needs from the
// inspection engine's output to append. Readings is optional: when set, it
// is used to synthesize the durable EDGE_TO_CLOUD_PAYLOAD blob (via
// EncodeSignals) for persist=true partitions, independent of whatever wire
// format Serialize produces for the record log itself.
type TriggeredData struct {
	TriggerTimeMs int64
	SignalIDs     map[uint32]bool
	Serialize     func(selected map[uint32]bool) []byte
	Readings      []signal.Decoded
}

// AppendToStreams writes one record per partition whose signal set
// intersects data's signal set, skipping empty intersections (spec §4.F).
// partitionSignals maps each open partition to the signal ids it collects.
func (m *Manager) AppendToStreams(data TriggeredData, partitionSignals map[PartitionKey]map[uint32]bool) ReturnCode {
	m.mu.Lock()
	defer m.mu.Unlock()

	any := false
	for key, signals := range partitionSignals {
		ps, ok := m.partitions[key]
		if !ok {
			continue
		}
		intersection := intersect(signals, data.SignalIDs)
		if len(intersection) == 0 {
			continue
		}
		payload := data.Serialize(intersection)
		rec := Record{TriggerTimeMs: data.TriggerTimeMs, NumSignals: uint32(len(intersection)), SerializedPayload: payload}
		seq, err := ps.append(rec)
		if err != nil {
			streamLog.Errorf("append to %+v: %v", key, err)
			return ErrorGeneric
		}
		if ps.persist && m.store != nil {
			m.persistRecord(key, seq, data, intersection, rec.SerializedPayload)
		}
		any = true
	}
	if !any {
		return EmptyData
	}
	return Success
}

// persistRecord writes the blob-store copy of an appended record for a
// persist=true partition (spec §4.B/§6). When the trigger carried decoded
// readings, it re-encodes the selected subset via EncodeSignals rather
// than reusing the record log's opaque Serialize output, so the blob
// store's EDGE_TO_CLOUD_PAYLOAD category always holds line-protocol data.
func (m *Manager) persistRecord(key PartitionKey, seq uint64, data TriggeredData, selected map[uint32]bool, fallback []byte) {
	payload := fallback
	if len(data.Readings) > 0 {
		filtered := make([]signal.Decoded, 0, len(selected))
		for _, r := range data.Readings {
			if selected[uint32(r.SignalID)] {
				filtered = append(filtered, r)
			}
		}
		encoded, err := EncodeSignals(filtered, data.TriggerTimeMs)
		if err != nil {
			streamLog.Errorf("encode signals for persisted blob %+v: %v", key, err)
		} else {
			payload = encoded
		}
	}
	filename := blobFilename(key, seq)
	if code := m.store.Write(persist.CategoryEdgeToCloudPayload, filename, payload); code != persist.Success {
		streamLog.Warnf("persist record for %+v: %s", key, code)
	}
}

// blobFilename derives the EDGE_TO_CLOUD_PAYLOAD filename for one
// appended record, keyed by partition and sequence number so every
// persisted record gets a distinct, stable name across restarts.
func blobFilename(key PartitionKey, seq uint64) string {
	return fmt.Sprintf("%s_%d_%d.bin", sanitizeForFilename(key.CampaignARN), key.PartitionID, seq)
}

func sanitizeForFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func intersect(a, b map[uint32]bool) map[uint32]bool {
	out := map[uint32]bool{}
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

// append writes r to the on-disk append-only log before mirroring it into
// memory (spec §2.F: "a per-(campaign, partition) append-only record log
// on disk"), so a crash between the two never loses a record that a
// reader already observed. It returns the sequence number assigned to r.
func (ps *partitionStream) append(r Record) (uint64, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := appendRecordFrame(ps.logPath, r); err != nil {
		return 0, fmt.Errorf("stream: append record to %s: %w", ps.logPath, err)
	}
	seq := ps.nextSeq
	ps.records = append(ps.records, r)
	ps.nextSeq++
	ps.evictLocked()
	return seq, nil
}

// evictLocked drops the oldest records when the partition's total
// serialized size exceeds maxBytes (spec §4.F eviction policy), rewriting
// the on-disk log to match so disk usage stays bounded too. Caller holds
// ps.mu.
func (ps *partitionStream) evictLocked() {
	if ps.maxBytes == 0 {
		return
	}
	var total uint64
	for _, r := range ps.records {
		total += uint64(len(r.SerializedPayload))
	}
	dropped := uint64(0)
	for total > ps.maxBytes && len(ps.records) > 0 {
		total -= uint64(len(ps.records[0].SerializedPayload))
		ps.records = ps.records[1:]
		dropped++
		if ps.cursor > 0 {
			ps.cursor--
		}
	}
	if dropped > 0 {
		streamLog.Warnf("partition %+v evicted %d oldest records to stay under maxBytes", ps.key, dropped)
		if err := rewriteRecordLog(ps.logPath, ps.records); err != nil {
			streamLog.Errorf("partition %+v rewrite record log after eviction: %v", ps.key, err)
		}
	}
}

const recordFrameHeaderSize = 16

func writeRecordFrame(f *os.File, r Record) error {
	var hdr [recordFrameHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(r.TriggerTimeMs))
	binary.BigEndian.PutUint32(hdr[8:12], r.NumSignals)
	binary.BigEndian.PutUint32(hdr[12:16], uint32(len(r.SerializedPayload)))
	if _, err := f.Write(hdr[:]); err != nil {
		return err
	}
	_, err := f.Write(r.SerializedPayload)
	return err
}

// appendRecordFrame opens the partition's log for append, writes one
// frame, and closes it, matching the teacher's open-write-close style for
// ordinary file I/O (pkg/archive/fsBackend.go) rather than holding a
// long-lived file handle per partition.
func appendRecordFrame(path string, r Record) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeRecordFrame(f, r)
}

// rewriteRecordLog truncates path and writes records back in their
// current order, used after eviction so the on-disk log never grows
// unbounded even though it stays append-only between evictions.
func rewriteRecordLog(path string, records []Record) error {
	f, err := os.OpenFile(path, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, r := range records {
		if err := writeRecordFrame(f, r); err != nil {
			return err
		}
	}
	return nil
}

// loadRecordLog rehydrates a partition's on-disk append log (spec §3:
// streams "persist across restarts"). A missing file is normal for a
// brand-new partition. A truncated final frame (a crash mid-append) is
// discarded rather than treated as an error, matching the log's
// append-only, best-effort-durable contract.
func loadRecordLog(path string) []Record {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var records []Record
	for len(data) > 0 {
		if len(data) < recordFrameHeaderSize {
			streamLog.Warnf("record log %s: truncated header, discarding tail", path)
			break
		}
		triggerTimeMs := int64(binary.BigEndian.Uint64(data[0:8]))
		numSignals := binary.BigEndian.Uint32(data[8:12])
		payloadLen := binary.BigEndian.Uint32(data[12:16])
		data = data[recordFrameHeaderSize:]
		if uint32(len(data)) < payloadLen {
			streamLog.Warnf("record log %s: truncated payload, discarding tail", path)
			break
		}
		payload := make([]byte, payloadLen)
		copy(payload, data[:payloadLen])
		data = data[payloadLen:]
		records = append(records, Record{TriggerTimeMs: triggerTimeMs, NumSignals: numSignals, SerializedPayload: payload})
	}
	return records
}

// ReadFromStream reads the record at the current iterator position and
// returns a checkpoint thunk that, invoked, advances and persists the
// cursor (spec §4.F).
func (m *Manager) ReadFromStream(key PartitionKey) (Record, Checkpoint, ReturnCode) {
	m.mu.Lock()
	ps, ok := m.partitions[key]
	m.mu.Unlock()
	if !ok {
		return Record{}, nil, StreamNotFound
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.cursor >= uint64(len(ps.records)) {
		return Record{}, nil, EndOfStream
	}
	rec := ps.records[ps.cursor]
	thisCursor := ps.cursor

	checkpoint := func() error {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		if ps.cursor == thisCursor {
			ps.cursor++
		}
		if m.catalog != nil {
			return m.catalog.PutCursor(key.CampaignARN, key.PartitionID, ps.cursor)
		}
		return nil
	}
	return rec, checkpoint, Success
}

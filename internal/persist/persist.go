// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package persist implements CacheAndPersist (spec §4.B): a checksummed
// blob store for the four persisted categories the agent must survive a
// restart with, plus a catalog of what's been written and its upload
// disposition.
package persist

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/clustercockpit/cc-edge-agent/pkg/log"
)

var persistLog = log.WithComponent("cache-and-persist")

// Category names the four kinds of persisted data (spec §4.B).
type Category int

const (
	CategoryCollectionSchemeList Category = iota
	CategoryDecoderManifest
	CategoryStateTemplateList
	CategoryEdgeToCloudPayload
)

var categoryFilename = map[Category]string{
	CategoryCollectionSchemeList: "CollectionSchemeList.bin",
	CategoryDecoderManifest:      "DecoderManifest.bin",
	CategoryStateTemplateList:    "StateTemplateList.bin",
}

// ReturnCode is CacheAndPersist's explicit error enum (spec §6: "no
// exceptions propagate across component boundaries").
type ReturnCode int

const (
	Success ReturnCode = iota
	InvalidData
	MemoryFull
	ErrorGeneric
)

func (r ReturnCode) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case InvalidData:
		return "INVALID_DATA"
	case MemoryFull:
		return "MEMORY_FULL"
	default:
		return "ERROR"
	}
}

// MetadataEntry catalogs one written payload file and its upload
// disposition.
type MetadataEntry struct {
	Filename string `json:"filename"`
	SizeBytes int64  `json:"sizeBytes"`
	Uploaded bool    `json:"uploaded"`
}

// Store is the checksummed blob store rooted under a configurable
// directory (spec §6: "<root>/FWE_Persistency/").
type Store struct {
	root     string
	maxBytes int64
	maxRead  int64

	mu       sync.Mutex
	metadata map[string]MetadataEntry
}

const metadataFilename = "metadata.json"

// New creates a store rooted at root, creating the directory tree if
// absent. maxBytes bounds total stored payload size; maxRead bounds the
// size of a stored payload that Read will return (0 means no bound).
func New(root string, maxBytes, maxRead int64) (*Store, error) {
	persistRoot := filepath.Join(root, "FWE_Persistency")
	if err := os.MkdirAll(persistRoot, 0o755); err != nil {
		return nil, fmt.Errorf("persist: creating root: %w", err)
	}
	s := &Store{root: persistRoot, maxBytes: maxBytes, maxRead: maxRead, metadata: map[string]MetadataEntry{}}
	s.loadMetadata()
	return s, nil
}

func (s *Store) metadataPath() string { return filepath.Join(s.root, metadataFilename) }

func (s *Store) loadMetadata() {
	data, err := os.ReadFile(s.metadataPath())
	if err != nil {
		return
	}
	var entries map[string]MetadataEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		persistLog.Warnf("metadata catalog corrupt, starting empty: %v", err)
		return
	}
	s.metadata = entries
}

func (s *Store) saveMetadataLocked() {
	data, err := json.Marshal(s.metadata)
	if err != nil {
		persistLog.Errorf("marshal metadata: %v", err)
		return
	}
	if err := os.WriteFile(s.metadataPath(), data, 0o644); err != nil {
		persistLog.Errorf("write metadata: %v", err)
	}
}

// ClearMetadata empties the catalog without touching payload files.
func (s *Store) ClearMetadata() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = map[string]MetadataEntry{}
	s.saveMetadataLocked()
}

func (s *Store) path(cat Category, filename string) (string, error) {
	if cat == CategoryEdgeToCloudPayload {
		if filename == "" {
			return "", fmt.Errorf("persist: %s requires a filename", "EDGE_TO_CLOUD_PAYLOAD")
		}
		return filepath.Join(s.root, "CollectedData", filename), nil
	}
	name, ok := categoryFilename[cat]
	if !ok {
		return "", fmt.Errorf("persist: unknown category %d", cat)
	}
	return filepath.Join(s.root, name), nil
}

func checksumPath(payloadPath string) string { return payloadPath + ".sha1" }

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Write stores payload under the given category (and, for
// EDGE_TO_CLOUD_PAYLOAD, filename), along with its SHA-1 checksum
// sidecar. Returns MemoryFull if the new total would exceed the
// configured cap.
func (s *Store) Write(cat Category, filename string, payload []byte) ReturnCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(cat, filename)
	if err != nil {
		persistLog.Errorf("write: %v", err)
		return ErrorGeneric
	}

	if s.maxBytes > 0 {
		total := s.currentTotalBytesLocked() + int64(len(payload))
		if existing, statErr := os.Stat(path); statErr == nil {
			total -= existing.Size()
		}
		if total > s.maxBytes {
			return MemoryFull
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		persistLog.Errorf("write: mkdir: %v", err)
		return ErrorGeneric
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		persistLog.Errorf("write: %v", err)
		return ErrorGeneric
	}
	if err := os.WriteFile(checksumPath(path), []byte(sha1Hex(payload)), 0o644); err != nil {
		persistLog.Errorf("write checksum: %v", err)
		return ErrorGeneric
	}

	if cat == CategoryEdgeToCloudPayload {
		s.metadata[filename] = MetadataEntry{Filename: filename, SizeBytes: int64(len(payload))}
		s.saveMetadataLocked()
	}
	return Success
}

func (s *Store) currentTotalBytesLocked() int64 {
	var total int64
	_ = filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".sha1" || filepath.Base(path) == metadataFilename {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// Read returns the payload for a category (and filename, for
// EDGE_TO_CLOUD_PAYLOAD), verifying its checksum sidecar if present. A
// missing sidecar is permitted (backward compatibility: spec §4.B) and
// the payload is returned unchecked. A mismatch deletes both files and
// returns InvalidData. expectedSize, if non-zero, must match the stored
// size or the read fails with InvalidData without touching the files
// (only a checksum mismatch deletes, per spec §4.B/§8).
func (s *Store) Read(cat Category, filename string, expectedSize int64) ([]byte, ReturnCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.path(cat, filename)
	if err != nil {
		return nil, ErrorGeneric
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrorGeneric
	}
	if s.maxRead > 0 && int64(len(data)) > s.maxRead {
		return nil, MemoryFull
	}
	if expectedSize != 0 && int64(len(data)) != expectedSize {
		return nil, InvalidData
	}

	sumPath := checksumPath(path)
	stored, err := os.ReadFile(sumPath)
	if err != nil {
		// No companion file: permitted, unchecked read.
		return data, Success
	}
	if string(stored) != sha1Hex(data) {
		_ = os.Remove(path)
		_ = os.Remove(sumPath)
		return nil, InvalidData
	}
	return data, Success
}

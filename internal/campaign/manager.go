// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package campaign

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clustercockpit/cc-edge-agent/internal/decodermanifest"
	"github.com/clustercockpit/cc-edge-agent/pkg/clock"
	"github.com/clustercockpit/cc-edge-agent/pkg/log"
	"github.com/go-co-op/gocron/v2"
	"github.com/golang-jwt/jwt/v5"
)

var mgrLog = log.WithComponent("scheme-manager")

// Listener is notified whenever the enabled scheme set or the active
// manifest changes, so it can re-run dictionary/matrix extraction
// (spec §4.I: "fires D and E on changes").
type Listener interface {
	OnActiveSchemesChanged(manifest *decodermanifest.Manifest, enabled map[string]*Scheme)
}

// Manager owns the active Decoder Manifest and the full scheme list,
// activates/expires schemes on a schedule, and fans out changes to
// registered listeners.
type Manager struct {
	clock clock.Clock

	mu       sync.Mutex
	manifest *decodermanifest.Manifest
	schemes  map[string]*Scheme // syncId -> scheme, full set (active + pending + expired-but-not-reaped)
	listeners []Listener

	scheduler gocron.Scheduler
	tickJob   gocron.Job

	// verifyKey is the key VerifyToken checks JWT-wrapped manifest/scheme
	// bundles against. SetManifest and UpsertSchemes do not consult it.
	verifyKey interface{}
}

// NewManager creates a scheme manager. verifyKey, if non-nil, is the
// public key used to validate the JWT signature wrapping each incoming
// manifest/scheme bundle; with nil, VerifyToken rejects every token.
func NewManager(c clock.Clock, verifyKey interface{}) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("campaign: could not create scheduler: %w", err)
	}
	m := &Manager{
		clock:     c,
		schemes:   map[string]*Scheme{},
		scheduler: s,
		verifyKey: verifyKey,
	}
	return m, nil
}

// Start begins the periodic activation/expiry tick and the scheduler
// itself. tickInterval should be small relative to the shortest scheme's
// start/expiry resolution the deployment cares about.
func (m *Manager) Start(tickInterval time.Duration) error {
	job, err := m.scheduler.NewJob(
		gocron.DurationJob(tickInterval),
		gocron.NewTask(m.tick),
	)
	if err != nil {
		return fmt.Errorf("campaign: could not register tick job: %w", err)
	}
	m.tickJob = job
	m.scheduler.Start()
	return nil
}

// Stop halts the scheduler; in-flight tick callbacks run to completion.
func (m *Manager) Stop() error {
	return m.scheduler.Shutdown()
}

// AddListener registers a fan-out target for dictionary/matrix rebuilds.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// VerifyToken checks a JWT-wrapped manifest/scheme bundle's signature and
// returns its claims, grounded on the teacher's auth token verification
// idiom (golang-jwt/jwt/v5, keyfunc-based Parse).
func (m *Manager) VerifyToken(tokenString string) (jwt.MapClaims, error) {
	if m.verifyKey == nil {
		return nil, fmt.Errorf("campaign: no verification key configured")
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("campaign: token verification failed: %w", err)
	}
	return claims, nil
}

// SetManifest atomically replaces the active Decoder Manifest and
// re-extracts (spec §3: "replace any active ones atomically").
func (m *Manager) SetManifest(manifest *decodermanifest.Manifest) {
	m.mu.Lock()
	m.manifest = manifest
	m.mu.Unlock()
	m.publish()
}

// UpsertSchemes adds or replaces scheme entries by SyncID. Schemes are not
// enabled until their start time matures (evaluated by tick).
func (m *Manager) UpsertSchemes(schemes []*Scheme) {
	m.mu.Lock()
	for _, s := range schemes {
		m.schemes[s.SyncID] = s
	}
	m.mu.Unlock()
	m.publish()
}

// RemoveScheme retracts a scheme by SyncID (e.g. cloud-side cancellation).
func (m *Manager) RemoveScheme(syncID string) {
	m.mu.Lock()
	delete(m.schemes, syncID)
	m.mu.Unlock()
	m.publish()
}

// EnabledSchemes returns the schemes currently active for the active
// manifest version, keyed by SyncID. The map is unordered; callers that
// need a stable order use SortedSyncIDs.
func (m *Manager) EnabledSchemes() map[string]*Scheme {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabledLocked()
}

func (m *Manager) enabledLocked() map[string]*Scheme {
	now := m.clock.SystemTimeMillis()
	out := map[string]*Scheme{}
	if m.manifest == nil {
		return out
	}
	for id, s := range m.schemes {
		if s.DecoderManifestSyncID != m.manifest.SyncID {
			continue
		}
		if s.IsActive(now) {
			out[id] = s
		}
	}
	return out
}

// Manifest returns the currently active manifest, or nil if none is set.
func (m *Manager) Manifest() *decodermanifest.Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manifest
}

// tick re-evaluates activation/expiry and republishes on every call,
// whether or not the enabled set changed; publish is idempotent for an
// unchanged enabled set from the listener's point of view (listeners
// decide whether to skip re-extraction).
func (m *Manager) tick() {
	m.publish()
}

func (m *Manager) publish() {
	m.mu.Lock()
	manifest := m.manifest
	enabled := m.enabledLocked()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if manifest == nil {
		return
	}
	for _, l := range listeners {
		l.OnActiveSchemesChanged(manifest, enabled)
	}
}

// SortedSyncIDs is used by callers needing deterministic iteration order
// over an enabled-scheme map (extraction walks schemes in a stable order
// so storage-arena layout is reproducible across runs for identical input).
func SortedSyncIDs(schemes map[string]*Scheme) []string {
	ids := make([]string, 0, len(schemes))
	for id := range schemes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package persist

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*
var migrationFiles embed.FS

// Catalog is the sqlite-backed durable cursor store: one row per
// (campaign, partition) stream recording its current iterator cursor.
// Blob-store payload metadata is not kept here; Store keeps it in
// FWE_Persistency/metadata.json.
type Catalog struct {
	db        *sqlx.DB
	stmtCache *sq.StmtCache

	mu sync.Mutex
}

// OpenCatalog opens (creating if absent) a sqlite database at path and
// applies pending migrations.
func OpenCatalog(path string) (*Catalog, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("persist: opening catalog db: %w", err)
	}
	// sqlite does not multithread; a single connection avoids lock waits.
	db.SetMaxOpenConns(1)

	if err := migrateCatalog(db.DB); err != nil {
		return nil, err
	}

	return &Catalog{db: db, stmtCache: sq.NewStmtCache(db.DB)}, nil
}

func migrateCatalog(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("persist: migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("persist: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("persist: migration init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("persist: migration up: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// PutCursor persists the durable iterator cursor for one (campaign,
// partition) stream (spec §4.F: "the iterator cursor is durable and
// survives process restarts").
func (c *Catalog) PutCursor(campaignARN string, partitionID uint32, recordIndex uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := sq.Insert("stream_cursor").
		Columns("campaign_arn", "partition_id", "record_index").
		Values(campaignARN, partitionID, recordIndex).
		Suffix("ON CONFLICT(campaign_arn, partition_id) DO UPDATE SET record_index = excluded.record_index").
		RunWith(c.stmtCache).Exec()
	if err != nil {
		return fmt.Errorf("persist: put cursor: %w", err)
	}
	return nil
}

// GetCursor returns the persisted cursor for a stream, or 0 if none exists
// yet (a fresh stream starts at record 0).
func (c *Catalog) GetCursor(campaignARN string, partitionID uint32) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var idx uint64
	err := sq.Select("record_index").From("stream_cursor").
		Where(sq.Eq{"campaign_arn": campaignARN, "partition_id": partitionID}).
		RunWith(c.stmtCache).QueryRow().Scan(&idx)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("persist: get cursor: %w", err)
	}
	return idx, nil
}

// DeleteCursor removes a retracted stream's cursor row.
func (c *Catalog) DeleteCursor(campaignARN string, partitionID uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := sq.Delete("stream_cursor").
		Where(sq.Eq{"campaign_arn": campaignARN, "partition_id": partitionID}).
		RunWith(c.stmtCache).Exec()
	if err != nil {
		return fmt.Errorf("persist: delete cursor: %w", err)
	}
	return nil
}

// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat, err := OpenCatalog(path)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	return cat
}

func TestGetCursorOnFreshStreamIsZero(t *testing.T) {
	cat := openTestCatalog(t)
	idx, err := cat.GetCursor("arn:campaign/A", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx)
}

func TestPutCursorThenGetCursorRoundTrips(t *testing.T) {
	cat := openTestCatalog(t)
	require.NoError(t, cat.PutCursor("arn:campaign/A", 0, 42))

	idx, err := cat.GetCursor("arn:campaign/A", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), idx)
}

func TestPutCursorUpsertsOnConflict(t *testing.T) {
	cat := openTestCatalog(t)
	require.NoError(t, cat.PutCursor("arn:campaign/A", 0, 10))
	require.NoError(t, cat.PutCursor("arn:campaign/A", 0, 20))

	idx, err := cat.GetCursor("arn:campaign/A", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), idx, "a later PutCursor for the same key must replace, not duplicate")
}

func TestCursorsAreIndependentPerPartition(t *testing.T) {
	cat := openTestCatalog(t)
	require.NoError(t, cat.PutCursor("arn:campaign/A", 0, 5))
	require.NoError(t, cat.PutCursor("arn:campaign/A", 1, 9))

	idx0, err := cat.GetCursor("arn:campaign/A", 0)
	require.NoError(t, err)
	idx1, err := cat.GetCursor("arn:campaign/A", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), idx0)
	assert.Equal(t, uint64(9), idx1)
}

func TestDeleteCursorRemovesRow(t *testing.T) {
	cat := openTestCatalog(t)
	require.NoError(t, cat.PutCursor("arn:campaign/A", 0, 7))
	require.NoError(t, cat.DeleteCursor("arn:campaign/A", 0))

	idx, err := cat.GetCursor("arn:campaign/A", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx, "a deleted cursor must read back as fresh (0), not error")
}

func TestOpenCatalogIsIdempotentAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	cat1, err := OpenCatalog(path)
	require.NoError(t, err)
	require.NoError(t, cat1.PutCursor("arn:campaign/A", 0, 99))
	require.NoError(t, cat1.Close())

	cat2, err := OpenCatalog(path)
	require.NoError(t, err)
	defer cat2.Close()

	idx, err := cat2.GetCursor("arn:campaign/A", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), idx, "migrations must be safely re-runnable and data must survive reopen")
}

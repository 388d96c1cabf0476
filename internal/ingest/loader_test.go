package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/co2map/internal/models"
	"github.com/lox/co2map/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, nil)
	require.NoError(t, st.Migrate())
	return st
}

func writeCSV(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAll_BothYears(t *testing.T) {
	dir := t.TempDir()
	st := setupTestStore(t)
	datasets := []models.Dataset{
		{Year: 2019, Source: writeCSV(t, dir, "2019.csv", "latitude,longitude,co2\n1,2,400\n3,4,402\n")},
		{Year: 2023, Source: writeCSV(t, dir, "2023.csv", "latitude,longitude,co2\n5,6,420\n")},
	}

	data, err := NewLoader(NewFetcher(), st, nil).LoadAll(context.Background(), datasets)
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Len(t, data[2019], 2)
	assert.Len(t, data[2023], 1)

	runs, err := st.GetRecentLoadRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.True(t, r.Success)
		assert.Equal(t, "file", r.Scheme.String)
	}
}

func TestLoadAll_OneFailureMeansNoDataset(t *testing.T) {
	dir := t.TempDir()
	st := setupTestStore(t)
	datasets := []models.Dataset{
		{Year: 2019, Source: writeCSV(t, dir, "2019.csv", "latitude,longitude,co2\n1,2,400\n")},
		{Year: 2023, Source: filepath.Join(dir, "missing.csv")},
	}

	data, err := NewLoader(NewFetcher(), st, nil).LoadAll(context.Background(), datasets)
	require.Error(t, err)
	assert.Nil(t, data)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 1)

	var lerr *LoadError
	require.True(t, errors.As(merr.Errors[0], &lerr))
	assert.Equal(t, 2023, lerr.Year)

	runs, err := st.GetRecentLoadRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	failed := 0
	for _, r := range runs {
		if !r.Success {
			failed++
			assert.Equal(t, 2023, r.Year)
			assert.True(t, r.ErrorMessage.Valid)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestLoadAll_ReportsEveryFailedYear(t *testing.T) {
	dir := t.TempDir()
	datasets := []models.Dataset{
		{Year: 2019, Source: filepath.Join(dir, "a.csv")},
		{Year: 2023, Source: writeCSV(t, dir, "bad.csv", "lat,lon\n1,2\n")},
	}

	_, err := NewLoader(NewFetcher(), nil, nil).LoadAll(context.Background(), datasets)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
}

func TestLoadAll_MissingColumnFailsYear(t *testing.T) {
	dir := t.TempDir()
	st := setupTestStore(t)
	datasets := []models.Dataset{
		{Year: 2019, Source: writeCSV(t, dir, "2019.csv", "latitude,longitude,co2\n1,2,400\n")},
		{Year: 2023, Source: writeCSV(t, dir, "2023.csv", "latitude,longitude,xco2\n1,2,420\n")},
	}

	data, err := NewLoader(NewFetcher(), st, nil).LoadAll(context.Background(), datasets)
	require.Error(t, err)
	assert.Nil(t, data)
	assert.ErrorContains(t, err, "missing one of")

	var lerr *LoadError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, 2023, lerr.Year)

	runs, err := st.GetRecentLoadRuns(10)
	require.NoError(t, err)
	for _, r := range runs {
		if r.Year == 2023 {
			assert.False(t, r.Success)
			assert.Contains(t, r.ErrorMessage.String, "missing one of")
		}
	}
}

func TestLoad_ArchiveFallback(t *testing.T) {
	st := setupTestStore(t)
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		w.Write([]byte("latitude,longitude,co2\n1,2,400\n"))
	}))
	defer srv.Close()

	ds := models.Dataset{Year: 2019, Source: srv.URL + "/2019.csv"}
	loader := NewLoader(NewFetcher().WithMaxElapsedTime(time.Second), st, nil)

	records, err := loader.Load(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, records, 1)

	healthy.Store(false)
	_, err = loader.Load(context.Background(), ds)
	require.Error(t, err, "fallback disabled by default")

	loader.SetArchiveFallback(true)
	records, err = loader.Load(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "400", records[0]["co2"])
}

package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/lox/co2map/internal/metrics"
	"github.com/lox/co2map/internal/models"
	"github.com/lox/co2map/internal/store"
)

// AuditStore is the subset of the store the loader records into.
type AuditStore interface {
	StartLoadRun(year int, source string) (*store.LoadRun, error)
	CompleteLoadRun(run *store.LoadRun) error
	StoreRawPayload(runID *int64, year int, source string, payload []byte) (int64, error)
	GetLatestRawPayload(year int) ([]byte, *store.RawPayload, error)
}

// LoadError reports a failed load for a single year.
type LoadError struct {
	Year   int
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %d from %s: %v", e.Year, e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader fetches and parses every configured year concurrently.
type Loader struct {
	fetcher  *Fetcher
	store    AuditStore
	logger   *zap.Logger
	fallback bool
}

func NewLoader(fetcher *Fetcher, st AuditStore, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fetcher: fetcher, store: st, logger: logger.Named("loader")}
}

// SetArchiveFallback makes a failed fetch fall back to the last archived
// payload for that year, when one exists.
func (l *Loader) SetArchiveFallback(enabled bool) {
	l.fallback = enabled
}

// LoadAll starts one load task per dataset and waits for all of them. The
// dataset is only returned when every year loaded; otherwise the combined
// per-year failures are returned and the dataset is nil.
func (l *Loader) LoadAll(ctx context.Context, datasets []models.Dataset) (models.YearDataset, error) {
	type outcome struct {
		year    int
		records []models.RawRecord
		err     error
	}

	results := make([]outcome, len(datasets))
	var wg sync.WaitGroup
	for i, ds := range datasets {
		wg.Add(1)
		go func(i int, ds models.Dataset) {
			defer wg.Done()
			records, err := l.Load(ctx, ds)
			results[i] = outcome{year: ds.Year, records: records, err: err}
		}(i, ds)
	}
	wg.Wait()

	var errs *multierror.Error
	data := make(models.YearDataset, len(datasets))
	for i, r := range results {
		if r.err != nil {
			errs = multierror.Append(errs, &LoadError{Year: r.year, Source: datasets[i].Source, Err: r.err})
			continue
		}
		data[r.year] = r.records
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return data, nil
}

// Load fetches, archives and parses one year's dataset.
func (l *Loader) Load(ctx context.Context, ds models.Dataset) ([]models.RawRecord, error) {
	log := l.logger.With(zap.Int("year", ds.Year), zap.String("source", ds.Source))
	log.Info("loading dataset")

	var run *store.LoadRun
	if l.store != nil {
		var err error
		if run, err = l.store.StartLoadRun(ds.Year, ds.Source); err != nil {
			log.Warn("start load run", zap.Error(err))
		}
	}

	records, err := l.load(ctx, ds, run, log)

	if run != nil {
		run.Success = err == nil
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if err := l.store.CompleteLoadRun(run); err != nil {
			log.Warn("complete load run", zap.Error(err))
		}
	}

	if err != nil {
		log.Error("load failed", zap.Error(err))
		return nil, err
	}

	metrics.RecordsLoaded.WithLabelValues(strconv.Itoa(ds.Year)).Add(float64(len(records)))
	log.Info("dataset loaded", zap.Int("records", len(records)))
	return records, nil
}

func (l *Loader) load(ctx context.Context, ds models.Dataset, run *store.LoadRun, log *zap.Logger) ([]models.RawRecord, error) {
	body, fetchResult, err := l.fetcher.Fetch(ctx, ds.Source)
	if run != nil && fetchResult != nil {
		run.Scheme = sql.NullString{String: fetchResult.Scheme, Valid: true}
		run.HTTPStatus = sql.NullInt64{Int64: int64(fetchResult.HTTPStatus), Valid: fetchResult.HTTPStatus > 0}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(fetchResult.ResponseSize), Valid: fetchResult.ResponseSize > 0}
		run.Attempts = sql.NullInt64{Int64: int64(fetchResult.Attempts), Valid: fetchResult.Attempts > 0}
	}

	switch {
	case err != nil && l.fallback && l.store != nil:
		archived, meta, archErr := l.store.GetLatestRawPayload(ds.Year)
		if archErr != nil || archived == nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		log.Warn("fetch failed, using archived payload",
			zap.Error(err), zap.Int64("payload_id", meta.ID), zap.Time("fetched_at", meta.FetchedAt))
		body = archived
	case err != nil:
		return nil, fmt.Errorf("fetch: %w", err)
	case l.store != nil:
		var runID *int64
		if run != nil {
			runID = &run.ID
		}
		if _, err := l.store.StoreRawPayload(runID, ds.Year, ds.Source, body); err != nil {
			log.Warn("archive raw payload", zap.Error(err))
		}
	}

	parsed, err := ParseCSV(body)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if run != nil {
		run.RecordsParsed = sql.NullInt64{Int64: int64(len(parsed.Records)), Valid: true}
		if parsed.ParseErrors > 0 {
			run.ParseErrors = sql.NullInt64{Int64: int64(parsed.ParseErrors), Valid: true}
		}
	}
	if parsed.ParseErrors > 0 {
		log.Warn("csv rows skipped", zap.Int("count", parsed.ParseErrors), zap.String("first", parsed.ParseError))
	}
	return parsed.Records, nil
}

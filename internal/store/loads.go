package store

import (
	"database/sql"
	"time"
)

// LoadRun records one attempt to load a year's dataset, for auditing.
type LoadRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Year              int
	Source            string
	Scheme            sql.NullString
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	Attempts          sql.NullInt64
	RecordsParsed     sql.NullInt64
	ParseErrors       sql.NullInt64 // rows the CSV reader could not tokenise
	Success           bool
	ErrorMessage      sql.NullString
}

// StartLoadRun creates a new load run record and returns it.
func (s *Store) StartLoadRun(year int, source string) (*LoadRun, error) {
	run := &LoadRun{
		StartedAt: time.Now().UTC(),
		Year:      year,
		Source:    source,
	}

	result, err := s.db.Exec(`
		INSERT INTO load_runs (started_at, year, source, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.Year, run.Source)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteLoadRun updates the load run with results.
func (s *Store) CompleteLoadRun(run *LoadRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE load_runs SET
			finished_at = ?,
			scheme = ?,
			http_status = ?,
			response_size_bytes = ?,
			attempts = ?,
			records_parsed = ?,
			parse_errors = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Scheme, run.HTTPStatus, run.ResponseSizeBytes, run.Attempts,
		run.RecordsParsed, run.ParseErrors, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentLoadRuns returns the most recent load runs, newest first.
func (s *Store) GetRecentLoadRuns(limit int) ([]LoadRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, year, source, scheme, http_status,
		       response_size_bytes, attempts, records_parsed, parse_errors,
		       success, error_message
		FROM load_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LoadRun
	for rows.Next() {
		var r LoadRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Year, &r.Source, &r.Scheme,
			&r.HTTPStatus, &r.ResponseSizeBytes, &r.Attempts, &r.RecordsParsed, &r.ParseErrors,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

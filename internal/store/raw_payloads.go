package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload is an archived copy of a dataset file as it was fetched.
type RawPayload struct {
	ID                int64
	LoadRunID         sql.NullInt64
	FetchedAt         time.Time
	Year              int
	Source            string
	PayloadCompressed []byte
	PayloadHash       string
	SchemaVersion     int
}

// StoreRawPayload stores a compressed dataset payload.
// Returns the payload ID, or 0 if the payload was a duplicate (same hash).
func (s *Store) StoreRawPayload(runID *int64, year int, source string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)

	var loadRunID sql.NullInt64
	if runID != nil {
		loadRunID = sql.NullInt64{Int64: *runID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads
		(load_run_id, fetched_at, year, source, payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(payload_hash) DO NOTHING
	`, loadRunID, time.Now().UTC(), year, source, buf.Bytes(), hex.EncodeToString(hash[:]))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}
	return decompress(compressed)
}

// GetLatestRawPayload returns the most recently archived payload for year,
// or nil if none has been stored.
func (s *Store) GetLatestRawPayload(year int) ([]byte, *RawPayload, error) {
	row := s.db.QueryRow(`
		SELECT id, load_run_id, fetched_at, year, source, payload_compressed, payload_hash, schema_version
		FROM raw_payloads
		WHERE year = ?
		ORDER BY id DESC
		LIMIT 1
	`, year)

	var p RawPayload
	err := row.Scan(&p.ID, &p.LoadRunID, &p.FetchedAt, &p.Year, &p.Source,
		&p.PayloadCompressed, &p.PayloadHash, &p.SchemaVersion)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	body, err := decompress(p.PayloadCompressed)
	if err != nil {
		return nil, nil, err
	}
	return body, &p, nil
}

// CleanupOldRawPayloads deletes raw payloads older than the specified number of days,
// always keeping the newest payload per year.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result, err := s.db.Exec(`
		DELETE FROM raw_payloads
		WHERE fetched_at < ?
		  AND id NOT IN (SELECT MAX(id) FROM raw_payloads GROUP BY year)
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func decompress(compressed []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

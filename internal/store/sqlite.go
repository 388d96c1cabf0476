package store

import (
	"database/sql"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/co2map/internal/models"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("store")}
}

// Open opens (or creates) the SQLite database at path with the pragmas the
// service relies on. The caller owns the returned *sql.DB.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// DatasetRecord is a configured year as persisted for the health view.
type DatasetRecord struct {
	Year      int
	Source    string
	Color     string
	UpdatedAt time.Time
}

func (s *Store) UpsertDataset(ds models.Dataset) error {
	_, err := s.db.Exec(`
		INSERT INTO datasets (year, source, color, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(year) DO UPDATE SET
			source = excluded.source,
			color = excluded.color,
			updated_at = excluded.updated_at
	`, ds.Year, ds.Source, ds.Color, time.Now().UTC())
	return err
}

func (s *Store) GetDatasets() ([]DatasetRecord, error) {
	rows, err := s.db.Query(`SELECT year, source, color, updated_at FROM datasets ORDER BY year ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DatasetRecord
	for rows.Next() {
		var d DatasetRecord
		if err := rows.Scan(&d.Year, &d.Source, &d.Color, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

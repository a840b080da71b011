package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcboeker/go-duckdb"

	"github.com/noahflow/agent/internal/models"
)

// Store is the DuckDB-backed audit trail of automation runs. Every
// terminal outcome lands here, success or failure, so the operator can
// answer "what happened to that export" long after the log scrolled by.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or reopens the run database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id           VARCHAR PRIMARY KEY,
			source_path  VARCHAR NOT NULL,
			patient_name VARCHAR,
			store_id     VARCHAR,
			success      BOOLEAN NOT NULL,
			kind         VARCHAR,
			message      VARCHAR,
			moved_to     VARCHAR,
			started_at   TIMESTAMP NOT NULL,
			finished_at  TIMESTAMP NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// Record inserts one finished run.
func (s *Store) Record(ctx context.Context, rec models.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, source_path, patient_name, store_id, success, kind, message, moved_to, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SourcePath, rec.PatientName, rec.StoreID, rec.Success,
		string(rec.Kind), rec.Message, rec.MovedTo, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs, newest first, capped at limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, patient_name, store_id, success, kind, message, moved_to, started_at, finished_at
		FROM runs
		ORDER BY finished_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []models.RunRecord
	for rows.Next() {
		var rec models.RunRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.SourcePath, &rec.PatientName, &rec.StoreID,
			&rec.Success, &kind, &rec.Message, &rec.MovedTo, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Kind = models.ErrorKind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns one run by ID, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*models.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_path, patient_name, store_id, success, kind, message, moved_to, started_at, finished_at
		FROM runs
		WHERE id = ?
	`, id)

	var rec models.RunRecord
	var kind string
	if err := row.Scan(&rec.ID, &rec.SourcePath, &rec.PatientName, &rec.StoreID,
		&rec.Success, &kind, &rec.Message, &rec.MovedTo, &rec.StartedAt, &rec.FinishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	rec.Kind = models.ErrorKind(kind)
	return &rec, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/reliability"
)

// SQLiteStore is an embedded alternative to the CSV files. A single
// connection serializes writers.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS recordings (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  recording_id INTEGER NOT NULL UNIQUE,
  file_name TEXT NOT NULL,
  sentence TEXT NOT NULL,
  english TEXT NOT NULL DEFAULT '',
  gender TEXT NOT NULL DEFAULT '',
  language TEXT NOT NULL,
  user_id TEXT NOT NULL,
  original_full_path TEXT NOT NULL,
  duration REAL NOT NULL DEFAULT 0
);`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_language_seq ON recordings (language, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create recordings schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	const stmt = `
INSERT INTO recordings (recording_id, file_name, sentence, english, gender, language, user_id, original_full_path, duration)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := s.db.ExecContext(ctx, stmt,
		rec.RecordingID,
		rec.FileName,
		rec.Sentence,
		rec.English,
		rec.Gender,
		string(rec.Language),
		rec.UserID,
		rec.StoragePath,
		rec.DurationSeconds,
	)
	if err != nil {
		return reliability.Storage("ledger append", err)
	}
	return nil
}

func (s *SQLiteStore) ReadAll(ctx context.Context, lang corpus.Language) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT recording_id, file_name, sentence, english, gender, language, user_id, original_full_path, duration
FROM recordings WHERE language = ? ORDER BY seq ASC
`, string(lang))
	if err != nil {
		return nil, fmt.Errorf("query ledger %s: %w", lang, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var language string
		if err := rows.Scan(&rec.RecordingID, &rec.FileName, &rec.Sentence, &rec.English, &rec.Gender,
			&language, &rec.UserID, &rec.StoragePath, &rec.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		rec.Language = corpus.Language(language)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

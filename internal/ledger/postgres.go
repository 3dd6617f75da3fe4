package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/reliability"
)

// PostgresStore keeps every language in one recordings table; seq preserves
// insertion order per language.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recordings (
			seq BIGSERIAL PRIMARY KEY,
			recording_id BIGINT NOT NULL UNIQUE,
			file_name TEXT NOT NULL,
			sentence TEXT NOT NULL,
			english TEXT NOT NULL DEFAULT '',
			gender TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL,
			user_id TEXT NOT NULL,
			original_full_path TEXT NOT NULL,
			duration DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_language_seq ON recordings (language, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_user ON recordings (user_id);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init ledger schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO recordings (recording_id, file_name, sentence, english, gender, language, user_id, original_full_path, duration)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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

func (s *PostgresStore) ReadAll(ctx context.Context, lang corpus.Language) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT recording_id, file_name, sentence, english, gender, language, user_id, original_full_path, duration
		 FROM recordings WHERE language=$1 ORDER BY seq`,
		string(lang),
	)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

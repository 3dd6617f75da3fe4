// Package ledger is the append-only store of accepted recordings, one logical
// table per language.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ent0n29/voxcollect/internal/corpus"
)

// Header is the column layout of the on-disk metadata file.
var Header = []string{"file_name", "sentence", "english", "gender", "language", "user_id", "original_full_path", "duration"}

// Record is one accepted recording. Records are never edited once appended.
type Record struct {
	RecordingID     int64           `json:"recording_id"`
	FileName        string          `json:"file_name"`
	Sentence        string          `json:"sentence"`
	English         string          `json:"english"`
	Gender          string          `json:"gender"`
	Language        corpus.Language `json:"language"`
	UserID          string          `json:"user_id"`
	StoragePath     string          `json:"original_full_path"`
	DurationSeconds float64         `json:"duration"`
}

// Store appends and scans ledger records. Appends to the same language are
// serialized by the implementation; different languages need no coordination.
type Store interface {
	Append(ctx context.Context, rec Record) error
	ReadAll(ctx context.Context, lang corpus.Language) ([]Record, error)
	Close() error
}

// FileName is the artifact name for a recording id, e.g. "voice_100010.ogg".
func FileName(id int64, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "ogg"
	}
	return fmt.Sprintf("voice_%d.%s", id, ext)
}

// ParseRecordingID extracts the id from a name produced by FileName.
func ParseRecordingID(fileName string) (int64, bool) {
	name := strings.TrimPrefix(fileName, "voice_")
	if name == fileName {
		return 0, false
	}
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		name = name[:dot]
	}
	id, err := strconv.ParseInt(name, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func validate(rec Record) error {
	if _, ok := corpus.ParseLanguage(string(rec.Language)); !ok {
		return fmt.Errorf("unsupported language %q", rec.Language)
	}
	if rec.FileName == "" {
		return fmt.Errorf("record without file name")
	}
	return nil
}

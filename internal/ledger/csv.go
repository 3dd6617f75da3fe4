package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/reliability"
)

// MetadataFile is the per-language ledger file name.
const MetadataFile = "metadata.csv"

// CSVStore keeps one metadata.csv per language under root/<language>/.
type CSVStore struct {
	root string

	mu    sync.Mutex
	locks map[corpus.Language]*sync.Mutex
}

func NewCSVStore(root string) (*CSVStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger root: %w", err)
	}
	return &CSVStore{root: root, locks: make(map[corpus.Language]*sync.Mutex)}, nil
}

// Path returns the metadata file of lang.
func (s *CSVStore) Path(lang corpus.Language) string {
	return filepath.Join(s.root, string(lang), MetadataFile)
}

func (s *CSVStore) lock(lang corpus.Language) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[lang]
	if !ok {
		l = &sync.Mutex{}
		s.locks[lang] = l
	}
	return l
}

// Append writes rec as a single row, creating the file with a header first
// if needed. The whole row is issued as one write under the language lock.
func (s *CSVStore) Append(ctx context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.lock(rec.Language)
	l.Lock()
	defer l.Unlock()

	path := s.Path(rec.Language)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return reliability.Storage("ledger append", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return reliability.Storage("ledger append", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return reliability.Storage("ledger append", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if info.Size() == 0 {
		_ = w.Write(Header)
	}
	_ = w.Write(toRow(rec))
	w.Flush()
	if err := w.Error(); err != nil {
		return reliability.Storage("ledger encode", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return reliability.Storage("ledger append", err)
	}
	if err := f.Sync(); err != nil {
		return reliability.Storage("ledger sync", err)
	}
	return nil
}

// ReadAll scans every row of lang. A missing file reads as empty.
func (s *CSVStore) ReadAll(ctx context.Context, lang corpus.Language) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.lock(lang)
	l.Lock()
	defer l.Unlock()

	f, err := os.Open(s.Path(lang))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", lang, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var out []Record
	first := true
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger %s: %w", lang, err)
		}
		if first {
			first = false
			continue
		}
		rec, ok := fromRow(row)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *CSVStore) Close() error { return nil }

func toRow(rec Record) []string {
	return []string{
		rec.FileName,
		rec.Sentence,
		rec.English,
		rec.Gender,
		string(rec.Language),
		rec.UserID,
		rec.StoragePath,
		strconv.FormatFloat(rec.DurationSeconds, 'f', -1, 64),
	}
}

func fromRow(row []string) (Record, bool) {
	if len(row) < len(Header) {
		return Record{}, false
	}
	duration, err := strconv.ParseFloat(row[7], 64)
	if err != nil {
		duration = 0
	}
	id, _ := ParseRecordingID(row[0])
	return Record{
		RecordingID:     id,
		FileName:        row[0],
		Sentence:        row[1],
		English:         row[2],
		Gender:          row[3],
		Language:        corpus.Language(row[4]),
		UserID:          row[5],
		StoragePath:     row[6],
		DurationSeconds: duration,
	}, true
}

package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ent0n29/voxcollect/internal/reliability"
)

// Sentence is an immutable (source, target) pair read from a corpus file.
type Sentence struct {
	English string `json:"english" msgpack:"english"`
	Text    string `json:"sentence" msgpack:"sentence"`
}

// CorpusPath returns the corpus file for lang under dir.
func CorpusPath(dir string, lang Language) string {
	return filepath.Join(dir, string(lang)+".csv")
}

// ReadFile parses a corpus CSV with columns (english, sentence). The header
// row is skipped, as are rows without a target sentence. A missing file is
// reported as a KindCorpusMissing error.
func ReadFile(path string) ([]Sentence, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &reliability.Error{Kind: reliability.KindCorpusMissing, Op: "read corpus " + path, Err: err}
		}
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads corpus rows from r.
func Parse(r io.Reader) ([]Sentence, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	var out []Sentence
	header := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse corpus: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(row) < 2 {
			continue
		}
		text := strings.TrimSpace(row[1])
		if text == "" {
			continue
		}
		out = append(out, Sentence{English: strings.TrimSpace(row[0]), Text: text})
	}
	return out, nil
}

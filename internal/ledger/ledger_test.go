package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ent0n29/voxcollect/internal/corpus"
)

func sampleRecord(id int64, lang corpus.Language, user string, duration float64) Record {
	name := FileName(id, "ogg")
	return Record{
		RecordingID:     id,
		FileName:        name,
		Sentence:        fmt.Sprintf("sentence %d", id),
		English:         "english, with comma",
		Gender:          "female",
		Language:        lang,
		UserID:          user,
		StoragePath:     "dataset/" + string(lang) + "/" + name,
		DurationSeconds: duration,
	}
}

func TestCSVAppendWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVStore(dir)
	if err != nil {
		t.Fatalf("NewCSVStore() error = %v", err)
	}
	ctx := context.Background()
	if err := s.Append(ctx, sampleRecord(100010, corpus.Hawrami, "42", 2.5)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(ctx, sampleRecord(100011, corpus.Hawrami, "42", 1.25)); err != nil {
		t.Fatalf("Append() second error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hawrami", MetadataFile))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("metadata has %d lines, want 3:\n%s", len(lines), data)
	}
	if lines[0] != strings.Join(Header, ",") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "voice_100010.ogg,sentence 100010,\"english, with comma\",female,hawrami,42,") {
		t.Fatalf("row = %q", lines[1])
	}

	records, err := s.ReadAll(ctx, corpus.Hawrami)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(ReadAll()) = %d, want 2", len(records))
	}
	if records[0].RecordingID != 100010 || records[1].RecordingID != 100011 {
		t.Fatalf("records out of insertion order: %+v", records)
	}
	if records[1].DurationSeconds != 1.25 || records[1].English != "english, with comma" {
		t.Fatalf("round-tripped record = %+v", records[1])
	}
}

func TestCSVReadAllMissingIsEmpty(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVStore() error = %v", err)
	}
	records, err := s.ReadAll(context.Background(), corpus.Talysh)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("ReadAll() = %+v, want empty", records)
	}
}

func TestCSVConcurrentAppendsStayIntact(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVStore() error = %v", err)
	}
	ctx := context.Background()
	langs := []corpus.Language{corpus.Hawrami, corpus.Gilaki}
	const perLang = 40

	var wg sync.WaitGroup
	for li, lang := range langs {
		for i := 0; i < perLang; i++ {
			wg.Add(1)
			go func(lang corpus.Language, id int64) {
				defer wg.Done()
				if err := s.Append(ctx, sampleRecord(id, lang, "u", 1)); err != nil {
					t.Errorf("Append() error = %v", err)
				}
			}(lang, int64(li*1000+i))
		}
	}
	wg.Wait()

	for _, lang := range langs {
		records, err := s.ReadAll(ctx, lang)
		if err != nil {
			t.Fatalf("ReadAll(%s) error = %v", lang, err)
		}
		if len(records) != perLang {
			t.Fatalf("ReadAll(%s) = %d rows, want %d", lang, len(records), perLang)
		}
		seen := map[int64]bool{}
		for _, rec := range records {
			if rec.Language != lang || rec.Sentence != fmt.Sprintf("sentence %d", rec.RecordingID) {
				t.Fatalf("corrupted row in %s: %+v", lang, rec)
			}
			seen[rec.RecordingID] = true
		}
		if len(seen) != perLang {
			t.Fatalf("distinct ids in %s = %d, want %d", lang, len(seen), perLang)
		}
	}
}

func TestAppendRejectsUnknownLanguage(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVStore() error = %v", err)
	}
	rec := sampleRecord(1, corpus.Language("../etc"), "u", 1)
	if err := s.Append(context.Background(), rec); err == nil {
		t.Fatalf("Append() error = nil, want rejection")
	}
}

func TestAggregate(t *testing.T) {
	s, err := NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVStore() error = %v", err)
	}
	ctx := context.Background()
	for _, rec := range []Record{
		sampleRecord(100010, corpus.Hawrami, "a", 2),
		sampleRecord(100011, corpus.Hawrami, "b", 3),
		sampleRecord(100012, corpus.Zazaki, "a", 4.5),
	} {
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	stats, err := Aggregate(ctx, s, []corpus.Language{corpus.Hawrami, corpus.Zazaki, corpus.Gilaki})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if stats.Total.Sentences != 3 || stats.Total.DurationSeconds != 9.5 {
		t.Fatalf("Total = %+v", stats.Total)
	}
	if len(stats.Languages) != 3 {
		t.Fatalf("len(Languages) = %d, want 3", len(stats.Languages))
	}
	if got := stats.Languages[0]; got.Language != corpus.Hawrami || got.Sentences != 2 || got.DurationSeconds != 5 {
		t.Fatalf("hawrami totals = %+v", got)
	}
	if got := stats.Languages[2]; got.Sentences != 0 {
		t.Fatalf("gilaki totals = %+v, want zero", got)
	}
	if got := stats.User("a"); got.Sentences != 2 || got.DurationSeconds != 6.5 {
		t.Fatalf("user a = %+v", got)
	}
	if stats.MaxRecordingID != 100012 {
		t.Fatalf("MaxRecordingID = %d", stats.MaxRecordingID)
	}

	texts, maxID, err := RecordedTexts(ctx, s, []corpus.Language{corpus.Hawrami})
	if err != nil {
		t.Fatalf("RecordedTexts() error = %v", err)
	}
	if len(texts[corpus.Hawrami]) != 2 || maxID != 100011 {
		t.Fatalf("RecordedTexts() = %v, %d", texts, maxID)
	}
}

func TestParseRecordingID(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"voice_100010.mp3", 100010, true},
		{"voice_7", 7, true},
		{"recording.ogg", 0, false},
		{"voice_x.ogg", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseRecordingID(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseRecordingID(%q) = (%d, %v), want (%d, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
	if got := FileName(12, ".mp3"); got != "voice_12.mp3" {
		t.Fatalf("FileName() = %q", got)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, Options{Backend: BackendSQLite, DatasetDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer s.Close()

	if err := s.Append(ctx, sampleRecord(5, corpus.Gilaki, "u1", 1.5)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(ctx, sampleRecord(6, corpus.Gilaki, "u2", 2)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Append(ctx, sampleRecord(5, corpus.Gilaki, "u1", 1.5)); err == nil {
		t.Fatalf("Append() duplicate recording id error = nil, want unique violation")
	}
	records, err := s.ReadAll(ctx, corpus.Gilaki)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 2 || records[0].RecordingID != 5 || records[1].UserID != "u2" {
		t.Fatalf("ReadAll() = %+v", records)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	url := os.Getenv("VOXCOLLECT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VOXCOLLECT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE language = 'talysh'`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if err := s.Append(ctx, sampleRecord(900001, corpus.Talysh, "pg", 3)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	records, err := s.ReadAll(ctx, corpus.Talysh)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 1 || records[0].DurationSeconds != 3 {
		t.Fatalf("ReadAll() = %+v", records)
	}
}

func TestNewStoreRejectsUnknownBackend(t *testing.T) {
	if _, err := NewStore(context.Background(), Options{Backend: "mongo"}); err == nil {
		t.Fatalf("NewStore(mongo) error = nil")
	}
	if _, err := NewStore(context.Background(), Options{Backend: BackendPostgres}); err == nil {
		t.Fatalf("NewStore(postgres without url) error = nil")
	}
}

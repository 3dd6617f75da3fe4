package ledger

import (
	"context"

	"github.com/ent0n29/voxcollect/internal/corpus"
)

// Totals is a sentence count and summed duration.
type Totals struct {
	Sentences       int     `json:"sentences"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (t *Totals) add(rec Record) {
	t.Sentences++
	t.DurationSeconds += rec.DurationSeconds
}

// LanguageTotals are the totals of one language.
type LanguageTotals struct {
	Language corpus.Language `json:"language"`
	Totals
}

// Stats is the aggregate view over every language ledger.
type Stats struct {
	Languages []LanguageTotals  `json:"languages"`
	Total     Totals            `json:"total"`
	Users     map[string]Totals `json:"users"`

	// MaxRecordingID is the highest id found, 0 if the ledger is empty.
	MaxRecordingID int64 `json:"max_recording_id"`
}

// User returns the totals of one contributor across all languages.
func (s Stats) User(userID string) Totals {
	return s.Users[userID]
}

// Aggregate scans the ledgers of langs and sums them per language and per user.
func Aggregate(ctx context.Context, store Store, langs []corpus.Language) (Stats, error) {
	stats := Stats{Users: make(map[string]Totals)}
	for _, lang := range langs {
		records, err := store.ReadAll(ctx, lang)
		if err != nil {
			return Stats{}, err
		}
		lt := LanguageTotals{Language: lang}
		for _, rec := range records {
			lt.add(rec)
			stats.Total.add(rec)
			u := stats.Users[rec.UserID]
			u.add(rec)
			stats.Users[rec.UserID] = u
			if rec.RecordingID > stats.MaxRecordingID {
				stats.MaxRecordingID = rec.RecordingID
			}
		}
		stats.Languages = append(stats.Languages, lt)
	}
	return stats, nil
}

// RecordedTexts returns, per language, the sentences already in the ledger,
// plus the highest recording id seen.
func RecordedTexts(ctx context.Context, store Store, langs []corpus.Language) (map[corpus.Language][]string, int64, error) {
	out := make(map[corpus.Language][]string, len(langs))
	var maxID int64
	for _, lang := range langs {
		records, err := store.ReadAll(ctx, lang)
		if err != nil {
			return nil, 0, err
		}
		for _, rec := range records {
			out[lang] = append(out[lang], rec.Sentence)
			if rec.RecordingID > maxID {
				maxID = rec.RecordingID
			}
		}
	}
	return out, maxID, nil
}

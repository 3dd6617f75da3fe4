package corpus

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/ent0n29/voxcollect/internal/reliability"
)

// ErrNoSentences is returned by Pick for a language with an empty corpus.
var ErrNoSentences = errors.New("no sentences available")

// NoSentencesError names the language that has nothing to offer.
type NoSentencesError struct {
	Language Language
}

func (e *NoSentencesError) Error() string {
	return fmt.Sprintf("%v for %s", ErrNoSentences, e.Language)
}

func (e *NoSentencesError) Is(target error) bool {
	return target == ErrNoSentences
}

// Unwrap exposes the kind to reliability.KindOf.
func (e *NoSentencesError) Unwrap() error {
	return &reliability.Error{Kind: reliability.KindNoSentences, Op: "pick " + string(e.Language)}
}

type languagePool struct {
	all      []Sentence
	recorded map[string]struct{}
}

// Pool holds the candidate sentences per language and which of them already
// have a recording. It is safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	languages map[Language]*languagePool
	rng       *rand.Rand
	logger    *slog.Logger
	onRecycle func(Language)
}

// NewPool returns an empty pool.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		languages: make(map[Language]*languagePool),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:    logger,
	}
}

// SetRand replaces the random source, mainly for tests.
func (p *Pool) SetRand(r *rand.Rand) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rng = r
}

// SetRecycleHook registers a callback invoked whenever a pick recycles.
func (p *Pool) SetRecycleHook(hook func(Language)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRecycle = hook
}

// Register installs the sentence list for lang, replacing any previous one,
// and marks every text in recorded as already recorded.
func (p *Pool) Register(lang Language, all []Sentence, recorded []string) {
	lp := &languagePool{
		all:      append([]Sentence(nil), all...),
		recorded: make(map[string]struct{}, len(recorded)),
	}
	for _, text := range recorded {
		lp.recorded[text] = struct{}{}
	}
	p.mu.Lock()
	p.languages[lang] = lp
	p.mu.Unlock()
}

// Load reads the corpus of every language in langs from dir. recorded maps a
// language to the target texts already present in its ledger. A missing
// corpus registers the language with an empty pool.
func Load(dir string, langs []Language, recorded map[Language][]string, logger *slog.Logger) *Pool {
	p := NewPool(logger)
	for _, lang := range langs {
		sentences, err := ReadFile(CorpusPath(dir, lang))
		if err != nil {
			p.logger.Error("corpus unavailable", "language", lang, "error", err)
			sentences = nil
		}
		p.Register(lang, sentences, recorded[lang])
		total, done := p.Stats(lang)
		p.logger.Info("corpus loaded",
			"language", lang,
			"total", total,
			"recorded", done,
			"available", availableCount(total, done),
		)
	}
	return p
}

func availableCount(total, recorded int) int {
	if recorded >= total {
		return total
	}
	return total - recorded
}

// Has reports whether lang has at least one sentence.
func (p *Pool) Has(lang Language) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	lp, ok := p.languages[lang]
	return ok && len(lp.all) > 0
}

// Pick returns a random not-yet-recorded sentence for lang. Once every
// sentence is recorded the full corpus becomes the selection universe again.
func (p *Pool) Pick(lang Language) (Sentence, error) {
	p.mu.Lock()
	lp, ok := p.languages[lang]
	if !ok || len(lp.all) == 0 {
		p.mu.Unlock()
		return Sentence{}, &NoSentencesError{Language: lang}
	}

	available := make([]int, 0, len(lp.all))
	for i, s := range lp.all {
		if _, done := lp.recorded[s.Text]; !done {
			available = append(available, i)
		}
	}

	var picked Sentence
	recycled := len(available) == 0
	if recycled {
		picked = lp.all[p.rng.IntN(len(lp.all))]
	} else {
		picked = lp.all[available[p.rng.IntN(len(available))]]
	}
	hook := p.onRecycle
	total := len(lp.all)
	p.mu.Unlock()

	if recycled {
		p.logger.Info("sentence pool exhausted, recycling full corpus", "language", lang, "total", total)
		if hook != nil {
			hook(lang)
		}
	}
	return picked, nil
}

// MarkRecorded records text as covered for lang in this process.
func (p *Pool) MarkRecorded(lang Language, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lp, ok := p.languages[lang]
	if !ok {
		return
	}
	lp.recorded[text] = struct{}{}
}

// Stats returns the corpus size and the number of distinct corpus sentences
// already recorded for lang.
func (p *Pool) Stats(lang Language) (total, recorded int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lp, ok := p.languages[lang]
	if !ok {
		return 0, 0
	}
	for _, s := range lp.all {
		if _, done := lp.recorded[s.Text]; done {
			recorded++
		}
	}
	return len(lp.all), recorded
}

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ent0n29/voxcollect/internal/artifact"
	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/ledger"
	"github.com/ent0n29/voxcollect/internal/observability"
	"github.com/ent0n29/voxcollect/internal/reliability"
)

// SentencePool hands out prompts per language.
type SentencePool interface {
	Has(lang corpus.Language) bool
	Pick(lang corpus.Language) (corpus.Sentence, error)
	MarkRecorded(lang corpus.Language, text string)
}

// IDAllocator issues recording ids.
type IDAllocator interface {
	Next(ctx context.Context) (int64, error)
}

// Appender is the write side of the metadata ledger.
type Appender interface {
	Append(ctx context.Context, rec ledger.Record) error
}

// Artifacts stages, promotes and discards uploaded audio.
type Artifacts interface {
	Stage(ctx context.Context, userID, ext string, r io.Reader) (artifact.Staged, error)
	LocalPath(ref string) string
	Promote(ctx context.Context, st artifact.Staged, lang corpus.Language, fileName string) (string, error)
	Demote(ctx context.Context, st artifact.Staged, lang corpus.Language, fileName string) error
	Discard(ctx context.Context, st artifact.Staged) error
	AcceptedPath(lang corpus.Language, fileName string) string
}

// DurationProbe measures audio length in seconds, 0 on failure.
type DurationProbe interface {
	Duration(ctx context.Context, path string) float64
}

// Archiver mirrors an accepted recording somewhere else. Failures never
// affect the ledger.
type Archiver interface {
	Archive(ctx context.Context, rec ledger.Record, localPath string) error
}

// Upload is an inbound voice file not yet downloaded.
type Upload interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Extension() string
}

// Deps are the collaborators of a Machine. Probe, Archiver, Metrics and
// Logger are optional.
type Deps struct {
	Store     Store
	Pool      SentencePool
	Counter   IDAllocator
	Ledger    Appender
	Artifacts Artifacts
	Probe     DurationProbe
	Archiver  Archiver
	Metrics   *observability.Metrics
	Logger    *slog.Logger

	// ArchiveTimeout bounds each background archive call.
	ArchiveTimeout time.Duration
}

// Machine applies user actions to persisted sessions addressed by
// ScopedKey. Actions for one key are serialized; different keys proceed
// concurrently.
type Machine struct {
	store     Store
	pool      SentencePool
	counter   IDAllocator
	ledger    Appender
	artifacts Artifacts
	probe     DurationProbe
	archiver  Archiver
	metrics   *observability.Metrics
	logger    *slog.Logger

	archiveTimeout time.Duration
	locks          *keyedMutex
	background     sync.WaitGroup
	now            func() time.Time
}

func NewMachine(d Deps) (*Machine, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("session machine: store is required")
	case d.Pool == nil:
		return nil, errors.New("session machine: sentence pool is required")
	case d.Counter == nil:
		return nil, errors.New("session machine: counter is required")
	case d.Ledger == nil:
		return nil, errors.New("session machine: ledger is required")
	case d.Artifacts == nil:
		return nil, errors.New("session machine: artifact store is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if d.ArchiveTimeout <= 0 {
		d.ArchiveTimeout = 2 * time.Minute
	}
	return &Machine{
		store:          d.Store,
		pool:           d.Pool,
		counter:        d.Counter,
		ledger:         d.Ledger,
		artifacts:      d.Artifacts,
		probe:          d.Probe,
		archiver:       d.Archiver,
		metrics:        d.Metrics,
		logger:         logger.With("component", "session"),
		archiveTimeout: d.ArchiveTimeout,
		locks:          newKeyedMutex(),
		now:            time.Now,
	}, nil
}

// Get returns the stored session under key (see ScopedKey).
func (m *Machine) Get(ctx context.Context, key string) (Session, error) {
	return m.store.Get(ctx, key)
}

// Wait blocks until background archive work has finished.
func (m *Machine) Wait() {
	m.background.Wait()
}

type step func(ctx context.Context, s *Session) (Outcome, error)

func (m *Machine) load(ctx context.Context, key string) (Session, error) {
	s, err := m.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		ch, userID := SplitKey(key)
		return Session{Channel: ch, UserID: userID, State: StateNew}, nil
	}
	if err != nil {
		return Session{}, reliability.Storage("load session", err)
	}
	return s, nil
}

func (m *Machine) do(ctx context.Context, key string, action Action, fn step) (Outcome, error) {
	unlock := m.locks.lock(key)
	defer unlock()
	s, err := m.load(ctx, key)
	if err != nil {
		return Outcome{Kind: OutcomeIgnored}, err
	}
	return m.apply(ctx, s, action, fn)
}

// apply runs fn on a copy of s and persists the copy only on success.
// Must hold the user's lock.
func (m *Machine) apply(ctx context.Context, s Session, action Action, fn step) (Outcome, error) {
	if !Allowed(s.State, action) {
		return m.reject(s, action)
	}
	next := s.clone()
	out, err := fn(ctx, &next)
	if err != nil {
		m.metrics.ObserveTransition(string(action), resultLabel(err))
		m.logger.Debug("session action failed", "user_id", s.UserID, "action", action, "state", s.State, "error", err)
		out.State = s.State
		return out, err
	}
	next.UpdatedAt = m.now().UTC()
	if err := m.store.Put(ctx, next); err != nil {
		m.metrics.ObserveTransition(string(action), string(reliability.KindStorage))
		m.logger.Error("persist session failed", "user_id", s.UserID, "action", action, "error", err)
		return Outcome{Kind: OutcomeIgnored, State: s.State}, reliability.Storage("save session", err)
	}
	m.metrics.ObserveTransition(string(action), "ok")
	m.logger.Debug("session transition", "user_id", s.UserID, "action", action, "from", s.State, "to", next.State)
	if out.discard != nil {
		m.discardArtifact(ctx, s.UserID, *out.discard)
		out.discard = nil
	}
	out.State = next.State
	return out, nil
}

func resultLabel(err error) string {
	if k := reliability.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

func (m *Machine) reject(s Session, action Action) (Outcome, error) {
	m.metrics.ObserveTransition(string(action), string(reliability.KindOutOfProtocol))
	m.logger.Info("ignoring out of protocol action", "user_id", s.UserID, "state", s.State, "action", action)
	return Outcome{Kind: OutcomeIgnored, State: s.State},
		reliability.OutOfProtocol(string(action), fmt.Sprintf("not allowed in state %s", s.State))
}

// Start resets the session and asks for gender. Any staged recording is
// discarded and the accepted history is cleared.
func (m *Machine) Start(ctx context.Context, key, chatID string) (Outcome, error) {
	return m.do(ctx, key, ActionStart, func(ctx context.Context, s *Session) (Outcome, error) {
		staged := s.Staged
		*s = Session{
			Channel: s.Channel,
			UserID:  s.UserID,
			ChatID:  chatID,
			State:   StateChoosingGender,
			Epoch:   s.Epoch + 1,
		}
		return Outcome{Kind: OutcomeGenderPrompt, discard: staged}, nil
	})
}

// SelectGender stores the speaker gender and asks for a language.
func (m *Machine) SelectGender(ctx context.Context, key, gender string) (Outcome, error) {
	return m.do(ctx, key, ActionSelectGender, m.selectGender(gender))
}

func (m *Machine) selectGender(v string) step {
	return func(_ context.Context, s *Session) (Outcome, error) {
		g, ok := ParseGender(v)
		if !ok {
			return Outcome{Kind: OutcomeGenderPrompt}, reliability.OutOfProtocol(string(ActionSelectGender), fmt.Sprintf("unknown gender %q", v))
		}
		s.Gender = g
		s.State = StateChoosingLanguage
		return Outcome{Kind: OutcomeLanguagePrompt}, nil
	}
}

// SelectLanguage picks the first prompt of lang and starts recording. A
// language without sentences leaves the session where it was.
func (m *Machine) SelectLanguage(ctx context.Context, key, code string) (Outcome, error) {
	return m.do(ctx, key, ActionSelectLanguage, m.selectLanguage(code))
}

func (m *Machine) selectLanguage(code string) step {
	return func(_ context.Context, s *Session) (Outcome, error) {
		lang, ok := corpus.ParseLanguage(code)
		if !ok {
			return Outcome{Kind: OutcomeLanguagePrompt}, reliability.OutOfProtocol(string(ActionSelectLanguage), fmt.Sprintf("unknown language %q", code))
		}
		if !m.pool.Has(lang) {
			return Outcome{Kind: OutcomeNoSentences, Language: lang}, &corpus.NoSentencesError{Language: lang}
		}
		prompt, err := m.pool.Pick(lang)
		if err != nil {
			return Outcome{Kind: OutcomeNoSentences, Language: lang}, err
		}
		welcome := s.State == StateChoosingLanguage
		s.Language = lang
		s.Prompt = &prompt
		s.State = StateRecording
		s.Epoch++
		return Outcome{Kind: OutcomePrompt, Language: lang, Prompt: &prompt, Welcome: welcome}, nil
	}
}

// ChangeLanguage re-opens the language keyboard without resetting gender.
func (m *Machine) ChangeLanguage(ctx context.Context, key string) (Outcome, error) {
	return m.do(ctx, key, ActionChangeLanguage, func(_ context.Context, s *Session) (Outcome, error) {
		s.State = StateChoosingLanguageViaCommand
		s.Epoch++
		return Outcome{Kind: OutcomeLanguagePrompt, Language: s.Language}, nil
	})
}

// Skip replaces the current prompt without recording it.
func (m *Machine) Skip(ctx context.Context, key string) (Outcome, error) {
	return m.do(ctx, key, ActionSkip, func(_ context.Context, s *Session) (Outcome, error) {
		prompt, err := m.pool.Pick(s.Language)
		if err != nil {
			return Outcome{Kind: OutcomeNoSentences, Language: s.Language}, err
		}
		s.Prompt = &prompt
		return Outcome{Kind: OutcomePrompt, Language: s.Language, Prompt: &prompt}, nil
	})
}

// SubmitRecording downloads and stages up, then asks for confirmation. The
// download runs without the user's lock; if the session moved on meanwhile
// (cancel, start, language change, another upload) the staged file is
// discarded and the action reports out of protocol.
func (m *Machine) SubmitRecording(ctx context.Context, key string, up Upload) (Outcome, error) {
	unlock := m.locks.lock(key)
	s, err := m.load(ctx, key)
	if err != nil {
		unlock()
		return Outcome{Kind: OutcomeIgnored}, err
	}
	if !Allowed(s.State, ActionSubmitRecording) {
		defer unlock()
		return m.reject(s, ActionSubmitRecording)
	}
	epoch := s.Epoch
	unlock()

	started := m.now()
	staged, err := m.stage(ctx, s.UserID, up)
	if err != nil {
		m.metrics.ObserveTransition(string(ActionSubmitRecording), resultLabel(err))
		m.logger.Warn("staging upload failed", "session", key, "error", err)
		return Outcome{Kind: OutcomeIgnored, State: s.State}, err
	}
	m.metrics.ObserveStage("download", m.now().Sub(started))

	out, err := m.do(ctx, key, ActionSubmitRecording, func(_ context.Context, s *Session) (Outcome, error) {
		if s.Epoch != epoch || s.Staged != nil {
			m.metrics.ObserveIndicator("stale_upload_discarded")
			return Outcome{Kind: OutcomeIgnored}, reliability.OutOfProtocol(string(ActionSubmitRecording), "session changed during upload")
		}
		s.Staged = &staged
		s.State = StateConfirming
		s.Epoch++
		return Outcome{Kind: OutcomeConfirm, Language: s.Language, Prompt: s.Prompt}, nil
	})
	if err != nil {
		// Detached so a cancelled upload context still cleans up.
		if derr := m.artifacts.Discard(context.WithoutCancel(ctx), staged); derr != nil {
			m.logger.Warn("discard stale upload failed", "session", key, "ref", staged.Ref, "error", derr)
		}
	}
	return out, err
}

func (m *Machine) stage(ctx context.Context, userID string, up Upload) (artifact.Staged, error) {
	rc, err := up.Open(ctx)
	if err != nil {
		if reliability.KindOf(err) == "" {
			err = reliability.Transport("download upload", err)
		}
		return artifact.Staged{}, err
	}
	defer rc.Close()
	staged, err := m.artifacts.Stage(ctx, userID, up.Extension(), rc)
	if err != nil && reliability.KindOf(err) == "" {
		err = reliability.Transport("download upload", err)
	}
	return staged, err
}

// Confirm accepts or retakes the staged recording. Accepting allocates an
// id, moves the file into the dataset and appends one ledger row; retaking
// deletes the file and keeps the same prompt.
func (m *Machine) Confirm(ctx context.Context, key string, accept bool) (Outcome, error) {
	out, err := m.do(ctx, key, ActionConfirm, m.confirm(accept))
	if err == nil && out.Record != nil {
		m.archive(*out.Record)
	}
	return out, err
}

func (m *Machine) confirm(accept bool) step {
	return func(ctx context.Context, s *Session) (Outcome, error) {
		if s.Staged == nil {
			return Outcome{Kind: OutcomeIgnored}, reliability.OutOfProtocol(string(ActionConfirm), "no staged recording")
		}
		if !accept {
			staged := s.Staged
			s.Staged = nil
			s.State = StateRecording
			m.metrics.ObserveRecording(string(s.Language), DecisionRetake)
			return Outcome{Kind: OutcomeRetake, Language: s.Language, Prompt: s.Prompt, discard: staged}, nil
		}
		return m.accept(ctx, s)
	}
}

func (m *Machine) accept(ctx context.Context, s *Session) (Outcome, error) {
	started := m.now()
	staged := *s.Staged
	if s.Prompt == nil {
		return Outcome{Kind: OutcomeIgnored}, reliability.OutOfProtocol(string(ActionConfirm), "no current prompt")
	}

	duration := probeFailed
	if m.probe != nil {
		probeStarted := m.now()
		duration = m.probe.Duration(ctx, m.artifacts.LocalPath(staged.Ref))
		m.metrics.ObserveStage("probe", m.now().Sub(probeStarted))
	}

	id, err := m.counter.Next(ctx)
	if err != nil {
		return Outcome{Kind: OutcomeIgnored}, err
	}
	fileName := ledger.FileName(id, staged.Ext)
	storagePath, err := m.artifacts.Promote(ctx, staged, s.Language, fileName)
	if err != nil {
		return Outcome{Kind: OutcomeIgnored}, err
	}

	rec := ledger.Record{
		RecordingID:     id,
		FileName:        fileName,
		Sentence:        s.Prompt.Text,
		English:         s.Prompt.English,
		Gender:          string(s.Gender),
		Language:        s.Language,
		UserID:          s.UserID,
		StoragePath:     storagePath,
		DurationSeconds: duration,
	}
	appendStarted := m.now()
	if err := m.ledger.Append(ctx, rec); err != nil {
		if derr := m.artifacts.Demote(context.WithoutCancel(ctx), staged, s.Language, fileName); derr != nil {
			m.logger.Error("restore staged recording failed", "user_id", s.UserID, "file_name", fileName, "error", derr)
		}
		if reliability.KindOf(err) == "" {
			err = reliability.Storage("append ledger", err)
		}
		return Outcome{Kind: OutcomeIgnored}, err
	}
	m.metrics.ObserveLedgerAppend(m.now().Sub(appendStarted))
	m.pool.MarkRecorded(s.Language, rec.Sentence)
	m.metrics.ObserveRecording(string(s.Language), DecisionAccept)
	m.logger.Info("recording accepted", "user_id", s.UserID, "language", s.Language, "file_name", fileName, "duration", duration)

	s.Staged = nil
	s.Accepted = append(s.Accepted, fileName)
	out := Outcome{Kind: OutcomeAccepted, Language: s.Language, Record: &rec}

	next, err := m.pool.Pick(s.Language)
	if err != nil {
		// The ledger row is committed; fall back to the language keyboard.
		m.logger.Warn("no next prompt after accept", "user_id", s.UserID, "language", s.Language, "error", err)
		s.Prompt = nil
		s.State = StateChoosingLanguageViaCommand
		m.metrics.ObserveStage("accept_total", m.now().Sub(started))
		return out, nil
	}
	s.Prompt = &next
	s.State = StateRecording
	out.Prompt = &next
	m.metrics.ObserveStage("accept_total", m.now().Sub(started))
	return out, nil
}

// probeFailed is the ledger duration of a recording we could not measure.
const probeFailed = 0.0

func (m *Machine) archive(rec ledger.Record) {
	if m.archiver == nil {
		return
	}
	localPath := m.artifacts.AcceptedPath(rec.Language, rec.FileName)
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.archiveTimeout)
		defer cancel()
		if err := m.archiver.Archive(ctx, rec, localPath); err != nil {
			m.metrics.ObserveIndicator("archive_failed")
			m.logger.Warn("archive recording failed", "file_name", rec.FileName, "language", rec.Language, "error", err)
		}
	}()
}

// Cancel abandons the flow. A staged recording is discarded; the accepted
// history is kept.
func (m *Machine) Cancel(ctx context.Context, key string) (Outcome, error) {
	return m.do(ctx, key, ActionCancel, func(ctx context.Context, s *Session) (Outcome, error) {
		staged := s.Staged
		s.Staged = nil
		s.State = StateNew
		s.Gender = GenderUnset
		s.Language = ""
		s.Prompt = nil
		s.Epoch++
		return Outcome{Kind: OutcomeCanceled, discard: staged}, nil
	})
}

// discardArtifact deletes a staged file the saved session no longer
// references. A failure leaves an orphan in staging and is only logged.
func (m *Machine) discardArtifact(ctx context.Context, userID string, staged artifact.Staged) {
	if err := m.artifacts.Discard(context.WithoutCancel(ctx), staged); err != nil {
		m.logger.Warn("discard staged recording failed", "user_id", userID, "ref", staged.Ref, "error", err)
	}
}

// Callback routes an inline button payload by the user's current state.
func (m *Machine) Callback(ctx context.Context, key, data string) (Outcome, error) {
	unlock := m.locks.lock(key)
	defer unlock()
	s, err := m.load(ctx, key)
	if err != nil {
		return Outcome{Kind: OutcomeIgnored}, err
	}
	switch s.State {
	case StateChoosingGender:
		return m.apply(ctx, s, ActionSelectGender, m.selectGender(data))
	case StateChoosingLanguage, StateChoosingLanguageViaCommand:
		return m.apply(ctx, s, ActionSelectLanguage, m.selectLanguage(data))
	case StateConfirming:
		var accept bool
		switch data {
		case DecisionAccept:
			accept = true
		case DecisionRetake:
		default:
			return m.reject(s, ActionConfirm)
		}
		out, err := m.apply(ctx, s, ActionConfirm, m.confirm(accept))
		if err == nil && out.Record != nil {
			m.archive(*out.Record)
		}
		return out, err
	default:
		m.logger.Info("ignoring button outside a keyboard state", "session", key, "state", s.State, "data", data)
		return Outcome{Kind: OutcomeIgnored, State: s.State},
			reliability.OutOfProtocol("callback", fmt.Sprintf("no keyboard in state %s", s.State))
	}
}

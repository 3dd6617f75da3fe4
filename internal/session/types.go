package session

import (
	"strings"
	"time"

	"github.com/ent0n29/voxcollect/internal/artifact"
	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/ledger"
)

// Session is the persisted conversation record of one user.
//
// Staged is non-nil only while State is StateConfirming.
type Session struct {
	Channel   string           `json:"channel,omitempty" msgpack:"channel,omitempty"`
	UserID    string           `json:"user_id" msgpack:"user_id"`
	ChatID    string           `json:"chat_id" msgpack:"chat_id"`
	State     State            `json:"state" msgpack:"state"`
	Gender    Gender           `json:"gender" msgpack:"gender"`
	Language  corpus.Language  `json:"language" msgpack:"language"`
	Prompt    *corpus.Sentence `json:"current_prompt,omitempty" msgpack:"prompt,omitempty"`
	Staged    *artifact.Staged `json:"staged_recording,omitempty" msgpack:"staged,omitempty"`
	Accepted  []string         `json:"accepted" msgpack:"accepted"`
	Epoch     uint64           `json:"epoch" msgpack:"epoch"`
	UpdatedAt time.Time        `json:"updated_at" msgpack:"updated_at"`
}

// Key is the store key of s.
func (s Session) Key() string {
	return ScopedKey(s.Channel, s.UserID)
}

// ScopedKey names the session of a platform user id on one channel, so
// equal ids arriving on different channels never share a session.
// Channel names must not contain a colon.
func ScopedKey(channel, userID string) string {
	if channel == "" {
		return userID
	}
	return channel + ":" + userID
}

// SplitKey reverses ScopedKey. A key without a channel yields an empty
// channel name.
func SplitKey(key string) (channel, userID string) {
	if ch, id, ok := strings.Cut(key, ":"); ok {
		return ch, id
	}
	return "", key
}

func (s Session) clone() Session {
	c := s
	if s.Prompt != nil {
		p := *s.Prompt
		c.Prompt = &p
	}
	if s.Staged != nil {
		st := *s.Staged
		c.Staged = &st
	}
	c.Accepted = append([]string(nil), s.Accepted...)
	return c
}

// OutcomeKind tells the caller what to present next.
type OutcomeKind string

const (
	OutcomeGenderPrompt   OutcomeKind = "gender_prompt"
	OutcomeLanguagePrompt OutcomeKind = "language_prompt"
	OutcomeNoSentences    OutcomeKind = "no_sentences"
	OutcomePrompt         OutcomeKind = "prompt"
	OutcomeConfirm        OutcomeKind = "confirm"
	OutcomeAccepted       OutcomeKind = "accepted"
	OutcomeRetake         OutcomeKind = "retake"
	OutcomeCanceled       OutcomeKind = "canceled"
	OutcomeIgnored        OutcomeKind = "ignored"
)

// Outcome is the result of applying one action.
type Outcome struct {
	Kind     OutcomeKind
	State    State
	Language corpus.Language
	Prompt   *corpus.Sentence

	// Welcome is set the first time a language is chosen after start.
	Welcome bool

	// Record is the ledger row written by an accepted confirmation.
	Record *ledger.Record

	// discard is deleted once the new session state is persisted.
	discard *artifact.Staged
}

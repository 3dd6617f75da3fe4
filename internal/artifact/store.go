package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/reliability"
)

// ErrNotFound is returned when a staged artifact no longer exists.
var ErrNotFound = errors.New("artifact not found")

const stagingDir = ".staged"

// Staged references an uploaded file that is not yet part of the ledger.
type Staged struct {
	Ref string `json:"ref" msgpack:"ref"`
	Ext string `json:"ext" msgpack:"ext"`
}

// Store lays out the dataset tree: staged uploads under .staged/<user>/ and
// accepted recordings under <language>/<file name>.
type Store struct {
	files *Local

	// prefix is the dataset directory as configured, used to build the
	// storage path recorded in the ledger ("dataset/hawrami/voice_1.ogg").
	prefix string
}

// NewStore roots the dataset tree at dir.
func NewStore(dir string) (*Store, error) {
	files, err := NewLocal(dir)
	if err != nil {
		return nil, fmt.Errorf("open dataset dir: %w", err)
	}
	return &Store{files: files, prefix: strings.TrimSuffix(dirToSlash(dir), "/")}, nil
}

func dirToSlash(dir string) string {
	return path.Clean(strings.ReplaceAll(dir, "\\", "/"))
}

// Stage copies r into a fresh staging file for userID.
func (s *Store) Stage(ctx context.Context, userID, ext string, r io.Reader) (Staged, error) {
	ext = normalizeExt(ext)
	ref := path.Join(stagingDir, sanitize(userID), uuid.NewString()+"."+ext)
	w, err := s.files.Write(ctx, ref)
	if err != nil {
		return Staged{}, reliability.Storage("stage artifact", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = AbortWrite(ctx, s.files, ref, w)
		return Staged{}, fmt.Errorf("stage artifact: %w", err)
	}
	if err := w.Close(); err != nil {
		_ = s.files.Delete(ctx, ref)
		return Staged{}, reliability.Storage("stage artifact", err)
	}
	return Staged{Ref: ref, Ext: ext}, nil
}

// LocalPath returns the filesystem path of a store-relative reference.
func (s *Store) LocalPath(ref string) string {
	return s.files.Path(ref)
}

// Promote moves a staged file to <language>/<fileName> and returns the
// storage path to record in the ledger.
func (s *Store) Promote(ctx context.Context, st Staged, lang corpus.Language, fileName string) (string, error) {
	ok, err := s.files.Exists(ctx, st.Ref)
	if err != nil {
		return "", reliability.Storage("promote artifact", err)
	}
	if !ok {
		return "", reliability.Storage("promote artifact", fmt.Errorf("%w: %s", ErrNotFound, st.Ref))
	}
	dst := path.Join(string(lang), fileName)
	if err := s.files.Rename(ctx, st.Ref, dst); err != nil {
		return "", reliability.Storage("promote artifact", err)
	}
	return path.Join(s.prefix, dst), nil
}

// Demote moves an accepted file back to its staging reference. It undoes a
// Promote whose ledger append failed.
func (s *Store) Demote(ctx context.Context, st Staged, lang corpus.Language, fileName string) error {
	return reliability.Storage("demote artifact", s.files.Rename(ctx, path.Join(string(lang), fileName), st.Ref))
}

// Discard deletes a staged file.
func (s *Store) Discard(ctx context.Context, st Staged) error {
	if st.Ref == "" {
		return nil
	}
	if !strings.HasPrefix(st.Ref, stagingDir+"/") {
		return fmt.Errorf("refusing to discard non-staged artifact %q", st.Ref)
	}
	return reliability.Storage("discard artifact", s.files.Delete(ctx, st.Ref))
}

// AcceptedPath is the filesystem path of an accepted recording.
func (s *Store) AcceptedPath(lang corpus.Language, fileName string) string {
	return s.files.Path(path.Join(string(lang), fileName))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" {
		return "ogg"
	}
	return sanitize(ext)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// Package archive forwards accepted recordings to secondary destinations.
// Every destination is best-effort: the ledger row is already committed by
// the time an archiver runs.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/ent0n29/voxcollect/internal/artifact"
	"github.com/ent0n29/voxcollect/internal/channel"
	"github.com/ent0n29/voxcollect/internal/ledger"
	"github.com/ent0n29/voxcollect/internal/observability"
	"github.com/ent0n29/voxcollect/internal/reliability"
)

// Archiver copies one accepted recording somewhere.
type Archiver interface {
	Archive(ctx context.Context, rec ledger.Record, localPath string) error
}

// Broadcaster posts accepted audio to a chat with the sentence as caption.
type Broadcaster struct {
	ch      channel.Channel
	chatID  string
	policy  reliability.Policy
	metrics *observability.Metrics
}

func NewBroadcaster(ch channel.Channel, chatID string, policy reliability.Policy, metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{ch: ch, chatID: chatID, policy: policy, metrics: metrics}
}

func (b *Broadcaster) Archive(ctx context.Context, rec ledger.Record, localPath string) error {
	return reliability.Retry(ctx, b.policy, func(ctx context.Context) error {
		err := b.ch.SendFile(ctx, b.chatID, localPath, rec.Sentence)
		if err != nil {
			b.metrics.ObserveTransportError(b.ch.Name(), "broadcast")
		}
		return err
	})
}

// Mirror copies accepted audio into a FileStore at <language>/<file name>.
type Mirror struct {
	files artifact.FileStore
}

func NewMirror(files artifact.FileStore) *Mirror {
	return &Mirror{files: files}
}

func (m *Mirror) Archive(ctx context.Context, rec ledger.Record, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", rec.FileName, err)
	}
	defer src.Close()

	dst := path.Join(string(rec.Language), rec.FileName)
	w, err := m.files.Write(ctx, dst)
	if err != nil {
		return reliability.Transport("mirror "+rec.FileName, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		// A partial copy must never land in the mirror.
		if aerr := artifact.AbortWrite(ctx, m.files, dst, w); aerr != nil {
			err = errors.Join(err, aerr)
		}
		return fmt.Errorf("mirror %s: %w", rec.FileName, err)
	}
	return reliability.Transport("mirror "+rec.FileName, w.Close())
}

// Multi runs every archiver and joins their errors.
type Multi []Archiver

func (m Multi) Archive(ctx context.Context, rec ledger.Record, localPath string) error {
	var errs []error
	for _, a := range m {
		if err := a.Archive(ctx, rec, localPath); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

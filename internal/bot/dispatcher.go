// Package bot turns channel events into session actions and renders the
// outcomes back to the chat.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ent0n29/voxcollect/internal/channel"
	"github.com/ent0n29/voxcollect/internal/ledger"
	"github.com/ent0n29/voxcollect/internal/observability"
	"github.com/ent0n29/voxcollect/internal/reliability"
	"github.com/ent0n29/voxcollect/internal/session"
)

// StatsFunc returns the current ledger aggregate.
type StatsFunc func(ctx context.Context) (ledger.Stats, error)

// Options configure a Dispatcher.
type Options struct {
	Stats   StatsFunc
	Send    reliability.Policy
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Dispatcher runs events of one user strictly in arrival order; events of
// different users run concurrently. A start or cancel command aborts the
// user's in-flight upload download before it is queued.
type Dispatcher struct {
	machine *session.Machine
	stats   StatsFunc
	send    reliability.Policy
	metrics *observability.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	closed    bool
	wg        sync.WaitGroup
}

type mailbox struct {
	queue     []queued
	runCancel context.CancelFunc
	runKind   channel.Kind
}

type queued struct {
	ctx context.Context
	key string
	ch  channel.Channel
	ev  channel.Event
}

// ErrClosed is reported for events dispatched after Close.
var ErrClosed = errors.New("dispatcher closed")

func NewDispatcher(machine *session.Machine, opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		machine:   machine,
		stats:     opts.Stats,
		send:      opts.Send,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "bot"),
		mailboxes: make(map[string]*mailbox),
	}
}

// Dispatch enqueues ev into its user's mailbox and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, ch channel.Channel, ev channel.Event) {
	d.metrics.ObserveInbound(string(ev.Kind))
	key := session.ScopedKey(ch.Name(), ev.UserID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dropping event after close", "user_id", ev.UserID, "kind", ev.Kind, "error", ErrClosed)
		return
	}
	mb, ok := d.mailboxes[key]
	if !ok {
		mb = &mailbox{}
		d.mailboxes[key] = mb
		d.metrics.MailboxOpened()
		d.wg.Add(1)
		go d.drain(key, mb)
	}
	if interrupts(ev) && mb.runCancel != nil && mb.runKind == channel.KindFileUpload {
		d.logger.Info("aborting in-flight upload", "user_id", ev.UserID, "command", ev.Command)
		mb.runCancel()
	}
	mb.queue = append(mb.queue, queued{ctx: ctx, key: key, ch: ch, ev: ev})
}

func interrupts(ev channel.Event) bool {
	return ev.Kind == channel.KindTextCommand && (ev.Command == "cancel" || ev.Command == "start")
}

func (d *Dispatcher) drain(key string, mb *mailbox) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(mb.queue) == 0 {
			delete(d.mailboxes, key)
			d.metrics.MailboxClosed()
			d.mu.Unlock()
			return
		}
		next := mb.queue[0]
		mb.queue = mb.queue[1:]
		ctx, cancel := context.WithCancel(next.ctx)
		mb.runCancel = cancel
		mb.runKind = next.ev.Kind
		d.mu.Unlock()

		d.handle(ctx, next.key, next.ch, next.ev)

		d.mu.Lock()
		mb.runCancel = nil
		mb.runKind = ""
		d.mu.Unlock()
		cancel()
	}
}

// Close stops accepting events, waits for queued ones and for background
// archive work.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
	d.machine.Wait()
}

// handle runs ev against the session under key, which is scoped by channel
// so equal platform ids on different channels stay apart.
func (d *Dispatcher) handle(ctx context.Context, key string, ch channel.Channel, ev channel.Event) {
	logger := d.logger.With("channel", ch.Name(), "user_id", ev.UserID, "chat_id", ev.ChatID)

	var (
		out session.Outcome
		err error
	)
	switch ev.Kind {
	case channel.KindTextCommand:
		switch ev.Command {
		case "start":
			out, err = d.machine.Start(ctx, key, ev.ChatID)
		case "skip":
			out, err = d.machine.Skip(ctx, key)
		case "change_language":
			out, err = d.machine.ChangeLanguage(ctx, key)
		case "cancel":
			out, err = d.machine.Cancel(ctx, key)
		case "stats":
			d.replyStats(ctx, ch, ev)
			return
		default:
			logger.Debug("ignoring unknown command", "command", ev.Command)
			return
		}
	case channel.KindButtonCallback:
		if ev.Ack != nil {
			if err := ev.Ack(ctx); err != nil {
				d.metrics.ObserveTransportError(ch.Name(), "ack")
				logger.Debug("callback ack failed", "error", err)
			}
		}
		out, err = d.machine.Callback(ctx, key, ev.Data)
	case channel.KindFileUpload:
		if ev.Upload == nil {
			logger.Warn("file upload event without payload")
			return
		}
		out, err = d.machine.SubmitRecording(ctx, key, ev.Upload)
	default:
		logger.Warn("ignoring unknown event kind", "kind", ev.Kind)
		return
	}

	if err != nil {
		d.renderError(ctx, ch, ev, out, err, logger)
		return
	}
	d.render(ctx, ch, ev.ChatID, out)
}

func (d *Dispatcher) render(ctx context.Context, ch channel.Channel, chatID string, out session.Outcome) {
	switch out.Kind {
	case session.OutcomeGenderPrompt:
		d.buttons(ctx, ch, chatID, textChooseGender, genderButtons())
	case session.OutcomeLanguagePrompt:
		d.buttons(ctx, ch, chatID, textChooseLanguage, languageButtons())
	case session.OutcomePrompt:
		if out.Welcome {
			d.text(ctx, ch, chatID, textWelcome)
		}
		if out.Prompt != nil {
			d.text(ctx, ch, chatID, promptText(*out.Prompt))
		}
	case session.OutcomeConfirm:
		d.buttons(ctx, ch, chatID, textConfirm, confirmButtons())
	case session.OutcomeAccepted:
		if out.Prompt != nil {
			d.text(ctx, ch, chatID, promptText(*out.Prompt))
			return
		}
		d.text(ctx, ch, chatID, noSentencesText(out.Language))
		d.buttons(ctx, ch, chatID, textChooseLanguage, languageButtons())
	case session.OutcomeRetake:
		if out.Prompt != nil {
			d.text(ctx, ch, chatID, retakeText(*out.Prompt))
		}
	case session.OutcomeCanceled:
		d.text(ctx, ch, chatID, textCanceled)
	}
}

func (d *Dispatcher) renderError(ctx context.Context, ch channel.Channel, ev channel.Event, out session.Outcome, err error, logger *slog.Logger) {
	switch reliability.KindOf(err) {
	case reliability.KindOutOfProtocol:
		logger.Debug("out of protocol event", "state", out.State, "error", err)
		if out.State == session.StateNew && ev.Kind != channel.KindButtonCallback {
			d.text(ctx, ch, ev.ChatID, textStartFirst)
		}
	case reliability.KindNoSentences:
		d.text(ctx, ch, ev.ChatID, noSentencesText(out.Language))
		d.buttons(ctx, ch, ev.ChatID, textChooseLanguage, languageButtons())
	case reliability.KindTransport:
		if errors.Is(err, context.Canceled) {
			logger.Info("upload aborted", "error", err)
			return
		}
		logger.Warn("upload download failed", "error", err)
		d.text(ctx, ch, ev.ChatID, textDownloadFailed)
	default:
		logger.Error("session action failed", "state", out.State, "error", err)
		d.text(ctx, ch, ev.ChatID, textSaveFailed)
	}
}

func (d *Dispatcher) replyStats(ctx context.Context, ch channel.Channel, ev channel.Event) {
	if d.stats == nil {
		return
	}
	stats, err := d.stats(ctx)
	if err != nil {
		d.logger.Error("aggregate stats failed", "user_id", ev.UserID, "error", err)
		d.text(ctx, ch, ev.ChatID, textSaveFailed)
		return
	}
	d.text(ctx, ch, ev.ChatID, FormatStats(stats, ev.UserID))
}

func (d *Dispatcher) text(ctx context.Context, ch channel.Channel, chatID, text string) {
	d.deliver(ctx, ch, "send_text", func(ctx context.Context) error {
		return ch.SendText(ctx, chatID, text)
	})
}

func (d *Dispatcher) buttons(ctx context.Context, ch channel.Channel, chatID, text string, rows [][]channel.Button) {
	d.deliver(ctx, ch, "send_buttons", func(ctx context.Context) error {
		return ch.SendButtons(ctx, chatID, text, rows)
	})
}

// deliver retries transport failures. Replies are detached from event
// cancellation so an aborted upload still gets its follow-up message.
func (d *Dispatcher) deliver(ctx context.Context, ch channel.Channel, op string, fn func(context.Context) error) {
	err := reliability.Retry(context.WithoutCancel(ctx), d.send, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil {
			d.metrics.ObserveTransportError(ch.Name(), op)
		}
		return err
	})
	if err != nil {
		d.logger.Warn("reply delivery failed", "channel", ch.Name(), "op", op, "error", err)
	}
}

// Package telegram connects the bot to the Telegram Bot API by long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ent0n29/voxcollect/internal/channel"
	"github.com/ent0n29/voxcollect/internal/reliability"
)

// Name is the channel name used in metrics and mailbox keys.
const Name = "telegram"

// API is the subset of *tgbotapi.BotAPI the adapter uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Commands is the menu registered with Telegram on startup.
var Commands = []tgbotapi.BotCommand{
	{Command: "skip", Description: "Skip the current text"},
	{Command: "change_language", Description: "Change your language"},
	{Command: "stats", Description: "View dataset statistics"},
	{Command: "cancel", Description: "Cancel the current conversation (to change gender)"},
}

// Adapter implements channel.Channel over a Telegram bot.
type Adapter struct {
	api      API
	download *http.Client
	logger   *slog.Logger

	pollTimeout int
}

// Connect authenticates with token and returns an adapter for the bot.
func Connect(token string, logger *slog.Logger) (*Adapter, error) {
	client := &http.Client{Timeout: 90 * time.Second}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	a := New(api, logger)
	a.logger.Info("telegram bot authorized", "username", api.Self.UserName)
	return a, nil
}

// New wraps an existing API client.
func New(api API, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		api:         api,
		download:    &http.Client{Timeout: 2 * time.Minute},
		logger:      logger.With("component", "telegram"),
		pollTimeout: 30,
	}
}

func (a *Adapter) Name() string { return Name }

// Run polls for updates and dispatches them to h until ctx is done.
func (a *Adapter) Run(ctx context.Context, h channel.Handler) error {
	if _, err := a.api.Request(tgbotapi.NewSetMyCommands(Commands...)); err != nil {
		a.logger.Warn("register command menu failed", "error", err)
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = a.pollTimeout
	updates := a.api.GetUpdatesChan(cfg)
	defer a.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			ev, ok := a.toEvent(upd)
			if !ok {
				continue
			}
			h.Dispatch(ctx, a, ev)
		}
	}
}

func (a *Adapter) toEvent(upd tgbotapi.Update) (channel.Event, bool) {
	if q := upd.CallbackQuery; q != nil {
		if q.From == nil {
			return channel.Event{}, false
		}
		chatID := q.From.ID
		if q.Message != nil && q.Message.Chat != nil {
			chatID = q.Message.Chat.ID
		}
		id := q.ID
		return channel.Event{
			Channel: Name,
			Kind:    channel.KindButtonCallback,
			UserID:  strconv.FormatInt(q.From.ID, 10),
			ChatID:  strconv.FormatInt(chatID, 10),
			Data:    q.Data,
			Ack: func(context.Context) error {
				_, err := a.api.Request(tgbotapi.NewCallback(id, ""))
				return classify("answer callback", err)
			},
		}, true
	}

	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return channel.Event{}, false
	}
	ev := channel.Event{
		Channel: Name,
		UserID:  strconv.FormatInt(msg.From.ID, 10),
		ChatID:  strconv.FormatInt(msg.Chat.ID, 10),
	}
	switch {
	case msg.IsCommand():
		ev.Kind = channel.KindTextCommand
		ev.Command = strings.ToLower(msg.Command())
		ev.Args = msg.CommandArguments()
	case msg.Voice != nil:
		ev.Kind = channel.KindFileUpload
		ev.Upload = &upload{adapter: a, fileID: msg.Voice.FileID, ext: extensionFor(msg.Voice.MimeType, "", "ogg")}
	case msg.Audio != nil:
		ev.Kind = channel.KindFileUpload
		ev.Upload = &upload{adapter: a, fileID: msg.Audio.FileID, ext: extensionFor(msg.Audio.MimeType, msg.Audio.FileName, "mp3")}
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "audio/"):
		ev.Kind = channel.KindFileUpload
		ev.Upload = &upload{adapter: a, fileID: msg.Document.FileID, ext: extensionFor(msg.Document.MimeType, msg.Document.FileName, "ogg")}
	default:
		return channel.Event{}, false
	}
	return ev, true
}

func (a *Adapter) SendText(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = a.api.Send(msg)
	return classify("send message", err)
}

func (a *Adapter) SendButtons(ctx context.Context, chatID, text string, rows [][]channel.Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = keyboard(rows)
	_, err = a.api.Send(msg)
	return classify("send keyboard", err)
}

// SendFile posts a voice message. chatID may be a numeric id or a public
// channel username such as "@voxcollect_archive".
func (a *Adapter) SendFile(ctx context.Context, chatID, path, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var voice tgbotapi.VoiceConfig
	if strings.HasPrefix(chatID, "@") {
		voice = tgbotapi.NewVoice(0, tgbotapi.FilePath(path))
		voice.ChannelUsername = chatID
	} else {
		id, err := parseChatID(chatID)
		if err != nil {
			return err
		}
		voice = tgbotapi.NewVoice(id, tgbotapi.FilePath(path))
	}
	voice.Caption = caption
	_, err := a.api.Send(voice)
	return classify("send voice", err)
}

func keyboard(rows [][]channel.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}

// classify maps Bot API failures onto the reliability kinds. Permanent API
// errors (bad request, blocked by user) stay unclassified so they are not
// retried.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 {
			return reliability.RateLimited(op, time.Duration(apiErr.RetryAfter)*time.Second, err)
		}
		if reliability.IsRetryableHTTPStatus(apiErr.Code) {
			return reliability.Transport(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return reliability.Transport(op, err)
}

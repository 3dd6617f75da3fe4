package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ent0n29/voxcollect/internal/channel"
	"github.com/ent0n29/voxcollect/internal/reliability"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
	fileURL  string
	updates  chan tgbotapi.Update
	stopped  bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(string) (string, error) { return f.fileURL, nil }

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func commandUpdate(userID int64, text string, length int) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: userID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

func TestToEventCommand(t *testing.T) {
	a := New(&fakeAPI{}, nil)
	ev, ok := a.toEvent(commandUpdate(42, "/change_language@VoxBot", 23))
	if !ok {
		t.Fatalf("toEvent() ok = false, want true")
	}
	if ev.Kind != channel.KindTextCommand || ev.Command != "change_language" || ev.UserID != "42" || ev.ChatID != "42" {
		t.Fatalf("toEvent() = %+v", ev)
	}
}

func TestToEventCallbackAcks(t *testing.T) {
	api := &fakeAPI{}
	a := New(api, nil)
	ev, ok := a.toEvent(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "q1",
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 70}},
		Data:    "female",
	}})
	if !ok {
		t.Fatalf("toEvent() ok = false, want true")
	}
	if ev.Kind != channel.KindButtonCallback || ev.Data != "female" || ev.UserID != "7" || ev.ChatID != "70" {
		t.Fatalf("toEvent() = %+v", ev)
	}
	if err := ev.Ack(context.Background()); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	cb, ok := api.requests[0].(tgbotapi.CallbackConfig)
	if !ok || cb.CallbackQueryID != "q1" {
		t.Fatalf("ack request = %#v, want callback for q1", api.requests[0])
	}
}

func TestToEventVoiceAndIgnoredText(t *testing.T) {
	a := New(&fakeAPI{}, nil)
	ev, ok := a.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		From:  &tgbotapi.User{ID: 1},
		Chat:  &tgbotapi.Chat{ID: 1},
		Voice: &tgbotapi.Voice{FileID: "f1", MimeType: "audio/ogg"},
	}})
	if !ok || ev.Kind != channel.KindFileUpload {
		t.Fatalf("toEvent(voice) = %+v, %v", ev, ok)
	}
	if ev.Upload.FileID() != "f1" || ev.Upload.Extension() != "ogg" {
		t.Fatalf("upload = %s.%s, want f1.ogg", ev.Upload.FileID(), ev.Upload.Extension())
	}

	if _, ok := a.toEvent(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: &tgbotapi.Chat{ID: 1},
		Text: "hello there",
	}}); ok {
		t.Fatalf("plain text should not produce an event")
	}
}

func TestUploadDownloadsFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		w.Write([]byte("OggS"))
	}))
	defer srv.Close()

	api := &fakeAPI{fileURL: srv.URL + "/file"}
	a := New(api, nil)
	rc, err := (&upload{adapter: a, fileID: "f", ext: "ogg"}).Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "OggS" {
		t.Fatalf("downloaded %q, want OggS", data)
	}

	api.fileURL = srv.URL + "/missing"
	if _, err := (&upload{adapter: a, fileID: "f"}).Open(context.Background()); err == nil || reliability.IsRetryable(err) {
		t.Fatalf("Open() on 404 error = %v, want permanent failure", err)
	}
}

func TestSendButtonsBuildsKeyboard(t *testing.T) {
	api := &fakeAPI{}
	a := New(api, nil)
	rows := [][]channel.Button{{{Label: "Accept", Data: "accept"}, {Label: "Retake", Data: "retake"}}}
	if err := a.SendButtons(context.Background(), "99", "confirm?", rows); err != nil {
		t.Fatalf("SendButtons() error = %v", err)
	}
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.sent[0])
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("ReplyMarkup = %#v", msg.ReplyMarkup)
	}
	if got := *kb.InlineKeyboard[0][1].CallbackData; got != "retake" {
		t.Fatalf("second button data = %q, want retake", got)
	}
	if msg.ChatID != 99 || msg.ParseMode != tgbotapi.ModeHTML {
		t.Fatalf("message = %+v", msg)
	}
}

func TestSendFileToChannelUsername(t *testing.T) {
	api := &fakeAPI{}
	a := New(api, nil)
	if err := a.SendFile(context.Background(), "@archive", "/tmp/voice_1.ogg", "awe"); err != nil {
		t.Fatalf("SendFile() error = %v", err)
	}
	voice := api.sent[0].(tgbotapi.VoiceConfig)
	if voice.ChannelUsername != "@archive" || voice.Caption != "awe" {
		t.Fatalf("voice = %+v", voice)
	}
}

func TestClassify(t *testing.T) {
	limited := classify("send", &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}})
	if got := reliability.RetryAfterOf(limited); got != 3*time.Second {
		t.Fatalf("RetryAfterOf() = %v, want 3s", got)
	}
	if !reliability.IsRetryable(classify("send", &tgbotapi.Error{Code: 502})) {
		t.Fatalf("502 should be retryable")
	}
	blocked := classify("send", &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"})
	if reliability.IsRetryable(blocked) {
		t.Fatalf("403 should not be retryable")
	}
	if !reliability.IsRetryable(classify("send", errors.New("dial tcp: i/o timeout"))) {
		t.Fatalf("network errors should be retryable")
	}
}

func TestRunDispatchesUntilCancelled(t *testing.T) {
	api := &fakeAPI{updates: make(chan tgbotapi.Update, 2)}
	a := New(api, nil)
	got := make(chan channel.Event, 2)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx, channel.HandlerFunc(func(_ context.Context, _ channel.Channel, ev channel.Event) {
			got <- ev
		}))
	}()
	api.updates <- commandUpdate(5, "/start", 6)

	select {
	case ev := <-got:
		if ev.Command != "start" {
			t.Fatalf("dispatched %+v, want start", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event dispatched")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.stopped {
		t.Fatalf("polling was not stopped")
	}
	if _, ok := api.requests[0].(tgbotapi.SetMyCommandsConfig); !ok {
		t.Fatalf("first request = %T, want SetMyCommandsConfig", api.requests[0])
	}
}

// Package webchat serves the collection flow to browser clients over a
// WebSocket, as a second channel next to Telegram.
package webchat

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voxcollect/internal/audio"
	"github.com/ent0n29/voxcollect/internal/channel"
	"github.com/ent0n29/voxcollect/internal/observability"
	"github.com/ent0n29/voxcollect/internal/protocol"
	"github.com/ent0n29/voxcollect/internal/reliability"
)

// Name is the channel name used in metrics and mailbox keys.
const Name = "webchat"

// UserIDPrefix starts every user id the gateway hands out.
const UserIDPrefix = "web-"

// ErrNotConnected is returned when replying to a user with no open socket.
var ErrNotConnected = errors.New("webchat: user not connected")

var allowedFormats = map[string]bool{
	"ogg": true, "webm": true, "wav": true, "mp3": true, "m4a": true,
}

type Options struct {
	AllowAnyOrigin bool
	SendTimeout    time.Duration
	Metrics        *observability.Metrics
	Logger         *slog.Logger
}

// Gateway implements channel.Channel for WebSocket clients. The chat id of
// a browser user is its user id.
type Gateway struct {
	handler     channel.Handler
	metrics     *observability.Metrics
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	sendTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*conn
}

type conn struct {
	out  chan any
	done chan struct{}
}

func New(h channel.Handler, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	allowAny := opts.AllowAnyOrigin
	return &Gateway{
		handler:     h,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "webchat"),
		sendTimeout: opts.SendTimeout,
		conns:       make(map[string]*conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAny {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (g *Gateway) Name() string { return Name }

// Connected reports whether userID has an open socket.
func (g *Gateway) Connected(userID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.conns[userID]
	return ok
}

func (g *Gateway) SendText(ctx context.Context, chatID, text string) error {
	return g.push(ctx, chatID, protocol.ServerText{Type: protocol.TypeServerText, Text: text, Format: "html"})
}

func (g *Gateway) SendButtons(ctx context.Context, chatID, text string, rows [][]channel.Button) error {
	out := make([][]protocol.Button, 0, len(rows))
	for _, row := range rows {
		r := make([]protocol.Button, 0, len(row))
		for _, b := range row {
			r = append(r, protocol.Button{Label: b.Label, Data: b.Data})
		}
		out = append(out, r)
	}
	return g.push(ctx, chatID, protocol.ServerButtons{Type: protocol.TypeServerButtons, Text: text, Format: "html", Rows: out})
}

func (g *Gateway) SendFile(ctx context.Context, chatID, path, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("webchat send file: %w", err)
	}
	return g.push(ctx, chatID, protocol.ServerFile{
		Type:        protocol.TypeServerFile,
		FileName:    filepath.Base(path),
		Caption:     caption,
		AudioBase64: base64.StdEncoding.EncodeToString(data),
	})
}

func (g *Gateway) push(ctx context.Context, chatID string, msg any) error {
	g.mu.RLock()
	c, ok := g.conns[chatID]
	g.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	timer := time.NewTimer(g.sendTimeout)
	defer timer.Stop()
	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return reliability.Transport("webchat send", errors.New("client outbound queue full"))
	}
}

func (g *Gateway) register(userID string, c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[userID]; ok {
		g.logger.Info("replacing existing connection", "user_id", userID)
	}
	g.conns[userID] = c
}

func (g *Gateway) unregister(userID string, c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conns[userID] == c {
		delete(g.conns, userID)
	}
}

// ServeHTTP upgrades the request and runs the connection. Clients resume
// their session by passing back the ?user_id= they were assigned; any id
// outside the web- namespace is replaced by a fresh one.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if !strings.HasPrefix(userID, UserIDPrefix) || len(userID) == len(UserIDPrefix) {
		if userID != "" {
			g.logger.Warn("refusing client user id", "user_id", userID)
		}
		userID = UserIDPrefix + uuid.NewString()
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{out: make(chan any, 64), done: make(chan struct{})}
	g.register(userID, c)
	defer g.unregister(userID, c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.out:
				_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := ws.WriteJSON(msg); err != nil {
					g.metrics.ObserveTransportError(Name, "write_json")
					cancel()
					return
				}
			}
		}
	}()

	c.out <- protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "session_ready", UserID: userID}
	g.logger.Info("client connected", "user_id", userID)

	ws.SetReadLimit(8 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(120 * time.Second))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	// Events outlive the socket so a queued accept still completes after a
	// disconnect; only its replies are lost.
	eventCtx := context.WithoutCancel(ctx)
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		ev, err := toEvent(userID, data)
		if err != nil {
			g.reject(c, err)
			continue
		}
		g.handler.Dispatch(eventCtx, g, ev)
	}

	cancel()
	close(c.done)
	<-writerDone
	g.logger.Info("client disconnected", "user_id", userID)
}

func (g *Gateway) reject(c *conn, err error) {
	g.logger.Debug("invalid client message", "error", err)
	select {
	case c.out <- protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "invalid_client_message", Detail: err.Error()}:
	default:
		// Keep websocket writes single-threaded; drop if the queue is saturated.
	}
}

func toEvent(userID string, raw []byte) (channel.Event, error) {
	parsed, err := protocol.ParseClientMessage(raw)
	if err != nil {
		return channel.Event{}, err
	}
	ev := channel.Event{Channel: Name, UserID: userID, ChatID: userID}
	switch m := parsed.(type) {
	case protocol.ClientCommand:
		ev.Kind = channel.KindTextCommand
		ev.Command = m.Command
		ev.Args = m.Args
	case protocol.ClientButton:
		ev.Kind = channel.KindButtonCallback
		ev.Data = m.Data
	case protocol.ClientAudio:
		up, err := decodeAudio(m)
		if err != nil {
			return channel.Event{}, err
		}
		ev.Kind = channel.KindFileUpload
		ev.Upload = up
	default:
		return channel.Event{}, protocol.ErrUnsupportedType
	}
	return ev, nil
}

func decodeAudio(m protocol.ClientAudio) (*upload, error) {
	data, err := base64.StdEncoding.DecodeString(m.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid audio_base64: %w", err)
	}
	if m.Format == protocol.FormatPCM16 {
		r, err := audio.WAVReader(data, m.SampleRate)
		if err != nil {
			return nil, err
		}
		wav, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return &upload{id: uuid.NewString(), data: wav, ext: "wav"}, nil
	}
	if !allowedFormats[m.Format] {
		return nil, fmt.Errorf("unsupported audio format %q", m.Format)
	}
	return &upload{id: uuid.NewString(), data: data, ext: m.Format}, nil
}

// upload is an audio payload already received over the socket.
type upload struct {
	id   string
	data []byte
	ext  string
}

func (u *upload) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(u.data)), nil
}

func (u *upload) Extension() string { return u.ext }

func (u *upload) FileID() string { return u.id }

// Command perfcollect drives synthetic contributors through the web chat
// socket and reports how long each step of the collection loop takes.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voxcollect/internal/audio"
	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/protocol"
	"github.com/ent0n29/voxcollect/internal/session"
)

type options struct {
	baseURL     string
	users       int
	recordings  int
	language    string
	gender      string
	wavPath     string
	stepTimeout time.Duration
	verbose     bool
}

type wsEnvelope struct {
	Type   string `json:"type"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
	Text   string `json:"text,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

type clip struct {
	pcm        []byte
	sampleRate int
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfcollect: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfcollect: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var stepTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voxcollect base URL")
	flag.IntVar(&cfg.users, "users", 4, "number of concurrent synthetic contributors")
	flag.IntVar(&cfg.recordings, "recordings", 5, "accepted recordings per contributor")
	flag.StringVar(&cfg.language, "language", string(corpus.Hawrami), "language code to record in")
	flag.StringVar(&cfg.gender, "gender", "female", "gender button to press")
	flag.StringVar(&cfg.wavPath, "wav", "", "PCM16 WAV clip to upload (default: generated tone)")
	flag.IntVar(&stepTimeoutMS, "step-timeout-ms", 15000, "timeout per protocol step in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", false, "print per-step progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.users <= 0 || cfg.recordings <= 0 {
		return options{}, fmt.Errorf("users and recordings must be > 0")
	}
	if _, ok := corpus.ParseLanguage(cfg.language); !ok {
		return options{}, fmt.Errorf("unsupported language %q", cfg.language)
	}
	if _, ok := session.ParseGender(cfg.gender); !ok {
		return options{}, fmt.Errorf("gender must be male or female")
	}
	if stepTimeoutMS < 1000 {
		stepTimeoutMS = 1000
	}
	cfg.stepTimeout = time.Duration(stepTimeoutMS) * time.Millisecond
	return cfg, nil
}

func loadClip(path string) (clip, error) {
	if path == "" {
		return clip{pcm: audio.Tone(1.5, 16000, 220), sampleRate: 16000}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return clip{}, err
	}
	pcm, rate, err := audio.ReadWAV(data)
	if err != nil {
		return clip{}, err
	}
	return clip{pcm: pcm, sampleRate: rate}, nil
}

func run(cfg options) error {
	c, err := loadClip(cfg.wavPath)
	if err != nil {
		return fmt.Errorf("prepare clip: %w", err)
	}
	wsURL, err := chatURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	samples := newSamples()
	errs := make(chan error, cfg.users)
	var wg sync.WaitGroup
	for i := 0; i < cfg.users; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("web-perf-%d-%d", time.Now().Unix(), n)
			if err := contribute(ctx, cfg, wsURL, userID, c, samples); err != nil {
				errs <- fmt.Errorf("%s: %w", userID, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	samples.print(os.Stdout)
	failed := 0
	for err := range errs {
		failed++
		fmt.Fprintf(os.Stderr, "perfcollect: %v\n", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d contributors failed", failed, cfg.users)
	}
	return nil
}

func chatURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	return u.String(), nil
}

// conversation wraps one socket with a reader goroutine.
type conversation struct {
	conn    *websocket.Conn
	inbound chan wsEnvelope
	readErr chan error
	timeout time.Duration
	verbose bool
	userID  string
}

func dial(ctx context.Context, wsURL, userID string, timeout time.Duration, verbose bool) (*conversation, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL+"?user_id="+url.QueryEscape(userID), nil)
	if err != nil {
		return nil, err
	}
	c := &conversation{
		conn:    conn,
		inbound: make(chan wsEnvelope, 64),
		readErr: make(chan error, 1),
		timeout: timeout,
		verbose: verbose,
		userID:  userID,
	}
	go c.readLoop()
	return c, nil
}

func (c *conversation) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if c.verbose {
			fmt.Printf("perfcollect: %s <- %s %q\n", c.userID, env.Type, env.Text)
		}
		c.inbound <- env
	}
}

// await skips messages until one matches.
func (c *conversation) await(match func(wsEnvelope) bool) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-c.inbound:
			if env.Type == string(protocol.TypeErrorEvent) {
				return fmt.Errorf("error_event %s: %s", env.Code, env.Detail)
			}
			if match(env) {
				return nil
			}
		case err := <-c.readErr:
			return err
		case <-timer.C:
			return fmt.Errorf("timeout after %s", c.timeout)
		}
	}
}

func isType(t protocol.MessageType) func(wsEnvelope) bool {
	return func(env wsEnvelope) bool { return env.Type == string(t) }
}

func isPrompt(env wsEnvelope) bool {
	return env.Type == string(protocol.TypeServerText) && strings.HasPrefix(env.Text, "📢")
}

func contribute(ctx context.Context, cfg options, wsURL, userID string, c clip, samples *samples) error {
	conv, err := dial(ctx, wsURL, userID, cfg.stepTimeout, cfg.verbose)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conv.conn.Close()

	if err := conv.await(isType(protocol.TypeSystemEvent)); err != nil {
		return fmt.Errorf("await session_ready: %w", err)
	}

	steps := []struct {
		name  string
		send  any
		until func(wsEnvelope) bool
	}{
		{"start", protocol.ClientCommand{Type: protocol.TypeClientCommand, Command: "start"}, isType(protocol.TypeServerButtons)},
		{"gender", protocol.ClientButton{Type: protocol.TypeClientButton, Data: cfg.gender}, isType(protocol.TypeServerButtons)},
		{"language", protocol.ClientButton{Type: protocol.TypeClientButton, Data: cfg.language}, isPrompt},
	}
	for _, step := range steps {
		if err := timed(samples, step.name, func() error {
			if err := conv.conn.WriteJSON(step.send); err != nil {
				return err
			}
			return conv.await(step.until)
		}); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	upload := protocol.ClientAudio{
		Type:        protocol.TypeClientAudio,
		Format:      protocol.FormatPCM16,
		AudioBase64: base64.StdEncoding.EncodeToString(c.pcm),
		SampleRate:  c.sampleRate,
	}
	accept := protocol.ClientButton{Type: protocol.TypeClientButton, Data: session.DecisionAccept}
	for i := 0; i < cfg.recordings; i++ {
		if err := timed(samples, "upload_to_confirm", func() error {
			if err := conv.conn.WriteJSON(upload); err != nil {
				return err
			}
			return conv.await(isType(protocol.TypeServerButtons))
		}); err != nil {
			return fmt.Errorf("recording %d upload: %w", i+1, err)
		}
		if err := timed(samples, "accept_to_prompt", func() error {
			if err := conv.conn.WriteJSON(accept); err != nil {
				return err
			}
			return conv.await(isPrompt)
		}); err != nil {
			return fmt.Errorf("recording %d accept: %w", i+1, err)
		}
	}
	return nil
}

func timed(s *samples, step string, fn func() error) error {
	start := time.Now()
	err := fn()
	if err == nil {
		s.add(step, time.Since(start))
	}
	return err
}

type samples struct {
	mu    sync.Mutex
	steps map[string][]time.Duration
}

func newSamples() *samples {
	return &samples{steps: make(map[string][]time.Duration)}
}

func (s *samples) add(step string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[step] = append(s.steps[step], d)
}

func (s *samples) print(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.steps))
	for name := range s.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "%-18s %6s %10s %10s %10s\n", "step", "n", "p50_ms", "p95_ms", "max_ms")
	for _, name := range names {
		d := append([]time.Duration(nil), s.steps[name]...)
		sort.Slice(d, func(i, j int) bool { return d[i] < d[j] })
		fmt.Fprintf(w, "%-18s %6d %10.1f %10.1f %10.1f\n", name, len(d),
			ms(percentile(d, 0.50)), ms(percentile(d, 0.95)), ms(d[len(d)-1]))
	}
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

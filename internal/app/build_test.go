package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/voxcollect/internal/config"
	"github.com/ent0n29/voxcollect/internal/corpus"
	"github.com/ent0n29/voxcollect/internal/ledger"
	"github.com/ent0n29/voxcollect/internal/observability"
)

type fixedProbe float64

func (p fixedProbe) Duration(context.Context, string) float64 { return float64(p) }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	langDir := filepath.Join(dir, "languages")
	if err := os.MkdirAll(langDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	doc := "english,sentence\none,yek\ntwo,dwe\n"
	if err := os.WriteFile(corpus.CorpusPath(langDir, corpus.Hawrami), []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return config.Config{
		MetricsNamespace:  "test_app",
		DatasetDir:        filepath.Join(dir, "dataset"),
		LangDir:           langDir,
		CounterPath:       filepath.Join(dir, "voice_counter.json"),
		CounterBase:       100010,
		LedgerBackend:     ledger.BackendCSV,
		WebchatEnabled:    true,
		SendRetryAttempts: 1,
	}
}

func build(t *testing.T, cfg config.Config) *BuildResult {
	t.Helper()
	res, err := Build(context.Background(), cfg, Options{
		Metrics: observability.NewMetrics("test_app", prometheus.NewRegistry()),
		Probe:   fixedProbe(1.5),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	t.Cleanup(func() {
		if err := res.Cleanup(); err != nil {
			t.Errorf("Cleanup() error = %v", err)
		}
	})
	return res
}

func TestBuildRaisesCounterPastLedger(t *testing.T) {
	cfg := testConfig(t)
	store, err := ledger.NewCSVStore(cfg.DatasetDir)
	if err != nil {
		t.Fatalf("NewCSVStore() error = %v", err)
	}
	if err := store.Append(context.Background(), ledger.Record{
		RecordingID: 100500,
		FileName:    ledger.FileName(100500, "ogg"),
		Sentence:    "yek",
		English:     "one",
		Gender:      "male",
		Language:    corpus.Hawrami,
		UserID:      "7",
	}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	res := build(t, cfg)
	if got := res.Counter.Peek(); got != 100501 {
		t.Fatalf("Counter.Peek() = %d, want 100501", got)
	}
	if total, recorded := res.Pool.Stats(corpus.Hawrami); total != 2 || recorded != 1 {
		t.Fatalf("Pool.Stats() = %d/%d, want 2/1", total, recorded)
	}
	if res.Telegram != nil {
		t.Fatalf("Telegram adapter built without a token")
	}
}

func TestBuildServesStatsAndChat(t *testing.T) {
	res := build(t, testConfig(t))
	if res.Webchat == nil {
		t.Fatalf("Webchat gateway missing")
	}

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()

	r, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats error = %v", err)
	}
	defer r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/stats status = %d", r.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := payload["corpus"]; !ok {
		t.Fatalf("stats missing corpus section: %v", payload)
	}

	ready, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	ready.Body.Close()
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("GET /readyz status = %d", ready.StatusCode)
	}
}

func TestBuildRequiresAChannel(t *testing.T) {
	cfg := testConfig(t)
	cfg.WebchatEnabled = false
	if _, err := Build(context.Background(), cfg, Options{
		Metrics: observability.NewMetrics("test_app", prometheus.NewRegistry()),
	}); err == nil {
		t.Fatalf("Build() error = nil, want no-channel error")
	}
}

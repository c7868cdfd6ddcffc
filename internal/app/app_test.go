package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/chunkscribe/internal/app"
	"github.com/MrWong99/chunkscribe/internal/config"
	"github.com/MrWong99/chunkscribe/internal/observe"
	"github.com/MrWong99/chunkscribe/internal/resilience"
	"github.com/MrWong99/chunkscribe/pkg/audio"
	sttmock "github.com/MrWong99/chunkscribe/pkg/provider/stt/mock"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
	vadmock "github.com/MrWong99/chunkscribe/pkg/provider/vad/mock"
)

const rate = 16000

// testConfig returns a defaulted config whose work directory is private to
// the test.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Providers: config.ProvidersConfig{
			VAD: config.ProviderEntry{Name: "energy"},
			STT: config.ProviderEntry{Name: "whisper"},
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Pipeline.WorkDir = t.TempDir()
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// closingEngine counts Close calls on top of the engine mock.
type closingEngine struct {
	sttmock.Engine
	closed atomic.Int32
}

func (e *closingEngine) Close() error {
	e.closed.Add(1)
	return nil
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.NotFoundHandler()),
	}
	a, err := app.New(cfg, providers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a
}

func toneWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	samples := make([]float32, int(seconds*rate))
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := audio.WriteWAV(path, samples, rate); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func upload(t *testing.T, h http.Handler, name string, data []byte) (int, map[string]string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.WriteField("source_lang", "pl")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, out
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	tests := []struct {
		name      string
		cfg       *config.Config
		providers *app.Providers
	}{
		{"nil config", nil, &app.Providers{VAD: &vadmock.Detector{}, STT: &sttmock.Engine{}}},
		{"nil providers", cfg, nil},
		{"missing vad", cfg, &app.Providers{STT: &sttmock.Engine{}}},
		{"missing stt", cfg, &app.Providers{VAD: &vadmock.Detector{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := app.New(tt.cfg, tt.providers); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestNew_InvalidPipelineConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Pipeline.PackingMode = "greedy"
	_, err := app.New(cfg, &app.Providers{VAD: &vadmock.Detector{}, STT: &sttmock.Engine{}})
	if err == nil {
		t.Fatal("New() succeeded with an unknown packing mode")
	}
}

func TestApp_TranscribesUpload(t *testing.T) {
	t.Parallel()
	det := &vadmock.Detector{Intervals: []vad.Interval{{Start: 0, End: rate}}}
	eng := &sttmock.Engine{Texts: []string{" Dzień dobry. "}}
	a := newApp(t, testConfig(t), &app.Providers{VAD: det, STT: eng})

	code, body := upload(t, a.Handler(), "greeting.wav", toneWAV(t, 1.5))
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, body)
	}
	if body["text"] != "Dzień dobry." {
		t.Errorf("text = %q", body["text"])
	}
	if got := eng.CallCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	if lang := eng.TranscribeCalls[0].Req.Language.Source; lang != "pl" {
		t.Errorf("source language = %q, want pl", lang)
	}
}

func TestApp_BreakerFailsFast(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.CircuitBreaker.MaxFailures = 1
	cfg.CircuitBreaker.ResetTimeout = time.Hour

	det := &vadmock.Detector{Intervals: []vad.Interval{{Start: 0, End: rate}}}
	eng := &sttmock.Engine{TranscribeErr: errors.New("model server returned 500")}
	a := newApp(t, cfg, &app.Providers{VAD: det, STT: eng, STTName: "whisper"})
	h := a.Handler()
	data := toneWAV(t, 1)

	if code, _ := upload(t, h, "a.wav", data); code != http.StatusBadGateway {
		t.Errorf("first request status = %d, want 502", code)
	}
	if code, _ := upload(t, h, "a.wav", data); code != http.StatusServiceUnavailable {
		t.Errorf("second request status = %d, want 503", code)
	}
	if got := eng.CallCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	if a.Breaker().State() != resilience.StateOpen {
		t.Errorf("breaker state = %s, want open", a.Breaker().State())
	}
	if a.Breaker().Name() != "whisper" {
		t.Errorf("breaker name = %q", a.Breaker().Name())
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz status = %d, want 503", rec.Code)
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	lv := new(slog.LevelVar)
	det := &vadmock.Detector{Intervals: []vad.Interval{{Start: 0, End: rate}}}
	eng := &sttmock.Engine{TextFunc: func(i int, _ string) string { return fmt.Sprint(i) }}
	a := newApp(t, cfg, &app.Providers{VAD: det, STT: eng}, app.WithLevelVar(lv))
	before := a.Pipeline()

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Pipeline.BatchSize = 2
	next.Providers.STT.Model = "large-v3"

	if err := a.ApplyConfig(cfg, &next); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %s, want debug", lv.Level())
	}
	after := a.Pipeline()
	if after == before {
		t.Fatal("pipeline not rebuilt")
	}
	if after.Config().BatchSize != 2 {
		t.Errorf("batch size = %d, want 2", after.Config().BatchSize)
	}

	code, _ := upload(t, a.Handler(), "a.wav", toneWAV(t, 1))
	if code != http.StatusOK {
		t.Fatalf("status after reload = %d", code)
	}
	if bs := eng.TranscribeCalls[0].Req.BatchSize; bs != 2 {
		t.Errorf("request batch size = %d, want 2", bs)
	}
}

func TestApp_ApplyConfigKeepsPipelineOnError(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a := newApp(t, cfg, &app.Providers{VAD: &vadmock.Detector{}, STT: &sttmock.Engine{}})
	before := a.Pipeline()

	next := *cfg
	next.Pipeline.PackingMode = "greedy"
	if err := a.ApplyConfig(cfg, &next); err == nil {
		t.Fatal("ApplyConfig accepted an invalid pipeline")
	}
	if a.Pipeline() != before {
		t.Error("pipeline replaced despite invalid config")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()
	eng := &closingEngine{}
	a := newApp(t, testConfig(t), &app.Providers{VAD: &vadmock.Detector{}, STT: eng})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if got := eng.closed.Load(); got != 1 {
		t.Errorf("engine Close calls = %d, want 1", got)
	}
}

func TestApp_ShutdownDeadline(t *testing.T) {
	t.Parallel()
	eng := &closingEngine{}
	a := newApp(t, testConfig(t), &app.Providers{VAD: &vadmock.Detector{}, STT: eng})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown() = %v, want context.Canceled", err)
	}
	if got := eng.closed.Load(); got != 0 {
		t.Errorf("engine Close calls = %d, want 0", got)
	}
}

func TestApp_RunAndShutdown(t *testing.T) {
	t.Parallel()
	a := newApp(t, testConfig(t), &app.Providers{VAD: &vadmock.Detector{}, STT: &sttmock.Engine{}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}
}

func TestApp_RunListenError(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Server.ListenAddr = "256.0.0.1:99999"
	a := newApp(t, cfg, &app.Providers{VAD: &vadmock.Detector{}, STT: &sttmock.Engine{}})
	if err := a.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded on an invalid address")
	}
}

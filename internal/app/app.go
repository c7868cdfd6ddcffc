// Package app wires the chunkscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the pipeline, the
// guarded transcription engine, readiness checks and the HTTP server; Run
// serves until the context ends; Shutdown releases the providers in order.
//
// Providers are constructed by main.go from the config registry and handed in
// through [Providers], so tests can substitute mocks for every backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/chunkscribe/internal/config"
	"github.com/MrWong99/chunkscribe/internal/health"
	"github.com/MrWong99/chunkscribe/internal/observe"
	"github.com/MrWong99/chunkscribe/internal/pipeline"
	"github.com/MrWong99/chunkscribe/internal/resilience"
	"github.com/MrWong99/chunkscribe/internal/server"
	"github.com/MrWong99/chunkscribe/pkg/audio"
	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
	"github.com/MrWong99/chunkscribe/pkg/provider/vad"
)

// shutdownGrace bounds how long in-flight requests may run once Run's
// context is cancelled.
const shutdownGrace = 30 * time.Second

// Providers holds the backends selected in the config. Both are required.
type Providers struct {
	VAD vad.Detector
	STT stt.Engine

	// STTName labels engine metrics and the circuit breaker. Defaults to
	// the configured provider name.
	STTName string

	// STTHealthURL, when set, is probed by the readiness endpoint.
	STTHealthURL string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	decodeOpts     []audio.DecodeOption

	engine *resilience.Engine
	health *health.Handler
	server *server.Server

	mu       sync.RWMutex
	pipeline *pipeline.Pipeline
	addr     net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records pipeline and HTTP metrics on m instead of the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics instead of the Prometheus handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets ApplyConfig change the log level of the handler that
// reads lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithDecodeOptions passes extra options to every audio decode.
func WithDecodeOptions(opts ...audio.DecodeOption) Option {
	return func(a *App) { a.decodeOpts = append(a.decodeOpts, opts...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the constructed providers. Providers that
// implement [io.Closer] are closed by Shutdown.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is nil")
	}
	if providers == nil || providers.VAD == nil || providers.STT == nil {
		return nil, errors.New("app: vad and stt providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	// ── 1. Provider lifetimes ────────────────────────────────────────────
	for _, p := range []any{providers.VAD, providers.STT} {
		if c, ok := p.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	// ── 2. Guarded engine ────────────────────────────────────────────────
	name := providers.STTName
	if name == "" {
		name = cfg.Providers.STT.Name
	}
	a.engine = resilience.NewEngine(providers.STT, resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  cfg.CircuitBreaker.MaxFailures,
		ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
	})

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	p, err := a.buildPipeline(cfg)
	if err != nil {
		return nil, err
	}
	a.pipeline = p

	// ── 4. Readiness ─────────────────────────────────────────────────────
	pc := p.Config()
	checks := []health.Checker{
		health.BreakerCheck("engine", a.engine.Breaker()),
		health.BinaryCheck("ffmpeg", pc.FFmpegPath),
		health.WritableDirCheck("work_dir", pc.WorkDir),
	}
	if providers.STTHealthURL != "" {
		checks = append(checks, health.HTTPCheck("engine_endpoint", providers.STTHealthURL, &http.Client{Timeout: 5 * time.Second}))
	}
	a.health = health.New(checks...)

	// ── 5. HTTP server ───────────────────────────────────────────────────
	srvOpts := []server.Option{
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
		server.WithRequestTimeout(cfg.Server.RequestTimeout),
		server.WithUploadDir(pc.WorkDir),
	}
	if a.metricsHandler != nil {
		srvOpts = append(srvOpts, server.WithMetricsHandler(a.metricsHandler))
	}
	a.server = server.New(p, srvOpts...)

	return a, nil
}

func (a *App) buildPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	pc, err := cfg.PipelineConfig()
	if err != nil {
		return nil, fmt.Errorf("app: pipeline config: %w", err)
	}
	p, err := pipeline.New(pc, a.providers.VAD, a.engine,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithEngineName(a.engine.Breaker().Name()),
		pipeline.WithDecodeOptions(a.decodeOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build pipeline: %w", err)
	}
	return p, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Pipeline returns the pipeline used for new requests.
func (a *App) Pipeline() *pipeline.Pipeline {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pipeline
}

// Handler returns the HTTP handler of the transcription service.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Breaker returns the circuit breaker guarding the transcription engine.
func (a *App) Breaker() *resilience.CircuitBreaker { return a.engine.Breaker() }

// Addr returns the address Run is listening on, or nil before it listens.
func (a *App) Addr() net.Addr {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.addr
}

// TranscribeFile runs the current pipeline on a local file. It is the
// one-shot entry point used by the command line.
func (a *App) TranscribeFile(ctx context.Context, path, sourceLang, targetLang string) (string, error) {
	return a.Pipeline().TranscribeFile(ctx, path, sourceLang, targetLang)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on cfg.Server.ListenAddr and blocks until ctx is
// cancelled or the listener fails. On cancellation in-flight requests get a
// grace period to finish and Run returns nil.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	srv := &http.Server{
		Handler:           otelhttp.NewHandler(a.server.Handler(), "chunkscribe"),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		errCh <- err
	}()

	slog.Info("server listening",
		"addr", ln.Addr().String(),
		"tls", a.cfg.Server.TLS != nil,
		"vad", a.cfg.Providers.VAD.Name,
		"stt", a.cfg.Providers.STT.Name,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: graceful shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the live-reloadable parts of next: the log level and
// the pipeline and vad sections. Other changes are logged and take effect on
// the next restart. When next's pipeline settings are invalid the current
// pipeline stays in place and the error is returned.
func (a *App) ApplyConfig(prev, next *config.Config) error {
	d := config.Diff(prev, next)
	if d.Empty() {
		return nil
	}

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	var err error
	if d.PipelineChanged {
		var p *pipeline.Pipeline
		p, err = a.buildPipeline(next)
		if err == nil {
			a.mu.Lock()
			a.pipeline = p
			a.mu.Unlock()
			a.server.SetTranscriber(p)
			slog.Info("pipeline settings reloaded")
		}
	}

	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the providers in order. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

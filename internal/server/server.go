// Package server exposes the transcription pipeline over HTTP.
//
// Routes:
//
//   - POST /v1/transcriptions: multipart form with a "file" part and optional
//     "source_lang" and "target_lang" fields. Responds {"text": "..."}.
//   - GET /healthz, GET /readyz: see package health.
//   - GET /metrics: Prometheus exposition of the OpenTelemetry metrics.
//
// Errors are JSON objects {"error": "..."} with a status derived from the
// pipeline's error class.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/chunkscribe/internal/health"
	"github.com/MrWong99/chunkscribe/internal/observe"
	"github.com/MrWong99/chunkscribe/internal/pipeline"
	"github.com/MrWong99/chunkscribe/internal/resilience"
	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
)

const (
	defaultMaxUploadBytes = 512 << 20

	// maxFieldBytes bounds the non-file form fields.
	maxFieldBytes = 1 << 10
)

// Transcriber is the pipeline surface the server needs.
type Transcriber interface {
	CheckRequest(audioPath, sourceLang, targetLang string) (stt.LanguageConfig, error)
	TranscribeFile(ctx context.Context, audioPath, sourceLang, targetLang string) (string, error)
}

// Compile-time interface assertion.
var _ Transcriber = (*pipeline.Pipeline)(nil)

// Server routes HTTP requests to a [Transcriber]. The transcriber can be
// swapped at runtime with [Server.SetTranscriber]; requests already in flight
// finish on the old one.
type Server struct {
	mu          sync.RWMutex
	transcriber Transcriber

	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	maxUpload      int64
	requestTimeout time.Duration
	uploadDir      string
}

// Option is a functional option for [New].
type Option func(*Server)

// WithHealth serves h on /healthz and /readyz. Default: a handler without
// readiness checks.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records HTTP request durations on m. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on /metrics. Default: [observe.MetricsHandler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMaxUploadBytes caps the request body size. Default: 512 MiB.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithRequestTimeout bounds each transcription request. Zero disables the
// limit.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithUploadDir stores uploads below dir instead of the system temp
// directory.
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// New returns a server backed by t.
func New(t Transcriber, opts ...Option) *Server {
	s := &Server{
		transcriber: t,
		maxUpload:   defaultMaxUploadBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = observe.MetricsHandler()
	}
	return s
}

// SetTranscriber replaces the transcriber used by new requests.
func (s *Server) SetTranscriber(t Transcriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcriber = t
}

func (s *Server) current() Transcriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcriber
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.metrics))

	r.Get("/healthz", s.health.Healthz)
	r.Get("/readyz", s.health.Readyz)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/transcriptions", s.handleTranscribe)
	})
	return r
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}
	log := observe.Logger(ctx).With("request_id", middleware.GetReqID(ctx))

	if r.ContentLength > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.maxUpload))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	t := s.current()
	u, status, err := s.readUpload(r, t)
	if err != nil {
		if status >= http.StatusInternalServerError {
			log.Error("failed to store upload", "err", err)
			err = errors.New("failed to store upload")
		}
		writeError(w, status, err)
		return
	}
	defer os.Remove(u.path)

	text, err := t.TranscribeFile(ctx, u.path, u.source, u.target)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Warn("transcription request failed", "file", u.name, "status", status, "err", err)
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, transcriptionResponse{Text: text})
}

// upload is a transcription request whose audio has been written to path.
type upload struct {
	name   string
	path   string
	source string
	target string
}

// readUpload streams the multipart body of r. The file part is checked
// against t by its client filename, together with the language fields sent
// before it, before anything is written to disk. Once the whole body is read
// the request is checked again with the final language fields. On error the
// spooled file, if any, is removed and the HTTP status to answer with is
// returned.
func (s *Server) readUpload(r *http.Request, t Transcriber) (u upload, status int, err error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return u, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err)
	}
	defer func() {
		if err != nil && u.path != "" {
			os.Remove(u.path)
			u.path = ""
		}
	}()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return u, readStatus(err), fmt.Errorf("parse multipart form: %w", err)
		}

		switch part.FormName() {
		case "source_lang", "target_lang":
			v, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			if err != nil {
				return u, readStatus(err), fmt.Errorf("form field %q: %w", part.FormName(), err)
			}
			if len(v) > maxFieldBytes {
				return u, http.StatusBadRequest, fmt.Errorf("form field %q exceeds %d bytes", part.FormName(), maxFieldBytes)
			}
			if part.FormName() == "source_lang" {
				u.source = string(v)
			} else {
				u.target = string(v)
			}
		case "file":
			if u.path != "" {
				return u, http.StatusBadRequest, errors.New(`form field "file" given more than once`)
			}
			u.name = filepath.Base(part.FileName())
			if _, err := t.CheckRequest(u.name, u.source, u.target); err != nil {
				return u, statusFor(err), err
			}
			u.path, err = s.spool(part, filepath.Ext(u.name))
			if err != nil {
				return u, readStatus(err), err
			}
		}
		part.Close()
	}

	if u.path == "" {
		return u, http.StatusBadRequest, fmt.Errorf("form field %q: %w", "file", http.ErrMissingFile)
	}
	if _, err := t.CheckRequest(u.name, u.source, u.target); err != nil {
		return u, statusFor(err), err
	}
	return u, http.StatusOK, nil
}

// readStatus classifies an error hit while reading the request body.
func readStatus(err error) int {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, multipart.ErrMessageTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// spool copies src to a new file whose name ends in ext, so that the
// pipeline's format gate sees the client's extension.
func (s *Server) spool(src io.Reader, ext string) (path string, err error) {
	f, err := os.CreateTemp(s.uploadDir, "chunkscribe-upload-*"+strings.ToLower(ext))
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(f.Name())
		}
	}()
	if _, err := io.Copy(f, src); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// statusFor maps a pipeline error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedFormat),
		errors.Is(err, pipeline.ErrUnsupportedLanguage),
		errors.Is(err, stt.ErrUnsupportedTranslation):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrUndecodable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrUpstreamModel):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "err", err)
	}
}

// Package whisper provides whisper.cpp-backed transcription engines.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. Every chunk of a batch is uploaded as its own
// multipart request; up to BatchSize requests are kept in flight and the
// results are placed back by chunk index.
//
// [NativeProvider] links whisper.cpp directly through its CGO bindings and
// runs the same batch in-process.
//
// Whisper models only translate into English; any other target language that
// differs from the source yields [stt.ErrUnsupportedTranslation].
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithModel("large-v3"))
//	texts, err := p.Transcribe(ctx, stt.BatchRequest{
//	    Paths:     paths,
//	    BatchSize: 16,
//	    Language:  stt.LanguageConfig{Source: "pl", Target: "pl"},
//	})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
)

const defaultTimeout = 5 * time.Minute

// Compile-time assertion that Provider implements stt.Engine.
var _ stt.Engine = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "large-v3"). When empty the server uses whichever model it
// was started with; this is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithHTTPClient replaces the HTTP client. The default client has a 5 minute
// timeout per chunk.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithPromptTags makes the provider also send the source and target
// languages as prompt tags ("source_lang=<|pl|>", "target_lang=<|pl|>").
// Servers fronting tag-prompted models read these instead of "language".
func WithPromptTags(enabled bool) Option {
	return func(p *Provider) {
		p.promptTags = enabled
	}
}

// Provider implements stt.Engine backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	promptTags bool
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Engine.
func (p *Provider) Transcribe(ctx context.Context, req stt.BatchRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if err := stt.RequireEnglishTranslation("whisper", req.Language); err != nil {
		return nil, err
	}
	return stt.RunBatch(ctx, req.Paths, req.BatchSize, func(ctx context.Context, i int, path string) (string, error) {
		text, err := p.infer(ctx, path, req.Language)
		if err != nil {
			return "", fmt.Errorf("whisper: chunk %d: %w", i, err)
		}
		return text, nil
	})
}

// infer POSTs the WAV file at path to the /inference endpoint as
// multipart/form-data and returns the transcribed text.
func (p *Provider) infer(ctx context.Context, path string, lang stt.LanguageConfig) (string, error) {
	wav, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read chunk: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("write wav data: %w", err)
	}

	fields := [][2]string{
		{"language", lang.Source},
		{"translate", strconv.FormatBool(lang.Translate())},
		{"response_format", "json"},
	}
	if p.model != "" {
		fields = append(fields, [2]string{"model", p.model})
	}
	if p.promptTags {
		fields = append(fields,
			[2]string{"source_lang", lang.SourceTag()},
			[2]string{"target_lang", lang.TargetTag()},
		)
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	endpoint := p.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("parse JSON response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("server error: %s", result.Error)
	}
	return result.Text, nil
}

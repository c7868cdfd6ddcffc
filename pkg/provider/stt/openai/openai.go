// Package openai provides a transcription engine backed by the OpenAI audio
// API. Plain transcription uses /v1/audio/transcriptions; translation into
// English uses /v1/audio/translations.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Provider implements the stt.Engine interface.
var _ stt.Engine = (*Provider)(nil)

// Provider implements stt.Engine using the OpenAI API.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server speaking
// the OpenAI audio API (e.g., a local faster-whisper deployment) works.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. Takes precedence over WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = string(DefaultModel)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries would re-issue chunk uploads; failures surface directly.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: oai.AudioModel(model)}, nil
}

// Model returns the configured model identifier.
func (p *Provider) Model() string { return string(p.model) }

// Transcribe implements stt.Engine.
func (p *Provider) Transcribe(ctx context.Context, req stt.BatchRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("openai stt: %w", err)
	}
	if err := stt.RequireEnglishTranslation("openai stt", req.Language); err != nil {
		return nil, err
	}
	return stt.RunBatch(ctx, req.Paths, req.BatchSize, func(ctx context.Context, i int, path string) (string, error) {
		text, err := p.transcribeChunk(ctx, path, req.Language)
		if err != nil {
			return "", fmt.Errorf("openai stt: chunk %d: %w", i, err)
		}
		return text, nil
	})
}

func (p *Provider) transcribeChunk(ctx context.Context, path string, lang stt.LanguageConfig) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open chunk: %w", err)
	}
	defer f.Close()

	if lang.Translate() {
		resp, err := p.client.Audio.Translations.New(ctx, oai.AudioTranslationNewParams{
			File:  f,
			Model: p.model,
		})
		if err != nil {
			return "", fmt.Errorf("translate: %w", err)
		}
		return resp.Text, nil
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:     f,
		Model:    p.model,
		Language: oai.String(lang.Source),
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return resp.Text, nil
}

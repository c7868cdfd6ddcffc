// Package deepgram provides a Deepgram-backed transcription engine using the
// pre-recorded audio REST API (POST /v1/listen). It implements stt.Engine.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
)

const (
	deepgramEndpoint = "https://api.deepgram.com"
	defaultModel     = "nova-3"
	defaultTimeout   = 5 * time.Minute
)

// Compile-time assertion that Provider implements stt.Engine.
var _ stt.Engine = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL overrides the API origin. Used to point at a self-hosted
// deployment or a test server.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Engine backed by the Deepgram pre-recorded API.
// Deepgram does not translate; only plain transcription is supported.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    deepgramEndpoint,
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
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	if req.Language.Translate() {
		return nil, fmt.Errorf("deepgram: %w: %s -> %s", stt.ErrUnsupportedTranslation, req.Language.Source, req.Language.EffectiveTarget())
	}
	listenURL, err := p.buildURL(req.Language.Source)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	return stt.RunBatch(ctx, req.Paths, req.BatchSize, func(ctx context.Context, i int, path string) (string, error) {
		text, err := p.listen(ctx, listenURL, path)
		if err != nil {
			return "", fmt.Errorf("deepgram: chunk %d: %w", i, err)
		}
		return text, nil
	})
}

// buildURL constructs the listen endpoint URL for the given language.
func (p *Provider) buildURL(lang string) (string, error) {
	u, err := url.Parse(p.baseURL + "/v1/listen")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// listenResponse is the subset of the pre-recorded response we read.
type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// listen uploads one chunk and returns its transcript. Non-empty transcripts
// are prefixed with a space so that chunk results can be concatenated
// directly, matching whisper's segment convention.
func (p *Provider) listen(ctx context.Context, listenURL, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read chunk: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, listenURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var lr listenResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", fmt.Errorf("parse JSON response: %w", err)
	}
	if len(lr.Results.Channels) == 0 || len(lr.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	text := strings.TrimSpace(lr.Results.Channels[0].Alternatives[0].Transcript)
	if text == "" {
		return "", nil
	}
	return " " + text, nil
}

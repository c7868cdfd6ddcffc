// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Engine.
var _ stt.Engine = (*NativeProvider)(nil)

// NativeProvider implements stt.Engine using whisper.cpp Go bindings (CGO).
// The model is loaded once and shared; every chunk gets its own context, so
// BatchSize chunks can be decoded concurrently.
type NativeProvider struct {
	model   whisperlib.Model
	threads uint
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithThreads sets the number of CPU threads each whisper context uses.
// Zero keeps the library default.
func WithThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{model: model}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Engine.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.BatchRequest) ([]string, error) {
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

// infer runs whisper.cpp over a single chunk file using a fresh context and
// returns the concatenated segment text.
func (p *NativeProvider) infer(ctx context.Context, path string, lang stt.LanguageConfig) (string, error) {
	samples, err := loadSamples(path)
	if err != nil {
		return "", err
	}

	// A context is NOT thread-safe, but the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	if err := wctx.SetLanguage(lang.Source); err != nil {
		return "", fmt.Errorf("set language %q: %w", lang.Source, err)
	}
	wctx.SetTranslate(lang.Translate())
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var sb strings.Builder
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		sb.WriteString(segment.Text)
	}
	return sb.String(), nil
}

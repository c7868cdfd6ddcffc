// Package mock provides a test double for the stt.Engine interface.
//
// By default Transcribe returns one empty string per chunk. Set Texts to
// return a fixed slice (its length is not checked, which lets tests provoke
// count mismatches) or TextFunc to derive each transcript from the chunk.
//
// Example:
//
//	eng := &mock.Engine{TextFunc: func(i int, _ string) string { return fmt.Sprint(i) }}
//	texts, _ := eng.Transcribe(ctx, req)
package mock

import (
	"context"
	"os"
	"slices"
	"sync"

	"github.com/MrWong99/chunkscribe/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe. Paths is a copy.
	Req stt.BatchRequest

	// Existed reports, per path, whether the file existed when Transcribe
	// was called.
	Existed []bool
}

// Engine is a mock implementation of stt.Engine.
type Engine struct {
	mu sync.Mutex

	// Texts, if non-nil, is returned verbatim by every Transcribe call.
	Texts []string

	// TextFunc, if non-nil and Texts is nil, produces the transcript for
	// each chunk.
	TextFunc func(index int, path string) string

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured transcripts.
func (e *Engine) Transcribe(_ context.Context, req stt.BatchRequest) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	call := TranscribeCall{Req: req, Existed: make([]bool, len(req.Paths))}
	call.Req.Paths = slices.Clone(req.Paths)
	for i, p := range req.Paths {
		_, err := os.Stat(p)
		call.Existed[i] = err == nil
	}
	e.TranscribeCalls = append(e.TranscribeCalls, call)

	if e.TranscribeErr != nil {
		return nil, e.TranscribeErr
	}
	if e.Texts != nil {
		return slices.Clone(e.Texts), nil
	}
	out := make([]string, len(req.Paths))
	if e.TextFunc != nil {
		for i, p := range req.Paths {
			out[i] = e.TextFunc(i, p)
		}
	}
	return out, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (e *Engine) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TranscribeCalls = nil
}

// Ensure Engine implements stt.Engine at compile time.
var _ stt.Engine = (*Engine)(nil)

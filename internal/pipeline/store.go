package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/MrWong99/chunkscribe/pkg/audio"
)

// ChunkStore is the run-scoped storage area for chunk artifacts. Each store
// owns a private directory that is removed by [ChunkStore.Close].
//
// Chunks must be written in index order starting at 0; a persisted chunk is
// never rewritten.
type ChunkStore struct {
	dir string

	mu     sync.Mutex
	paths  []string
	closed bool
}

// NewChunkStore creates a uniquely named directory below parentDir (the
// system temp directory when empty). runID is embedded in the name to make
// leftovers from crashed processes traceable.
func NewChunkStore(parentDir, runID string) (*ChunkStore, error) {
	dir, err := os.MkdirTemp(parentDir, "chunkscribe-"+runID+"-*")
	if err != nil {
		return nil, fmt.Errorf("pipeline: create chunk store: %w", err)
	}
	return &ChunkStore{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *ChunkStore) Dir() string { return s.dir }

// Put persists samples as chunk_<index>.wav (16-bit PCM mono at rate) and
// returns its path. index must equal the number of chunks stored so far.
func (s *ChunkStore) Put(index int, samples []float32, rate int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", fmt.Errorf("pipeline: put chunk %d: store closed", index)
	}
	if index != len(s.paths) {
		return "", fmt.Errorf("%w: got %d, want %d", ErrChunkOrder, index, len(s.paths))
	}
	path := filepath.Join(s.dir, fmt.Sprintf("chunk_%d.wav", index))
	if err := audio.WriteWAV(path, samples, rate); err != nil {
		return "", fmt.Errorf("pipeline: put chunk %d: %w", index, err)
	}
	s.paths = append(s.paths, path)
	return path, nil
}

// Paths returns the stored chunk paths in index order.
func (s *ChunkStore) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.paths)
}

// Len returns the number of stored chunks.
func (s *ChunkStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

// Close removes the directory and everything in it. Calling Close more than
// once is a no-op.
func (s *ChunkStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("pipeline: remove chunk store: %w", err)
	}
	return nil
}

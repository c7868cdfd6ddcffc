package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

// ErrUnknownContainer is returned by [DecodeFile] when the file extension maps
// to no known decoder.
var ErrUnknownContainer = errors.New("audio: unknown container format")

// CommandRunner executes an external program and returns its combined output.
// It is swapped out in tests so the ffmpeg path can be exercised without the
// binary installed.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type decodeOptions struct {
	ffmpegPath string
	tempDir    string
	run        CommandRunner
}

// DecodeOption configures [DecodeFile].
type DecodeOption func(*decodeOptions)

// WithFFmpegPath sets the ffmpeg binary used for containers beep cannot read
// natively (.m4a, .aac). Defaults to "ffmpeg" resolved via PATH.
func WithFFmpegPath(path string) DecodeOption {
	return func(o *decodeOptions) { o.ffmpegPath = path }
}

// WithTempDir sets the directory for intermediate ffmpeg output. Defaults to
// [os.TempDir].
func WithTempDir(dir string) DecodeOption {
	return func(o *decodeOptions) { o.tempDir = dir }
}

// WithCommandRunner overrides how external commands are executed.
func WithCommandRunner(r CommandRunner) DecodeOption {
	return func(o *decodeOptions) { o.run = r }
}

type decoderFunc func(f *os.File) (beep.StreamSeekCloser, beep.Format, error)

var nativeDecoders = map[string]decoderFunc{
	".wav":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return wav.Decode(f) },
	".mp3":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return mp3.Decode(f) },
	".flac": func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return flac.Decode(f) },
	".ogg":  func(f *os.File) (beep.StreamSeekCloser, beep.Format, error) { return vorbis.Decode(f) },
}

var ffmpegContainers = map[string]bool{
	".m4a": true,
	".aac": true,
}

// DecodeFile reads the audio file at path into an interleaved [Waveform] at
// the file's native rate and channel layout. The decoder is chosen by the
// lower-cased file extension.
func DecodeFile(ctx context.Context, path string, opts ...DecodeOption) (Waveform, error) {
	o := decodeOptions{ffmpegPath: "ffmpeg", run: execRunner}
	for _, opt := range opts {
		opt(&o)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if dec, ok := nativeDecoders[ext]; ok {
		return decodeNative(path, dec)
	}
	if ffmpegContainers[ext] {
		return decodeViaFFmpeg(ctx, path, o)
	}
	return Waveform{}, fmt.Errorf("%w: %q", ErrUnknownContainer, ext)
}

func decodeNative(path string, dec decoderFunc) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: decode: %w", err)
	}
	s, format, err := dec(f)
	if err != nil {
		f.Close()
		return Waveform{}, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	defer s.Close()
	return streamToWaveform(s, format, path)
}

// decodeViaFFmpeg transcodes path to a temporary 16-bit WAV keeping the
// source rate and channel count, then decodes that. The temporary file is
// removed on every path.
func decodeViaFFmpeg(ctx context.Context, path string, o decodeOptions) (Waveform, error) {
	tmp, err := os.CreateTemp(o.tempDir, "chunkscribe-decode-*.wav")
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: ffmpeg temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	args := []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-y",
		"-i", path,
		"-vn",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		tmpPath,
	}
	output, err := o.run(ctx, o.ffmpegPath, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Waveform{}, fmt.Errorf("audio: ffmpeg %s: %w", path, ctxErr)
		}
		return Waveform{}, fmt.Errorf("audio: ffmpeg %s: %w: %s", path, err, strings.TrimSpace(string(output)))
	}

	w, err := ReadWAV(tmpPath)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Waveform{}, fmt.Errorf("audio: ffmpeg produced truncated output for %s: %w", path, err)
		}
		return Waveform{}, err
	}
	return w, nil
}

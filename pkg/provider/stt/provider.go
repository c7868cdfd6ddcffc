// Package stt defines the Engine interface for batch speech-to-text backends.
//
// An Engine receives an ordered list of chunk files (16 kHz mono WAV) that
// together make up one recording and returns exactly one transcript per chunk,
// in the same order. Engines are free to process chunks concurrently, bounded
// by the requested batch size, but the result slice must always line up with
// the input paths.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupportedTranslation is returned when an engine cannot produce output
// in the requested target language.
var ErrUnsupportedTranslation = errors.New("stt: unsupported translation target")

// LanguageConfig selects the spoken language and the language of the
// produced text. Codes are lower-case ISO 639-1 (e.g., "pl", "en").
type LanguageConfig struct {
	// Source is the language spoken in the audio.
	Source string

	// Target is the language of the returned text. Empty or equal to Source
	// means plain transcription.
	Target string
}

// SourceTag returns the prompt tag for the source language, e.g. "<|pl|>".
func (l LanguageConfig) SourceTag() string { return tag(l.Source) }

// TargetTag returns the prompt tag for the effective target language.
func (l LanguageConfig) TargetTag() string { return tag(l.EffectiveTarget()) }

// EffectiveTarget returns Target, or Source when Target is empty.
func (l LanguageConfig) EffectiveTarget() string {
	if l.Target == "" {
		return l.Source
	}
	return l.Target
}

// Translate reports whether the output language differs from the source.
func (l LanguageConfig) Translate() bool {
	return l.EffectiveTarget() != l.Source
}

func tag(code string) string { return "<|" + code + "|>" }

// BatchRequest is one transcription call covering a whole recording.
type BatchRequest struct {
	// Paths lists the chunk files in playback order.
	Paths []string

	// BatchSize bounds how many chunks the engine may process at once.
	// Values below 1 are treated as 1.
	BatchSize int

	// Language selects source and target languages.
	Language LanguageConfig
}

// Validate reports structural problems with r.
func (r BatchRequest) Validate() error {
	if r.Language.Source == "" {
		return errors.New("stt: source language must not be empty")
	}
	for i, p := range r.Paths {
		if p == "" {
			return fmt.Errorf("stt: path %d is empty", i)
		}
	}
	return nil
}

// Engine is the abstraction over any batch transcription backend.
type Engine interface {
	// Transcribe returns one transcript per entry in req.Paths, index-aligned.
	// Either every chunk succeeds or an error is returned; partial results
	// are never returned.
	Transcribe(ctx context.Context, req BatchRequest) ([]string, error)
}

// RequireEnglishTranslation returns ErrUnsupportedTranslation unless lang is a
// plain transcription or a translation into English. Whisper-family models
// only translate into English.
func RequireEnglishTranslation(engine string, lang LanguageConfig) error {
	if lang.Translate() && lang.EffectiveTarget() != "en" {
		return fmt.Errorf("%s: %w: %s -> %s", engine, ErrUnsupportedTranslation, lang.Source, lang.EffectiveTarget())
	}
	return nil
}

// Package transcribe runs one uploaded audio payload through the pipeline:
// save, decode, normalize to mono 16 kHz, infer, extract text. Every scratch
// file a request creates is removed before Transcribe returns.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/obiente/stt-server/internal/audio"
	"github.com/obiente/stt-server/internal/scratch"
	"github.com/obiente/stt-server/internal/whisper"
)

var (
	ErrMissingFile   = errors.New("missing audio file in request")
	ErrEmptyFilename = errors.New("empty filename")
)

// ClientMessage is the text reported to clients for a validation error.
// It returns "" for anything else.
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingFile):
		return "Missing audio file in request"
	case errors.Is(err, ErrEmptyFilename):
		return "Empty filename"
	default:
		return ""
	}
}

// ProcessingError wraps any failure after the upload was accepted.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Payload is one uploaded file. A nil Body means no file part was sent.
type Payload struct {
	Filename string
	Body     io.Reader
}

type Options struct {
	TempDir   string
	Resampler audio.Resampler
	Decoder   audio.Decoder
	BatchSize int
	// PersistNormalized writes the normalized audio to a scratch WAV file and
	// feeds the model from it.
	PersistNormalized bool
}

type Service struct {
	engine whisper.Engine
	opts   Options
}

func New(engine whisper.Engine, opts Options) *Service {
	if opts.Resampler == nil {
		opts.Resampler = audio.Linear{}
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	return &Service{engine: engine, opts: opts}
}

// Transcribe returns the trimmed transcription of p. Validation failures are
// ErrMissingFile or ErrEmptyFilename; everything else is a *ProcessingError.
func (s *Service) Transcribe(ctx context.Context, p Payload) (text string, err error) {
	if p.Body == nil {
		return "", ErrMissingFile
	}
	if strings.TrimSpace(p.Filename) == "" {
		return "", ErrEmptyFilename
	}

	logger := zerolog.Ctx(ctx).With().Str("filename", p.Filename).Logger()
	start := time.Now()

	scope, err := scratch.New(s.opts.TempDir, logger)
	if err != nil {
		return "", &ProcessingError{Stage: "scratch", Err: err}
	}
	defer scope.Release()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("transcribe: panic recovered")
			text, err = "", &ProcessingError{Stage: "internal", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	uploaded, err := s.save(scope, p)
	if err != nil {
		return "", &ProcessingError{Stage: "save", Err: err}
	}

	decoded, err := s.opts.Decoder.DecodeFile(uploaded)
	if err != nil {
		return "", &ProcessingError{Stage: "decode", Err: err}
	}
	logger.Debug().
		Int("rate", decoded.SampleRate).
		Int("channels", decoded.Channels).
		Dur("duration", decoded.Duration()).
		Msg("transcribe: decoded")

	mono, err := audio.Normalize(decoded, whisper.SampleRate, s.opts.Resampler)
	if err != nil {
		return "", &ProcessingError{Stage: "normalize", Err: err}
	}

	if s.opts.PersistNormalized {
		mono, err = persist(scope, mono)
		if err != nil {
			return "", &ProcessingError{Stage: "normalize", Err: err}
		}
	}

	if err := ctx.Err(); err != nil {
		return "", &ProcessingError{Stage: "inference", Err: err}
	}

	results, err := s.engine.Transcribe([][]float32{mono.Samples}, s.opts.BatchSize)
	if err != nil {
		return "", &ProcessingError{Stage: "inference", Err: err}
	}
	if len(results) == 0 {
		return "", &ProcessingError{Stage: "inference", Err: errors.New("model returned no results")}
	}

	text = strings.TrimSpace(whisper.Text(results[0]))
	logger.Info().
		Dur("audio", mono.Duration()).
		Dur("took", time.Since(start)).
		Int("chars", len(text)).
		Msg("transcribe: done")
	return text, nil
}

// save copies the upload into the scope. The extension comes from the client
// filename, or from the payload's magic bytes when the filename has none.
func (s *Service) save(scope *scratch.Scope, p Payload) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(p.Filename)))
	body := p.Body
	if ext == "" || ext == "." {
		head := make([]byte, 3072)
		n, err := io.ReadFull(p.Body, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read upload: %w", err)
		}
		head = head[:n]
		_, ext = audio.Sniff(head)
		body = io.MultiReader(bytes.NewReader(head), p.Body)
	}

	f, err := scope.Create("upload" + ext)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	return f.Name(), nil
}

func persist(scope *scratch.Scope, mono audio.Buffer) (audio.Buffer, error) {
	f, err := scope.Create("normalized.wav")
	if err != nil {
		return audio.Buffer{}, err
	}
	if err := audio.EncodeWAV(f, mono); err != nil {
		_ = f.Close()
		return audio.Buffer{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return audio.Buffer{}, fmt.Errorf("rewind normalized audio: %w", err)
	}
	b, err := audio.DecodeWAV(f)
	_ = f.Close()
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("reload normalized audio: %w", err)
	}
	return b, nil
}

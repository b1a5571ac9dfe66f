//go:build whisper_cpp

package whisper

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"
)

// EngineCPP is the whisper.cpp-backed implementation of Engine.
type EngineCPP struct {
	model    whisperpkg.Model
	device   Device
	threads  uint
	language string
	mu       sync.Mutex // guards model; contexts sharing one GPU are not reentrant
}

func NewEngine(opts Options) (Engine, error) {
	device := ResolveDevice(opts.Device)
	threads := threadsFor(device, opts.Threads)

	if device == DeviceCPU {
		if err := restrictToCPU(); err != nil {
			log.Warn().Err(err).Msg("whisper: could not hide accelerators")
		}
	}

	if opts.DisableGraphs {
		// ggml reads this once when the backend initializes.
		if err := os.Setenv("GGML_CUDA_DISABLE_GRAPHS", "1"); err != nil {
			log.Warn().Err(err).Msg("whisper: could not disable graph capture")
		}
	}

	log.Info().
		Str("model", opts.ModelPath).
		Str("device", string(device)).
		Uint("threads", threads).
		Bool("graphs_disabled", opts.DisableGraphs).
		Msg("whisper: loading model")

	m, err := whisperpkg.New(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", opts.ModelPath, err)
	}

	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if !m.IsMultilingual() && lang != "en" {
		log.Warn().Str("language", lang).Msg("whisper: model is English-only, forcing en")
		lang = "en"
	}

	log.Info().Bool("multilingual", m.IsMultilingual()).Msg("whisper: model loaded successfully")
	return &EngineCPP{
		model:    m,
		device:   device,
		threads:  threads,
		language: lang,
	}, nil
}

func (e *EngineCPP) Device() Device { return e.device }

// Close waits for any in-flight group to finish before freeing the model.
// Transcribe calls after Close return ErrClosed.
func (e *EngineCPP) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}

// Transcribe processes the batch serially under the engine lock. whisper.cpp
// has no batched decode, so batchSize only bounds how many inputs are handled
// per lock acquisition.
func (e *EngineCPP) Transcribe(batch [][]float32, batchSize int) ([]Result, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	out := make([]Result, 0, len(batch))
	for start := 0; start < len(batch); start += batchSize {
		end := min(start+batchSize, len(batch))
		res, err := e.processGroup(batch[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

func (e *EngineCPP) processGroup(group [][]float32) ([]Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil, ErrClosed
	}

	out := make([]Result, 0, len(group))
	for _, samples := range group {
		r, err := e.process(samples)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *EngineCPP) process(samples []float32) (Result, error) {
	if len(samples) == 0 {
		return RawText(""), nil
	}

	ctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create context: %w", err)
	}
	ctx.SetThreads(e.threads)
	if err := ctx.SetLanguage(e.language); err != nil {
		log.Warn().Err(err).Str("language", e.language).Msg("whisper: failed to set language")
	}
	ctx.SetTranslate(false)
	ctx.SetSplitOnWord(true)
	ctx.SetTokenTimestamps(true)

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		log.Error().Err(err).Int("samples", len(samples)).Msg("whisper: process failed")
		return nil, fmt.Errorf("process audio: %w", err)
	}

	res := StructuredResult{}
	var texts []string
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		res.Segments = append(res.Segments, Segment{Start: seg.Start, End: seg.End, Text: text})
	}
	res.Text = strings.Join(texts, " ")
	res.Language = ctx.Language()
	if res.Language == "" || res.Language == "auto" {
		res.Language = ctx.DetectedLanguage()
	}

	log.Debug().
		Int("segments", len(res.Segments)).
		Int("samples", len(samples)).
		Str("lang", res.Language).
		Msg("whisper: transcription complete")
	return res, nil
}

package whisper

import (
	"errors"
	"time"
)

// SampleRate is the only rate the model accepts.
const SampleRate = 16000

// ErrClosed is returned by Transcribe once the engine has been closed.
var ErrClosed = errors.New("whisper: engine closed")

// Engine is the loaded model handle. It is created once at startup and shared
// by every request; implementations must be safe for concurrent use.
// The whisper.cpp implementation is selected with the whisper_cpp build tag.
type Engine interface {
	// Transcribe runs inference over mono 16 kHz PCM32F buffers, batchSize
	// buffers at a time, and returns one Result per input in order.
	Transcribe(batch [][]float32, batchSize int) ([]Result, error)
	// Device reports the device the engine was configured for. It sizes the
	// host thread pool; whether inference runs on an accelerator is decided
	// by how whisper.cpp was built (see restrictToCPU).
	Device() Device
	// Close frees the model after any in-flight Transcribe returns.
	Close() error
}

// Options configures model loading.
type Options struct {
	ModelPath string
	Device    string // "auto", "cpu" or "gpu"; see Engine.Device
	Threads   int    // 0 picks one thread per core
	Language  string
	// DisableGraphs turns off accelerator graph capture before the model loads.
	DisableGraphs bool
}

// Result is what the model returns for one input: either RawText or
// StructuredResult. Use Text to read it.
type Result interface {
	isResult()
}

// RawText is a result carrying nothing but the recognized string.
type RawText string

// StructuredResult is a result with metadata. Only Text is used by callers.
type StructuredResult struct {
	Text     string
	Language string
	Segments []Segment
}

// Segment is one timed span of recognized speech.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

func (RawText) isResult()          {}
func (StructuredResult) isResult() {}

// Text extracts the recognized text from r. A nil result yields "".
func Text(r Result) string {
	switch v := r.(type) {
	case RawText:
		return string(v)
	case StructuredResult:
		return v.Text
	case *StructuredResult:
		if v == nil {
			return ""
		}
		return v.Text
	default:
		return ""
	}
}

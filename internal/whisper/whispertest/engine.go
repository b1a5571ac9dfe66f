// Package whispertest provides an in-memory whisper.Engine for tests.
package whispertest

import (
	"sync"

	"github.com/obiente/stt-server/internal/whisper"
)

// Engine returns Result for every input and records what it was fed.
type Engine struct {
	Result whisper.Result
	Err    error
	Panic  bool
	// NoResults makes Transcribe succeed with an empty slice.
	NoResults bool

	mu      sync.Mutex
	inputs  [][]float32
	batches []int
	closed  bool
}

func (e *Engine) Transcribe(batch [][]float32, batchSize int) ([]whisper.Result, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, batch...)
	e.batches = append(e.batches, batchSize)
	e.mu.Unlock()

	if e.Panic {
		panic("whispertest: engine panic")
	}
	if e.Err != nil {
		return nil, e.Err
	}
	if e.NoResults {
		return nil, nil
	}
	out := make([]whisper.Result, len(batch))
	for i := range out {
		out[i] = e.Result
	}
	return out, nil
}

func (e *Engine) Device() whisper.Device { return whisper.DeviceCPU }

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Inputs returns every buffer passed to Transcribe so far.
func (e *Engine) Inputs() [][]float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]float32(nil), e.inputs...)
}

// BatchSizes returns the batch size of each Transcribe call.
func (e *Engine) BatchSizes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.batches...)
}

package audio

import (
	"errors"
	"fmt"
	"time"
)

// Buffer is interleaved PCM32F audio in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of samples per channel.
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// ToMono down-mixes interleaved audio by averaging channels. Mono input is
// returned unchanged; a trailing partial frame is dropped.
func ToMono(b Buffer) Buffer {
	if b.Channels <= 1 {
		b.Channels = 1
		return b
	}
	frames := b.Frames()
	mono := make([]float32, frames)
	inv := 1 / float32(b.Channels)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < b.Channels; ch++ {
			sum += b.Samples[i*b.Channels+ch]
		}
		mono[i] = sum * inv
	}
	return Buffer{Samples: mono, SampleRate: b.SampleRate, Channels: 1}
}

// Normalize produces a mono buffer at targetRate.
func Normalize(b Buffer, targetRate int, rs Resampler) (Buffer, error) {
	if b.SampleRate <= 0 {
		return Buffer{}, fmt.Errorf("invalid sample rate %d", b.SampleRate)
	}
	if b.Channels <= 0 {
		return Buffer{}, fmt.Errorf("invalid channel count %d", b.Channels)
	}
	if rs == nil {
		return Buffer{}, errors.New("no resampler configured")
	}
	m := ToMono(b)
	if m.SampleRate == targetRate {
		return m, nil
	}
	out, err := rs.Resample(m.Samples, m.SampleRate, targetRate)
	if err != nil {
		return Buffer{}, fmt.Errorf("resample %d->%d: %w", m.SampleRate, targetRate, err)
	}
	return Buffer{Samples: out, SampleRate: targetRate, Channels: 1}, nil
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

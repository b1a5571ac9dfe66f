package audio

import (
	"fmt"
	"math"
	"strings"

	resampling "github.com/tphakala/go-audio-resampling"
	"github.com/zeozeozeo/gomplerate"
)

// Resampler converts mono PCM32F between sample rates.
type Resampler interface {
	Resample(samples []float32, inRate, outRate int) ([]float32, error)
}

// NewResampler returns the resampler registered under method:
// "linear", "gomplerate" or "soxr".
func NewResampler(method string) (Resampler, error) {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", "linear":
		return Linear{}, nil
	case "gomplerate":
		return Gomplerate{}, nil
	case "soxr", "high":
		return Soxr{}, nil
	default:
		return nil, fmt.Errorf("unknown resampler %q (supported: linear, gomplerate, soxr)", method)
	}
}

// Linear resamples with linear interpolation.
type Linear struct{}

func (Linear) Resample(samples []float32, inRate, outRate int) ([]float32, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("invalid rates %d->%d", inRate, outRate)
	}
	return ResampleLinear(samples, inRate, outRate), nil
}

// ResampleLinear resamples PCM32F from inRate to outRate using linear interpolation.
func ResampleLinear(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(samples) == 0 {
		return append([]float32(nil), samples...)
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen <= 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(srcPos - float64(i0))
		s0 := samples[i0]
		s1 := samples[i0+1]
		out[i] = s0 + (s1-s0)*frac
	}
	return out
}

// Gomplerate resamples through gomplerate's int16 path.
type Gomplerate struct{}

func (Gomplerate) Resample(samples []float32, inRate, outRate int) ([]float32, error) {
	if inRate == outRate {
		return append([]float32(nil), samples...), nil
	}
	rs, err := gomplerate.NewResampler(1, inRate, outRate)
	if err != nil {
		return nil, fmt.Errorf("create gomplerate resampler: %w", err)
	}
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = int16(math.Round(float64(clamp(s)) * 32767))
	}
	res := rs.ResampleInt16(pcm)
	out := make([]float32, len(res))
	for i, v := range res {
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// Soxr resamples with the pure Go SoX-style polyphase resampler at high quality.
type Soxr struct{}

func (Soxr) Resample(samples []float32, inRate, outRate int) ([]float32, error) {
	if inRate == outRate {
		return append([]float32(nil), samples...), nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create soxr resampler: %w", err)
	}
	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	res, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("soxr process: %w", err)
	}
	out := make([]float32, len(res))
	for i, v := range res {
		out[i] = clamp(float32(v))
	}
	return out, nil
}

package whisper

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Warmup runs one inference per length over low-level noise so one-time costs
// (kernel compilation, buffer allocation) are paid before real traffic.
// Failures are logged and otherwise ignored. It returns the number of
// warmup passes that succeeded.
func Warmup(e Engine, lengths []time.Duration) int {
	rng := rand.New(rand.NewSource(1))
	ok := 0
	for _, d := range lengths {
		n := int(d.Seconds() * SampleRate)
		if n <= 0 {
			continue
		}
		start := time.Now()
		if err := warmupOnce(e, noise(rng, n)); err != nil {
			log.Warn().Err(err).Dur("length", d).Msg("whisper: warmup skipped")
			continue
		}
		ok++
		log.Info().Dur("length", d).Dur("took", time.Since(start)).Msg("whisper: warmup pass complete")
	}
	return ok
}

func warmupOnce(e Engine, samples []float32) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warmup panic: %v", r)
		}
	}()
	_, err = e.Transcribe([][]float32{samples}, 1)
	return err
}

func noise(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64() * 0.01)
	}
	return out
}

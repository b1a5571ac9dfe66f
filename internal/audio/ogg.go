package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	"github.com/rs/zerolog/log"
)

// The pure Go decoder produces SILK output upsampled by this factor,
// regardless of the rate announced in the OpusHead.
const opusUpsample = 3

// maxOpusSamples bounds one decoded packet: a 20 ms wideband SILK frame
// upsampled to 48 kHz.
const maxOpusSamples = 960

// DecodeOggOpus decodes an Ogg/Opus stream with the pure Go decoder.
// The decoder panics on some inputs; panics are returned as errors.
func DecodeOggOpus(r io.Reader) (b Buffer, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Interface("panic", rec).Msg("audio: opus decoder panicked, recovered")
			b, err = Buffer{}, fmt.Errorf("opus decoder panic: %v", rec)
		}
	}()
	return decodeOggOpus(r)
}

func decodeOggOpus(r io.Reader) (Buffer, error) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return Buffer{}, fmt.Errorf("parse ogg container: %w", err)
	}

	dec := opus.NewDecoder()
	out := make([]float32, maxOpusSamples)
	var (
		samples []float32
		rate    int
	)
	for {
		segments, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Buffer{}, fmt.Errorf("parse ogg page: %w", err)
		}
		if len(segments) > 0 && bytes.HasPrefix(segments[0], []byte("OpusTags")) {
			continue
		}
		for _, seg := range segments {
			if len(seg) == 0 {
				continue
			}
			bw, _, err := dec.DecodeFloat32(seg, out)
			if err != nil {
				log.Trace().Err(err).Int("len", len(seg)).Msg("audio: skipping opus packet")
				continue
			}
			pktRate := bandwidthRate(bw) * opusUpsample
			n := min(opusFrameSamples(seg[0], pktRate), len(out))
			if n <= 0 {
				continue
			}
			pcm := out[:n]
			if rate == 0 {
				rate = pktRate
			} else if pktRate != rate {
				pcm = ResampleLinear(pcm, pktRate, rate)
			}
			samples = append(samples, pcm...)
		}
	}
	if len(samples) == 0 {
		return Buffer{}, errors.New("no audio decoded from ogg stream")
	}
	return Buffer{Samples: samples, SampleRate: rate, Channels: 1}, nil
}

// bandwidthRate is the effective sample rate of an Opus audio bandwidth.
func bandwidthRate(bw opus.Bandwidth) int {
	switch bw {
	case opus.BandwidthNarrowband:
		return 8000
	case opus.BandwidthMediumband:
		return 12000
	case opus.BandwidthWideband:
		return 16000
	case opus.BandwidthSuperwideband:
		return 24000
	case opus.BandwidthFullband:
		return 48000
	default:
		return 0
	}
}

// opusFrameDuration reads the frame duration from a packet's TOC byte
// (RFC 6716 section 3.1).
func opusFrameDuration(toc byte) time.Duration {
	cfg := toc >> 3
	switch {
	case cfg <= 11: // SILK
		return [...]time.Duration{10, 20, 40, 60}[cfg%4] * time.Millisecond
	case cfg <= 15: // hybrid
		return [...]time.Duration{10, 20}[cfg%2] * time.Millisecond
	default: // CELT
		return [...]time.Duration{2500, 5000, 10000, 20000}[cfg%4] * time.Microsecond
	}
}

// opusFrameSamples is the number of valid output samples for one
// single-frame packet decoded at rate.
func opusFrameSamples(toc byte, rate int) int {
	return int(int64(rate) * int64(opusFrameDuration(toc)) / int64(time.Second))
}

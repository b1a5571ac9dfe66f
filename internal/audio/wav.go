package audio

import (
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatIEEEFloat = 3

// DecodeWAV decodes a WAV stream into interleaved 32-bit float PCM.
func DecodeWAV(r io.ReadSeeker) (Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Buffer{}, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		if err == io.EOF {
			err = nil
		} else {
			return Buffer{}, err
		}
	}
	if buf == nil {
		return Buffer{}, errors.New("empty wav buffer")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	out := make([]float32, len(buf.Data))
	switch {
	case dec.WavAudioFormat == wavFormatIEEEFloat && bitDepth == 32:
		for i, v := range buf.Data {
			out[i] = clamp(math.Float32frombits(uint32(int32(v))))
		}
	case bitDepth == 8:
		// 8-bit WAV is unsigned
		for i, v := range buf.Data {
			out[i] = float32(v-128) / 128
		}
	default:
		max := float32(int64(1) << (bitDepth - 1))
		for i, v := range buf.Data {
			out[i] = float32(v) / max
		}
	}

	sr := int(dec.SampleRate)
	if sr == 0 && buf.Format != nil {
		sr = buf.Format.SampleRate
	}
	if sr == 0 {
		return Buffer{}, errors.New("wav header has no sample rate")
	}
	ch := int(dec.NumChans)
	if ch == 0 && buf.Format != nil {
		ch = buf.Format.NumChannels
	}
	if ch == 0 {
		ch = 1
	}
	return Buffer{Samples: out, SampleRate: sr, Channels: ch}, nil
}

// EncodeWAV writes b as 16-bit PCM WAV.
func EncodeWAV(w io.WriteSeeker, b Buffer) error {
	if b.Channels <= 0 || b.SampleRate <= 0 {
		return fmt.Errorf("invalid format: %d Hz, %d channels", b.SampleRate, b.Channels)
	}
	data := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		data[i] = int(math.Round(float64(clamp(s)) * 32767))
	}
	enc := wav.NewEncoder(w, b.SampleRate, 16, b.Channels, 1)
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: b.Channels, SampleRate: b.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

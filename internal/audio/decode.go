package audio

import (
	"fmt"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Decoder picks a decoding strategy from the payload's magic bytes.
// WAV is decoded natively; Ogg goes through ffmpeg when installed and the
// pure Go Opus decoder otherwise; everything else requires ffmpeg.
type Decoder struct {
	// FFmpegPath names the ffmpeg binary. Empty disables the fallback.
	FFmpegPath string
	// Rate is the rate ffmpeg is asked to produce directly.
	Rate int
}

// Sniff reports the detected MIME type and canonical extension of head.
func Sniff(head []byte) (mime, ext string) {
	m := mimetype.Detect(head)
	return m.String(), m.Extension()
}

func (d Decoder) DecodeFile(path string) (Buffer, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("detect format: %w", err)
	}
	log.Debug().Str("mime", m.String()).Str("file", path).Msg("audio: decoding")

	switch {
	case m.Is("audio/wav"):
		f, err := os.Open(path)
		if err != nil {
			return Buffer{}, fmt.Errorf("open audio file: %w", err)
		}
		defer f.Close()
		return DecodeWAV(f)
	case m.Is("audio/ogg") || m.Is("audio/opus"):
		if ffmpegAvailable(d.FFmpegPath) {
			return DecodeFFmpeg(d.FFmpegPath, path, d.rate())
		}
		f, err := os.Open(path)
		if err != nil {
			return Buffer{}, fmt.Errorf("open audio file: %w", err)
		}
		defer f.Close()
		b, err := DecodeOggOpus(f)
		if err != nil {
			return Buffer{}, fmt.Errorf("ogg decoding failed (%v) - install ffmpeg for reliable audio conversion", err)
		}
		return b, nil
	case ffmpegAvailable(d.FFmpegPath):
		return DecodeFFmpeg(d.FFmpegPath, path, d.rate())
	default:
		return Buffer{}, fmt.Errorf("unsupported audio format %s (install ffmpeg for non-WAV input)", m.String())
	}
}

func (d Decoder) rate() int {
	if d.Rate > 0 {
		return d.Rate
	}
	return 16000
}

package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DecodeFFmpeg converts any container ffmpeg understands into mono PCM at
// rate. Output is streamed over stdout so no intermediate file is created.
func DecodeFFmpeg(ffmpegPath, inputPath string, rate int) (Buffer, error) {
	var stdout, stderr bytes.Buffer
	// #nosec G204 - ffmpegPath comes from configuration, inputPath from our scratch scope
	cmd := exec.Command(ffmpegPath,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-ar", strconv.Itoa(rate),
		"-ac", "1",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return Buffer{}, fmt.Errorf("ffmpeg conversion failed: %w: %s", err, msg)
		}
		return Buffer{}, fmt.Errorf("ffmpeg conversion failed: %w", err)
	}
	samples := appendPCM16(make([]float32, 0, stdout.Len()/2), stdout.Bytes())
	return Buffer{Samples: samples, SampleRate: rate, Channels: 1}, nil
}

func ffmpegAvailable(path string) bool {
	if path == "" {
		return false
	}
	_, err := exec.LookPath(path)
	return err == nil
}

// appendPCM16 converts little-endian signed 16-bit PCM to float samples.
func appendPCM16(dst []float32, b []byte) []float32 {
	for i := 0; i+1 < len(b); i += 2 {
		v := int16(binary.LittleEndian.Uint16(b[i : i+2]))
		dst = append(dst, float32(v)/32768)
	}
	return dst
}

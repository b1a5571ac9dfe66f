package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr              string
	ModelPath         string
	ModelName         string
	Device            string
	Threads           int
	Language          string
	BatchSize         int
	DisableCUDAGraphs bool

	Warmup        bool
	WarmupLengths []time.Duration

	TempDir           string
	Resampler         string
	PersistNormalized bool
	FFmpegPath        string
	MaxUploadBytes    int64

	CORSOrigins []string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "0", "false", "no", "off", "False", "FALSE":
			return false
		default:
			return true
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// uploadLimit converts a megabyte limit to bytes. Non-positive values fall
// back to 64 MB and values too large for int64 saturate.
func uploadLimit(mb int) int64 {
	if mb <= 0 {
		mb = 64
	}
	if int64(mb) > math.MaxInt64>>20 {
		return math.MaxInt64
	}
	return int64(mb) << 20
}

// getenvSeconds parses a comma separated list of (fractional) seconds.
// Entries that are not positive numbers are skipped.
func getenvSeconds(key string, def []time.Duration) []time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || f <= 0 {
			continue
		}
		out = append(out, time.Duration(f*float64(time.Second)))
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load reads configuration from the environment. A .env file in the working
// directory, when present, is applied first without overriding variables that
// are already set.
func Load() Config {
	_ = godotenv.Load()

	batch := getenvInt("STT_BATCH_SIZE", 1)
	if batch <= 0 {
		batch = 1
	}

	return Config{
		Addr:              getenv("STT_ADDR", "0.0.0.0:5023"),
		ModelPath:         getenv("STT_MODEL_PATH", "/app/model/ggml-base.en.bin"),
		ModelName:         getenv("STT_MODEL_NAME", "Whisper"),
		Device:            getenv("STT_DEVICE", "auto"),
		Threads:           getenvInt("WHISPER_THREADS", 0),
		Language:          getenv("WHISPER_LANGUAGE", "en"),
		BatchSize:         batch,
		DisableCUDAGraphs: getenvBool("STT_DISABLE_CUDA_GRAPHS", true),
		Warmup:            getenvBool("STT_WARMUP", true),
		WarmupLengths:     getenvSeconds("STT_WARMUP_SECONDS", []time.Duration{time.Second}),
		TempDir:           getenv("STT_TEMP_DIR", os.TempDir()),
		Resampler:         getenv("STT_RESAMPLER", "linear"),
		PersistNormalized: getenvBool("STT_PERSIST_NORMALIZED", true),
		FFmpegPath:        getenv("STT_FFMPEG_PATH", "ffmpeg"),
		MaxUploadBytes:    uploadLimit(getenvInt("STT_MAX_UPLOAD_MB", 64)),
		CORSOrigins:       getenvList("STT_CORS_ORIGINS", []string{"*"}),
	}
}

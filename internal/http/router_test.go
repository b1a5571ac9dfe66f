package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obiente/stt-server/internal/audio"
	"github.com/obiente/stt-server/internal/config"
	"github.com/obiente/stt-server/internal/transcribe"
	"github.com/obiente/stt-server/internal/whisper"
	"github.com/obiente/stt-server/internal/whisper/whispertest"
)

type fixture struct {
	router  http.Handler
	engine  *whispertest.Engine
	tempDir string
}

func newFixture(t *testing.T, eng *whispertest.Engine) fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		ModelName:         "Whisper",
		TempDir:           dir,
		BatchSize:         1,
		PersistNormalized: true,
		MaxUploadBytes:    1 << 20,
		CORSOrigins:       []string{"*"},
	}
	svc := transcribe.New(eng, transcribe.Options{
		TempDir:           dir,
		BatchSize:         cfg.BatchSize,
		PersistNormalized: cfg.PersistNormalized,
	})
	return fixture{router: NewRouter(svc, cfg), engine: eng, tempDir: dir}
}

func (f fixture) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec.Code, body
}

func (f fixture) assertNoScratchFiles(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func sineWAV(t *testing.T, rate, channels int, seconds float64) []byte {
	t.Helper()
	frames := int(float64(rate) * seconds)
	b := audio.Buffer{Samples: make([]float32, frames*channels), SampleRate: rate, Channels: channels}
	for i := range b.Samples {
		b.Samples[i] = float32((i/channels)%64-32) / 64
	}
	f, err := os.CreateTemp(t.TempDir(), "*.wav")
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(f, b))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return data
}

// uploadRequest builds a multipart request. A nil data skips the file part.
func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file here"))
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestTranscribeStereo44k(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{Result: whisper.RawText(" the quick brown fox ")})

	code, body := f.do(t, uploadRequest(t, "file", "speech.wav", sineWAV(t, 44100, 2, 3)))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"transcription": "the quick brown fox"}, body)
	inputs := f.engine.Inputs()
	require.Len(t, inputs, 1)
	assert.InDelta(t, 48000, len(inputs[0]), 2)
	f.assertNoScratchFiles(t)
}

func TestTranscribeStructuredResultText(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{Result: &whisper.StructuredResult{Text: "\tstructured\n"}})

	code, body := f.do(t, uploadRequest(t, "file", "a.wav", sineWAV(t, 16000, 1, 0.5)))

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "structured", body["transcription"])
}

func TestTranscribeMissingFile(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{})

	code, body := f.do(t, uploadRequest(t, "file", "", nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"error": "Missing audio file in request"}, body)

	code, body = f.do(t, uploadRequest(t, "audio", "a.wav", []byte("RIFF")))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"error": "Missing audio file in request"}, body)

	req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewBufferString(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	code, body = f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"error": "Missing audio file in request"}, body)

	assert.Empty(t, f.engine.Inputs())
	f.assertNoScratchFiles(t)
}

func TestTranscribeEmptyFilename(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{})

	code, body := f.do(t, uploadRequest(t, "file", "", sineWAV(t, 16000, 1, 0.1)))

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, map[string]any{"error": "Empty filename"}, body)
	assert.Empty(t, f.engine.Inputs())
}

func TestTranscribeCorruptFileThenHealth(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{Result: whisper.RawText("unused")})

	code, body := f.do(t, uploadRequest(t, "file", "x.wav", []byte("definitely not a wav file")))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Transcription failed", body["error"])
	assert.NotEmpty(t, body["details"])
	f.assertNoScratchFiles(t)

	code, body = f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "healthy"}, body)
}

func TestTranscribeEnginePanicIsContained(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{Panic: true})

	code, body := f.do(t, uploadRequest(t, "file", "a.wav", sineWAV(t, 16000, 1, 0.2)))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Transcription failed", body["error"])
	f.assertNoScratchFiles(t)

	code, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, code)
}

func TestTranscribeTooLarge(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{Result: whisper.RawText("unused")})

	code, body := f.do(t, uploadRequest(t, "file", "big.wav", sineWAV(t, 48000, 2, 6)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "File too large", body["error"])
	f.assertNoScratchFiles(t)
}

func TestTranscribeTooLargeBeforeFilePart(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{Result: whisper.RawText("unused")})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", strings.Repeat("x", 2<<20)))
	fw, err := mw.CreateFormFile("file", "a.wav")
	require.NoError(t, err)
	_, err = fw.Write(sineWAV(t, 16000, 1, 0.1))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	code, body := f.do(t, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "File too large", body["error"])
	assert.Empty(t, f.engine.Inputs())
	f.assertNoScratchFiles(t)
}

func TestBanner(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	got, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "Whisper STT API is running!", string(got))
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, &whispertest.Engine{})
	req := httptest.NewRequest(http.MethodOptions, "/transcribe", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

package ws

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obiente/stt-server/internal/audio"
	"github.com/obiente/stt-server/internal/config"
	"github.com/obiente/stt-server/internal/transcribe"
	"github.com/obiente/stt-server/internal/whisper"
	"github.com/obiente/stt-server/internal/whisper/whispertest"
)

func dial(t *testing.T, eng whisper.Engine) (*websocket.Conn, string) {
	t.Helper()
	dir := t.TempDir()
	svc := transcribe.New(eng, transcribe.Options{TempDir: dir, PersistNormalized: true})
	srv := httptest.NewServer(http.HandlerFunc(NewServer(svc, config.Config{MaxUploadBytes: 1 << 20}).Handle))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn, dir
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func wavData(t *testing.T) []byte {
	t.Helper()
	b := audio.Buffer{Samples: make([]float32, 22050*2), SampleRate: 22050, Channels: 2}
	f, err := os.CreateTemp(t.TempDir(), "*.wav")
	require.NoError(t, err)
	require.NoError(t, audio.EncodeWAV(f, b))
	require.NoError(t, f.Close())
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return data
}

func sendChunks(t *testing.T, conn *websocket.Conn, data []byte, size int) {
	t.Helper()
	for len(data) > 0 {
		n := min(size, len(data))
		require.NoError(t, conn.WriteJSON(map[string]any{
			"type": "chunk",
			"data": base64.StdEncoding.EncodeToString(data[:n]),
		}))
		data = data[n:]
	}
}

func TestSessionTranscribesChunkedUpload(t *testing.T) {
	eng := &whispertest.Engine{Result: whisper.RawText(" hi there ")}
	conn, dir := dial(t, eng)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "start", "filename": "clip.wav"}))
	assert.Equal(t, "started", read(t, conn)["type"])

	sendChunks(t, conn, wavData(t), 4096)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "stop"}))

	msg := read(t, conn)
	assert.Equal(t, "transcript", msg["type"])
	assert.Equal(t, "hi there", msg["transcription"])

	inputs := eng.Inputs()
	require.Len(t, inputs, 1)
	assert.InDelta(t, 16000, len(inputs[0]), 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPingPong(t *testing.T) {
	conn, _ := dial(t, &whispertest.Engine{})

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping", "ts": 42}))
	msg := read(t, conn)
	assert.Equal(t, "pong", msg["type"])
	assert.EqualValues(t, 42, msg["ts"])
}

func TestStopWithoutAudioIsMissingFile(t *testing.T) {
	conn, _ := dial(t, &whispertest.Engine{})

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "stop"}))
	msg := read(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "Missing audio file in request", msg["error"])
}

func TestEmptyFilename(t *testing.T) {
	conn, _ := dial(t, &whispertest.Engine{})

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "start"}))
	read(t, conn)
	sendChunks(t, conn, wavData(t), 1<<16)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "stop"}))

	msg := read(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "Empty filename", msg["error"])
}

func TestEngineFailureReportsDetails(t *testing.T) {
	conn, _ := dial(t, &whispertest.Engine{Err: errors.New("cuda: out of memory")})

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "start", "filename": "a.wav"}))
	read(t, conn)
	sendChunks(t, conn, wavData(t), 1<<16)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "stop"}))

	msg := read(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "Transcription failed", msg["error"])
	assert.Contains(t, msg["details"], "out of memory")
}

func TestProtocolErrors(t *testing.T) {
	conn, _ := dial(t, &whispertest.Engine{})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	assert.Equal(t, "invalid json", read(t, conn)["error"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "chunk", "data": "AAAA"}))
	assert.Equal(t, "chunk before start", read(t, conn)["error"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "start", "filename": "a.wav"}))
	read(t, conn)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "chunk", "data": "***"}))
	assert.Equal(t, "invalid base64 audio", read(t, conn)["error"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "join_room"}))
	assert.Equal(t, "unknown message type", read(t, conn)["error"])
}

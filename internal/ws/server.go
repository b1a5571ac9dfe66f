package ws

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/obiente/stt-server/internal/config"
	"github.com/obiente/stt-server/internal/transcribe"
)

const readTimeout = 60 * time.Second

// Server accepts a file over a websocket in base64 chunks and answers with
// the same result the HTTP endpoint would produce.
//
//	-> {"type":"start","filename":"a.wav"}
//	-> {"type":"chunk","data":"<base64>"}   (repeated)
//	-> {"type":"stop"}
//	<- {"type":"transcript","transcription":"..."} or {"type":"error",...}
type Server struct {
	svc      *transcribe.Service
	maxBytes int64
	upgrader websocket.Upgrader
}

func NewServer(svc *transcribe.Service, cfg config.Config) *Server {
	return &Server{
		svc:      svc,
		maxBytes: cfg.MaxUploadBytes,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024 * 16,
			WriteBufferSize: 1024 * 16,
		},
	}
}

type message struct {
	Type     string          `json:"type"`
	Filename string          `json:"filename,omitempty"`
	Data     string          `json:"data,omitempty"`
	TS       json.RawMessage `json:"ts,omitempty"`
}

func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws: upgrade failed")
		return
	}
	defer conn.Close()

	// The request context ends with the handler; keep its values only.
	ctx := context.WithoutCancel(r.Context())

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(readTimeout)) })

	var (
		started  bool
		filename string
		buf      bytes.Buffer
	)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("ws: read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if mt != websocket.TextMessage {
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(conn, "invalid json", "")
			continue
		}

		switch msg.Type {
		case "ping":
			_ = conn.WriteJSON(map[string]any{"type": "pong", "ts": msg.TS})
		case "start":
			started = true
			filename = msg.Filename
			buf.Reset()
			logger.Info().Str("filename", filename).Msg("ws: session started")
			_ = conn.WriteJSON(map[string]any{"type": "started"})
		case "chunk":
			if !started {
				s.sendError(conn, "chunk before start", "")
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				s.sendError(conn, "invalid base64 audio", "")
				continue
			}
			if s.maxBytes > 0 && int64(buf.Len()+len(raw)) > s.maxBytes {
				s.sendError(conn, "File too large", "")
				return
			}
			buf.Write(raw)
		case "stop":
			var p transcribe.Payload
			if started && buf.Len() > 0 {
				p = transcribe.Payload{Filename: filename, Body: bytes.NewReader(buf.Bytes())}
			}
			s.finish(ctx, conn, p)
			return
		default:
			s.sendError(conn, "unknown message type", "")
		}
	}
}

func (s *Server) finish(ctx context.Context, conn *websocket.Conn, p transcribe.Payload) {
	logger := zerolog.Ctx(ctx)
	text, err := s.svc.Transcribe(ctx, p)
	switch {
	case err == nil:
		_ = conn.WriteJSON(map[string]any{"type": "transcript", "transcription": text})
	case errors.Is(err, transcribe.ErrMissingFile), errors.Is(err, transcribe.ErrEmptyFilename):
		s.sendError(conn, transcribe.ClientMessage(err), "")
	default:
		logger.Error().Err(err).Msg("ws: transcription failed")
		s.sendError(conn, "Transcription failed", err.Error())
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) sendError(conn *websocket.Conn, msg, details string) {
	body := map[string]any{"type": "error", "error": msg}
	if details != "" {
		body["details"] = details
	}
	_ = conn.WriteJSON(body)
}

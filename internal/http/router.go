package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/stt-server/internal/config"
	"github.com/obiente/stt-server/internal/transcribe"
	"github.com/obiente/stt-server/internal/ws"
)

const uploadField = "file"

func NewRouter(svc *transcribe.Service, cfg config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
	}))

	h := &handler{svc: svc, cfg: cfg}
	r.Get("/", h.banner)
	r.Get("/health", h.health)
	r.Post("/transcribe", h.transcribe)

	wss := ws.NewServer(svc, cfg)
	r.Get("/ws/transcribe", wss.Handle)
	return r
}

type handler struct {
	svc *transcribe.Service
	cfg config.Config
}

func (h *handler) banner(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.cfg.ModelName+" STT API is running!")
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (h *handler) transcribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := zerolog.Ctx(ctx)

	if h.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	}

	// The multipart stream is read part by part so the upload lands only in
	// the request's scratch scope.
	mr, err := r.MultipartReader()
	if err != nil {
		logger.Debug().Err(err).Msg("http: no multipart body")
		writeError(w, http.StatusBadRequest, transcribe.ClientMessage(transcribe.ErrMissingFile), "")
		return
	}

	var payload transcribe.Payload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				logger.Warn().Int64("limit", tooLarge.Limit).Msg("http: upload too large")
				writeError(w, http.StatusRequestEntityTooLarge, "File too large", "")
				return
			}
			logger.Debug().Err(err).Msg("http: malformed multipart body")
			break
		}
		if part.FormName() != uploadField || !isFilePart(part) {
			_ = part.Close()
			continue
		}
		payload = transcribe.Payload{Filename: part.FileName(), Body: part}
		break
	}

	text, err := h.svc.Transcribe(ctx, payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"transcription": text})
	case errors.Is(err, transcribe.ErrMissingFile), errors.Is(err, transcribe.ErrEmptyFilename):
		logger.Info().Err(err).Msg("http: rejected upload")
		writeError(w, http.StatusBadRequest, transcribe.ClientMessage(err), "")
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Int64("limit", tooLarge.Limit).Msg("http: upload too large")
			writeError(w, http.StatusRequestEntityTooLarge, "File too large", "")
			return
		}
		logger.Error().Err(err).Msg("http: transcription failed")
		writeError(w, http.StatusInternalServerError, "Transcription failed", err.Error())
	}
}

// isFilePart reports whether the part's Content-Disposition carries a
// filename parameter, even an empty one. Plain form values do not count.
func isFilePart(p *multipart.Part) bool {
	_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if err != nil {
		return false
	}
	_, ok := params["filename"]
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	body := map[string]any{"error": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

// requestLogger attaches a child of the global logger, tagged with the chi
// request id, to the request context and logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := log.With().
			Str("req_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))
		l.Info().
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Msg("http: request")
	})
}

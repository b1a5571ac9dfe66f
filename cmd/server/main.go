package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/stt-server/internal/audio"
	"github.com/obiente/stt-server/internal/config"
	serverhttp "github.com/obiente/stt-server/internal/http"
	"github.com/obiente/stt-server/internal/transcribe"
	"github.com/obiente/stt-server/internal/whisper"
)

type cli struct {
	Addr  string `help:"Listen address (overrides STT_ADDR)."`
	Model string `help:"Path to the ggml model file (overrides STT_MODEL_PATH)." type:"path"`

	Serve      serveCmd      `cmd:"" default:"1" help:"Run the HTTP transcription server."`
	Transcribe transcribeCmd `cmd:"" help:"Transcribe a local audio file and print the text."`
}

type serveCmd struct{}

type transcribeCmd struct {
	File string `arg:"" type:"existingfile" help:"Audio file to transcribe."`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	lvl := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			lvl = l
		}
	}
	log.Logger = log.Level(lvl)
	zerolog.DefaultContextLogger = &log.Logger

	var c cli
	kctx := kong.Parse(&c,
		kong.Name("stt-server"),
		kong.Description("Speech-to-text HTTP service backed by whisper.cpp."),
		kong.UsageOnError(),
	)

	cfg := config.Load()
	if c.Addr != "" {
		cfg.Addr = c.Addr
	}
	if c.Model != "" {
		cfg.ModelPath = c.Model
	}

	kctx.FatalIfErrorf(kctx.Run(cfg))
}

// load brings up the shared model and the pipeline around it. Any failure
// here is fatal: the process must not serve without a model.
func load(cfg config.Config) (*transcribe.Service, whisper.Engine) {
	rs, err := audio.NewResampler(cfg.Resampler)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid resampler")
	}

	start := time.Now()
	eng, err := whisper.NewEngine(whisper.Options{
		ModelPath:     cfg.ModelPath,
		Device:        cfg.Device,
		Threads:       cfg.Threads,
		Language:      cfg.Language,
		DisableGraphs: cfg.DisableCUDAGraphs,
	})
	if err != nil {
		log.Fatal().Err(err).Str("model", cfg.ModelPath).Msg("model load failed")
	}
	log.Info().
		Str("model", cfg.ModelPath).
		Str("device", string(eng.Device())).
		Dur("took", time.Since(start)).
		Msg("model loaded")

	if cfg.Warmup {
		n := whisper.Warmup(eng, cfg.WarmupLengths)
		log.Info().Int("ok", n).Int("total", len(cfg.WarmupLengths)).Msg("warmup finished")
	}

	svc := transcribe.New(eng, transcribe.Options{
		TempDir:           cfg.TempDir,
		Resampler:         rs,
		Decoder:           audio.Decoder{FFmpegPath: cfg.FFmpegPath, Rate: whisper.SampleRate},
		BatchSize:         cfg.BatchSize,
		PersistNormalized: cfg.PersistNormalized,
	})
	return svc, eng
}

func (serveCmd) Run(cfg config.Config) error {
	svc, eng := load(cfg)

	// No WriteTimeout: inference on long uploads may take minutes.
	srv := &http.Server{
		Handler:           serverhttp.NewRouter(svc, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = eng.Close()
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("addr", ln.Addr().String()).Str("model", cfg.ModelName).Msg("stt server starting")
	if err := serve(ctx, srv, ln, eng, shutdownGrace); err != nil {
		return err
	}
	log.Info().Msg("stt server stopped")
	return nil
}

const shutdownGrace = 30 * time.Second

// serve runs srv on ln until ctx is done, then drains in-flight requests
// for up to grace before closing the engine. The engine is never closed
// while a request may still be using it.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, eng whisper.Engine, grace time.Duration) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
		log.Info().Msg("stt server shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if sErr := srv.Shutdown(shutdownCtx); sErr != nil {
		// Handlers still running hold the engine; leave it to process exit.
		log.Warn().Err(sErr).Msg("stt server drain incomplete, engine left open")
		return fmt.Errorf("shutdown: %w", sErr)
	}
	if err == nil {
		err = <-serveErr
	}
	if cErr := eng.Close(); cErr != nil {
		log.Warn().Err(cErr).Msg("engine close failed")
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (t transcribeCmd) Run(cfg config.Config) error {
	cfg.Warmup = false
	svc, eng := load(cfg)
	defer eng.Close()

	f, err := os.Open(t.File)
	if err != nil {
		return err
	}
	defer f.Close()

	text, err := svc.Transcribe(log.Logger.WithContext(context.Background()), transcribe.Payload{
		Filename: filepath.Base(t.File),
		Body:     f,
	})
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

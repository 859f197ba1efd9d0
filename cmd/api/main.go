package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bobarin/saludo/internal/api"
	"github.com/bobarin/saludo/internal/cache"
	"github.com/bobarin/saludo/internal/config"
	"github.com/bobarin/saludo/internal/db"
	"github.com/bobarin/saludo/internal/dlq"
	"github.com/bobarin/saludo/internal/janitor"
	"github.com/bobarin/saludo/internal/lock"
	"github.com/bobarin/saludo/internal/logging"
	"github.com/bobarin/saludo/internal/metrics"
	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/notify"
	"github.com/bobarin/saludo/internal/orchestrator"
	"github.com/bobarin/saludo/internal/queue"
	"github.com/bobarin/saludo/internal/services"
	"github.com/bobarin/saludo/internal/storage"
	"github.com/bobarin/saludo/internal/worker"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "json")
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("saludo exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Bool("api", cfg.APIEnabled).
		Bool("worker", cfg.WorkerEnabled).
		Str("storage", cfg.StorageType).
		Msg("starting saludo")

	metrics.MustRegister()

	q, err := queue.New(cfg.RedisURL, cfg.QueueName)
	if err != nil {
		return err
	}
	defer q.Close()
	log.Info().Str("queue", q.Name()).Msg("connected to redis")

	records := queue.NewRecords(q.Client())
	deadLetters := dlq.New(q, records, log)

	// The Postgres mirror is optional; Redis stays the source of truth.
	var database *db.DB
	if cfg.DatabaseURL != "" {
		database, err = db.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.Migrate(context.Background()); err != nil {
			return err
		}
		log.Info().Msg("job history mirror enabled")
	}

	uploader, err := storage.FromConfig(cfg, log)
	if err != nil {
		return err
	}

	assets := orchestrator.Assets{
		Intro: filepath.Join(cfg.AssetsDir, cfg.IntroAsset),
		Base:  filepath.Join(cfg.AssetsDir, cfg.BaseAsset),
		Outro: filepath.Join(cfg.AssetsDir, cfg.OutroAsset),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		w         *worker.Worker
		providers func() []models.ProviderDescriptor
	)
	if cfg.WorkerEnabled {
		orch, err := buildOrchestrator(cfg, assets, log)
		if err != nil {
			return err
		}
		providers = orch.Descriptors

		deps := worker.Deps{
			Queue:    q,
			Records:  records,
			Locks:    lock.New(q.Client()),
			DLQ:      deadLetters,
			Pipeline: orch,
			Uploader: uploader,
		}
		if resend := notify.NewResend(cfg.ResendKey, cfg.EmailFrom, log); resend.Configured() {
			deps.Notifier = resend
		} else {
			log.Warn().Msg("RESEND_API_KEY not set, greetings will not be emailed")
		}
		if database != nil {
			deps.Mirror = database
		}

		w = worker.New(deps, worker.Config{
			MaxAttempts:   cfg.MaxAttempts,
			LockTTL:       cfg.LockTTL,
			PollTimeout:   cfg.WorkerPollDelay,
			ShutdownGrace: cfg.ShutdownGrace,
		}, log)
		w.Start(ctx)
	}

	jcfg := janitor.Config{
		Schedule:     cfg.CleanupSchedule,
		TempDirs:     []string{cfg.TempDir},
		TempMaxAge:   cfg.TempMaxAge,
		JobRetention: cfg.JobRetention,
	}
	var pruner janitor.MirrorPruner
	if database != nil {
		pruner = database
	}
	jan, err := janitor.New(records, pruner, jcfg, log)
	if err != nil {
		return err
	}
	if err := jan.Start(ctx); err != nil {
		return err
	}
	defer jan.Stop()

	var server *http.Server
	serverErr := make(chan error, 1)
	if cfg.APIEnabled {
		deps := api.Deps{
			Queue:     q,
			Records:   records,
			DLQ:       deadLetters,
			Providers: providers,
			Storage:   uploader,
			Assets:    []string{assets.Intro, assets.Base, assets.Outro},
		}
		if database != nil {
			deps.History = database
		}
		rcfg := api.RouterConfig{
			BackendAPIKey:      cfg.BackendAPIKey,
			CorsAllowedOrigins: cfg.CorsAllowedOrigins,
		}
		if local, ok := uploader.(*storage.Local); ok {
			rcfg.VideosDir = filepath.Join(local.Dir(), "videos")
		}
		if cfg.BackendAPIKey == "" {
			log.Warn().Msg("no BACKEND_API_KEY set, /v1 is unprotected (dev mode)")
		}

		server = &http.Server{
			Addr:              ":" + cfg.APIPort,
			Handler:           api.NewRouter(api.NewHandler(deps, log), rcfg, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("port", cfg.APIPort).Msg("api listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		log.Error().Err(err).Msg("api server failed")
	}

	// The worker gets its grace period before the server goes away so status
	// reads keep working meanwhile.
	if w != nil {
		w.Stop()
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}
	}

	log.Info().Msg("saludo exited")
	return nil
}

// buildOrchestrator wires every configured provider in priority order.
// Disabled providers are left out entirely; ones missing a key are listed but
// skipped by the orchestrator.
func buildOrchestrator(cfg *config.Config, assets orchestrator.Assets, log zerolog.Logger) (*orchestrator.Orchestrator, error) {
	workDir := cfg.TempDir

	pc := orchestrator.ProviderConfig{
		VoiceID:       cfg.VoiceID,
		AvatarID:      cfg.AvatarID,
		Assets:        assets,
		OverlapFrames: cfg.OverlapFrames,
		WorkDir:       workDir,
	}

	if !cfg.DisableElevenLabs {
		pc.TTS = append(pc.TTS, services.NewElevenLabsService(cfg.ElevenLabsKey, workDir, log))
	}
	if !cfg.DisableCartesia {
		pc.TTS = append(pc.TTS, services.NewCartesiaService(cfg.CartesiaKey, cfg.CartesiaURL, cfg.CartesiaVoiceID, workDir, log))
	}
	if !cfg.DisableOpenAITTS {
		pc.TTS = append(pc.TTS, services.NewOpenAIService(cfg.OpenAIKey, cfg.OpenAITTSModel, cfg.OpenAITTSVoice, workDir, log))
	}

	if !cfg.DisableSyncLabs {
		pc.LipSync = append(pc.LipSync, services.NewSyncLabsService(cfg.SyncLabsKey, cfg.SyncLabsURL, workDir, log))
	}
	if !cfg.DisableWav2Lip {
		pc.LipSync = append(pc.LipSync, services.NewWav2LipService(cfg.Wav2LipModelPath, cfg.Wav2LipRepoPath, cfg.Wav2LipPython, workDir, log))
	}

	if !cfg.DisableHeyGen {
		pc.Primary = services.NewHeyGenService(cfg.HeyGenKey, cfg.HeyGenURL, cfg.HeyGenVoiceID, cfg.HeyGenCharacterType, workDir, log)
	}
	if !cfg.DisableVeo {
		pc.Secondary = services.NewVeoService(cfg.GeminiKey, cfg.VeoModel, workDir, log)
	}

	ffmpeg, err := services.NewFFmpegService(workDir, log)
	if err != nil {
		return nil, err
	}

	audio, err := cache.New(cfg.AudioCacheDir, cfg.AudioCacheMaxBytes(), log)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(pc, ffmpeg, audio, log)
}

// Package orchestrator turns a greeting job into a finished video by walking
// a fixed chain of strategies, each backed by prioritised capability
// providers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bobarin/saludo/internal/logging"
	"github.com/bobarin/saludo/internal/metrics"
	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/retry"
	"github.com/bobarin/saludo/internal/services"
	"github.com/rs/zerolog"
)

// Assets are the three fixed segments of every greeting.
type Assets struct {
	Intro string // Frames_1_2_to_3.mov, voiced with the intro line
	Base  string // frame3_santa_base.mp4, the face lip-sync drives
	Outro string // Frame_4_NocheMagica.mov
}

// ProviderConfig is built once at start from configuration. Slices are in
// priority order; providers that report unavailable are skipped.
type ProviderConfig struct {
	TTS       []services.Synthesizer
	LipSync   []services.LipSyncer
	Primary   services.VideoGenerator // complete_video_primary
	Secondary services.VideoGenerator // complete_video_secondary

	VoiceID       string
	AvatarID      string
	Assets        Assets
	OverlapFrames int
	WorkDir       string

	// ProviderRetry wraps single TTS and lip-sync calls. Video generation is
	// slow and billed per render, so it is tried once per strategy.
	ProviderRetry retry.Config
}

// Composer is the part of the composition engine the orchestrator drives.
type Composer interface {
	Compose(ctx context.Context, introPath, mainPath, outroPath, outputPath string, overlapFrames int) (string, error)
	MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) (string, error)
	LoopVideoUnderAudio(ctx context.Context, videoPath, audioPath, outputPath string) (string, error)
}

// AudioCache avoids paying twice for the same synthesis.
type AudioCache interface {
	Get(text, voiceID, provider string) (string, bool)
	Put(text, voiceID, provider, srcPath string) (string, error)
}

type Orchestrator struct {
	tts       []services.Synthesizer
	lipSync   []services.LipSyncer
	primary   []services.VideoGenerator
	secondary []services.VideoGenerator

	descriptors []models.ProviderDescriptor

	voiceID       string
	avatarID      string
	assets        Assets
	overlapFrames int
	workDir       string
	retry         retry.Config

	composer Composer
	cache    AudioCache
	log      zerolog.Logger
}

// New filters cfg down to available providers. cache may be nil.
func New(cfg ProviderConfig, composer Composer, cache AudioCache, log zerolog.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		voiceID:       cfg.VoiceID,
		avatarID:      cfg.AvatarID,
		assets:        cfg.Assets,
		overlapFrames: cfg.OverlapFrames,
		workDir:       cfg.WorkDir,
		retry:         cfg.ProviderRetry,
		composer:      composer,
		cache:         cache,
		log:           logging.Component(log, "orchestrator"),
	}
	if o.overlapFrames <= 0 {
		o.overlapFrames = services.DefaultOverlapFrames
	}
	if o.workDir == "" {
		o.workDir = os.TempDir()
	}
	if o.retry.MaxAttempts == 0 {
		o.retry = retry.Config{MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	}
	o.retry.Retryable = retryableProviderError

	for i, p := range cfg.TTS {
		o.describe(p, models.CapabilityTTS, i+1)
		if p.Available() {
			o.tts = append(o.tts, p)
		}
	}
	for i, p := range cfg.LipSync {
		o.describe(p, models.CapabilityLipSync, i+1)
		if p.Available() {
			o.lipSync = append(o.lipSync, p)
		}
	}
	for i, p := range []services.VideoGenerator{cfg.Primary, cfg.Secondary} {
		if p == nil {
			continue
		}
		o.describe(p, models.CapabilityCompleteVideo, i+1)
		if !p.Available() {
			continue
		}
		if i == 0 {
			o.primary = append(o.primary, p)
		} else {
			o.secondary = append(o.secondary, p)
		}
	}

	if len(o.tts) == 0 {
		return nil, ErrNoSynthesizer
	}

	o.log.Info().
		Int("tts", len(o.tts)).
		Int("lipsync", len(o.lipSync)).
		Int("complete_video", len(o.primary)+len(o.secondary)).
		Msg("providers ready")
	return o, nil
}

func (o *Orchestrator) describe(p services.Provider, c models.Capability, priority int) {
	o.descriptors = append(o.descriptors, services.Describe(p, c, priority))
}

// Descriptors lists every configured provider, available or not.
func (o *Orchestrator) Descriptors() []models.ProviderDescriptor {
	out := make([]models.ProviderDescriptor, len(o.descriptors))
	copy(out, o.descriptors)
	return out
}

// retryableProviderError keeps retries for transient faults. A missing
// provider or a closed polling window will not change on a second try.
func retryableProviderError(err error) bool {
	return !errors.Is(err, services.ErrProviderUnavailable) &&
		!errors.Is(err, services.ErrGenerationTimedOut)
}

// SynthesizeWithFallback returns audio for text. Any provider's cached audio
// is used before a network call is made; a fresh synthesis is cached.
func (o *Orchestrator) SynthesizeWithFallback(ctx context.Context, text, voiceID string) (string, error) {
	path, _, err := o.synthesize(ctx, text, voiceID, false)
	return path, err
}

// synthesize reports owned=true when path is a provider temp file the caller
// must remove, and false when it belongs to the cache. With keepFresh a fresh
// synthesis is still cached but the provider file is returned, so a later
// eviction cannot pull it from under the caller.
func (o *Orchestrator) synthesize(ctx context.Context, text, voiceID string, keepFresh bool) (path string, owned bool, err error) {
	if o.cache != nil {
		for _, p := range o.tts {
			if path, ok := o.cache.Get(text, voiceID, p.Name()); ok {
				metrics.CacheLookup(true)
				o.log.Debug().Str("provider", p.Name()).Msg("audio cache hit")
				return path, false, nil
			}
		}
		metrics.CacheLookup(false)
	}

	var lastErr error = services.ErrProviderUnavailable
	for _, p := range o.tts {
		p := p
		path, err := retry.DoValue(ctx, o.retry, func(ctx context.Context) (string, error) {
			return p.Synthesize(ctx, text, voiceID)
		})
		metrics.ProviderCall(string(models.CapabilityTTS), p.Name(), err == nil)
		if err != nil {
			o.log.Warn().Err(err).Str("provider", p.Name()).Msg("tts provider failed")
			lastErr = err
			if ctx.Err() != nil {
				return "", false, ctx.Err()
			}
			continue
		}

		if o.cache == nil {
			return path, true, nil
		}
		cached, err := o.cache.Put(text, voiceID, p.Name(), path)
		if err != nil {
			o.log.Warn().Err(err).Str("provider", p.Name()).Msg("failed to cache audio")
			return path, true, nil
		}
		if keepFresh {
			return path, true, nil
		}
		os.Remove(path)
		return cached, false, nil
	}

	return "", false, &AllProvidersFailedError{Capability: models.CapabilityTTS, LastErr: lastErr}
}

// LipSyncWithFallback drives videoPath with audioPath using the first
// lip-sync provider that succeeds.
func (o *Orchestrator) LipSyncWithFallback(ctx context.Context, videoPath, audioPath string) (string, error) {
	var lastErr error = services.ErrProviderUnavailable
	for _, p := range o.lipSync {
		p := p
		out, err := retry.DoValue(ctx, o.retry, func(ctx context.Context) (string, error) {
			return p.LipSync(ctx, videoPath, audioPath)
		})
		metrics.ProviderCall(string(models.CapabilityLipSync), p.Name(), err == nil)
		if err == nil {
			return out, nil
		}
		o.log.Warn().Err(err).Str("provider", p.Name()).Msg("lip-sync provider failed")
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", &AllProvidersFailedError{Capability: models.CapabilityLipSync, LastErr: lastErr}
}

// GenerateVideoWithFallback tries every complete-video provider in priority order.
func (o *Orchestrator) GenerateVideoWithFallback(ctx context.Context, script, avatarID string, opts services.VideoOptions) (string, error) {
	all := append(append([]services.VideoGenerator{}, o.primary...), o.secondary...)
	return o.generateVideo(ctx, all, script, avatarID, opts)
}

func (o *Orchestrator) generateVideo(ctx context.Context, providers []services.VideoGenerator, script, avatarID string, opts services.VideoOptions) (string, error) {
	var lastErr error = services.ErrProviderUnavailable
	for _, p := range providers {
		out, err := p.GenerateVideo(ctx, script, avatarID, opts)
		metrics.ProviderCall(string(models.CapabilityCompleteVideo), p.Name(), err == nil)
		if err == nil {
			return out, nil
		}
		o.log.Warn().Err(err).Str("provider", p.Name()).Msg("video provider failed")
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", &AllProvidersFailedError{Capability: models.CapabilityCompleteVideo, LastErr: lastErr}
}

// Result is a finished greeting on local disk.
type Result struct {
	VideoPath string
	Strategy  string
	Attempted []string
	WorkDir   string // holds VideoPath; the caller removes it once uploaded
}

// Run tries each strategy in order and returns the first composed video.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) (*Result, error) {
	run, err := o.newJobRun(job)
	if err != nil {
		return nil, err
	}
	defer run.cleanupIntermediates()

	log := logging.WithJob(o.log, job.VideoID)
	var attempted []string
	var lastErr error

	for _, st := range o.strategies() {
		attempted = append(attempted, st.name)
		start := time.Now()

		final, err := o.attempt(ctx, run, st)
		if err == nil {
			metrics.StrategyAttempt(st.name, "success")
			log.Info().
				Str("strategy", st.name).
				Str("outcome", "success").
				Dur("elapsed", time.Since(start)).
				Msg("strategy attempt")
			return &Result{VideoPath: final, Strategy: st.name, Attempted: attempted, WorkDir: run.dir}, nil
		}

		metrics.StrategyAttempt(st.name, "failure")
		log.Warn().
			Err(err).
			Str("strategy", st.name).
			Str("outcome", "failure").
			Dur("elapsed", time.Since(start)).
			Msg("strategy attempt")
		lastErr = err

		if ctx.Err() != nil {
			os.RemoveAll(run.dir)
			return nil, fmt.Errorf("job %s interrupted during %s: %w", job.VideoID, st.name, ctx.Err())
		}
	}

	os.RemoveAll(run.dir)
	return nil, &AllStrategiesFailedError{Attempted: attempted, LastErr: lastErr}
}

// attempt runs one strategy and composes its main segment.
func (o *Orchestrator) attempt(ctx context.Context, run *jobRun, st strategy) (string, error) {
	mainPath, err := st.run(ctx, run)
	if err != nil {
		return "", err
	}
	run.track(mainPath)

	intro := run.voicedIntro(ctx)
	return o.composer.Compose(ctx, intro, mainPath, o.assets.Outro, run.path("final_"+run.job.VideoID+".mp4"), o.overlapFrames)
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobarin/saludo/internal/greeting"
	"github.com/bobarin/saludo/internal/logging"
	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/services"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Strategy names, in the order Run tries them.
const (
	StrategyCompletePrimary   = "complete_video_primary"
	StrategyCompleteSecondary = "complete_video_secondary"
	StrategyTTSLipSync        = "tts_lipsync"
	StrategyTTSStatic         = "tts_static"
)

// strategy produces the main segment. The intro and outro are added by attempt.
type strategy struct {
	name string
	run  func(ctx context.Context, r *jobRun) (string, error)
}

func (o *Orchestrator) strategies() []strategy {
	return []strategy{
		{StrategyCompletePrimary, func(ctx context.Context, r *jobRun) (string, error) {
			return r.completeVideo(ctx, o.primary)
		}},
		{StrategyCompleteSecondary, func(ctx context.Context, r *jobRun) (string, error) {
			return r.completeVideo(ctx, o.secondary)
		}},
		{StrategyTTSLipSync, func(ctx context.Context, r *jobRun) (string, error) {
			return r.lipSynced(ctx)
		}},
		{StrategyTTSStatic, func(ctx context.Context, r *jobRun) (string, error) {
			return r.staticFace(ctx)
		}},
	}
}

// jobRun carries what one Run shares across strategies: the script, the
// scratch directory and audio that later strategies can reuse.
type jobRun struct {
	o      *Orchestrator
	job    *models.Job
	script greeting.ScriptPair
	dir    string
	log    zerolog.Logger

	mu    sync.Mutex
	temps []string

	mainAudio  string
	introAudio string
	introTried bool
	intro      string
	introDone  bool
}

func (o *Orchestrator) newJobRun(job *models.Job) (*jobRun, error) {
	if err := os.MkdirAll(o.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(o.workDir, "job_"+job.VideoID+"_")
	if err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	return &jobRun{
		o:      o,
		job:    job,
		script: greeting.BuildScript(job.Data),
		dir:    dir,
		log:    logging.WithJob(o.log, job.VideoID),
	}, nil
}

func (r *jobRun) path(name string) string {
	return filepath.Join(r.dir, name)
}

// track marks a provider output for removal once the run ends. Files inside
// the job dir go with it.
func (r *jobRun) track(path string) {
	if path == "" || filepath.Dir(path) == r.dir {
		return
	}
	r.mu.Lock()
	r.temps = append(r.temps, path)
	r.mu.Unlock()
}

func (r *jobRun) cleanupIntermediates() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.temps {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			r.log.Debug().Err(err).Str("path", p).Msg("failed to remove intermediate")
		}
	}
	r.temps = nil
}

func (r *jobRun) completeVideo(ctx context.Context, providers []services.VideoGenerator) (string, error) {
	opts := services.VideoOptions{
		Title:   "Mensaje de Papá Noel para " + greeting.Sanitize(r.job.Data.Nombre),
		VoiceID: r.o.voiceID,
	}
	return r.o.generateVideo(ctx, providers, r.script.MainDialogue, r.o.avatarID, opts)
}

func (r *jobRun) lipSynced(ctx context.Context) (string, error) {
	// Fail before paying for speech when nothing could use it.
	if len(r.o.lipSync) == 0 {
		return "", &AllProvidersFailedError{Capability: models.CapabilityLipSync, LastErr: services.ErrProviderUnavailable}
	}
	audio, err := r.speech(ctx)
	if err != nil {
		return "", err
	}
	return r.o.LipSyncWithFallback(ctx, r.o.assets.Base, audio)
}

func (r *jobRun) staticFace(ctx context.Context) (string, error) {
	audio, err := r.speech(ctx)
	if err != nil {
		return "", err
	}
	return r.o.composer.LoopVideoUnderAudio(ctx, r.o.assets.Base, audio, r.path("main_static.mp4"))
}

// speech synthesises the main dialogue, fetching the intro line alongside it.
// The dialogue is kept for the next strategy.
func (r *jobRun) speech(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.mainAudio != "" {
		a := r.mainAudio
		r.mu.Unlock()
		return a, nil
	}
	r.mu.Unlock()

	var audio string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := r.synthesize(gctx, r.script.MainDialogue)
		if err != nil {
			return err
		}
		audio = a
		return nil
	})
	g.Go(func() error {
		// Best effort, never fails the group.
		r.introLineAudio(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.mainAudio = audio
	r.mu.Unlock()
	return audio, nil
}

// synthesize returns audio the run owns. Cache hits are copied into the job
// dir, since another Put may evict the cached file before it is used.
func (r *jobRun) synthesize(ctx context.Context, text string) (string, error) {
	for tries := 0; ; tries++ {
		path, owned, err := r.o.synthesize(ctx, text, r.o.voiceID, true)
		if err != nil {
			return "", err
		}
		if owned {
			r.track(path)
			return path, nil
		}

		local, err := r.copyIn(path)
		if err == nil {
			return local, nil
		}
		if !errors.Is(err, fs.ErrNotExist) || tries > 0 {
			return "", err
		}
		// Evicted between lookup and copy. The cache drops the entry on the
		// next lookup, so the second pass synthesizes afresh.
		r.log.Debug().Str("path", path).Msg("cached audio evicted before use")
	}
}

func (r *jobRun) copyIn(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp(r.dir, "audio-*"+filepath.Ext(path))
	if err != nil {
		return "", fmt.Errorf("copy cached audio: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("copy cached audio: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("copy cached audio: %w", err)
	}
	return dst.Name(), nil
}

// introLineAudio returns the intro line's audio, or "" when synthesis failed.
// It is attempted once per run.
func (r *jobRun) introLineAudio(ctx context.Context) string {
	r.mu.Lock()
	if r.introTried {
		a := r.introAudio
		r.mu.Unlock()
		return a
	}
	r.mu.Unlock()

	audio, err := r.synthesize(ctx, r.script.IntroLine)
	if err != nil {
		r.log.Warn().Err(err).Msg("intro line synthesis failed, intro stays silent")
	}

	r.mu.Lock()
	// A cancelled context says nothing about the providers; let a later
	// strategy try again.
	if err == nil || ctx.Err() == nil {
		r.introAudio, r.introTried = audio, true
	}
	r.mu.Unlock()
	return audio
}

// voicedIntro muxes the intro line over the intro asset. Any failure falls
// back to the raw asset.
func (r *jobRun) voicedIntro(ctx context.Context) string {
	r.mu.Lock()
	if r.introDone {
		v := r.intro
		r.mu.Unlock()
		return v
	}
	r.mu.Unlock()

	intro := r.o.assets.Intro
	if audio := r.introLineAudio(ctx); audio != "" {
		out, err := r.o.composer.MuxAudio(ctx, r.o.assets.Intro, audio, r.path("intro_voiced.mov"))
		if err != nil {
			r.log.Warn().Err(err).Msg("intro voicing failed, using raw intro")
		} else {
			intro = out
		}
	}

	r.mu.Lock()
	r.intro, r.introDone = intro, true
	r.mu.Unlock()
	return intro
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Veo complete-video generation
// The secondary complete-video provider. Veo has no avatars, so Papá Noel is
// described in the prompt and the script is given as his spoken line.
// ---------------------------------------------------------------------------

const (
	defaultVeoModel    = "veo-3.1-generate-preview"
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 6 * time.Minute
)

type VeoService struct {
	apiKey       string
	model        string
	workDir      string
	pollInterval time.Duration
	maxPoll      time.Duration
	log          zerolog.Logger
}

var _ VideoGenerator = (*VeoService)(nil)

// NewVeoService creates the Veo provider. apiKey is the Gemini API key; an
// empty model selects veo-3.1-generate-preview.
func NewVeoService(apiKey, model, workDir string, log zerolog.Logger) *VeoService {
	if model == "" {
		model = defaultVeoModel
	}
	return &VeoService{
		apiKey:       apiKey,
		model:        model,
		workDir:      workDir,
		pollInterval: veoPollInterval,
		maxPoll:      veoMaxPollDuration,
		log:          log.With().Str("provider", "veo").Logger(),
	}
}

func (s *VeoService) Name() string { return "veo" }

func (s *VeoService) Available() bool { return s.apiKey != "" }

// buildVeoPrompt describes the scene and hands Veo the line to speak.
func buildVeoPrompt(script string) string {
	return fmt.Sprintf(`Vertical 9:16 medium close-up of Papá Noel (Santa Claus): warm smile, full white beard, red velvet suit with white fur trim, sitting in a cozy living room lit by a Christmas tree and a fireplace.

He looks straight into the camera and speaks warmly in Rioplatense Spanish, with natural lip movement matching every word:

"%s"

Camera: static, gentle depth of field. Lighting: warm golden tones. No on-screen text, no subtitles, no background music.`, strings.TrimSpace(script))
}

// GenerateVideo starts a Veo operation and polls it until done. avatarID is
// not used by Veo.
func (s *VeoService) GenerateVideo(ctx context.Context, script, _ string, opts VideoOptions) (string, error) {
	if !s.Available() {
		return "", ErrProviderUnavailable
	}

	path, err := s.generate(ctx, script, opts.withDefaults())
	if err != nil {
		return "", &GenerationError{Provider: s.Name(), Err: err}
	}
	return path, nil
}

func (s *VeoService) generate(ctx context.Context, script string, opts VideoOptions) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	aspect := "9:16"
	if opts.Width > opts.Height {
		aspect = "16:9"
	}
	config := &genai.GenerateVideosConfig{
		AspectRatio:      aspect,
		Resolution:       "1080p",
		PersonGeneration: "allow_all",
		NumberOfVideos:   1,
	}

	prompt := buildVeoPrompt(script)
	s.log.Info().Str("model", s.model).Int("prompt_len", len(prompt)).Msg("starting video generation")

	operation, err := client.Models.GenerateVideos(ctx, s.model, prompt, nil, config)
	if err != nil {
		return "", fmt.Errorf("failed to start video generation: %w", err)
	}

	deadline := time.Now().Add(s.maxPoll)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w after %v (polled %d times)", ErrGenerationTimedOut, s.maxPoll, pollCount)
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("video generation cancelled: %w", ctx.Err())
		case <-time.After(s.pollInterval):
		}

		pollCount++
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return "", fmt.Errorf("failed to poll operation (attempt %d): %w", pollCount, err)
		}
		s.log.Debug().Int("poll", pollCount).Bool("done", operation.Done).Msg("polled operation")
	}

	if len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return "", fmt.Errorf("operation failed: %s", string(errJSON))
	}
	if operation.Response == nil {
		return "", fmt.Errorf("no response in completed operation %s", operation.Name)
	}
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return "", fmt.Errorf("video blocked by safety filters: %s", reasons)
	}
	if len(operation.Response.GeneratedVideos) == 0 || operation.Response.GeneratedVideos[0].Video == nil {
		return "", fmt.Errorf("no videos in response")
	}

	videoBytes, err := client.Files.Download(ctx, genai.NewDownloadURIFromVideo(operation.Response.GeneratedVideos[0].Video), nil)
	if err != nil {
		return "", fmt.Errorf("failed to download generated video: %w", err)
	}
	if len(videoBytes) == 0 {
		return "", fmt.Errorf("downloaded video is empty (0 bytes)")
	}

	path, err := writeTemp(s.workDir, "veo-*.mp4", videoBytes)
	if err != nil {
		return "", err
	}

	s.log.Info().Int("bytes", len(videoBytes)).Int("polls", pollCount).Msg("video generated")
	return path, nil
}

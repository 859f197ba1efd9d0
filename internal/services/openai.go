package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bobarin/saludo/internal/retry"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAITTSModel = "tts-1-hd"
	defaultOpenAITTSVoice = "onyx"
)

// OpenAIService is the last-resort TTS provider. OpenAI voices are named, so
// the Papá Noel voice id is ignored in favour of the configured voice.
type OpenAIService struct {
	client  *openai.Client
	enabled bool
	model   string
	voice   string
	workDir string
	log     zerolog.Logger
}

var _ Synthesizer = (*OpenAIService)(nil)

func NewOpenAIService(apiKey, model, voice, workDir string, log zerolog.Logger) *OpenAIService {
	return newOpenAIService(openai.DefaultConfig(apiKey), apiKey != "", model, voice, workDir, log)
}

// NewOpenAIServiceWithBaseURL talks to an OpenAI compatible endpoint.
func NewOpenAIServiceWithBaseURL(apiKey, baseURL, model, voice, workDir string, log zerolog.Logger) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return newOpenAIService(cfg, apiKey != "", model, voice, workDir, log)
}

func newOpenAIService(cfg openai.ClientConfig, enabled bool, model, voice, workDir string, log zerolog.Logger) *OpenAIService {
	if model == "" {
		model = defaultOpenAITTSModel
	}
	if voice == "" {
		voice = defaultOpenAITTSVoice
	}
	return &OpenAIService{
		client:  openai.NewClientWithConfig(cfg),
		enabled: enabled,
		model:   model,
		voice:   voice,
		workDir: workDir,
		log:     log.With().Str("provider", "openai").Logger(),
	}
}

func (s *OpenAIService) Name() string { return "openai" }

func (s *OpenAIService) Available() bool { return s.enabled }

func (s *OpenAIService) Synthesize(ctx context.Context, text, _ string) (string, error) {
	if !s.Available() {
		return "", ErrProviderUnavailable
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          0.95,
	})
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: classifyOpenAIError(err)}
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: fmt.Errorf("failed to read audio: %w", err)}
	}
	if len(audio) == 0 {
		return "", &SynthesisError{Provider: s.Name(), Err: fmt.Errorf("empty audio")}
	}

	path, err := writeTemp(s.workDir, "openai-*.mp3", audio)
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: err}
	}

	s.log.Debug().Int("bytes", len(audio)).Str("voice", s.voice).Msg("speech generated")
	return path, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != 408 && code != 429 {
			return retry.Permanent(err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		code := reqErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != 408 && code != 429 {
			return retry.Permanent(err)
		}
	}
	return err
}

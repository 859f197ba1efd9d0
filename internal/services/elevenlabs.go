package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// ElevenLabs Text-to-Speech Service
// Uses the ElevenLabs REST API to voice Papá Noel.
// Model: eleven_multilingual_v2 (the greeting is in Spanish)
// ---------------------------------------------------------------------------

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_multilingual_v2"
	elevenLabsOutputFormat = "mp3_44100_128"
)

// ElevenLabsService handles text-to-speech via the ElevenLabs API.
type ElevenLabsService struct {
	apiKey  string
	baseURL string
	modelID string
	workDir string
	client  *http.Client
	log     zerolog.Logger
}

var _ Synthesizer = (*ElevenLabsService)(nil)

// NewElevenLabsService creates an ElevenLabs synthesizer writing audio under workDir.
func NewElevenLabsService(apiKey, workDir string, log zerolog.Logger) *ElevenLabsService {
	return &ElevenLabsService{
		apiKey:  apiKey,
		baseURL: elevenLabsBaseURL,
		modelID: elevenLabsDefaultModel,
		workDir: workDir,
		client:  &http.Client{Timeout: 120 * time.Second},
		log:     log.With().Str("provider", "elevenlabs").Logger(),
	}
}

// WithBaseURL points the service at another host.
func (s *ElevenLabsService) WithBaseURL(url string) *ElevenLabsService {
	if url != "" {
		s.baseURL = url
	}
	return s
}

func (s *ElevenLabsService) Name() string { return "elevenlabs" }

func (s *ElevenLabsService) Available() bool { return s.apiKey != "" }

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to an MP3 file spoken with voiceID.
func (s *ElevenLabsService) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	if !s.Available() {
		return "", ErrProviderUnavailable
	}
	if voiceID == "" {
		return "", &SynthesisError{Provider: s.Name(), Err: fmt.Errorf("voice id is required")}
	}

	audio, err := s.request(ctx, text, voiceID)
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: err}
	}

	path, err := writeTemp(s.workDir, "elevenlabs-*.mp3", audio)
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: err}
	}

	s.log.Debug().Int("bytes", len(audio)).Int("text_len", len(text)).Msg("speech generated")
	return path, nil
}

func (s *ElevenLabsService) request(ctx context.Context, text, voiceID string) ([]byte, error) {
	reqBody := elevenLabsRequest{
		Text:    text,
		ModelID: s.modelID,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// POST /v1/text-to-speech/{voice_id}?output_format=mp3_44100_128
	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", s.baseURL, voiceID, elevenLabsOutputFormat)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("elevenlabs", resp)
	}

	// The response body is the audio file.
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio")
	}
	return audio, nil
}

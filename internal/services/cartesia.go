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

const (
	CartesiaAPIVersion = "2024-06-10"
	cartesiaBaseURL    = "https://api.cartesia.ai"
	cartesiaModel      = "sonic-multilingual"
)

// CartesiaService is the second TTS provider. It ignores the shared voice id
// when it was built with its own.
type CartesiaService struct {
	apiKey     string
	apiURL     string
	apiVersion string
	voiceID    string
	workDir    string
	client     *http.Client
	log        zerolog.Logger
}

var _ Synthesizer = (*CartesiaService)(nil)

func NewCartesiaService(apiKey, apiURL, voiceID, workDir string, log zerolog.Logger) *CartesiaService {
	if apiURL == "" {
		apiURL = cartesiaBaseURL
	}
	return &CartesiaService{
		apiKey:     apiKey,
		apiURL:     apiURL,
		apiVersion: CartesiaAPIVersion,
		voiceID:    voiceID,
		workDir:    workDir,
		client:     &http.Client{Timeout: 60 * time.Second},
		log:        log.With().Str("provider", "cartesia").Logger(),
	}
}

func (s *CartesiaService) Name() string { return "cartesia" }

func (s *CartesiaService) Available() bool { return s.apiKey != "" }

// CartesiaRequest matches the Cartesia /tts/bytes body.
type CartesiaRequest struct {
	ModelID      string                    `json:"model_id"`
	Transcript   string                    `json:"transcript"`
	Voice        CartesiaVoiceSpecifier    `json:"voice"`
	Language     string                    `json:"language,omitempty"`
	OutputFormat CartesiaOutputFormat      `json:"output_format"`
	Config       *CartesiaGenerationConfig `json:"generation_config,omitempty"`
}

type CartesiaVoiceSpecifier struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type CartesiaGenerationConfig struct {
	Speed   *float64 `json:"speed,omitempty"`   // 0.6 to 1.5
	Emotion *string  `json:"emotion,omitempty"` // e.g. "happy", "calm"
}

// Synthesize converts text to MP3. A voice id configured on the service wins
// over voiceID, since ElevenLabs voice ids mean nothing to Cartesia.
func (s *CartesiaService) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	if !s.Available() {
		return "", ErrProviderUnavailable
	}

	voice := s.voiceID
	if voice == "" {
		voice = voiceID
	}
	if voice == "" {
		return "", &SynthesisError{Provider: s.Name(), Err: fmt.Errorf("voice id is required")}
	}

	speed := 0.9
	emotion := "happy"
	reqBody := CartesiaRequest{
		ModelID:    cartesiaModel,
		Transcript: text,
		Voice:      CartesiaVoiceSpecifier{Mode: "id", ID: voice},
		Language:   "es",
		OutputFormat: CartesiaOutputFormat{
			Container:  "mp3",
			SampleRate: 44100,
			BitRate:    192000,
		},
		Config: &CartesiaGenerationConfig{Speed: &speed, Emotion: &emotion},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/tts/bytes", bytes.NewReader(jsonData))
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", s.apiVersion)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &SynthesisError{Provider: s.Name(), Err: statusError("cartesia", resp)}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: fmt.Errorf("failed to read audio: %w", err)}
	}
	if len(audio) == 0 {
		return "", &SynthesisError{Provider: s.Name(), Err: fmt.Errorf("empty audio")}
	}

	path, err := writeTemp(s.workDir, "cartesia-*.mp3", audio)
	if err != nil {
		return "", &SynthesisError{Provider: s.Name(), Err: err}
	}

	s.log.Debug().Int("bytes", len(audio)).Msg("speech generated")
	return path, nil
}

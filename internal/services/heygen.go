package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bobarin/saludo/internal/retry"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// HeyGen complete-video generation
// Deferred request pattern: POST /v2/video/generate, then poll
// /v1/video_status.get by video_id until completed, then download.
// ---------------------------------------------------------------------------

const (
	heygenBaseURL      = "https://api.heygen.com"
	heygenMinAvatarLen = 10 // real avatar / talking photo ids are long hex strings
)

type HeyGenService struct {
	apiKey        string
	baseURL       string
	voiceID       string
	characterType string
	workDir       string
	poll          pollConfig
	httpClient    *http.Client
	downloader    *http.Client
	log           zerolog.Logger
}

var _ VideoGenerator = (*HeyGenService)(nil)

func NewHeyGenService(apiKey, baseURL, voiceID, characterType, workDir string, log zerolog.Logger) *HeyGenService {
	if baseURL == "" {
		baseURL = heygenBaseURL
	}
	if characterType == "" {
		characterType = "talking_photo"
	}
	p := defaultPollConfig
	p.InitialDelay = 15 * time.Second
	return &HeyGenService{
		apiKey:        apiKey,
		baseURL:       baseURL,
		voiceID:       voiceID,
		characterType: characterType,
		workDir:       workDir,
		poll:          p,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		downloader:    &http.Client{Timeout: 5 * time.Minute},
		log:           log.With().Str("provider", "heygen").Logger(),
	}
}

func (s *HeyGenService) Name() string { return "heygen" }

func (s *HeyGenService) Available() bool { return s.apiKey != "" }

type heygenCharacter struct {
	Type            string  `json:"type"`
	AvatarID        string  `json:"avatar_id,omitempty"`
	AvatarStyle     string  `json:"avatar_style,omitempty"`
	TalkingPhotoID  string  `json:"talking_photo_id,omitempty"`
	Scale           float64 `json:"scale,omitempty"`
	TalkingStyle    string  `json:"talking_style,omitempty"`
	Expression      string  `json:"expression,omitempty"`
	SuperResolution bool    `json:"super_resolution,omitempty"`
}

type heygenVoice struct {
	Type      string  `json:"type"`
	InputText string  `json:"input_text"`
	VoiceID   string  `json:"voice_id"`
	Speed     float64 `json:"speed"`
}

type heygenVideoInput struct {
	Character heygenCharacter `json:"character"`
	Voice     heygenVoice     `json:"voice"`
}

type heygenDimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type heygenGenerateRequest struct {
	Title       string             `json:"video_title"`
	VideoInputs []heygenVideoInput `json:"video_inputs"`
	Dimension   heygenDimension    `json:"dimension"`
}

type heygenGenerateResponse struct {
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

// heygenStatus is the body of /v1/video_status.get. Status moves through
// "pending", "waiting", "processing" and ends "completed" or "failed".
type heygenStatus struct {
	Code int `json:"code"`
	Data struct {
		Status   string `json:"status"`
		VideoURL string `json:"video_url"`
		Error    *struct {
			Code    any    `json:"code"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	} `json:"data"`
}

// GenerateVideo renders the script spoken by the avatar and returns the
// downloaded MP4 path.
func (s *HeyGenService) GenerateVideo(ctx context.Context, script, avatarID string, opts VideoOptions) (string, error) {
	if !s.Available() {
		return "", ErrProviderUnavailable
	}

	path, err := s.generate(ctx, script, avatarID, opts.withDefaults())
	if err != nil {
		return "", &GenerationError{Provider: s.Name(), Err: err}
	}
	return path, nil
}

func (s *HeyGenService) generate(ctx context.Context, script, avatarID string, opts VideoOptions) (string, error) {
	if avatarID == "" || avatarID == "default" || len(avatarID) < heygenMinAvatarLen {
		return "", retry.Permanent(fmt.Errorf("avatar id %q is not a real HeyGen id", avatarID))
	}

	voiceID := opts.VoiceID
	if voiceID == "" {
		voiceID = s.voiceID
	}
	if voiceID == "" {
		return "", retry.Permanent(fmt.Errorf("voice id is required"))
	}

	videoID, err := s.submit(ctx, s.buildRequest(script, avatarID, voiceID, opts))
	if err != nil {
		return "", fmt.Errorf("failed to submit video generation: %w", err)
	}
	s.log.Info().Str("heygen_video", videoID).Msg("generation submitted")

	var videoURL string
	polls, err := pollUntil(ctx, s.poll, func(ctx context.Context) (bool, error) {
		st, err := s.status(ctx, videoID)
		if err != nil {
			return false, err
		}
		switch st.Data.Status {
		case "completed":
			if st.Data.VideoURL == "" {
				return false, fmt.Errorf("video %s completed without url", videoID)
			}
			videoURL = st.Data.VideoURL
			return true, nil
		case "failed":
			msg := "unknown error"
			if st.Data.Error != nil {
				msg = st.Data.Error.Message
				if st.Data.Error.Detail != "" {
					msg += ": " + st.Data.Error.Detail
				}
			}
			return false, fmt.Errorf("video %s failed: %s", videoID, msg)
		default:
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}

	s.log.Info().Str("heygen_video", videoID).Int("polls", polls).Msg("video ready, downloading")
	return download(ctx, s.downloader, videoURL, s.workDir, "heygen-*.mp4")
}

func (s *HeyGenService) buildRequest(script, avatarID, voiceID string, opts VideoOptions) heygenGenerateRequest {
	var character heygenCharacter
	if s.characterType == "avatar" {
		character = heygenCharacter{Type: "avatar", AvatarID: avatarID, AvatarStyle: "normal"}
	} else {
		character = heygenCharacter{
			Type:            "talking_photo",
			TalkingPhotoID:  avatarID,
			Scale:           0.93,
			TalkingStyle:    "expressive",
			Expression:      "happy",
			SuperResolution: true,
		}
	}

	return heygenGenerateRequest{
		Title: opts.Title,
		VideoInputs: []heygenVideoInput{{
			Character: character,
			Voice:     heygenVoice{Type: "text", InputText: script, VoiceID: voiceID, Speed: 1.0},
		}},
		Dimension: heygenDimension{Width: opts.Width, Height: opts.Height},
	}
}

func (s *HeyGenService) submit(ctx context.Context, body heygenGenerateRequest) (string, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/video/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError("heygen", resp)
	}

	var out heygenGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse generation response: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", fmt.Errorf("heygen error %v: %s", out.Error.Code, out.Error.Message)
	}
	if out.Data.VideoID == "" {
		return "", fmt.Errorf("no video_id in generation response")
	}
	return out.Data.VideoID, nil
}

func (s *HeyGenService) status(ctx context.Context, videoID string) (*heygenStatus, error) {
	u := s.baseURL + "/v1/video_status.get?video_id=" + url.QueryEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("heygen", resp)
	}

	var st heygenStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &st, nil
}

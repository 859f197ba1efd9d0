package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Sync Labs lip-sync
// Upload video and audio, create a job, poll by job id, download the result.
// ---------------------------------------------------------------------------

const syncLabsBaseURL = "https://api.synclabs.so"

type SyncLabsService struct {
	apiKey  string
	baseURL string
	workDir string
	poll    pollConfig
	client  *http.Client
	log     zerolog.Logger
}

var _ LipSyncer = (*SyncLabsService)(nil)

func NewSyncLabsService(apiKey, baseURL, workDir string, log zerolog.Logger) *SyncLabsService {
	if baseURL == "" {
		baseURL = syncLabsBaseURL
	}
	return &SyncLabsService{
		apiKey:  apiKey,
		baseURL: baseURL,
		workDir: workDir,
		poll:    defaultPollConfig,
		client:  &http.Client{Timeout: 5 * time.Minute},
		log:     log.With().Str("provider", "synclabs").Logger(),
	}
}

func (s *SyncLabsService) Name() string { return "synclabs" }

func (s *SyncLabsService) Available() bool { return s.apiKey != "" }

type syncLabsUploadResponse struct {
	URL string `json:"url"`
}

type syncLabsJobRequest struct {
	VideoURL string `json:"video_url"`
	AudioURL string `json:"audio_url"`
}

type syncLabsJob struct {
	ID        string `json:"id"`
	Status    string `json:"status"` // "pending", "processing", "completed", "failed"
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

func (s *SyncLabsService) LipSync(ctx context.Context, videoPath, audioPath string) (string, error) {
	if !s.Available() {
		return "", ErrProviderUnavailable
	}

	out, err := s.lipSync(ctx, videoPath, audioPath)
	if err != nil {
		return "", &LipSyncError{Provider: s.Name(), Err: err}
	}
	return out, nil
}

func (s *SyncLabsService) lipSync(ctx context.Context, videoPath, audioPath string) (string, error) {
	videoURL, err := s.upload(ctx, videoPath)
	if err != nil {
		return "", fmt.Errorf("failed to upload video: %w", err)
	}
	audioURL, err := s.upload(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio: %w", err)
	}

	jobID, err := s.createJob(ctx, videoURL, audioURL)
	if err != nil {
		return "", err
	}
	s.log.Info().Str("sync_job", jobID).Msg("lip-sync job submitted")

	var resultURL string
	polls, err := pollUntil(ctx, s.poll, func(ctx context.Context) (bool, error) {
		job, err := s.getJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		switch job.Status {
		case "completed":
			if job.ResultURL == "" {
				return false, fmt.Errorf("job %s completed without result url", jobID)
			}
			resultURL = job.ResultURL
			return true, nil
		case "failed":
			msg := job.Error
			if msg == "" {
				msg = "unknown error"
			}
			return false, fmt.Errorf("job %s failed: %s", jobID, msg)
		default:
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}

	s.log.Info().Str("sync_job", jobID).Int("polls", polls).Msg("lip-sync ready, downloading")
	return download(ctx, s.client, resultURL, s.workDir, "synclabs-*.mp4")
}

func (s *SyncLabsService) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/upload", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError("synclabs", resp)
	}

	var up syncLabsUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %w", err)
	}
	if up.URL == "" {
		return "", fmt.Errorf("upload response has no url")
	}
	return up.URL, nil
}

func (s *SyncLabsService) createJob(ctx context.Context, videoURL, audioURL string) (string, error) {
	jsonData, err := json.Marshal(syncLabsJobRequest{VideoURL: videoURL, AudioURL: audioURL})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/lipsync", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", statusError("synclabs", resp)
	}

	var job syncLabsJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("failed to parse job response: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("no job id in response")
	}
	return job.ID, nil
}

func (s *SyncLabsService) getJob(ctx context.Context, jobID string) (*syncLabsJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/lipsync/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("synclabs", resp)
	}

	var job syncLabsJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("failed to parse job status: %w", err)
	}
	return &job, nil
}

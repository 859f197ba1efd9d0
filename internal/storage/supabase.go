package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/bobarin/saludo/internal/logging"
	"github.com/bobarin/saludo/internal/retry"
	"github.com/rs/zerolog"
)

// Upload timeout per attempt. Finished greetings run to tens of megabytes.
const uploadTimeout = 180 * time.Second

// Supabase uploads to a Supabase Storage bucket over its REST API.
type Supabase struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
	retry      retry.Config
	log        zerolog.Logger
}

func NewSupabase(url, serviceKey, bucket string, log zerolog.Logger) *Supabase {
	return &Supabase{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: retry.Config{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Multiplier:  2,
		},
		log: logging.Component(log, "storage.supabase"),
	}
}

func (s *Supabase) Configured() bool {
	return s.url != "" && s.serviceKey != "" && s.Bucket != ""
}

// UploadVideo uploads the file and returns its public URL.
func (s *Supabase) UploadVideo(ctx context.Context, videoID, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", localPath, err)
	}
	name := VideoObjectName(videoID)
	if err := s.Upload(ctx, name, data, "video/mp4"); err != nil {
		return "", err
	}
	return s.PublicURL(name), nil
}

// Upload PUTs data with x-upsert so a retried job overwrites its earlier copy.
// Transient network faults and 408/429/5xx are retried with backoff.
func (s *Supabase) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if !s.Configured() {
		return errors.New("supabase storage is not configured")
	}
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, path)

	attempt := 0
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.log.Warn().Int("attempt", attempt).Str("path", path).Msg("retrying upload")
		}

		// Each attempt gets its own timeout, independent of the caller's deadline.
		uploadCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, url, bytes.NewReader(data))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		req.ContentLength = int64(len(data))

		resp, err := s.client.Do(req)
		if err != nil {
			err = fmt.Errorf("failed to upload: %w", err)
			if isRetryableError(err) {
				return err
			}
			return retry.Permanent(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}
		err = fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if isRetryableStatus(resp.StatusCode) {
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		return fmt.Errorf("upload %s after %d attempts: %w", path, attempt, err)
	}
	return nil
}

func (s *Supabase) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.Bucket, path)
}

// isRetryableError checks if a network-level error is worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || // 429
		status == http.StatusRequestTimeout || // 408
		status >= 500
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

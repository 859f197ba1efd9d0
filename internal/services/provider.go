package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/retry"
)

// ---------------------------------------------------------------------------
// Capability contracts
// Every provider is one of three capabilities. The orchestrator holds them in
// priority order and never looks at the concrete type.
// ---------------------------------------------------------------------------

var (
	// ErrProviderUnavailable means the provider is not configured. The caller
	// moves on to the next provider without retrying.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrGenerationTimedOut is returned once a provider's polling window closes.
	ErrGenerationTimedOut = errors.New("video generation timed out")
)

// Provider is the part every capability shares.
type Provider interface {
	Name() string
	Available() bool
}

// Synthesizer turns text into an audio file and returns its path.
type Synthesizer interface {
	Provider
	Synthesize(ctx context.Context, text, voiceID string) (string, error)
}

// LipSyncer drives the mouth of the character in videoPath with audioPath.
type LipSyncer interface {
	Provider
	LipSync(ctx context.Context, videoPath, audioPath string) (string, error)
}

// VideoOptions carries per-request settings for complete-video providers.
type VideoOptions struct {
	Title   string
	VoiceID string
	Width   int
	Height  int
}

func (o VideoOptions) withDefaults() VideoOptions {
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = OutputWidth, OutputHeight
	}
	if o.Title == "" {
		o.Title = "Mensaje de Papá Noel"
	}
	return o
}

// VideoGenerator produces a talking video straight from a script.
type VideoGenerator interface {
	Provider
	GenerateVideo(ctx context.Context, script, avatarID string, opts VideoOptions) (string, error)
}

// Describe builds the descriptor for p at the given priority.
func Describe(p Provider, capability models.Capability, priority int) models.ProviderDescriptor {
	return models.ProviderDescriptor{
		Name:       p.Name(),
		Capability: capability,
		Priority:   priority,
		Available:  p.Available(),
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s: synthesis failed: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

type LipSyncError struct {
	Provider string
	Err      error
}

func (e *LipSyncError) Error() string {
	return fmt.Sprintf("%s: lip-sync failed: %v", e.Provider, e.Err)
}

func (e *LipSyncError) Unwrap() error { return e.Err }

type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: video generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// HTTP and file helpers shared by the REST providers
// ---------------------------------------------------------------------------

// statusError turns a non-success response into an error. Client errors other
// than 408 and 429 will not get better on retry and are marked permanent.
func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err := fmt.Errorf("%s returned status %d: %s", provider, resp.StatusCode, string(body))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

// writeTemp stores data in a new file under dir and returns its path.
func writeTemp(dir, pattern string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// download streams url into a new file under dir.
func download(ctx context.Context, client *http.Client, url, dir, pattern string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to save download: %w", err)
	}
	if n == 0 {
		os.Remove(f.Name())
		return "", fmt.Errorf("downloaded file is empty (0 bytes)")
	}
	return f.Name(), nil
}

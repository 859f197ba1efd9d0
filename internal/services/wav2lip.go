package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const wav2LipTimeout = 10 * time.Minute

// Wav2LipService runs the open-source Wav2Lip inference script as a
// subprocess. It is the fallback when Sync Labs is down or unconfigured.
type Wav2LipService struct {
	modelPath string
	repoPath  string
	python    string
	workDir   string
	runner    CommandRunner
	log       zerolog.Logger
}

var _ LipSyncer = (*Wav2LipService)(nil)

func NewWav2LipService(modelPath, repoPath, python, workDir string, log zerolog.Logger) *Wav2LipService {
	if python == "" {
		python = "python3"
	}
	return &Wav2LipService{
		modelPath: modelPath,
		repoPath:  repoPath,
		python:    python,
		workDir:   workDir,
		runner:    ExecRunner{},
		log:       log.With().Str("provider", "wav2lip").Logger(),
	}
}

func (s *Wav2LipService) WithRunner(r CommandRunner) *Wav2LipService {
	s.runner = r
	return s
}

func (s *Wav2LipService) Name() string { return "wav2lip" }

// Available reports whether both the checkpoint and the inference script exist.
func (s *Wav2LipService) Available() bool {
	if s.modelPath == "" || s.repoPath == "" {
		return false
	}
	if _, err := os.Stat(s.modelPath); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.repoPath, "inference.py"))
	return err == nil
}

func (s *Wav2LipService) LipSync(ctx context.Context, videoPath, audioPath string) (string, error) {
	if !s.Available() {
		return "", ErrProviderUnavailable
	}

	out, err := s.run(ctx, videoPath, audioPath)
	if err != nil {
		return "", &LipSyncError{Provider: s.Name(), Err: err}
	}
	return out, nil
}

func (s *Wav2LipService) run(ctx context.Context, videoPath, audioPath string) (string, error) {
	for _, p := range []string{videoPath, audioPath} {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("input not found: %w", err)
		}
	}

	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create work dir: %w", err)
	}

	absPaths := make([]string, 0, 4)
	for _, p := range []string{s.modelPath, videoPath, audioPath, filepath.Join(s.workDir, "wav2lip-"+uuid.NewString()+".mp4")} {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", err
		}
		absPaths = append(absPaths, abs)
	}
	outPath := absPaths[3]

	ctx, cancel := context.WithTimeout(ctx, wav2LipTimeout)
	defer cancel()

	s.log.Info().Str("face", videoPath).Msg("running wav2lip inference")

	// The script resolves its face detector relative to the repo root.
	_, stderr, err := s.runner.Run(ctx, s.repoPath, s.python,
		"inference.py",
		"--checkpoint_path", absPaths[0],
		"--face", absPaths[1],
		"--audio", absPaths[2],
		"--outfile", outPath,
	)
	if err != nil {
		return "", fmt.Errorf("inference failed: %w: %s", err, lastLines(string(stderr), 5))
	}

	if fi, err := os.Stat(outPath); err != nil || fi.Size() == 0 {
		return "", fmt.Errorf("inference produced no output at %s", outPath)
	}
	return outPath, nil
}

// lastLines keeps the tail of a long stderr.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

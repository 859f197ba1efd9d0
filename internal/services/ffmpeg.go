package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bobarin/saludo/internal/metrics"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Command execution
// ffmpeg, ffprobe and the Wav2Lip script all run through a CommandRunner so
// tests can stand in for the binaries.
// ---------------------------------------------------------------------------

// CommandRunner runs an external program and captures its output.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CompositionError is a non-zero exit from ffmpeg. Stderr is kept whole for
// the job record.
type CompositionError struct {
	Stage  string
	Stderr string
	Err    error
}

func (e *CompositionError) Error() string {
	msg := tail(strings.TrimSpace(e.Stderr), 500)
	return fmt.Sprintf("ffmpeg %s failed: %v: %s", e.Stage, e.Err, msg)
}

func (e *CompositionError) Unwrap() error { return e.Err }

// tail keeps about the last n bytes of s, cut on a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return "..." + s[i:]
}

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir string
	ffmpeg  string
	ffprobe string
	runner  CommandRunner
	log     zerolog.Logger
}

func NewFFmpegService(tempDir string, log zerolog.Logger) (*FFmpegService, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	return &FFmpegService{
		tempDir: tempDir,
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		runner:  ExecRunner{},
		log:     log.With().Str("component", "ffmpeg").Logger(),
	}, nil
}

// WithRunner swaps the command runner.
func (s *FFmpegService) WithRunner(r CommandRunner) *FFmpegService {
	s.runner = r
	return s
}

// MediaInfo is what composition needs to know about one input.
type MediaInfo struct {
	Duration float64
	FPS      float64
	HasAudio bool
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads duration, frame rate and audio presence with ffprobe's JSON output.
func (s *FFmpegService) Probe(ctx context.Context, path string) (MediaInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	stdout, stderr, err := s.runner.Run(ctx, "", s.ffprobe, args...)
	if err != nil {
		return MediaInfo{}, &CompositionError{Stage: "probe " + filepath.Base(path), Stderr: string(stderr), Err: err}
	}

	return parseProbe(stdout)
}

func parseProbe(data []byte) (MediaInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return MediaInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := MediaInfo{FPS: DefaultFPS}
	videoSeen := false
	for _, st := range out.Streams {
		switch st.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			if videoSeen {
				continue
			}
			videoSeen = true
			if fps := parseFrameRate(st.RFrameRate); fps > 0 {
				info.FPS = fps
			}
			if info.Duration == 0 {
				info.Duration, _ = strconv.ParseFloat(st.Duration, 64)
			}
		}
	}

	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
		info.Duration = d
	}
	if info.Duration <= 0 {
		return MediaInfo{}, fmt.Errorf("ffprobe reported no duration")
	}
	return info, nil
}

// parseFrameRate reads "30000/1001" or "25". Zero means unknown.
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0
	}
	return n / d
}

// Compose joins intro, main and outro into outputPath with overlapping
// transitions. outputPath only appears once ffmpeg exits cleanly.
func (s *FFmpegService) Compose(ctx context.Context, introPath, mainPath, outroPath, outputPath string, overlapFrames int) (string, error) {
	start := time.Now()

	var infos [3]MediaInfo
	for i, p := range []string{introPath, mainPath, outroPath} {
		info, err := s.Probe(ctx, p)
		if err != nil {
			return "", err
		}
		infos[i] = info
	}

	t := ComputeTimeline(infos[0].Duration, infos[1].Duration, infos[2].Duration, infos[0].FPS, overlapFrames)
	hasAudio := [3]bool{infos[0].HasAudio, infos[1].HasAudio, infos[2].HasAudio}
	graph, audioLabel := BuildFilterGraph(t, hasAudio)

	s.log.Info().
		Float64("intro", t.IntroDuration).
		Float64("main", t.MainDuration).
		Float64("outro", t.OutroDuration).
		Float64("overlap", t.OverlapSeconds).
		Float64("total", t.TotalDuration).
		Bools("audio", hasAudio[:]).
		Msg("composing with overlaps")

	err := s.writeAtomically(ctx, outputPath, "compose", func(tmp string) []string {
		return composeArgs(introPath, mainPath, outroPath, graph, audioLabel, t.TotalDuration, tmp)
	})
	if err != nil {
		return "", err
	}

	metrics.ObserveComposition(time.Since(start))
	return outputPath, nil
}

func composeArgs(intro, main, outro, graph, audioLabel string, total float64, output string) []string {
	args := []string{
		"-i", intro,
		"-i", main,
		"-i", outro,
		"-filter_complex", graph,
		"-map", "[v]",
	}
	if audioLabel != "" {
		args = append(args, "-map", audioLabel, "-c:a", "aac", "-b:a", "192k")
	} else {
		args = append(args, "-an")
	}
	return append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-profile:v", "high",
		"-level", "4.0",
		"-t", seconds(total),
		"-f", "mp4",
		"-y", output,
	)
}

// MuxAudio lays audioPath over videoPath without re-encoding the picture.
// Used to voice the intro segment.
func (s *FFmpegService) MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) (string, error) {
	err := s.writeAtomically(ctx, outputPath, "mux audio", func(tmp string) []string {
		return []string{
			"-i", videoPath,
			"-i", audioPath,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:v", "copy",
			"-c:a", "aac",
			"-b:a", "128k",
			"-shortest",
			"-f", containerFormat(outputPath),
			"-y", tmp,
		}
	})
	if err != nil {
		return "", err
	}
	return outputPath, nil
}

// LoopVideoUnderAudio repeats videoPath for as long as audioPath plays. The
// static strategy uses it so a long dialogue is never cut.
func (s *FFmpegService) LoopVideoUnderAudio(ctx context.Context, videoPath, audioPath, outputPath string) (string, error) {
	err := s.writeAtomically(ctx, outputPath, "loop video", func(tmp string) []string {
		return []string{
			"-stream_loop", "-1",
			"-i", videoPath,
			"-i", audioPath,
			"-map", "0:v:0",
			"-map", "1:a:0",
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-b:a", "192k",
			"-shortest",
			"-f", "mp4",
			"-y", tmp,
		}
	})
	if err != nil {
		return "", err
	}
	return outputPath, nil
}

// writeAtomically runs ffmpeg against a pending file next to outputPath and
// renames it into place only on exit code 0.
func (s *FFmpegService) writeAtomically(ctx context.Context, outputPath, stage string, args func(tmp string) []string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(outputPath, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("failed to create pending output: %w", err)
	}
	defer pending.Cleanup()

	_, stderr, err := s.runner.Run(ctx, "", s.ffmpeg, args(pending.Name())...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.log.Error().Str("stage", stage).Int("exit_code", exitErr.ExitCode()).Msg("ffmpeg failed")
		}
		return &CompositionError{Stage: stage, Stderr: string(stderr), Err: err}
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to commit %s output: %w", stage, err)
	}
	return nil
}

// containerFormat names the muxer for outputPath, since the pending file has
// no extension for ffmpeg to guess from.
func containerFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mov":
		return "mov"
	case ".mkv":
		return "matroska"
	default:
		return "mp4"
	}
}

// TempPath returns a path inside the service's temp directory.
func (s *FFmpegService) TempPath(name string) string {
	return filepath.Join(s.tempDir, name)
}

// Cleanup removes temporary files.
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Str("path", path).Msg("failed to remove temp file")
		}
	}
}

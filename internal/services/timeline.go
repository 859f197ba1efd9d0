package services

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	OutputWidth  = 1080
	OutputHeight = 1920

	// DefaultFPS is used when a segment does not report a usable frame rate.
	DefaultFPS = 25.0

	// DefaultOverlapFrames is ~0.6s at 25fps.
	DefaultOverlapFrames = 15
)

// Timeline positions the three segments of a greeting on one output clock.
// All values are seconds.
type Timeline struct {
	IntroDuration  float64
	MainDuration   float64
	OutroDuration  float64
	FPS            float64
	OverlapSeconds float64
	MainStart      float64
	OutroStart     float64
	TotalDuration  float64
}

// ComputeTimeline derives the overlap timeline. Main starts one overlap before
// the intro ends and the outro one overlap before main ends. Starts that would
// fall before zero are clamped to zero.
func ComputeTimeline(introDur, mainDur, outroDur, fps float64, overlapFrames int) Timeline {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if overlapFrames < 0 {
		overlapFrames = 0
	}

	overlap := float64(overlapFrames) / fps

	t := Timeline{
		IntroDuration:  introDur,
		MainDuration:   mainDur,
		OutroDuration:  outroDur,
		FPS:            fps,
		OverlapSeconds: overlap,
		MainStart:      clampNonNegative(introDur - overlap),
		OutroStart:     clampNonNegative(introDur + mainDur - overlap),
		TotalDuration:  clampNonNegative(introDur + mainDur + outroDur - 2*overlap),
	}
	return t
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// BuildFilterGraph returns the -filter_complex expression for a timeline and
// the audio output label. The label is empty when none of the inputs has an
// audio stream, in which case the caller encodes without audio.
func BuildFilterGraph(t Timeline, hasAudio [3]bool) (string, string) {
	parts := []string{
		fmt.Sprintf("[0:v] setpts=PTS-STARTPTS, scale=%d:%d:flags=lanczos [intro]", OutputWidth, OutputHeight),
		fmt.Sprintf("[1:v] setpts=PTS-STARTPTS, scale=%d:%d:flags=lanczos [main]", OutputWidth, OutputHeight),
		fmt.Sprintf("[2:v] setpts=PTS-STARTPTS, scale=%d:%d:flags=lanczos [outro]", OutputWidth, OutputHeight),
		fmt.Sprintf("[intro][main] overlay=0:0:enable='between(t,%s,%s)':alpha=premultiplied [tmp1]",
			seconds(t.MainStart), seconds(t.IntroDuration)),
		fmt.Sprintf("[tmp1][outro] overlay=0:0:enable='between(t,%s,%s)':alpha=premultiplied [v]",
			seconds(t.OutroStart), seconds(t.IntroDuration+t.MainDuration)),
	}

	offsets := [3]float64{0, t.MainStart, t.OutroStart}
	var mixInputs []string
	for i, present := range hasAudio {
		if !present {
			continue
		}
		ms := delayMillis(offsets[i])
		label := fmt.Sprintf("[a%d]", i)
		parts = append(parts, fmt.Sprintf("[%d:a] adelay=%d|%d %s", i, ms, ms, label))
		mixInputs = append(mixInputs, label)
	}

	if len(mixInputs) == 0 {
		return strings.Join(parts, "; "), ""
	}

	parts = append(parts, fmt.Sprintf("%s amix=inputs=%d:duration=longest:dropout_transition=0 [a]",
		strings.Join(mixInputs, " "), len(mixInputs)))
	return strings.Join(parts, "; "), "[a]"
}

// delayMillis never returns a negative delay.
func delayMillis(sec float64) int {
	ms := int(sec * 1000)
	if ms < 0 {
		return 0
	}
	return ms
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

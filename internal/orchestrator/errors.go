package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bobarin/saludo/internal/models"
)

// ErrNoSynthesizer is returned by New when no TTS provider is available. TTS
// is the floor of the last strategy, so the worker cannot run without one.
var ErrNoSynthesizer = errors.New("no TTS provider available")

// AllProvidersFailedError means every provider of one capability failed. It
// ends the current strategy, not the job.
type AllProvidersFailedError struct {
	Capability models.Capability
	LastErr    error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all %s providers failed: %v", e.Capability, e.LastErr)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.LastErr }

// AllStrategiesFailedError ends one attempt of a job. Retrying is the
// worker's decision.
type AllStrategiesFailedError struct {
	Attempted []string
	LastErr   error
}

func (e *AllStrategiesFailedError) Error() string {
	return fmt.Sprintf("all strategies failed (%s): %v", strings.Join(e.Attempted, ", "), e.LastErr)
}

func (e *AllStrategiesFailedError) Unwrap() error { return e.LastErr }

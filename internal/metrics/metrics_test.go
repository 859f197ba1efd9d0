package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStrategyAttemptCounts(t *testing.T) {
	before := testutil.ToFloat64(strategyAttempts.WithLabelValues("tts_static", "success"))

	StrategyAttempt("TTS_Static", "success")
	StrategyAttempt("tts_static", "success")

	after := testutil.ToFloat64(strategyAttempts.WithLabelValues("tts_static", "success"))
	assert.Equal(t, before+2, after)
}

func TestProviderCallOutcomeLabel(t *testing.T) {
	before := testutil.ToFloat64(providerCalls.WithLabelValues("tts", "elevenlabs", "error"))
	ProviderCall("tts", "elevenlabs", false)
	assert.Equal(t, before+1, testutil.ToFloat64(providerCalls.WithLabelValues("tts", "elevenlabs", "error")))
}

func TestCleanupIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(cleanupDeleted.WithLabelValues("temp_file"))
	CleanupDeleted("temp_file", 0)
	CleanupDeleted("temp_file", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(cleanupDeleted.WithLabelValues("temp_file")))
}

func TestNorm(t *testing.T) {
	assert.Equal(t, "unknown", norm("  "))
	assert.Equal(t, "heygen", norm(" HeyGen "))
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		MustRegister()
		MustRegister()
	})
}

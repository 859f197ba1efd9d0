package main

import (
	"path/filepath"
	"testing"

	"github.com/bobarin/saludo/internal/config"
	"github.com/bobarin/saludo/internal/models"
	"github.com/bobarin/saludo/internal/orchestrator"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		TempDir:             filepath.Join(dir, "tmp"),
		AudioCacheDir:       filepath.Join(dir, "cache"),
		AudioCacheMaxSizeMB: 10,
		VoiceID:             "voice-santa",
		ElevenLabsKey:       "el-key",
		OpenAIKey:           "oa-key",
		HeyGenKey:           "hg-key",
		DisableCartesia:     true,
		DisableVeo:          true,
	}
}

func TestBuildOrchestratorSkipsDisabledProviders(t *testing.T) {
	o, err := buildOrchestrator(testConfig(t), orchestrator.Assets{}, zerolog.Nop())
	require.NoError(t, err)

	byName := map[string]models.ProviderDescriptor{}
	for _, d := range o.Descriptors() {
		byName[d.Name] = d
	}

	assert.NotContains(t, byName, "cartesia")
	assert.NotContains(t, byName, "veo")

	assert.True(t, byName["elevenlabs"].Available)
	assert.Equal(t, 1, byName["elevenlabs"].Priority)
	assert.True(t, byName["openai"].Available)
	assert.Equal(t, 2, byName["openai"].Priority)
	assert.True(t, byName["heygen"].Available)

	// Listed without credentials, but not usable.
	assert.False(t, byName["synclabs"].Available)
	assert.False(t, byName["wav2lip"].Available)
}

func TestBuildOrchestratorNeedsTTS(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisableElevenLabs = true
	cfg.DisableOpenAITTS = true

	_, err := buildOrchestrator(cfg, orchestrator.Assets{}, zerolog.Nop())
	assert.ErrorIs(t, err, orchestrator.ErrNoSynthesizer)
}

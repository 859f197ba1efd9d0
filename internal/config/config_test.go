package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "xi-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "video:queue", cfg.QueueName)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 15, cfg.OverlapFrames)
	assert.Equal(t, 15*time.Minute, cfg.LockTTL)
	assert.Equal(t, "cache/audio", cfg.AudioCacheDir)
	assert.Equal(t, int64(1000*1024*1024), cfg.AudioCacheMaxBytes())
	assert.Equal(t, "local", cfg.StorageType)
	assert.Equal(t, "default", cfg.AvatarID)
}

func TestLoadRequiresTTSWhenWorkerEnabled(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "")
	t.Setenv("CARTESIA_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TTS provider")

	t.Setenv("WORKER_ENABLED", "false")
	_, err = Load()
	assert.NoError(t, err, "API-only instances do not synthesize")
}

func TestDisabledProviderDoesNotCountAsTTS(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DISABLE_OPENAI_TTS", "true")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadSupabaseRequiresCredentials(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "xi-key")
	t.Setenv("STORAGE_TYPE", "supabase")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "xi-key")
	t.Setenv("STORAGE_TYPE", "ftp")

	_, err := Load()
	assert.Error(t, err)
}

func TestVoiceIDFallsBackToGeneric(t *testing.T) {
	t.Setenv("ELEVENLABS_API_KEY", "xi-key")
	t.Setenv("PAPA_NOEL_VOICE_ID_ELEVENLABS", "")
	t.Setenv("PAPA_NOEL_VOICE_ID", "generic-voice")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "generic-voice", cfg.VoiceID)
	assert.Equal(t, "generic-voice", cfg.HeyGenVoiceID)
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "90s")
	assert.Equal(t, 90*time.Second, getEnvDuration("X_DUR", time.Second))

	t.Setenv("X_DUR", "120")
	assert.Equal(t, 2*time.Minute, getEnvDuration("X_DUR", time.Second))

	t.Setenv("X_DUR", "soon")
	assert.Equal(t, time.Second, getEnvDuration("X_DUR", time.Second))
}

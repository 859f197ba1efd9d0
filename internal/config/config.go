package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	APIEnabled         bool
	WorkerEnabled      bool
	BackendAPIKey      string // API key for /v1 routes (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"

	// Redis (queue, job records, locks, dead-letter store)
	RedisURL string

	// Database (optional job history mirror)
	DatabaseURL string

	// Worker
	QueueName       string
	MaxAttempts     int
	LockTTL         time.Duration
	ShutdownGrace   time.Duration
	OverlapFrames   int
	TempDir         string
	WorkerPollDelay time.Duration

	// Assets
	AssetsDir  string
	IntroAsset string
	BaseAsset  string
	OutroAsset string

	// Audio cache
	AudioCacheDir       string
	AudioCacheMaxSizeMB int

	// Janitor
	CleanupSchedule string
	TempMaxAge      time.Duration
	JobRetention    time.Duration

	// Character
	VoiceID  string // Papá Noel voice, passed to every TTS provider
	AvatarID string // Papá Noel avatar for complete-video providers

	// ElevenLabs
	ElevenLabsKey     string
	DisableElevenLabs bool

	// Cartesia
	CartesiaKey     string
	CartesiaURL     string
	CartesiaVoiceID string
	DisableCartesia bool

	// OpenAI speech
	OpenAIKey        string
	OpenAITTSModel   string
	OpenAITTSVoice   string
	DisableOpenAITTS bool

	// Sync Labs
	SyncLabsKey     string
	SyncLabsURL     string
	DisableSyncLabs bool

	// Wav2Lip
	Wav2LipModelPath string
	Wav2LipRepoPath  string
	Wav2LipPython    string
	DisableWav2Lip   bool

	// HeyGen
	HeyGenKey           string
	HeyGenURL           string
	HeyGenVoiceID       string
	HeyGenCharacterType string // "talking_photo" or "avatar"
	DisableHeyGen       bool

	// Veo
	GeminiKey  string
	VeoModel   string
	DisableVeo bool

	// Storage
	StorageType           string // "supabase" or "local"
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string
	LocalStorageDir       string
	PublicBaseURL         string

	// Email
	ResendKey string
	EmailFrom string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		APIEnabled:         getEnvBool("API_ENABLED", true),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),

		QueueName:       getEnv("VIDEO_QUEUE", "video:queue"),
		MaxAttempts:     getEnvInt("MAX_JOB_ATTEMPTS", 3),
		LockTTL:         getEnvDuration("JOB_LOCK_TTL", 15*time.Minute),
		ShutdownGrace:   getEnvDuration("SHUTDOWN_GRACE", 5*time.Minute),
		OverlapFrames:   getEnvInt("OVERLAP_FRAMES", 15),
		TempDir:         getEnv("TEMP_DIR", "/tmp/saludo"),
		WorkerPollDelay: getEnvDuration("WORKER_POLL_TIMEOUT", 5*time.Second),

		AssetsDir:  getEnv("ASSETS_DIR", "assets"),
		IntroAsset: getEnv("INTRO_ASSET", "Frames_1_2_to_3.mov"),
		BaseAsset:  getEnv("BASE_ASSET", "frame3_santa_base.mp4"),
		OutroAsset: getEnv("OUTRO_ASSET", "Frame_4_NocheMagica.mov"),

		AudioCacheDir:       getEnv("AUDIO_CACHE_DIR", "cache/audio"),
		AudioCacheMaxSizeMB: getEnvInt("AUDIO_CACHE_MAX_SIZE_MB", 1000),

		CleanupSchedule: getEnv("CLEANUP_SCHEDULE", "@every 6h"),
		TempMaxAge:      getEnvDuration("TEMP_MAX_AGE", 24*time.Hour),
		JobRetention:    getEnvDuration("JOB_RETENTION", 168*time.Hour),

		VoiceID:  firstNonEmpty(os.Getenv("PAPA_NOEL_VOICE_ID_ELEVENLABS"), os.Getenv("PAPA_NOEL_VOICE_ID")),
		AvatarID: getEnv("PAPA_NOEL_AVATAR_ID", "default"),

		ElevenLabsKey:     getEnv("ELEVENLABS_API_KEY", ""),
		DisableElevenLabs: getEnvBool("DISABLE_ELEVENLABS", false),

		CartesiaKey:     getEnv("CARTESIA_API_KEY", ""),
		CartesiaURL:     getEnv("CARTESIA_API_URL", "https://api.cartesia.ai"),
		CartesiaVoiceID: getEnv("CARTESIA_VOICE_ID", ""),
		DisableCartesia: getEnvBool("DISABLE_CARTESIA", false),

		OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAITTSModel:   getEnv("OPENAI_TTS_MODEL", "tts-1-hd"),
		OpenAITTSVoice:   getEnv("OPENAI_TTS_VOICE", "onyx"),
		DisableOpenAITTS: getEnvBool("DISABLE_OPENAI_TTS", false),

		SyncLabsKey:     getEnv("SYNCLABS_API_KEY", ""),
		SyncLabsURL:     getEnv("SYNCLABS_API_BASE_URL", "https://api.synclabs.so"),
		DisableSyncLabs: getEnvBool("DISABLE_SYNCLABS", false),

		Wav2LipModelPath: getEnv("WAV2LIP_MODEL_PATH", ""),
		Wav2LipRepoPath:  getEnv("WAV2LIP_REPO_PATH", "wav2lip"),
		Wav2LipPython:    getEnv("WAV2LIP_PYTHON", "python3"),
		DisableWav2Lip:   getEnvBool("DISABLE_WAV2LIP", false),

		HeyGenKey:           getEnv("HEYGEN_API_KEY", ""),
		HeyGenURL:           getEnv("HEYGEN_API_BASE_URL", "https://api.heygen.com"),
		HeyGenVoiceID:       firstNonEmpty(os.Getenv("PAPA_NOEL_VOICE_ID_HEYGEN"), os.Getenv("PAPA_NOEL_VOICE_ID")),
		HeyGenCharacterType: getEnv("HEYGEN_CHARACTER_TYPE", "talking_photo"),
		DisableHeyGen:       getEnvBool("DISABLE_HEYGEN", false),

		GeminiKey:  getEnv("GEMINI_API_KEY", ""),
		VeoModel:   getEnv("VEO_MODEL", "veo-3.1-generate-preview"),
		DisableVeo: getEnvBool("DISABLE_VEO", false),

		StorageType:           strings.ToLower(getEnv("STORAGE_TYPE", "local")),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "saludos"),
		LocalStorageDir:       getEnv("LOCAL_STORAGE_DIR", "public"),
		PublicBaseURL:         strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		ResendKey: getEnv("RESEND_API_KEY", ""),
		EmailFrom: getEnv("EMAIL_FROM", "Papá Noel <noreply@saludomagico.com.ar>"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_JOB_ATTEMPTS must be at least 1")
	}

	if c.OverlapFrames < 0 {
		return fmt.Errorf("OVERLAP_FRAMES must not be negative")
	}

	switch c.StorageType {
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required when STORAGE_TYPE=supabase")
		}
	case "local":
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q (expected supabase or local)", c.StorageType)
	}

	if c.WorkerEnabled && !c.anyTTS() {
		return fmt.Errorf("at least one TTS provider is required: set ELEVENLABS_API_KEY, CARTESIA_API_KEY or OPENAI_API_KEY")
	}

	return nil
}

func (c *Config) anyTTS() bool {
	return (c.ElevenLabsKey != "" && !c.DisableElevenLabs) ||
		(c.CartesiaKey != "" && !c.DisableCartesia) ||
		(c.OpenAIKey != "" && !c.DisableOpenAITTS)
}

// AudioCacheMaxBytes converts the configured ceiling to bytes.
func (c *Config) AudioCacheMaxBytes() int64 {
	return int64(c.AudioCacheMaxSizeMB) * 1024 * 1024
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

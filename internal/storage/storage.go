// Package storage publishes finished greetings and returns the URL the
// recipient opens.
package storage

import (
	"context"
	"fmt"

	"github.com/bobarin/saludo/internal/config"
	"github.com/rs/zerolog"
)

// Uploader stores a local video under the greeting's id.
type Uploader interface {
	UploadVideo(ctx context.Context, videoID, localPath string) (string, error)
	// Configured reports whether the backend has what it needs to accept uploads.
	Configured() bool
}

// VideoObjectName is where a greeting lives in any backend.
func VideoObjectName(videoID string) string {
	return "videos/" + videoID + ".mp4"
}

// FromConfig selects the backend named by STORAGE_TYPE.
func FromConfig(cfg *config.Config, log zerolog.Logger) (Uploader, error) {
	switch cfg.StorageType {
	case "supabase":
		return NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, log), nil
	case "local", "":
		return NewLocal(cfg.LocalStorageDir, cfg.PublicBaseURL, log)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobarin/saludo/internal/logging"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// Local copies greetings into a directory the API serves under /videos/.
type Local struct {
	dir     string
	baseURL string
	log     zerolog.Logger
}

func NewLocal(dir, publicBaseURL string, log zerolog.Logger) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("local storage dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "videos"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &Local{
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		log:     logging.Component(log, "storage.local"),
	}, nil
}

// Dir is the root that should be served over HTTP.
func (l *Local) Dir() string { return l.dir }

func (l *Local) Configured() bool { return l.dir != "" }

// UploadVideo streams the file into place and swaps it in atomically, so a
// reader never sees a half-written greeting.
func (l *Local) UploadVideo(ctx context.Context, videoID, localPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()

	name := VideoObjectName(videoID)
	dst := filepath.Join(l.dir, filepath.FromSlash(name))

	pf, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer pf.Cleanup()

	n, err := pf.ReadFrom(src)
	if err != nil {
		return "", fmt.Errorf("failed to copy video: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("failed to publish video: %w", err)
	}

	l.log.Debug().Str("video_id", videoID).Int64("bytes", n).Msg("video stored")
	return l.baseURL + "/" + name, nil
}

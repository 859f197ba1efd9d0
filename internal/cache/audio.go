package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

const (
	indexFile = "index.json"

	// evictTarget is the fraction of the ceiling eviction shrinks usage down to.
	evictTarget = 0.8

	textPreviewLen = 100
)

// Entry describes one cached synthesis.
type Entry struct {
	Key       string    `json:"key"`
	Path      string    `json:"path"`
	Text      string    `json:"text"`
	VoiceID   string    `json:"voice_id"`
	Provider  string    `json:"provider"`
	SizeBytes int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
	MaxBytes   int64 `json:"max_bytes"`
}

// AudioCache maps (provider, voice, text) to a previously synthesized file on
// local disk. It is safe for concurrent use within one process.
type AudioCache struct {
	dir      string
	maxBytes int64
	log      zerolog.Logger
	now      func() time.Time

	mu    sync.Mutex
	index map[string]Entry
}

func New(dir string, maxBytes int64, log zerolog.Logger) (*AudioCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio cache dir: %w", err)
	}

	c := &AudioCache{
		dir:      dir,
		maxBytes: maxBytes,
		log:      log,
		now:      time.Now,
		index:    make(map[string]Entry),
	}
	if err := c.load(); err != nil {
		// A corrupt index only costs repeat synthesis; start empty.
		c.log.Warn().Err(err).Msg("audio cache index unreadable, starting empty")
		c.index = make(map[string]Entry)
	}
	return c, nil
}

// Key is the content address of a synthesis request.
func Key(text, voiceID, provider string) string {
	sum := sha256.Sum256([]byte(provider + ":" + voiceID + ":" + text))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached file for the triple, if present on disk.
func (c *AudioCache) Get(text, voiceID, provider string) (string, bool) {
	key := Key(text, voiceID, provider)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[key]
	if !ok {
		return "", false
	}
	if _, err := os.Stat(entry.Path); err != nil {
		delete(c.index, key)
		_ = c.save()
		return "", false
	}
	return entry.Path, true
}

// Put copies srcPath into the cache and returns the cached path. The entry just
// written is never evicted by its own Put.
func (c *AudioCache) Put(text, voiceID, provider, srcPath string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to read audio %s: %w", srcPath, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("refusing to cache empty audio %s", srcPath)
	}

	key := Key(text, voiceID, provider)
	dst := filepath.Join(c.dir, key+filepath.Ext(srcPath))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := renameio.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write cached audio: %w", err)
	}

	preview := text
	if r := []rune(preview); len(r) > textPreviewLen {
		preview = string(r[:textPreviewLen])
	}
	c.index[key] = Entry{
		Key:       key,
		Path:      dst,
		Text:      preview,
		VoiceID:   voiceID,
		Provider:  provider,
		SizeBytes: int64(len(data)),
		CreatedAt: c.now().UTC(),
	}

	c.evictLocked(key)

	if err := c.save(); err != nil {
		return "", err
	}
	return dst, nil
}

func (c *AudioCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{Entries: len(c.index), TotalBytes: c.totalLocked(), MaxBytes: c.maxBytes}
}

// Clear deletes every cached file and the index.
func (c *AudioCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, entry := range c.index {
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		delete(c.index, key)
	}
	if err := c.save(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *AudioCache) totalLocked() int64 {
	var total int64
	for _, e := range c.index {
		total += e.SizeBytes
	}
	return total
}

// evictLocked deletes oldest entries until usage is at or below 80% of the
// ceiling, once usage has gone over the ceiling.
func (c *AudioCache) evictLocked(keep string) {
	if c.maxBytes <= 0 {
		return
	}
	total := c.totalLocked()
	if total <= c.maxBytes {
		return
	}

	entries := make([]Entry, 0, len(c.index))
	for _, e := range c.index {
		if e.Key != keep {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	target := int64(float64(c.maxBytes) * evictTarget)
	evicted := 0
	for _, e := range entries {
		if total <= target {
			break
		}
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn().Err(err).Str("path", e.Path).Msg("failed to evict cached audio")
			continue
		}
		delete(c.index, e.Key)
		total -= e.SizeBytes
		evicted++
	}

	c.log.Info().Int("evicted", evicted).Int64("total_bytes", total).Msg("audio cache evicted")
}

func (c *AudioCache) load() error {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var index map[string]Entry
	if err := json.Unmarshal(data, &index); err != nil {
		return err
	}

	for key, entry := range index {
		if _, err := os.Stat(entry.Path); err != nil {
			continue
		}
		entry.Key = key
		c.index[key] = entry
	}
	return nil
}

func (c *AudioCache) save() error {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal audio cache index: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(c.dir, indexFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write audio cache index: %w", err)
	}
	return nil
}

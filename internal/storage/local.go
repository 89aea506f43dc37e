package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// LocalStorage stages uploaded media on the local filesystem for tools
// that only read from disk (ffmpeg, whisper)
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(tempDir string) *LocalStorage {
	return &LocalStorage{
		tempDir: tempDir,
	}
}

// Dir returns the staging directory
func (ls *LocalStorage) Dir() string {
	return ls.tempDir
}

// StageMedia writes data to a uniquely named file and returns its path.
// The file's extension is kept so ffmpeg can probe the container.
func (ls *LocalStorage) StageMedia(filename string, data []byte) (string, error) {
	if err := os.MkdirAll(ls.tempDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	// 20250123_143022_<uuid>_podcast_episode.mp3
	timestamp := time.Now().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s_%s", timestamp, uuid.New().String(), sanitizeFilename(filename))
	path := filepath.Join(ls.tempDir, name)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to stage media: %w", err)
	}
	return path, nil
}

// Remove deletes a staged file, ignoring files that are already gone
func (ls *LocalStorage) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// sanitizeFilename strips path components and characters that are not
// safe in file names
func sanitizeFilename(name string) string {
	result := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	replacer := strings.NewReplacer(":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_")
	result = replacer.Replace(result)
	if result == "." || result == "/" || result == "" {
		result = "media"
	}
	if len(result) > maxNameBytes {
		ext := filepath.Ext(result)
		if len(ext) > 10 {
			ext = ""
		}
		result = truncateUTF8(result, maxNameBytes-len(ext)) + ext // Limit length, keep extension
	}
	return result
}

// maxNameBytes bounds the sanitized name, leaving room for the staging prefix
const maxNameBytes = 100

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

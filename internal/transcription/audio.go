package transcription

import (
	"context"
	"fmt"
	"mime"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// supportedFormats lists the containers ffmpeg is expected to decode
var supportedFormats = map[string]bool{
	".mp3":  true,
	".mp4":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".avi":  true,
	".mov":  true,
	".ogg":  true,
	".webm": true,
	".aac":  true,
	".wma":  true,
}

// NormalizeAudio converts any audio or video file to 16kHz mono WAV in outDir
func NormalizeAudio(ctx context.Context, inputPath, outDir string) (string, error) {
	outputPath := filepath.Join(outDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	// FFmpeg command: convert to 16kHz mono WAV
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-vn",               // Drop any video stream
		"-ar", "16000",      // 16kHz sample rate
		"-ac", "1",          // Mono
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-y",                // Overwrite output
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}

	return outputPath, nil
}

// IsSupportedMedia checks if the file looks like audio or video by extension,
// falling back to the registered MIME type
func IsSupportedMedia(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return false
	}
	if supportedFormats[ext] {
		return true
	}

	mimeType := mime.TypeByExtension(ext)
	return strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "video/")
}

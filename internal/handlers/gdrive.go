package handlers

import (
	"context"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/media-analysis/internal/storage"
)

// DriveDownloader fetches a Drive file with credentials
type DriveDownloader interface {
	Download(ctx context.Context, fileID string, maxBytes int64) (*storage.DriveFile, error)
}

// GDriveHandler handles Google Drive link processing
type GDriveHandler struct {
	service    JobService
	drive      DriveDownloader
	httpClient *http.Client
	maxBytes   int64
}

// NewGDriveHandler creates a new Google Drive handler. A nil drive falls
// back to the public download link, which only works for shared files.
func NewGDriveHandler(service JobService, drive DriveDownloader, maxSizeMB int) *GDriveHandler {
	return &GDriveHandler{
		service:    service,
		drive:      drive,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
	}
}

// GDriveRequest represents the request body
type GDriveRequest struct {
	URL            string `json:"url"`
	Name           string `json:"name"`
	AnalysisPrompt string `json:"analysis_prompt"`
}

var (
	driveFilePath = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveIDParam  = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	driveBareID   = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
)

// Handle downloads the linked file and submits it like an upload
func (h *GDriveHandler) Handle(c *fiber.Ctx) error {
	var req GDriveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL is required",
			"code":  "ERR_NO_URL",
		})
	}

	fileID := extractGDriveFileID(req.URL)
	if fileID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid Google Drive URL",
			"code":  "ERR_INVALID_URL",
		})
	}

	log.Printf("Downloading from Google Drive: %s", fileID)
	filename, content, err := h.download(c.UserContext(), fileID, req.Name)
	if err != nil {
		log.Printf("Failed to download from Google Drive: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File not accessible (may be private or doesn't exist)",
			"code":  "ERR_FILE_NOT_ACCESSIBLE",
		})
	}

	job, err := h.service.Submit(c.UserContext(), content, filename, req.AnalysisPrompt)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(job)
}

// download returns the file name and content. An explicit name wins over
// the Drive metadata; public downloads carry no name and assume mp3.
func (h *GDriveHandler) download(ctx context.Context, fileID, name string) (string, []byte, error) {
	if h.drive != nil {
		file, err := h.drive.Download(ctx, fileID, h.maxBytes)
		if err != nil {
			return "", nil, err
		}
		if name == "" {
			name = file.Name
		}
		return name, file.Data, nil
	}

	data, err := storage.DownloadPublic(ctx, h.httpClient, fileID, h.maxBytes)
	if err != nil {
		return "", nil, err
	}
	if name == "" {
		name = "gdrive_" + fileID + ".mp3"
	}
	return name, data, nil
}

// extractGDriveFileID extracts the file ID from various Google Drive URL formats
func extractGDriveFileID(url string) string {
	// https://drive.google.com/file/d/{ID}/view
	if matches := driveFilePath.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}

	// https://drive.google.com/open?id={ID}
	if matches := driveIDParam.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}

	// Direct ID (25-40 characters)
	if matches := driveBareID.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}

	return ""
}

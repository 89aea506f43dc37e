package handlers

import (
	"fmt"
	"io"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/codebuildervaibhav/media-analysis/internal/transcription"
)

// UploadHandler handles file uploads
type UploadHandler struct {
	service   JobService
	maxSizeMB int
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(service JobService, maxSizeMB int) *UploadHandler {
	return &UploadHandler{
		service:   service,
		maxSizeMB: maxSizeMB,
	}
}

// Handle processes the upload request. The prompt is read from the
// analysis_prompt form field, then the query string.
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	// Checked here so unsupported uploads are never read into memory
	if !transcription.IsSupportedMedia(file.Filename) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported media format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	f, err := file.Open()
	if err != nil {
		log.Printf("Failed to open uploaded file: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read file",
			"code":  "ERR_READ_FAILED",
		})
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		log.Printf("Failed to read uploaded file: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read file",
			"code":  "ERR_READ_FAILED",
		})
	}

	// Fiber values alias the request buffer; the prompt is stored on the job
	prompt := utils.CopyString(c.FormValue("analysis_prompt"))
	if prompt == "" {
		prompt = utils.CopyString(c.Query("analysis_prompt"))
	}

	job, err := h.service.Submit(c.UserContext(), content, file.Filename, prompt)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(job)
}

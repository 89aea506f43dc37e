package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/media-analysis/internal/pipeline"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// writeError maps service errors to the JSON error body
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedMedia):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unsupported media format",
			"code":  "ERR_INVALID_FORMAT",
		})
	case errors.Is(err, pipeline.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
			"code":  "ERR_NOT_FOUND",
		})
	case errors.Is(err, pipeline.ErrNoTranscriptAvailable):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No transcript available for analysis",
			"code":  "ERR_NO_TRANSCRIPT",
		})
	case errors.Is(err, pipeline.ErrPromptRequired):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Analysis prompt is required",
			"code":  "ERR_NO_PROMPT",
		})
	case errors.Is(err, pipeline.ErrShuttingDown):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Server is shutting down",
			"code":  "ERR_SHUTTING_DOWN",
		})
	case errors.Is(err, pipeline.ErrInvalidTransition):
		log.Printf("BUG: %v", err)
	default:
		log.Printf("Request failed: %v", err)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
		"code":  "ERR_INTERNAL",
	})
}

// writeAlreadyRunning reports a job whose run is still in flight
func writeAlreadyRunning(c *fiber.Ctx, job *types.Job) error {
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": pipeline.ErrAlreadyRunning.Error(),
		"job":     job,
	})
}

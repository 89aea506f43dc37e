package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/codebuildervaibhav/media-analysis/internal/pipeline"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// JobsHandler serves job lookup, listing and re-analysis
type JobsHandler struct {
	service JobService
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(service JobService) *JobsHandler {
	return &JobsHandler{service: service}
}

// ReanalyzeRequest represents the re-analysis request body
type ReanalyzeRequest struct {
	Prompt string `json:"prompt"`
}

// Get returns one job
func (h *JobsHandler) Get(c *fiber.Ctx) error {
	job, err := h.service.Get(c.UserContext(), utils.CopyString(c.Params("id")))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(job)
}

// List returns jobs in creation order, paged by skip and limit
func (h *JobsHandler) List(c *fiber.Ctx) error {
	skip := c.QueryInt("skip", 0)
	limit := c.QueryInt("limit", defaultListLimit)
	if skip < 0 || limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "skip must be >= 0 and limit > 0",
			"code":  "ERR_INVALID_PAGE",
		})
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs, err := h.service.List(c.UserContext(), skip, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(jobs)
}

// Reanalyze restarts analysis of a job's transcript with a new prompt
func (h *JobsHandler) Reanalyze(c *fiber.Ctx) error {
	var req ReanalyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"code":  "ERR_INVALID_BODY",
		})
	}

	// the id outlives the request as the job's lease key
	jobID := utils.CopyString(c.Params("id"))
	job, err := h.service.Reanalyze(c.UserContext(), jobID, req.Prompt)
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		return writeAlreadyRunning(c, job)
	}
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "Re-analysis started",
		"job_id":  job.ID,
		"status":  job.State,
	})
}

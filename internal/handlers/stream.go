package handlers

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"

	"github.com/codebuildervaibhav/media-analysis/internal/pipeline"
	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

const defaultPollInterval = 500 * time.Millisecond

// StreamHandler handles WebSocket media streaming and job status pushes
type StreamHandler struct {
	service      JobService
	maxBytes     int
	pollInterval time.Duration
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(service JobService, maxSizeMB int) *StreamHandler {
	return &StreamHandler{
		service:      service,
		maxBytes:     maxSizeMB * 1024 * 1024,
		pollInterval: defaultPollInterval,
	}
}

// statusMessage is pushed to the client whenever the job changes
type statusMessage struct {
	Type    string     `json:"type"`
	Job     *types.Job `json:"job,omitempty"`
	Error   string     `json:"error,omitempty"`
	Code    string     `json:"code,omitempty"`
	Running bool       `json:"running"`
}

// Handle receives a stream, submits it, then pushes status until the job
// settles. Protocol: binary frames carry media; text frames set the file
// name, "prompt:<text>" sets the analysis prompt, and "END" finishes.
func (h *StreamHandler) Handle(c *websocket.Conn) {
	defer c.Close()

	var (
		buffer   bytes.Buffer
		filename string
		prompt   string
	)

	log.Printf("WebSocket connection established: %s", c.RemoteAddr())

	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			log.Printf("WebSocket read error: %v", err)
			return
		}

		if messageType == websocket.TextMessage {
			msgStr := strings.TrimSpace(string(message))

			if msgStr == "END" {
				log.Printf("Received END signal, processing stream...")
				break
			}
			if p, ok := strings.CutPrefix(msgStr, "prompt:"); ok {
				prompt = strings.TrimSpace(p)
				continue
			}
			if len(msgStr) > 0 && len(msgStr) < 200 {
				filename = msgStr
				log.Printf("Stream name set to: %s", filename)
			}
			continue
		}

		if messageType == websocket.BinaryMessage {
			if buffer.Len()+len(message) > h.maxBytes {
				c.WriteJSON(statusMessage{Type: "error", Error: "Stream too large", Code: "ERR_FILE_TOO_LARGE"})
				return
			}
			buffer.Write(message)
		}
	}

	if buffer.Len() == 0 {
		log.Printf("No media data received in stream from %s", c.RemoteAddr())
		c.WriteJSON(statusMessage{Type: "error", Error: "No media data received", Code: "ERR_NO_FILE"})
		return
	}

	// Browser MediaRecorder streams are webm unless named otherwise
	if filename == "" {
		filename = "stream_recording.webm"
	}

	ctx := context.Background()
	job, err := h.service.Submit(ctx, buffer.Bytes(), filename, prompt)
	if err != nil {
		c.WriteJSON(errorMessage(err))
		return
	}
	log.Printf("Stream submitted as job %s (%d bytes)", job.ID, buffer.Len())

	if err := h.watch(ctx, job.ID, c.WriteJSON); err != nil {
		log.Printf("Stream watch for job %s ended: %v", job.ID, err)
	}
}

// Watch pushes status for the job named in the route until it settles
func (h *StreamHandler) Watch(c *websocket.Conn) {
	defer c.Close()

	jobID := utils.CopyString(c.Params("id"))
	if err := h.watch(context.Background(), jobID, c.WriteJSON); err != nil {
		log.Printf("Watch for job %s ended: %v", jobID, err)
	}
}

// watch polls the job and sends it whenever it or its run status changes.
// It returns once the job is terminal with no run in flight, or when send
// fails.
func (h *StreamHandler) watch(ctx context.Context, jobID string, send func(v interface{}) error) error {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var (
		sent        bool
		lastUpdated time.Time
		lastState   types.JobState
		lastRunning bool
	)
	for {
		job, err := h.service.Get(ctx, jobID)
		if err != nil {
			send(errorMessage(err))
			return err
		}

		running := h.service.Running(jobID)
		if !sent || job.State != lastState || !job.UpdatedAt.Equal(lastUpdated) || running != lastRunning {
			if err := send(statusMessage{Type: "status", Job: job, Running: running}); err != nil {
				return err
			}
			sent = true
			lastUpdated, lastState, lastRunning = job.UpdatedAt, job.State, running
		}

		if pipeline.IsTerminal(job.State) && !running {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func errorMessage(err error) statusMessage {
	msg := statusMessage{Type: "error", Error: err.Error(), Code: "ERR_INTERNAL"}
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedMedia):
		msg.Code = "ERR_INVALID_FORMAT"
	case errors.Is(err, pipeline.ErrNotFound):
		msg.Code = "ERR_NOT_FOUND"
	case errors.Is(err, pipeline.ErrShuttingDown):
		msg.Code = "ERR_SHUTTING_DOWN"
	}
	return msg
}

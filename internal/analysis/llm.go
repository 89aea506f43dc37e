package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Mode selects the wire format spoken to the LLM endpoint
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeOllama Mode = "ollama"
	ModeOpenAI Mode = "openai"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3:8b"
	DefaultTimeout = 300 * time.Second
)

// ErrEmptyResponse is returned when the model answers with no content
var ErrEmptyResponse = errors.New("llm returned no analysis")

// Client analyzes transcripts with an Ollama or OpenAI-compatible LLM
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	mode       Mode
	httpClient *http.Client
}

// NewClient creates a client. ModeAuto picks Ollama for URLs that mention
// "ollama" or its default port 11434.
func NewClient(baseURL, model, apiKey string, mode Mode, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if mode == "" || mode == ModeAuto {
		mode = detectMode(baseURL)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		mode:       mode,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func detectMode(baseURL string) Mode {
	lower := strings.ToLower(baseURL)
	if strings.Contains(lower, "ollama") || strings.Contains(lower, "11434") {
		return ModeOllama
	}
	return ModeOpenAI
}

// Mode returns the resolved wire format
func (c *Client) Mode() Mode {
	return c.mode
}

// BuildPrompt wraps the analysis task and the transcript into one prompt
func BuildPrompt(prompt, text string) string {
	return fmt.Sprintf("Analysis Task: %s\n\nContent to analyze:\n%s\n\nPlease provide a detailed analysis based on the given task.", prompt, text)
}

// Analyze sends text and prompt to the model and returns its answer
func (c *Client) Analyze(ctx context.Context, text, prompt string) (string, error) {
	log.Printf("Starting text analysis with %s (%s)", c.model, c.mode)
	start := time.Now()

	fullPrompt := BuildPrompt(prompt, text)

	var (
		result string
		err    error
	)
	if c.mode == ModeOllama {
		result, err = c.generate(ctx, fullPrompt)
	} else {
		result, err = c.chat(ctx, fullPrompt)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(result) == "" {
		return "", ErrEmptyResponse
	}

	log.Printf("Text analysis completed in %s", time.Since(start).Round(time.Millisecond))
	return result, nil
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	var resp ollamaResponse
	if err := c.post(ctx, "/api/generate", ollamaRequest{Model: c.model, Prompt: prompt}, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	var resp chatResponse
	if err := c.post(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("llm returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode llm response: %w", err)
	}
	return nil
}

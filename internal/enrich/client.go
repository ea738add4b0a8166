package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

const (
	msgNoCredential = "Text generation API key not configured. Set HISTORIAN_AI_API_KEY or configure ai.provider=ollama."
	msgEmptyReply   = "Failed to generate summary"
)

// Generator sends a single free-text prompt to a text-generation endpoint.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Result is the outcome of one generation attempt for one record.
type Result struct {
	Succeeded bool `json:"succeeded"`

	// Narrative is the event analysis or the learning narrative.
	Narrative string `json:"narrative,omitempty"`
	// Rewritten is the rewritten event description or the corrected facts.
	Rewritten           string `json:"rewritten,omitempty"`
	KeyPoints           string `json:"keyPoints,omitempty"`
	ChronologicalEvents string `json:"chronologicalEvents,omitempty"`

	Error       string    `json:"error,omitempty"`
	Model       string    `json:"model,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Failed builds an unsuccessful Result.
func Failed(msg string) Result {
	return Result{Succeeded: false, Error: msg}
}

// EventInput is the timeline entry being summarized.
type EventInput struct {
	Title       string
	Description string
	Year        string
	Era         string
}

// LearningInput is the class note being summarized.
type LearningInput struct {
	Title     string
	YearRange string
	Facts     string
}

// Client issues one generation per call and parses the reply. It never
// returns an error: every failure becomes a Failed Result.
type Client struct {
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient returns a Client over gen. A nil gen means no credential is
// configured. A timeout <= 0 uses 30s.
func NewClient(gen Generator, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		gen:     gen,
		timeout: timeout,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Configured reports whether a generator is available.
func (c *Client) Configured() bool {
	return c.gen != nil
}

// Model names the backing model, or "" when unconfigured.
func (c *Client) Model() string {
	if c.gen == nil {
		return ""
	}
	return c.gen.Model()
}

// Timeout is the per-call deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) SummarizeEvent(ctx context.Context, in EventInput) Result {
	return c.run(ctx, EventPrompt(in), ParseEvent)
}

func (c *Client) SummarizeLearning(ctx context.Context, in LearningInput) Result {
	return c.run(ctx, LearningPrompt(in), ParseLearning)
}

func (c *Client) run(ctx context.Context, prompt string, parse func(string) Result) Result {
	if c.gen == nil {
		return Failed(msgNoCredential)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("generation timed out", "model", c.gen.Model(), "timeout", c.timeout)
			return Failed(fmt.Sprintf("generation timed out after %s", c.timeout))
		}
		c.logger.Warn("generation failed", "model", c.gen.Model(), "error", err)
		return Failed(err.Error())
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Failed(msgEmptyReply)
	}

	r := parse(reply)
	r.Model = c.gen.Model()
	r.GeneratedAt = c.now()
	return r
}

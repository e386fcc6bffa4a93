// Package llm talks to an OpenAI-compatible chat-completions backend.
package llm

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

	"github.com/haventech/haven/internal/domain"
)

// Message is one chat turn sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call. MaxTokens and Temperature of zero
// fall back to the client's configured defaults. The identity fields
// correlate the audit row with the originating turn.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONMode    bool
	UserID      string
	SessionID   string
	MessageID   string
}

// Completion is the backend reply plus usage accounting.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	LatencyMs        int
	CostUSD          float64
}

// Client is the generation backend contract consumed by the pipeline.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// AuditLog records every backend call attempt.
type AuditLog interface {
	RecordGeneration(ctx context.Context, rec domain.GenerationRecord) error
}

// Pricing is USD per one million tokens.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Options configure the OpenAI-compatible client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Pricing     Pricing
}

type OpenAIClient struct {
	opts       Options
	httpClient *http.Client
	audit      AuditLog
}

func NewOpenAIClient(opts Options, audit AuditLog) *OpenAIClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		audit:      audit,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	start := time.Now()

	comp, err := c.send(ctx, req)
	latency := int(time.Since(start).Milliseconds())

	rec := domain.GenerationRecord{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		MessageID: req.MessageID,
		Provider:  "openai",
		Model:     c.opts.Model,
		LatencyMs: latency,
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorCode = errorCode(err)
		rec.ErrorMessage = err.Error()
	} else {
		comp.LatencyMs = latency
		comp.CostUSD = c.cost(comp.PromptTokens, comp.CompletionTokens)
		rec.Status = "success"
		rec.PromptTokens = comp.PromptTokens
		rec.CompletionTokens = comp.CompletionTokens
		rec.TotalTokens = comp.TotalTokens
		rec.CostUSD = comp.CostUSD
	}
	if c.audit != nil {
		// The turn context may already be expired when the call failed;
		// the audit row must land regardless.
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if auditErr := c.audit.RecordGeneration(auditCtx, rec); auditErr != nil {
			log.Printf("[llm] record generation warning: %v", auditErr)
		}
	}

	if err != nil {
		return nil, err
	}
	return comp, nil
}

func (c *OpenAIClient) send(ctx context.Context, req Request) (*Completion, error) {
	if strings.TrimSpace(c.opts.APIKey) == "" {
		return nil, fmt.Errorf("missing api key")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.opts.Temperature
	}

	body := map[string]any{
		"model":       c.opts.Model,
		"messages":    req.Messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.opts.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("empty content in response")
	}

	return &Completion{
		Text:             content,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		TotalTokens:      decoded.Usage.TotalTokens,
	}, nil
}

func (c *OpenAIClient) cost(promptTokens, completionTokens int) float64 {
	input := float64(promptTokens) / 1_000_000 * c.opts.Pricing.InputPerMTok
	output := float64(completionTokens) / 1_000_000 * c.opts.Pricing.OutputPerMTok
	return input + output
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline_exceeded"
	}
	return "backend_error"
}

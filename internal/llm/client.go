// Package llm scores articles against the configured rubric through an
// external chat-completion endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmm8091/zimmerwald/internal/config"
	"github.com/mmm8091/zimmerwald/internal/domain"
)

const (
	ShapeOpenAI    = "openai"
	ShapeAnthropic = "anthropic"

	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 1024

	tagContextPlaceholder = "{{HOT_TAGS}}"
	datePlaceholder       = "{{CURRENT_DATE}}"
)

// Failure taxonomy. Every scoring failure is attributable to exactly one
// of these (or a transport error).
var (
	ErrEmptyContent  = errors.New("model returned empty content")
	ErrNoJSON        = errors.New("no JSON object in model response")
	ErrMissingFields = errors.New("model JSON missing category or score")
	// ErrContentPolicy marks a provider-side content rejection; it is the
	// only failure that triggers the fallback provider.
	ErrContentPolicy = errors.New("provider rejected content")
)

type provider struct {
	shape   string
	baseURL string
	apiKey  string
	model   string
}

type Client struct {
	primary      provider
	fallback     *provider
	httpClient   *http.Client
	temperature  float64
	maxTokens    int
	systemPrompt string
	logger       *slog.Logger
}

func NewClient(cfg config.LLMConfig, logger *slog.Logger) *Client {
	c := &Client{
		primary: provider{
			shape:   cfg.Primary.Shape,
			baseURL: strings.TrimSuffix(cfg.Primary.BaseURL, "/"),
			apiKey:  cfg.Primary.APIKey,
			model:   cfg.Primary.Model,
		},
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger.With("component", "llm"),
	}
	if cfg.Fallback.Configured() {
		c.fallback = &provider{
			shape:   cfg.Fallback.Shape,
			baseURL: strings.TrimSuffix(cfg.Fallback.BaseURL, "/"),
			apiKey:  cfg.Fallback.APIKey,
			model:   cfg.Fallback.Model,
		}
	}
	return c
}

// Score sends one article to the model and returns the normalized verdict.
// The fallback provider is consulted only on a content-policy rejection;
// generic outages stay visible as failures.
func (c *Client) Score(ctx context.Context, req domain.ScoreRequest) (*domain.Verdict, error) {
	system := c.renderSystemPrompt(req.TagContext, req.Date)
	user := fmt.Sprintf("Title: %s\n\n%s", req.Title, req.Body)

	content, err := c.complete(ctx, c.primary, system, user)
	if err != nil && c.fallback != nil && errors.Is(err, ErrContentPolicy) {
		c.logger.Warn("primary provider rejected content, trying fallback",
			"model", c.primary.model, "error", err)
		content, err = c.complete(ctx, *c.fallback, system, user)
	}
	if err != nil {
		return nil, err
	}

	return parseVerdict(content, req.Title)
}

// Narrate is the raw chat channel shared with the digest generator.
func (c *Client) Narrate(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, c.primary, system, user)
}

func (c *Client) renderSystemPrompt(tagContext []domain.TagPair, date time.Time) string {
	tags := "[]"
	if len(tagContext) > 0 {
		if b, err := json.Marshal(tagContext); err == nil {
			tags = string(b)
		}
	}
	prompt := strings.ReplaceAll(c.systemPrompt, tagContextPlaceholder, tags)
	return strings.ReplaceAll(prompt, datePlaceholder, date.UTC().Format("2006-01-02"))
}

// complete performs one call on the selected wire shape and returns the
// substantive text content.
func (c *Client) complete(ctx context.Context, p provider, system, user string) (string, error) {
	var (
		endpoint string
		body     any
		header   http.Header = http.Header{}
	)

	switch p.shape {
	case ShapeAnthropic:
		endpoint = p.baseURL
		header.Set("x-api-key", p.apiKey)
		header.Set("anthropic-version", anthropicVersion)
		body = anthropicRequest{
			Model:     p.model,
			MaxTokens: anthropicMaxTokens,
			System:    system,
			Messages:  []chatMessage{{Role: "user", Content: user}},
		}
	default:
		endpoint = p.baseURL + "/chat/completions"
		header.Set("Authorization", "Bearer "+p.apiKey)
		body = openAIRequest{
			Model: p.model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header = header
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		msg := strings.TrimSpace(string(detail))
		if isContentPolicy(resp.StatusCode, msg) {
			return "", fmt.Errorf("%w: status %d: %s", ErrContentPolicy, resp.StatusCode, msg)
		}
		return "", fmt.Errorf("model status %d: %s", resp.StatusCode, msg)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if p.shape == ShapeAnthropic {
		return decodeAnthropic(raw)
	}
	return decodeOpenAI(raw)
}

func isContentPolicy(status int, msg string) bool {
	return status == http.StatusBadRequest && strings.Contains(msg, "Content Exists Risk")
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			// Reasoning-mode providers put the substantive answer here
			// when Content is empty.
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func decodeOpenAI(raw []byte) (string, error) {
	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyContent
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		return msg.Content, nil
	}
	// Alternate success path: the verdict JSON hides inside the
	// reasoning trace.
	if msg.ReasoningContent != "" {
		if obj, ok := ExtractJSONObject(msg.ReasoningContent); ok {
			return obj, nil
		}
	}
	return "", ErrEmptyContent
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func decodeAnthropic(raw []byte) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return "", ErrEmptyContent
	}
	return resp.Content[0].Text, nil
}

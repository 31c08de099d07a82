package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"fleetcare/internal/domain"
	"fleetcare/internal/infra/config"
	"fleetcare/internal/infra/tracer"
)

const systemPrompt = "You write short, friendly phone scripts for a vehicle service team. " +
	"Plain spoken English, no markup, at most three sentences."

// OpenAI implements domain.LanguageModel for any OpenAI-compatible API.
type OpenAI struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

var _ domain.LanguageModel = (*OpenAI)(nil)

// NewOpenAI creates a completer from cfg.
func NewOpenAI(cfg config.LLMConfig, logger *slog.Logger) *OpenAI {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      newHTTPClient(cfg.Timeout),
		logger:      logger,
	}
}

// Complete sends prompt as the user message and returns the first choice.
func (p *OpenAI) Complete(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := tracer.StartSpan(ctx, "llm.complete",
		trace.WithAttributes(tracer.StringAttr("llm.model", p.model)),
	)
	defer func() { tracer.End(span, err) }()

	req := openaiRequest{
		Model: p.model,
		Messages: []openaiMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: p.maxTokens,
	}
	if p.temperature > 0 {
		req.Temperature = &p.temperature
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", body, headers)
	if err != nil {
		return "", err
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyChoices
	}

	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", resp.Usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	p.logger.Debug("llm completion done", "model", resp.Model, "tokens", resp.Usage.TotalTokens)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

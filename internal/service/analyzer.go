package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/config"
	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/dubaigit/task-mail-sub001/internal/prompts"
	"github.com/go-resty/resty/v2"
)

// Analyzer wraps the external analysis capability behind an
// OpenAI-compatible chat-completions API. It enforces a per-call timeout,
// selects the target model by operation type, and tags every result with
// the exact model used so cached results never cross model versions.
type Analyzer struct {
	client     *resty.Client
	endpoint   string
	models     map[domain.OperationType]string
	timeout    time.Duration
	coalescers map[domain.OperationType]*coalescer
}

// NewAnalyzer creates an Analyzer from configuration.
func NewAnalyzer(cfg *config.AnalyzerConfig) *Analyzer {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	timeout := cfg.AdapterTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	a := &Analyzer{
		client:   client,
		endpoint: baseURL + "/chat/completions",
		models: map[domain.OperationType]string{
			domain.OperationClassify:     cfg.ClassifyModel,
			domain.OperationDraft:        cfg.DraftModel,
			domain.OperationSentiment:    cfg.SentimentModel,
			domain.OperationExtractTasks: cfg.TasksModel,
		},
		timeout: timeout,
	}

	if cfg.Coalesce.Enabled {
		maxWait := time.Duration(cfg.Coalesce.MaxWaitMs) * time.Millisecond
		a.coalescers = map[domain.OperationType]*coalescer{
			domain.OperationClassify:  newCoalescer(a, domain.OperationClassify, cfg.Coalesce.MaxBatch, maxWait),
			domain.OperationSentiment: newCoalescer(a, domain.OperationSentiment, cfg.Coalesce.MaxBatch, maxWait),
		}
	}

	return a
}

// ModelFor returns the model identifier used for an operation type.
func (a *Analyzer) ModelFor(op domain.OperationType) string {
	return a.models[op]
}

// Run starts the request coalescers, when enabled, and blocks until ctx is
// cancelled. Without coalescing it returns immediately.
func (a *Analyzer) Run(ctx context.Context) {
	if len(a.coalescers) == 0 {
		return
	}
	for _, c := range a.coalescers {
		go c.run(ctx)
	}
	<-ctx.Done()
}

// Analyze executes one analysis operation against the upstream service.
// CLASSIFY and SENTIMENT calls are routed through their coalescers when
// coalescing is enabled. All failures are classified transient or permanent
// for the retry controller.
func (a *Analyzer) Analyze(ctx context.Context, op domain.OperationType, content string) (*domain.ProcessingResult, error) {
	if content == "" {
		return nil, domain.Permanentf("empty content for operation %s", op)
	}
	if !op.Valid() {
		return nil, domain.Permanentf("unknown operation type %q", op)
	}

	if c := a.coalescers[op]; c != nil {
		return c.submit(ctx, content)
	}

	start := time.Now()
	raw, err := a.complete(ctx, a.models[op], systemPromptFor(op), content)
	if err != nil {
		return nil, err
	}

	result, err := decodeResult(op, raw)
	if err != nil {
		return nil, err
	}
	result.ModelUsed = a.models[op]
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// complete issues one chat completion and returns the raw assistant text.
func (a *Analyzer) complete(ctx context.Context, model, systemPrompt, userContent string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		MaxTokens:   800,
		Temperature: 0,
	}

	var resp chatResponse
	httpResp, err := a.client.R().
		SetContext(callCtx).
		SetBody(req).
		SetResult(&resp).
		Post(a.endpoint)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", domain.Transientf("analysis call timed out after %s: %w", a.timeout, err)
		}
		return "", domain.Transientf("failed to call analysis API: %w", err)
	}

	if code := httpResp.StatusCode(); code < 200 || code >= 300 {
		msg := fmt.Sprintf("HTTP %d", code)
		if resp.Error != nil {
			msg = fmt.Sprintf("HTTP %d: %s", code, resp.Error.Message)
		}
		return "", classifyHTTPError(code, msg)
	}
	if resp.Error != nil {
		return "", domain.Transientf("analysis API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Transientf("no choices in analysis response (status %d)", httpResp.StatusCode())
	}

	return resp.Choices[0].Message.Content, nil
}

// classifyHTTPError maps upstream status codes onto the retry taxonomy.
// The upstream does not document which codes are safely retryable, so the
// split follows the usual convention: client-side input rejections are
// permanent, throttling and server trouble are transient.
func classifyHTTPError(code int, msg string) error {
	switch {
	case code == http.StatusBadRequest,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusNotFound,
		code == http.StatusUnprocessableEntity:
		return domain.Permanentf("analysis API rejected request: %s", msg)
	default:
		return domain.Transientf("analysis API returned error: %s", msg)
	}
}

func systemPromptFor(op domain.OperationType) string {
	switch op {
	case domain.OperationClassify:
		return prompts.ClassifySystemPrompt
	case domain.OperationDraft:
		return prompts.DraftSystemPrompt
	case domain.OperationSentiment:
		return prompts.SentimentSystemPrompt
	case domain.OperationExtractTasks:
		return prompts.ExtractTasksSystemPrompt
	}
	return ""
}

// decodeResult parses the model's JSON payload into a ProcessingResult.
// Malformed output is transient: the model may well produce valid JSON on
// the next attempt.
func decodeResult(op domain.OperationType, raw string) (*domain.ProcessingResult, error) {
	cleaned := stripCodeFence(raw)

	var result domain.ProcessingResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, domain.Transientf("malformed analysis response for %s: %w", op, err)
	}

	switch op {
	case domain.OperationClassify:
		if result.Classification == "" {
			return nil, domain.Transientf("classification missing from analysis response")
		}
	case domain.OperationDraft:
		if result.Draft == "" {
			return nil, domain.Transientf("draft missing from analysis response")
		}
	}
	return &result, nil
}

// stripCodeFence removes a markdown code fence some models wrap JSON in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

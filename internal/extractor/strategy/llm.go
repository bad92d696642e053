package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/time/rate"

	"taskflow/internal/config"
	"taskflow/internal/constants"
	"taskflow/internal/logger"
	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
	"taskflow/pkg/metrics"
	"taskflow/pkg/retry"
)

// LLM extracts tasks with an OpenAI-compatible chat completions endpoint.
type LLM struct {
	client      openai.Client
	model       string
	temperature float64
	limiter     *rate.Limiter
	policy      retry.Policy
	logger      logger.Logger
}

func NewLLM(cfg config.LLMConfig, log logger.Logger) *LLM {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = constants.DefaultLLMBaseURL
	}
	opts = append(opts, option.WithBaseURL(baseURL))
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy = cfg.Retry.Policy()
	}

	model := cfg.Model
	if model == "" {
		model = constants.DefaultLLMModel
	}

	return &LLM{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		limiter:     rate.NewLimiter(limit, 1),
		policy:      policy,
		logger:      log,
	}
}

func (l *LLM) Name() string { return constants.StrategyLLM }

func (l *LLM) Extract(ctx context.Context, msg events.MessageReceived) ([]Draft, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return nil, nil
	}

	var content string
	err := retry.RetryWithCallback(ctx, l.policy, func() error {
		if err := l.limiter.Wait(ctx); err != nil {
			return retry.NewFatalError(err)
		}
		out, err := l.complete(ctx, msg)
		if err != nil {
			return classify(err)
		}
		content = out
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetryAttempt(constants.ServiceExtractor, "llm_completion")
		l.logger.WarnwCtx(ctx, "LLM completion failed, retrying",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	if err != nil {
		return nil, apperrors.ErrExtraction.WithCause(err)
	}

	drafts, err := parseDrafts(content)
	if err != nil {
		return nil, apperrors.ErrExtraction.WithCause(err).WithDetail("response", content)
	}
	return drafts, nil
}

func (l *LLM) complete(ctx context.Context, msg events.MessageReceived) (string, error) {
	resp, err := l.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(l.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt(msg)),
		},
		Temperature: openai.Float(l.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
			return retry.NewRetryableError(err)
		}
		return retry.NewFatalError(err)
	}
	if errors.Is(err, context.Canceled) {
		return retry.NewFatalError(err)
	}
	return retry.NewRetryableError(err)
}

type llmTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	DueDate     *string  `json:"due_date"`
	AssignedTo  *string  `json:"assigned_to"`
	Labels      []string `json:"labels"`
}

type llmResponse struct {
	Tasks []llmTask `json:"tasks"`
}

var dueDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDrafts accepts {"tasks": [...]} or a bare array. Unknown priorities
// and unparseable due dates are dropped rather than failing the message.
func parseDrafts(content string) ([]Draft, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var tasks []llmTask
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &tasks); err != nil {
			return nil, err
		}
	} else {
		var resp llmResponse
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return nil, err
		}
		tasks = resp.Tasks
	}

	drafts := make([]Draft, 0, len(tasks))
	for _, t := range tasks {
		d := Draft{
			Title:       strings.TrimSpace(t.Title),
			Description: strings.TrimSpace(t.Description),
			Priority:    events.PriorityOf(events.Priority(strings.ToLower(strings.TrimSpace(t.Priority)))),
			Labels:      t.Labels,
		}
		if t.AssignedTo != nil && strings.TrimSpace(*t.AssignedTo) != "" {
			d.AssignedTo = events.String(strings.TrimPrefix(strings.TrimSpace(*t.AssignedTo), "@"))
		}
		if t.DueDate != nil {
			d.DueDate = parseDueDate(*t.DueDate)
		}
		if d.Labels == nil {
			d.Labels = []string{}
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

func parseDueDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return events.Time(t)
		}
	}
	return nil
}

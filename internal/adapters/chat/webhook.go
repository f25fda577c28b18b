package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

const (
	defaultWebhookTimeout = 3 * time.Second
	breakerName           = "chat-webhook"
	maxResponseBytes      = 64 << 10
)

type createRequest struct {
	ActionItemID string   `json:"action_item_id"`
	ChatID       string   `json:"chat_id"`
	Members      []string `json:"members"`
}

type createResponse struct {
	ChatID string `json:"chat_id"`
}

// WebhookCreator asks an external chat service to create the group chat.
// The action item ID is sent as the Idempotency-Key so the provider can
// collapse retries.
type WebhookCreator struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	log     logger.Logger
}

// WebhookOption configures a WebhookCreator.
type WebhookOption func(*WebhookCreator)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookCreator) {
		if c != nil {
			w.client = c
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookCreator) {
		if d > 0 {
			w.client.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) WebhookOption {
	return func(w *WebhookCreator) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWebhookCreator creates a creator that posts to url.
func NewWebhookCreator(url string, opts ...WebhookOption) *WebhookCreator {
	w := &WebhookCreator{
		url:    url,
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.Get().Named("chat")
	}

	w.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoMembers)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			w.log.Warn(context.Background(), "circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return w
}

// CreateChat posts the chat request through the circuit breaker.
func (w *WebhookCreator) CreateChat(ctx context.Context, actionItemID string, members []string) (string, error) {
	if len(members) == 0 {
		return "", ErrNoMembers
	}
	start := time.Now()
	id, err := w.breaker.Execute(func() (string, error) {
		return w.post(ctx, actionItemID, members)
	})
	latency := float64(time.Since(start).Milliseconds())

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordChatCreation("open", latency)
		return "", fmt.Errorf("%w: %w", model.ErrUnavailable, err)
	case err != nil:
		metrics.RecordChatCreation("error", latency)
		return "", err
	}
	metrics.RecordChatCreation("ok", latency)
	return id, nil
}

func (w *WebhookCreator) post(ctx context.Context, actionItemID string, members []string) (string, error) {
	body, err := json.Marshal(createRequest{
		ActionItemID: actionItemID,
		ChatID:       ChatID(actionItemID),
		Members:      members,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", actionItemID)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: chat webhook: %w", model.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read chat response: %w", model.ErrUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: chat webhook status %d", model.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}

	var out createResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if out.ChatID == "" {
		return "", fmt.Errorf("%w: empty chat_id", ErrBadResponse)
	}
	return out.ChatID, nil
}

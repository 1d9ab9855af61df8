package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
)

// Message — реплика диалога.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// ConversationModel — языковая модель для обычных ответов в чате (вне конвейера действий).
type ConversationModel interface {
	Complete(ctx context.Context, messages []Message, sessionID string) (Completion, error)
}

// ModelClient — HTTP-клиент модели: POST {session_id, messages} → {text, usage}.
type ModelClient struct {
	url      string
	http     *http.Client
	attempts uint
}

func NewModelClient(url string, timeout time.Duration) *ModelClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ModelClient{url: url, http: &http.Client{Timeout: timeout}, attempts: 3}
}

type completionRequest struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

func (c *ModelClient) Complete(ctx context.Context, messages []Message, sessionID string) (Completion, error) {
	payload, err := json.Marshal(completionRequest{SessionID: sessionID, Messages: messages})
	if err != nil {
		return Completion{}, fmt.Errorf("marshal completion request: %w", err)
	}

	var out Completion
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.LastErrorOnly(true),
		// Ретраим только сбои апстрима, 4xx — ошибка запроса
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrUpstream)
		}),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			var tErr *ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)
	err = r.Do(func() error {
		var callErr error
		out, callErr = c.call(ctx, payload)
		return callErr
	})
	if err != nil {
		return Completion{}, err
	}
	return out, nil
}

func (c *ModelClient) call(ctx context.Context, payload []byte) (Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("%w: completion request: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Completion{}, fmt.Errorf("%w: read completion: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, statusError(resp, body)
	}

	var out Completion
	if err := json.Unmarshal(body, &out); err != nil {
		return Completion{}, fmt.Errorf("decode completion: %w", err)
	}
	return out, nil
}

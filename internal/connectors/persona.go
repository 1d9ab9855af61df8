package connectors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrPersonaNotFound — у пользователя нет профиля во внешнем сервисе.
var ErrPersonaNotFound = errors.New("persona not found")

const maxPersonaBody = 1 << 20

// PersonaClient читает документ профиля/предпочтений пользователя из внешнего API.
// Ретраи и предохранитель навешиваются снаружи (plugin.Protect).
type PersonaClient struct {
	baseURL string
	http    *http.Client
}

func NewPersonaClient(baseURL string, timeout time.Duration) *PersonaClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PersonaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Fetch возвращает сырой JSON профиля.
func (c *PersonaClient) Fetch(ctx context.Context, userID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/personas/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build persona request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: persona request: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPersonaBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read persona body: %v", ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrPersonaNotFound, userID)
	default:
		return nil, statusError(resp, body)
	}
}

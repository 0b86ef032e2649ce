package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPAdapter — исполнитель, который проксирует вызов удаленному коннектору
// по JSON/HTTP. Имя ресурса уходит в path, параметры — в body.
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAdapter(baseURL string) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: baseURL,
		client: &http.Client{
			// Защитный предел адаптера: даже если ReliabilityWrapper имеет
			// свой таймаут, адаптер не должен висеть бесконечно
			Timeout: 15 * time.Second,
		},
	}
}

type executeRequest struct {
	Resource string         `json:"resource"`
	Params   map[string]any `json:"params"`
	Source   string         `json:"source"`
}

type executeResponse struct {
	Result map[string]any `json:"result"`
	Error  string         `json:"error,omitempty"`
}

// Call реализует интерфейс ExecutionProvider
func (a *HTTPAdapter) Call(ctx context.Context, resource string, params map[string]any) (map[string]any, error) {
	body, err := json.Marshal(executeRequest{
		Resource: resource,
		Params:   params,
		Source:   "anser-gateway",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connector call failed: %w", err)
	}
	defer resp.Body.Close()

	// 429: коннектор просит подождать — отдаем ThrottleError, чтобы
	// retry-логика выше взяла задержку из Retry-After, а не из бэкоффа
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 5 * time.Second
		if sec, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && sec > 0 {
			retryAfter = time.Duration(sec) * time.Second
		}
		return nil, &ThrottleError{
			RetryAfter: retryAfter,
			Cause:      fmt.Errorf("connector throttled request"),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read connector response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("connector returned status %d: %s", resp.StatusCode, string(raw))
	}

	var out executeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("connector returned error: %s", out.Error)
	}

	return out.Result, nil
}

package connectors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockSystemsConnector — локальный исполнитель для разработки и демо:
// отвечает за несколько типовых инструментов без реальных интеграций.
type MockSystemsConnector struct{}

func (c *MockSystemsConnector) Call(ctx context.Context, resource string, params map[string]any) (map[string]any, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if resource == "tool:unstable/service" {
		return nil, fmt.Errorf("service internal error")
	}

	switch resource {
	case "tool:trading/execute_trade":
		return map[string]any{
			"status":   "executed",
			"trade_id": fmt.Sprintf("TRD-%d", rand.Intn(100000)),
			"symbol":   params["symbol"],
			"amount":   params["amount"],
		}, nil

	case "tool:search/web_search":
		return map[string]any{
			"status":  "ok",
			"query":   params["query"],
			"results": []any{map[string]any{"title": "stub result", "rank": 1}},
		}, nil

	case "tool:calculator":
		return map[string]any{"status": "ok", "value": 42}, nil

	case "tool:weather":
		return map[string]any{"status": "ok", "forecast": "clear", "temp_c": 21}, nil

	case "tool:admin/delete_user":
		return map[string]any{"status": "deleted", "user": params["user"]}, nil

	default:
		return nil, fmt.Errorf("resource %s not supported by connector", resource)
	}
}

package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"because/internal/domain"
)

// RelayRequest is the body accepted by the shared relay endpoint.
type RelayRequest struct {
	Content string `json:"content"`
	Reason  string `json:"reason"`
}

// RelayResponse is the relay's success body.
type RelayResponse struct {
	Topics []domain.Topic `json:"topics"`
}

func buildRelayRequest(ctx context.Context, url, content, reason string) (*http.Request, error) {
	body, err := json.Marshal(RelayRequest{Content: content, Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// parseRelayResponse validates the relay's topics against the closed set.
func parseRelayResponse(body []byte) (Result, error) {
	topics := gjson.GetBytes(body, "topics")
	if !topics.IsArray() {
		return FallbackResult(), errors.New("relay response has no topics array")
	}
	var raw []string
	for _, t := range topics.Array() {
		raw = append(raw, t.String())
	}
	labels := domain.NormalizeTopics(raw)
	if len(labels) == 0 {
		return FallbackResult(), nil
	}
	return Result{Labels: labels}, nil
}

// Package client wraps the external payment authorization gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/commerce/order/pkg/tracing"
)

// Error classifies a gateway failure. Retryable errors (5xx, network,
// timeout) may be attempted again; terminal errors (4xx decline) may not.
type Error struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway unreachable: %s", e.Message)
}

// PaymentGateway calls the provider's authorize/void endpoints.
type PaymentGateway struct {
	authURL string
	client  *http.Client
}

func NewPaymentGateway(authURL string, timeout time.Duration) *PaymentGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaymentGateway{
		authURL: authURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type authorizeRequest struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"paymentMethod"`
}

type authorizeResponse struct {
	AuthorizationID string `json:"authorizationId"`
	Message         string `json:"message"`
}

type voidRequest struct {
	AuthorizationID string `json:"authorizationId"`
}

// Authorize requests an authorization hold for the given amount.
func (g *PaymentGateway) Authorize(ctx context.Context, amount string) (string, error) {
	body, err := g.post(ctx, g.authURL, &authorizeRequest{
		Amount:        amount,
		Currency:      "USD",
		PaymentMethod: "CARD",
	})
	if err != nil {
		return "", err
	}

	var resp authorizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &Error{Message: fmt.Sprintf("decode response: %v", err), Retryable: false}
	}
	if resp.AuthorizationID == "" {
		return "", &Error{Message: "authorization id missing in response", Retryable: false}
	}
	return resp.AuthorizationID, nil
}

// Void releases a previously granted authorization hold.
func (g *PaymentGateway) Void(ctx context.Context, authorizationID string) error {
	_, err := g.post(ctx, g.authURL+"/void", &voidRequest{AuthorizationID: authorizationID})
	return err
}

func (g *PaymentGateway) post(ctx context.Context, url string, body interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("marshal body: %v", err), Retryable: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("create request: %v", err), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	tracing.InjectHTTP(ctx, req)

	resp, err := g.client.Do(req)
	if err != nil {
		// Network errors and client timeouts are retryable.
		return nil, &Error{Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err), Retryable: true}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode >= 500:
		return nil, &Error{Status: resp.StatusCode, Message: providerMessage(respBody), Retryable: true}
	default:
		return nil, &Error{Status: resp.StatusCode, Message: providerMessage(respBody), Retryable: false}
	}
}

func providerMessage(body []byte) string {
	var resp authorizeResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Message != "" {
		return resp.Message
	}
	if len(body) == 0 {
		return "no response body"
	}
	const maxLen = 200
	if len(body) > maxLen {
		body = body[:maxLen]
	}
	return string(body)
}

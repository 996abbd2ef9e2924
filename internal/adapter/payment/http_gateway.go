// Package payment is the HTTP client for the opaque payment gateway
// collaborator: authorize, capture, refund. Asynchronous confirmations
// arrive separately on the webhook endpoint.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

type HTTPGateway struct {
	hc      *http.Client
	baseURL string
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		hc:      &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (g *HTTPGateway) Authorize(ctx context.Context, amountCents int64, method string) (string, error) {
	var out struct {
		Ref string `json:"ref"`
	}
	err := g.post(ctx, "/v1/authorize", map[string]any{
		"amount_cents": amountCents,
		"method":       method,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Ref == "" {
		return "", fmt.Errorf("gateway returned no reference: %w", domain.ErrPayment)
	}
	return out.Ref, nil
}

func (g *HTTPGateway) Capture(ctx context.Context, ref string) error {
	return g.post(ctx, "/v1/capture", map[string]any{"ref": ref}, nil)
}

func (g *HTTPGateway) Refund(ctx context.Context, ref string, amountCents int64) error {
	return g.post(ctx, "/v1/refund", map[string]any{
		"ref":          ref,
		"amount_cents": amountCents,
	}, nil)
}

func (g *HTTPGateway) post(ctx context.Context, path string, body map[string]any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.hc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %v: %w", path, err, domain.ErrTimeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Message != "" {
			return fmt.Errorf("gateway %s: %s (status=%d): %w", path, e.Message, resp.StatusCode, domain.ErrPayment)
		}
		return fmt.Errorf("gateway %s: status=%d: %w", path, resp.StatusCode, domain.ErrPayment)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

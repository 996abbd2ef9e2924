// Package catalog is the read-only client for the court catalog/pricing
// collaborator. The engine fetches a policy snapshot before each commit
// rather than sharing the catalog's schema.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/srgjo27/court_reserve/internal/core/domain"
)

type HTTPCatalog struct {
	hc      *http.Client
	baseURL string
}

func NewHTTPCatalog(baseURL string, timeout time.Duration) *HTTPCatalog {
	return &HTTPCatalog{
		hc:      &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type courtPolicyDTO struct {
	ConfirmationMode string                    `json:"confirmation_mode"`
	MinNoticeMin     int                       `json:"min_notice_minutes"`
	AdvanceWindowDay int                       `json:"advance_window_days"`
	Tiers            []domain.CancellationTier `json:"cancellation_tiers"`
	PlatformFeeCents int64                     `json:"platform_fee_cents"`
	MinShareCents    int64                     `json:"min_share_cents"`
	WaitlistEnabled  bool                      `json:"waitlist_enabled"`
}

func (c *HTTPCatalog) CourtPolicy(ctx context.Context, courtID uuid.UUID) (domain.CourtPolicy, error) {
	var dto courtPolicyDTO
	if err := c.get(ctx, fmt.Sprintf("/v1/courts/%s/policy", courtID), &dto); err != nil {
		return domain.CourtPolicy{}, err
	}
	mode := domain.ConfirmInstant
	if dto.ConfirmationMode == "manual" {
		mode = domain.ConfirmManual
	}
	return domain.CourtPolicy{
		ConfirmationMode: mode,
		MinNotice:        time.Duration(dto.MinNoticeMin) * time.Minute,
		AdvanceWindow:    time.Duration(dto.AdvanceWindowDay) * 24 * time.Hour,
		Cancellation: domain.CancellationPolicy{
			Tiers:            dto.Tiers,
			PlatformFeeCents: dto.PlatformFeeCents,
		},
		MinShareCents:   dto.MinShareCents,
		WaitlistEnabled: dto.WaitlistEnabled,
	}, nil
}

func (c *HTTPCatalog) PriceCents(ctx context.Context, slot domain.TimeSlot) (int64, error) {
	var out struct {
		PriceCents int64 `json:"price_cents"`
	}
	path := fmt.Sprintf("/v1/courts/%s/price?start=%d&end=%d", slot.CourtID, slot.Start.Unix(), slot.End.Unix())
	if err := c.get(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.PriceCents, nil
}

func (c *HTTPCatalog) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("catalog %s: %v: %w", path, err, domain.ErrTimeout)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("catalog %s: %w", path, domain.ErrNotFound)
	case resp.StatusCode >= 400:
		return fmt.Errorf("catalog %s: status=%d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Package premium implements the tier-3 provider: the biometric vendor is
// told to start verification and answers later through the authenticated
// webhook. This client never polls.
package premium

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"verigate/internal/verification/models"
	"verigate/internal/verification/providers"
)

// Client starts premium biometric verification runs.
type Client struct {
	endpoint string
	http     *http.Client
}

func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Tier() models.ProviderTier {
	return models.TierPremiumBiometric
}

type startRequest struct {
	UserID      string `json:"uid"`
	AttemptID   string `json:"attempt_id"`
	CountryISO2 string `json:"country_iso2"`
	Assets      struct {
		FrontRef  string `json:"front_ref,omitempty"`
		BackRef   string `json:"back_ref,omitempty"`
		SelfieRef string `json:"selfie_ref,omitempty"`
	} `json:"assets"`
}

// Analyze kicks off the vendor-side run. The returned result is async: the
// verdict arrives via the webhook gateway, keyed by the attempt path.
func (c *Client) Analyze(ctx context.Context, req providers.Request) (*providers.Result, error) {
	if c.endpoint == "" {
		return nil, providers.ErrNotConfigured
	}

	body := startRequest{
		UserID:      req.UserID.String(),
		AttemptID:   req.AttemptID.String(),
		CountryISO2: req.CountryISO2,
	}
	body.Assets.FrontRef = req.Assets.Front
	body.Assets.BackRef = req.Assets.Back
	body.Assets.SelfieRef = req.Assets.Selfie

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/verifications", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("%w: status %d", providers.ErrUnavailable, resp.StatusCode)
	}
	return &providers.Result{Async: true}, nil
}

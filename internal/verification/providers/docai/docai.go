// Package docai implements the tier-2 provider: an outbound HTTP
// collaborator that runs OCR over the document front and barcode/MRZ
// detection over the back. Both calls run in parallel under one deadline.
package docai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"verigate/internal/verification/models"
	"verigate/internal/verification/providers"
)

// Client calls the OCR/vision collaborator.
type Client struct {
	endpoint string
	http     *http.Client
}

// New builds a document AI client. The timeout bounds each outbound call;
// provider invocations must never block a request indefinitely.
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Tier() models.ProviderTier {
	return models.TierDocumentAI
}

// documentRequest is the wire request for both analysis routes.
type documentRequest struct {
	UserID      string `json:"uid"`
	AttemptID   string `json:"attempt_id"`
	AssetRef    string `json:"asset_ref"`
	CountryISO2 string `json:"country_iso2"`
}

// documentResponse mirrors the collaborator's OCR payload.
type documentResponse struct {
	FullText string `json:"full_text"`
	Entities []struct {
		Type        string  `json:"type"`
		Confidence  float64 `json:"confidence"`
		MentionText string  `json:"mention_text"`
		Properties  []struct {
			Type        string `json:"type"`
			MentionText string `json:"mention_text"`
		} `json:"properties"`
	} `json:"entities"`
}

// barcodeResponse mirrors the collaborator's barcode/MRZ payload.
type barcodeResponse struct {
	QR     bool `json:"qr"`
	PDF417 bool `json:"pdf417"`
	MRZ    bool `json:"mrz"`
}

// Analyze fans out OCR (front) and barcode detection (back) and merges the
// results. A missing back asset skips barcode detection rather than failing.
func (c *Client) Analyze(ctx context.Context, req providers.Request) (*providers.Result, error) {
	if c.endpoint == "" {
		return nil, providers.ErrNotConfigured
	}
	if req.Assets.Front == "" {
		return nil, fmt.Errorf("%w: document front asset is required", providers.ErrMalformedResponse)
	}

	result := &providers.Result{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var resp documentResponse
		if err := c.post(ctx, "/v1/analyze/document", documentRequest{
			UserID:      req.UserID.String(),
			AttemptID:   req.AttemptID.String(),
			AssetRef:    req.Assets.Front,
			CountryISO2: req.CountryISO2,
		}, &resp); err != nil {
			return err
		}
		result.OCR = toOCRResult(resp)
		return nil
	})

	if req.Assets.Back != "" {
		g.Go(func() error {
			var resp barcodeResponse
			if err := c.post(ctx, "/v1/analyze/barcodes", documentRequest{
				UserID:      req.UserID.String(),
				AttemptID:   req.AttemptID.String(),
				AssetRef:    req.Assets.Back,
				CountryISO2: req.CountryISO2,
			}, &resp); err != nil {
				return err
			}
			result.MachineReadable = models.MachineReadableFlags{
				QR:     resp.QR,
				PDF417: resp.PDF417,
				MRZ:    resp.MRZ,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", providers.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", providers.ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", providers.ErrMalformedResponse, err)
	}
	return nil
}

func toOCRResult(resp documentResponse) *providers.OCRResult {
	out := &providers.OCRResult{FullText: resp.FullText}
	for _, e := range resp.Entities {
		entity := providers.OCREntity{
			Type:        e.Type,
			Confidence:  e.Confidence,
			MentionText: e.MentionText,
		}
		for _, p := range e.Properties {
			entity.Properties = append(entity.Properties, providers.OCREntityProperty{
				Type:        p.Type,
				MentionText: p.MentionText,
			})
		}
		out.Entities = append(out.Entities, entity)
	}
	return out
}

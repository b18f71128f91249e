// Package heuristic implements the tier-1 provider: a fast, local
// consistency check over the captured assets. It costs nothing and catches
// the obvious failure modes (missing captures, ID number that cannot be
// real) before any paid tier runs.
package heuristic

import (
	"context"

	"verigate/internal/verification/models"
	"verigate/internal/verification/providers"
	id "verigate/pkg/domain"
)

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Tier() models.ProviderTier {
	return models.TierHeuristic
}

// Analyze runs entirely locally and never fails; a bad capture is a verdict,
// not an error.
func (p *Provider) Analyze(_ context.Context, req providers.Request) (*providers.Result, error) {
	verdict := check(req)
	return &providers.Result{Consistency: &verdict}, nil
}

func check(req providers.Request) providers.ConsistencyVerdict {
	if req.Assets.Front == "" {
		return providers.ConsistencyVerdict{Reason: "document front capture is missing"}
	}
	if req.Assets.Selfie == "" {
		return providers.ConsistencyVerdict{Reason: "selfie capture is missing"}
	}
	if req.Assets.Back == "" {
		return providers.ConsistencyVerdict{Reason: "document back capture is missing"}
	}
	if req.SubmittedIDNumber != "" {
		if _, err := id.ParseNationalID(req.SubmittedIDNumber); err != nil {
			return providers.ConsistencyVerdict{Reason: "submitted id number is not plausible"}
		}
	}
	return providers.ConsistencyVerdict{Success: true}
}

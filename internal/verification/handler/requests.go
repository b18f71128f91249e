package handler

import (
	"verigate/internal/verification/models"
	id "verigate/pkg/domain"
	dErrors "verigate/pkg/domain-errors"
)

// StartRequest optionally targets another user; only staff callers may use
// the override.
type StartRequest struct {
	TargetUserID string `json:"target_user_id,omitempty"`

	parsedTarget id.UserID
}

func (r *StartRequest) Validate() error {
	if r.TargetUserID == "" {
		return nil
	}
	target, err := id.ParseUserID(r.TargetUserID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid target_user_id")
	}
	r.parsedTarget = target
	return nil
}

// ParsedTarget returns the validated override, zero when absent.
func (r *StartRequest) ParsedTarget() id.UserID {
	return r.parsedTarget
}

// SubmitRequest carries the captured asset locators for a decision run.
// Assets are opaque storage references; raw bytes never cross this boundary.
type SubmitRequest struct {
	Assets struct {
		Front        string `json:"front,omitempty"`
		Back         string `json:"back,omitempty"`
		Selfie       string `json:"selfie,omitempty"`
		LicenseFront string `json:"license_front,omitempty"`
		LicenseBack  string `json:"license_back,omitempty"`
	} `json:"assets"`
	SubmittedIDNumber string `json:"submitted_id_number,omitempty"`
	CountryISO2       string `json:"country_iso2,omitempty"`
}

func (r *SubmitRequest) Validate() error {
	if r.CountryISO2 != "" && len(r.CountryISO2) != 2 {
		return dErrors.New(dErrors.CodeValidation, "country_iso2 must be a two-letter code")
	}
	return nil
}

// AssetReferences converts the wire shape to the domain type.
func (r *SubmitRequest) AssetReferences() models.AssetReferences {
	return models.AssetReferences{
		Front:        r.Assets.Front,
		Back:         r.Assets.Back,
		Selfie:       r.Assets.Selfie,
		LicenseFront: r.Assets.LicenseFront,
		LicenseBack:  r.Assets.LicenseBack,
	}
}

// UniquenessRequest is the read-only pre-flight guard input.
type UniquenessRequest struct {
	IDNumber string `json:"id_number"`
}

func (r *UniquenessRequest) Validate() error {
	if r.IDNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "id_number is required")
	}
	return nil
}

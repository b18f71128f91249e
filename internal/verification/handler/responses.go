package handler

import (
	"math"

	"verigate/internal/verification/models"
)

// AttemptResponse is the start/resume reply.
type AttemptResponse struct {
	AttemptID     string `json:"attempt_id"`
	AttemptNumber int    `json:"attempt_number"`
	Provider      string `json:"provider"`
	Status        string `json:"status"`
	Resumed       bool   `json:"resumed"`
}

func toAttemptResponse(attempt *models.Attempt, resumed bool) AttemptResponse {
	return AttemptResponse{
		AttemptID:     attempt.ID.String(),
		AttemptNumber: attempt.Number,
		Provider:      string(attempt.Provider),
		Status:        string(attempt.Status),
		Resumed:       resumed,
	}
}

// SubmitResponse is the decision-run reply. The percent form mirrors what
// client UIs display.
type SubmitResponse struct {
	Status                 string `json:"status"`
	ConfidenceScorePercent int    `json:"confidence_score_percent"`
	DocumentCheck          *struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason,omitempty"`
	} `json:"document_check,omitempty"`
	DuplicateOfUserID string `json:"duplicate_of_user_id,omitempty"`
}

func toSubmitResponse(attempt *models.Attempt) SubmitResponse {
	resp := SubmitResponse{
		Status:                 string(attempt.Status),
		ConfidenceScorePercent: int(math.Round(attempt.ConfidenceScore * 100)),
	}
	if attempt.DocumentCheck != nil {
		resp.DocumentCheck = &struct {
			Success bool   `json:"success"`
			Reason  string `json:"reason,omitempty"`
		}{
			Success: attempt.DocumentCheck.Success,
			Reason:  attempt.DocumentCheck.Reason,
		}
	}
	if attempt.DuplicateOfUserID != nil {
		resp.DuplicateOfUserID = attempt.DuplicateOfUserID.String()
	}
	return resp
}

// AttemptDetailResponse is the read view of one attempt.
type AttemptDetailResponse struct {
	AttemptID              string   `json:"attempt_id"`
	AttemptNumber          int      `json:"attempt_number"`
	Provider               string   `json:"provider"`
	Status                 string   `json:"status"`
	ConfidenceScorePercent int      `json:"confidence_score_percent"`
	RequestedComponents    []string `json:"requested_components,omitempty"`
	DuplicateOfUserID      string   `json:"duplicate_of_user_id,omitempty"`
}

func toAttemptDetailResponse(attempt *models.Attempt) AttemptDetailResponse {
	resp := AttemptDetailResponse{
		AttemptID:              attempt.ID.String(),
		AttemptNumber:          attempt.Number,
		Provider:               string(attempt.Provider),
		Status:                 string(attempt.Status),
		ConfidenceScorePercent: int(math.Round(attempt.ConfidenceScore * 100)),
	}
	for _, c := range attempt.RequestedComponents {
		resp.RequestedComponents = append(resp.RequestedComponents, string(c))
	}
	if attempt.DuplicateOfUserID != nil {
		resp.DuplicateOfUserID = attempt.DuplicateOfUserID.String()
	}
	return resp
}

// UniquenessResponse is the pre-flight guard reply.
type UniquenessResponse struct {
	Conflict bool `json:"conflict"`
}

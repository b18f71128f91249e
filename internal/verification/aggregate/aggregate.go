// Package aggregate turns raw provider signals into a single bounded
// confidence score and structured extracted fields.
// This is pure domain logic - no I/O, no side effects.
package aggregate

import (
	"regexp"
	"strings"

	"verigate/internal/verification/models"
	"verigate/internal/verification/providers"
)

const (
	// Baseline is the "some signal present" floor. An attempt with no
	// usable OCR output still scores this, keeping the value advisory
	// rather than damning.
	Baseline = 0.65

	// MachineReadableBonus rewards a detected QR/PDF417/MRZ feature.
	MachineReadableBonus = 0.10

	// MaxScore caps aggregation; automated analysis never claims certainty.
	MaxScore = 0.99

	// DefaultPremiumScore stands in when the biometric vendor omits the
	// face_match score from its callback.
	DefaultPremiumScore = 0.85

	// DefaultEntityConfidence replaces a missing per-entity confidence.
	DefaultEntityConfidence = 0.7

	// heuristic tier verdict scores, advisory only
	consistencyPassScore = 0.8
	consistencyFailScore = 0.5

	// DocumentCheckThreshold drives the advisory document_verification
	// hint shown to staff. It never auto-approves.
	DocumentCheckThreshold = 0.7
)

// Inputs collects the heterogeneous signals of one attempt. Fields are
// tier-dependent; absent signals are simply nil/zero.
type Inputs struct {
	Consistency      *providers.ConsistencyVerdict
	OCR              *providers.OCRResult
	Flags            models.MachineReadableFlags
	PremiumFaceMatch *float64
}

// Score computes the bounded confidence for an attempt.
//
// The premium face-match score is authoritative when present: it supersedes
// document-tier signals rather than blending with them. Otherwise the score
// starts at the baseline, rises to the mean OCR entity confidence, and earns
// a flat machine-readable bonus, capped below 1.
func Score(in Inputs) float64 {
	if in.PremiumFaceMatch != nil {
		return clamp(Normalize(*in.PremiumFaceMatch))
	}
	if in.Consistency != nil {
		if in.Consistency.Success {
			return consistencyPassScore
		}
		return consistencyFailScore
	}

	score := Baseline
	if in.OCR != nil && len(in.OCR.Entities) > 0 {
		if mean := meanConfidence(in.OCR.Entities); mean > score {
			score = mean
		}
	}
	if in.Flags.Any() {
		score += MachineReadableBonus
	}
	return clamp(score)
}

// Normalize converts percent-style scores (e.g. 85) into the [0,1] range.
// Providers disagree on units; anything above 1.5 is treated as a percent.
func Normalize(score float64) float64 {
	if score > 1.5 {
		return score / 100
	}
	return score
}

// DocumentCheck derives the advisory staff hint from a computed score.
func DocumentCheck(score float64) models.DocumentCheck {
	if score >= DocumentCheckThreshold {
		return models.DocumentCheck{Success: true, Reason: "automated document analysis sufficient"}
	}
	return models.DocumentCheck{Success: false, Reason: "manual review needed"}
}

func meanConfidence(entities []providers.OCREntity) float64 {
	var sum float64
	for _, e := range entities {
		c := e.Confidence
		if c == 0 {
			c = DefaultEntityConfidence
		}
		sum += c
	}
	return sum / float64(len(entities))
}

func clamp(score float64) float64 {
	if score > MaxScore {
		return MaxScore
	}
	if score < 0 {
		return 0
	}
	return score
}

// Fuzzy type vocabularies for structured entity matching. Providers label
// entities inconsistently, so matching is substring-based and lenient:
// false positives only ever feed an advisory score.
var (
	nameTypes = []string{"person", "name", "full_name"}
	idTypes   = []string{"id", "document_number", "id_number", "national_id"}
	dobTypes  = []string{"date_of_birth", "dob", "birth"}

	firstNameProp = regexp.MustCompile(`(?i)first|given`)
	lastNameProp  = regexp.MustCompile(`(?i)last|family`)

	// Free-text fallbacks when structured entities are absent.
	idNumberPattern = regexp.MustCompile(`\b\d{7,10}\b`)
	datePattern     = regexp.MustCompile(`\b\d{4}[-/.]\d{2}[-/.]\d{2}\b|\b\d{2}[/.]\d{2}[/.]\d{4}\b`)
)

// Extract pulls name, ID number, and birth date from OCR output. Structured
// entities win; the full-text regex fallback fills the gaps.
func Extract(ocr *providers.OCRResult) models.ExtractedFields {
	var out models.ExtractedFields
	if ocr == nil {
		return out
	}

	if nameEnt := findEntity(ocr.Entities, nameTypes); nameEnt != nil {
		out.FirstName = findProperty(nameEnt.Properties, firstNameProp)
		out.LastName = findProperty(nameEnt.Properties, lastNameProp)
	}
	if idEnt := findEntity(ocr.Entities, idTypes); idEnt != nil {
		out.IDNumber = idEnt.MentionText
	}
	if dobEnt := findEntity(ocr.Entities, dobTypes); dobEnt != nil {
		out.BirthDate = dobEnt.MentionText
	}

	if out.IDNumber == "" {
		out.IDNumber = idNumberPattern.FindString(ocr.FullText)
	}
	if out.BirthDate == "" {
		out.BirthDate = datePattern.FindString(ocr.FullText)
	}
	return out
}

func findEntity(entities []providers.OCREntity, vocabulary []string) *providers.OCREntity {
	for i := range entities {
		entityType := strings.ToLower(entities[i].Type)
		for _, candidate := range vocabulary {
			if strings.Contains(entityType, candidate) {
				return &entities[i]
			}
		}
	}
	return nil
}

func findProperty(properties []providers.OCREntityProperty, pattern *regexp.Regexp) string {
	for _, p := range properties {
		if pattern.MatchString(p.Type) {
			return p.MentionText
		}
	}
	return ""
}

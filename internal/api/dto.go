package api

import (
	"time"

	"github.com/Kaewkloaw/CallSense/internal/ledger"
	"github.com/Kaewkloaw/CallSense/internal/scoring"
)

// ProbabilityDTO carries the classifier probability pair.
type ProbabilityDTO struct {
	Human    float64 `json:"human"`
	Nonhuman float64 `json:"nonhuman"`
}

// PredictionResponse is the payload returned after a successful submission.
type PredictionResponse struct {
	Filename string             `json:"filename"`
	YProb    ProbabilityDTO     `json:"y_prob"`
	Risk     scoring.Assessment `json:"risk"`
}

// RecordDTO is the API representation of one ledger row. ActualLabel is
// omitted while the record is still pending manual review.
type RecordDTO struct {
	Timestamp     time.Time `json:"timestamp"`
	Filename      string    `json:"filename"`
	HumanScore    float64   `json:"human_score"`
	NonhumanScore float64   `json:"nonhuman_score"`
	RiskLevel     string    `json:"risk_level"`
	ActualLabel   *string   `json:"actual_label,omitempty"`
}

// RecordsResponse lists ledger rows in file order, oldest first.
type RecordsResponse struct {
	Total   int         `json:"total"`
	Records []RecordDTO `json:"records"`
}

// LabelRequest sets the manually-reviewed ground-truth label for a record.
type LabelRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ActualLabel string `json:"actual_label" binding:"required"`
}

// LabelResponse reports whether a matching record was rewritten.
type LabelResponse struct {
	Updated bool `json:"updated"`
}

// RecordFromModel converts a ledger.Record into the DTO representation.
func RecordFromModel(r ledger.Record) RecordDTO {
	dto := RecordDTO{
		Timestamp:     r.Timestamp,
		Filename:      r.Filename,
		HumanScore:    r.HumanScore,
		NonhumanScore: r.NonhumanScore,
		RiskLevel:     r.RiskLevel,
	}
	if r.ActualLabel != "" {
		label := r.ActualLabel
		dto.ActualLabel = &label
	}
	return dto
}

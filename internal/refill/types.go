package refill

import "time"

// Confidence grades how much history backs a prediction.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// AlertLevel grades how urgent a refill is.
type AlertLevel string

const (
	AlertCritical AlertLevel = "critical"
	AlertWarning  AlertLevel = "warning"
)

// Prediction is the per-medication supply estimate. Predictions are
// ephemeral: recomputed from the ledger on demand, never a source of
// truth.
type Prediction struct {
	MedicationID   string `json:"medication_id"`
	MedicationName string `json:"medication_name"`

	AverageDailyUsage float64 `json:"average_daily_usage"`
	AdherenceRate     float64 `json:"adherence_rate"` // 0..1

	// Available is false when usage is zero or unknown; dates and
	// days-remaining are meaningless in that case.
	Available             bool       `json:"available"`
	DaysRemaining         float64    `json:"days_remaining,omitempty"`
	PredictedRefillDate   time.Time  `json:"predicted_refill_date,omitempty"`
	RecommendedRefillDate time.Time  `json:"recommended_refill_date,omitempty"`
	Confidence            Confidence `json:"confidence"`
	HistoryDays           int        `json:"history_days"`
}

// Alert is a graded warning that supply will run out soon.
type Alert struct {
	MedicationID          string     `json:"medication_id"`
	MedicationName        string     `json:"medication_name"`
	Level                 AlertLevel `json:"level"`
	DaysRemaining         float64    `json:"days_remaining"`
	PillsRemaining        int        `json:"pills_remaining"`
	PredictedRefillDate   time.Time  `json:"predicted_refill_date"`
	RecommendedRefillDate time.Time  `json:"recommended_refill_date"`
}

// Recommendation is a textual hint derived from an alert and its
// prediction's confidence; it carries no state of its own.
type Recommendation struct {
	MedicationID   string `json:"medication_id"`
	MedicationName string `json:"medication_name"`
	Text           string `json:"text"`
}

// Package refill estimates remaining days of pill supply from the
// adherence ledger and emits graded refill alerts.
package refill

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pilltrail/pilltrail/internal/adherence"
	"github.com/pilltrail/pilltrail/internal/clock"
	"github.com/pilltrail/pilltrail/internal/config"
	"github.com/pilltrail/pilltrail/internal/medication"
)

// LedgerReader is the read-only view of the adherence ledger the
// predictor needs. The predictor never mutates the ledger.
type LedgerReader interface {
	RecordsSince(medicationID string, since time.Time) []adherence.DailyMedicationRecord
}

// Predictor recomputes refill predictions from scratch on every call.
// It is safe to call at any time with partial data: medications
// without pill counts are skipped without error.
type Predictor struct {
	ledger LedgerReader
	clock  clock.Clock
	logger *zap.Logger
	cfg    config.RefillConfig

	mu              sync.Mutex
	predictions     map[string]Prediction
	alerts          []Alert
	recommendations []Recommendation
}

// NewPredictor creates a refill predictor.
func NewPredictor(ledger LedgerReader, clk clock.Clock, cfg config.RefillConfig, logger *zap.Logger) *Predictor {
	applyDefaults(&cfg)
	return &Predictor{
		ledger:      ledger,
		clock:       clk,
		logger:      logger,
		cfg:         cfg,
		predictions: make(map[string]Prediction),
	}
}

func applyDefaults(cfg *config.RefillConfig) {
	if cfg.HistoryWindowDays <= 0 {
		cfg.HistoryWindowDays = 30
	}
	if cfg.MinHistoryDays <= 0 {
		cfg.MinHistoryDays = 7
	}
	if cfg.SafetyBufferDays <= 0 {
		cfg.SafetyBufferDays = 4
	}
	if cfg.CriticalDays <= 0 {
		cfg.CriticalDays = 3
	}
	if cfg.WarningDays <= 0 {
		cfg.WarningDays = 10
	}
	if cfg.HighConfidenceDays <= 0 {
		cfg.HighConfidenceDays = 21
	}
}

// UpdatePredictions recomputes every medication's prediction, alerts,
// and recommendations, replacing the previous snapshot.
func (p *Predictor) UpdatePredictions(meds []medication.Medication) {
	predictions := make(map[string]Prediction)
	var alerts []Alert
	var recommendations []Recommendation

	for i := range meds {
		med := &meds[i]
		if med.PillsRemaining == nil {
			// No inventory data; nothing to predict.
			continue
		}

		pred := p.predict(med)
		predictions[med.ID] = pred

		if !pred.Available {
			continue
		}

		alert, ok := p.classifyAlert(med, pred)
		if !ok {
			continue
		}
		alerts = append(alerts, alert)
		recommendations = append(recommendations, recommend(alert, pred))
	}

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].DaysRemaining < alerts[j].DaysRemaining })

	p.mu.Lock()
	p.predictions = predictions
	p.alerts = alerts
	p.recommendations = recommendations
	p.mu.Unlock()

	p.logger.Debug("Refill predictions updated",
		zap.Int("medications", len(predictions)),
		zap.Int("alerts", len(alerts)),
	)
}

func (p *Predictor) predict(med *medication.Medication) Prediction {
	today := p.clock.Today()
	since := today.AddDate(0, 0, -p.cfg.HistoryWindowDays)

	// Only days where the medication was actually scheduled count.
	var history []adherence.DailyMedicationRecord
	for _, rec := range p.ledger.RecordsSince(med.ID, since) {
		if rec.ScheduledDoses > 0 {
			history = append(history, rec)
		}
	}

	pred := Prediction{
		MedicationID:   med.ID,
		MedicationName: med.Name,
		HistoryDays:    len(history),
	}

	if len(history) < p.cfg.MinHistoryDays {
		// Not enough history: fall back to the scheduled rate as a
		// conservative estimate.
		pred.AverageDailyUsage = float64(med.DailyFrequency())
		pred.AdherenceRate = 1
		pred.Confidence = ConfidenceLow
	} else {
		takenSum := 0.0
		rateSum := 0.0
		for _, rec := range history {
			takenSum += float64(rec.TakenDoses)
			rateSum += float64(rec.TakenDoses) / float64(rec.ScheduledDoses)
		}
		pred.AverageDailyUsage = takenSum / float64(len(history))
		pred.AdherenceRate = clamp01(rateSum / float64(len(history)))
		pred.Confidence = p.confidence(history, pred.AverageDailyUsage)
	}

	if pred.AverageDailyUsage <= 0 {
		// Undefined supply horizon; never divide by zero.
		pred.Available = false
		return pred
	}

	pred.Available = true
	pred.DaysRemaining = float64(*med.PillsRemaining) / pred.AverageDailyUsage
	pred.PredictedRefillDate = today.AddDate(0, 0, int(pred.DaysRemaining))
	pred.RecommendedRefillDate = pred.PredictedRefillDate.AddDate(0, 0, -p.cfg.SafetyBufferDays)
	return pred
}

func (p *Predictor) confidence(history []adherence.DailyMedicationRecord, mean float64) Confidence {
	if len(history) >= p.cfg.HighConfidenceDays && usageConsistent(history, mean) {
		return ConfidenceHigh
	}
	if len(history) >= p.cfg.MinHistoryDays {
		return ConfidenceMedium
	}
	return ConfidenceLow
}

// usageConsistent reports low day-to-day variance: coefficient of
// variation at most 0.5.
func usageConsistent(history []adherence.DailyMedicationRecord, mean float64) bool {
	if mean <= 0 {
		return false
	}
	variance := 0.0
	for _, rec := range history {
		d := float64(rec.TakenDoses) - mean
		variance += d * d
	}
	variance /= float64(len(history))
	return math.Sqrt(variance)/mean <= 0.5
}

func (p *Predictor) classifyAlert(med *medication.Medication, pred Prediction) (Alert, bool) {
	var level AlertLevel
	switch {
	case pred.DaysRemaining <= float64(p.cfg.CriticalDays):
		level = AlertCritical
	case pred.DaysRemaining <= float64(p.cfg.WarningDays):
		level = AlertWarning
	default:
		return Alert{}, false
	}

	return Alert{
		MedicationID:          med.ID,
		MedicationName:        med.Name,
		Level:                 level,
		DaysRemaining:         pred.DaysRemaining,
		PillsRemaining:        *med.PillsRemaining,
		PredictedRefillDate:   pred.PredictedRefillDate,
		RecommendedRefillDate: pred.RecommendedRefillDate,
	}, true
}

func recommend(alert Alert, pred Prediction) Recommendation {
	var text string
	switch {
	case alert.Level == AlertCritical && pred.Confidence == ConfidenceLow:
		text = fmt.Sprintf("%s is almost out but dosing history is limited; consult your provider or pharmacy now.", alert.MedicationName)
	case alert.Level == AlertCritical:
		text = fmt.Sprintf("Refill %s immediately: about %.0f day(s) of supply left.", alert.MedicationName, alert.DaysRemaining)
	default:
		text = fmt.Sprintf("Plan a refill for %s by %s.", alert.MedicationName, alert.RecommendedRefillDate.Format("Jan 2"))
	}

	return Recommendation{
		MedicationID:   alert.MedicationID,
		MedicationName: alert.MedicationName,
		Text:           text,
	}
}

// RecordPillTaken decrements a medication's remaining pill count,
// flooring at zero. Inventory mutations for a medication are
// serialized behind the predictor's lock.
func (p *Predictor) RecordPillTaken(med *medication.Medication) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if med.PillsRemaining == nil {
		return
	}
	if *med.PillsRemaining > 0 {
		*med.PillsRemaining--
	}
}

// PredictionFor returns the latest prediction for a medication, if any.
func (p *Predictor) PredictionFor(medicationID string) (Prediction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pred, ok := p.predictions[medicationID]
	return pred, ok
}

// AlertsSnapshot returns a copy of the current alerts, most urgent
// first.
func (p *Predictor) AlertsSnapshot() []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Alert{}, p.alerts...)
}

// RecommendationsSnapshot returns a copy of the current
// recommendations.
func (p *Predictor) RecommendationsSnapshot() []Recommendation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Recommendation{}, p.recommendations...)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package tracker wires the medication store, adherence ledger, refill
// predictor, and interaction checker into one coordinated service.
package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pilltrail/pilltrail/internal/adherence"
	"github.com/pilltrail/pilltrail/internal/clock"
	apperrors "github.com/pilltrail/pilltrail/internal/errors"
	"github.com/pilltrail/pilltrail/internal/interaction"
	"github.com/pilltrail/pilltrail/internal/medication"
	"github.com/pilltrail/pilltrail/internal/refill"
)

// Tracker orchestrates the engines. Dose recording is the critical
// path: ledger writes must succeed, while refill and interaction
// refreshes are best-effort follow-ups that never fail the dose.
type Tracker struct {
	meds      *medication.Store
	ledger    *adherence.Ledger
	predictor *refill.Predictor
	checker   *interaction.Checker
	clock     clock.Clock
	logger    *zap.Logger

	cancelSub func()
	done      chan struct{}
}

// New creates a tracker and starts consuming interaction-check results
// so conflict flags on medications stay current. Call Close to stop.
func New(
	meds *medication.Store,
	ledger *adherence.Ledger,
	predictor *refill.Predictor,
	checker *interaction.Checker,
	clk clock.Clock,
	logger *zap.Logger,
) *Tracker {
	t := &Tracker{
		meds:      meds,
		ledger:    ledger,
		predictor: predictor,
		checker:   checker,
		clock:     clk,
		logger:    logger,
		done:      make(chan struct{}),
	}

	updates, cancel := checker.Subscribe()
	t.cancelSub = cancel
	go t.consumeInteractionUpdates(updates)

	return t
}

// Close stops the interaction-update consumer.
func (t *Tracker) Close() {
	t.cancelSub()
	<-t.done
}

func (t *Tracker) consumeInteractionUpdates(updates <-chan interaction.Update) {
	defer close(t.done)
	for update := range updates {
		t.applyConflicts(update.Interactions)
	}
}

// applyConflicts writes the denormalized conflict cache onto the
// stored medications.
func (t *Tracker) applyConflicts(found []interaction.Interaction) {
	meds, err := t.meds.List(nil)
	if err != nil {
		t.logger.Error("failed to list medications for conflict sync", zap.Error(err))
		return
	}

	for i := range meds {
		med := &meds[i]
		var conflicts []string
		for _, in := range found {
			if !in.Involves(med.Name) {
				continue
			}
			other := in.Drug1
			if medication.NormalizeName(in.Drug1) == med.NormalizedName() {
				other = in.Drug2
			}
			conflicts = append(conflicts, other)
		}

		hasConflicts := len(conflicts) > 0
		if hasConflicts == med.HasConflicts && equalStrings(conflicts, med.Conflicts) {
			continue
		}

		med.HasConflicts = hasConflicts
		med.Conflicts = conflicts
		if err := t.meds.Update(med); err != nil {
			t.logger.Warn("failed to persist conflict flags",
				zap.String("medication_id", med.ID),
				zap.Error(err))
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AddMedication stores a new medication, seeds today's adherence
// record, and kicks off the follow-up engines.
func (t *Tracker) AddMedication(med *medication.Medication) error {
	if med.Name == "" {
		return apperrors.New("MED_002", "medication name is required")
	}
	if med.StartDate.IsZero() {
		med.StartDate = t.clock.Today()
	}

	if err := t.meds.Create(med); err != nil {
		return err
	}

	if med.ActiveOn(t.clock.Today()) {
		if err := t.ledger.InitializeDailyRecords([]medication.Medication{*med}, t.clock.Today()); err != nil {
			t.logger.Warn("failed to seed today's adherence record",
				zap.String("medication_id", med.ID),
				zap.Error(err))
		}
	}

	t.refreshEngines()
	return nil
}

// UpdateMedication persists changes to an existing medication and
// refreshes the derived engines.
func (t *Tracker) UpdateMedication(med *medication.Medication) error {
	existing, err := t.meds.Get(med.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperrors.New("MED_001", "medication not found")
	}

	if err := t.meds.Update(med); err != nil {
		return err
	}

	t.refreshEngines()
	return nil
}

// DeleteMedication removes a medication. Past adherence records are
// history and stay in the ledger.
func (t *Tracker) DeleteMedication(id string) error {
	existing, err := t.meds.Get(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apperrors.New("MED_001", "medication not found")
	}

	if err := t.meds.Delete(id); err != nil {
		return err
	}

	t.refreshEngines()
	return nil
}

// TakeDose records one dose taken now. The ledger write is the source
// of truth; inventory, prediction, and interaction updates follow and
// are logged, not surfaced, on failure.
func (t *Tracker) TakeDose(id string) (*medication.Medication, error) {
	med, err := t.meds.Get(id)
	if err != nil {
		return nil, err
	}
	if med == nil {
		return nil, apperrors.New("MED_001", "medication not found")
	}

	now := t.clock.Now()
	if err := t.ledger.RecordTaken(med, now); err != nil {
		return nil, err
	}

	t.predictor.RecordPillTaken(med)
	med.IsTaken = true
	med.LastTaken = &now
	if err := t.meds.Update(med); err != nil {
		t.logger.Warn("dose recorded but medication state not persisted",
			zap.String("medication_id", med.ID),
			zap.Error(err))
	}

	t.refreshEngines()
	return med, nil
}

// SkipDose marks today's dose as deliberately not taken. The day's
// record exists afterwards with zero additional taken doses.
func (t *Tracker) SkipDose(id string) error {
	med, err := t.meds.Get(id)
	if err != nil {
		return err
	}
	if med == nil {
		return apperrors.New("MED_001", "medication not found")
	}

	if err := t.ledger.RecordNotTaken(med, t.clock.Today()); err != nil {
		return err
	}

	med.IsTaken = false
	if err := t.meds.Update(med); err != nil {
		t.logger.Warn("failed to persist skip state",
			zap.String("medication_id", med.ID),
			zap.Error(err))
	}
	return nil
}

// InitializeToday resets the per-day taken flags and seeds zero-taken
// records for every active medication, then refreshes predictions.
// Safe to run more than once per day.
func (t *Tracker) InitializeToday() error {
	if err := t.meds.ResetDailyFlags(); err != nil {
		return err
	}

	today := t.clock.Today()
	active, err := t.meds.List(&today)
	if err != nil {
		return err
	}

	if err := t.ledger.InitializeDailyRecords(active, today); err != nil {
		return err
	}

	t.refreshEngines()
	return nil
}

// ResetAllData wipes the adherence ledger and re-seeds today's records
// for the current medication set. This is the only path that deletes
// adherence history; medications themselves survive.
func (t *Tracker) ResetAllData() error {
	if err := t.ledger.Reset(); err != nil {
		return err
	}
	t.logger.Info("Bulk data reset performed")
	return t.InitializeToday()
}

// refreshEngines recomputes refill predictions and starts an
// interaction check over the active set. Both are best-effort.
func (t *Tracker) refreshEngines() {
	today := t.clock.Today()
	active, err := t.meds.List(&today)
	if err != nil {
		t.logger.Error("failed to list active medications", zap.Error(err))
		return
	}

	t.predictor.UpdatePredictions(active)

	names := make([]string, 0, len(active))
	for i := range active {
		names = append(names, active[i].Name)
	}
	t.checker.CheckInteractions(names)
}

// RefreshNow runs the engine refresh synchronously, waiting for the
// interaction check to complete. Used by scheduled jobs and tests.
func (t *Tracker) RefreshNow(ctx context.Context) error {
	today := t.clock.Today()
	active, err := t.meds.List(&today)
	if err != nil {
		return err
	}

	t.predictor.UpdatePredictions(active)

	names := make([]string, 0, len(active))
	for i := range active {
		names = append(names, active[i].Name)
	}
	found := t.checker.CheckNow(ctx, names)
	t.applyConflicts(found)
	return nil
}

// Medications returns all stored medications.
func (t *Tracker) Medications() ([]medication.Medication, error) {
	return t.meds.List(nil)
}

// ActiveMedications returns the medications active today.
func (t *Tracker) ActiveMedications() ([]medication.Medication, error) {
	today := t.clock.Today()
	return t.meds.List(&today)
}

// Medication returns one medication, or a not-found error.
func (t *Tracker) Medication(id string) (*medication.Medication, error) {
	med, err := t.meds.Get(id)
	if err != nil {
		return nil, err
	}
	if med == nil {
		return nil, apperrors.New("MED_001", "medication not found")
	}
	return med, nil
}

// TodayAdherence returns the adherence summary for today.
func (t *Tracker) TodayAdherence() adherence.DayAdherenceData {
	return t.ledger.DayData(t.clock.Today())
}

// DayAdherence returns the adherence summary for one calendar day.
func (t *Tracker) DayAdherence(day time.Time) adherence.DayAdherenceData {
	return t.ledger.DayData(day)
}

// MonthAdherence returns the rollup for the month containing day.
func (t *Tracker) MonthAdherence(day time.Time) adherence.MonthlyAdherenceData {
	return t.ledger.MonthlyData(day)
}

// AdherenceRecords returns a medication's full dose history, most
// recent first.
func (t *Tracker) AdherenceRecords(medicationID string) []adherence.DailyMedicationRecord {
	return t.ledger.Records(medicationID)
}

// Streak returns the current consecutive-day adherence streak.
func (t *Tracker) Streak() int {
	return t.ledger.Streak()
}

// WeeklyProgress returns the last seven days' qualification flags,
// oldest first.
func (t *Tracker) WeeklyProgress() []bool {
	return t.ledger.WeeklyProgress()
}

// RefillAlerts returns the current refill alerts, soonest first.
func (t *Tracker) RefillAlerts() []refill.Alert {
	return t.predictor.AlertsSnapshot()
}

// RefillRecommendations returns the current refill recommendations.
func (t *Tracker) RefillRecommendations() []refill.Recommendation {
	return t.predictor.RecommendationsSnapshot()
}

// RefillPrediction returns one medication's prediction.
func (t *Tracker) RefillPrediction(medicationID string) (refill.Prediction, bool) {
	return t.predictor.PredictionFor(medicationID)
}

// Interactions returns the active interaction set.
func (t *Tracker) Interactions() []interaction.Interaction {
	return t.checker.ActiveInteractions()
}

// InteractionsFor returns the active interactions involving a drug.
func (t *Tracker) InteractionsFor(name string) []interaction.Interaction {
	return t.checker.InteractionsFor(name)
}

// DrugProfile returns display information for a drug name.
func (t *Tracker) DrugProfile(ctx context.Context, name string) interaction.DrugProfile {
	return t.checker.DrugProfile(ctx, name)
}

// SubscribeInteractions streams completed interaction-check results.
func (t *Tracker) SubscribeInteractions() (<-chan interaction.Update, func()) {
	return t.checker.Subscribe()
}

package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/pilltrail/pilltrail/internal/adherence"
	"github.com/pilltrail/pilltrail/internal/clock"
	"github.com/pilltrail/pilltrail/internal/config"
	apperrors "github.com/pilltrail/pilltrail/internal/errors"
	"github.com/pilltrail/pilltrail/internal/interaction"
	"github.com/pilltrail/pilltrail/internal/medication"
	"github.com/pilltrail/pilltrail/internal/refill"
)

type memKV struct {
	data map[string][]byte
}

func (m *memKV) Get(key string) ([]byte, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, nil
}

func (m *memKV) Set(key string, value []byte) error {
	m.data[key] = value
	return nil
}

func setupTracker(t *testing.T) (*Tracker, *clock.Fake) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	meds, err := medication.NewStore(db)
	require.NoError(t, err)

	clk := &clock.Fake{Current: time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()

	ledger := adherence.NewLedger(&memKV{data: make(map[string][]byte)}, clk, config.AdherenceConfig{}, logger)
	predictor := refill.NewPredictor(ledger, clk, config.RefillConfig{}, logger)

	pairs, err := interaction.DefaultKnownPairs()
	require.NoError(t, err)
	checker := interaction.NewChecker(pairs, nil, time.Second, logger)

	tr := New(meds, ledger, predictor, checker, clk, logger)
	t.Cleanup(tr.Close)
	return tr, clk
}

func intPtr(n int) *int { return &n }

func newMed(name string, pills int) *medication.Medication {
	return &medication.Medication{
		Name:           name,
		Dose:           "10mg",
		ReminderTimes:  []medication.ReminderTime{{TimeOfDay: "08:00", Enabled: true}},
		PillsRemaining: intPtr(pills),
		TotalPills:     intPtr(pills),
	}
}

func TestAddMedicationSeedsTodayRecord(t *testing.T) {
	tr, _ := setupTracker(t)

	med := newMed("Lisinopril", 30)
	require.NoError(t, tr.AddMedication(med))
	require.NotEmpty(t, med.ID)

	day := tr.TodayAdherence()
	require.Len(t, day.MedicationRecords, 1)
	assert.Equal(t, med.ID, day.MedicationRecords[0].MedicationID)
	assert.Equal(t, 0, day.MedicationRecords[0].TakenDoses)
	assert.Equal(t, 1, day.MedicationRecords[0].ScheduledDoses)
}

func TestAddMedicationRequiresName(t *testing.T) {
	tr, _ := setupTracker(t)

	err := tr.AddMedication(&medication.Medication{Dose: "10mg"})
	require.Error(t, err)
	assert.Equal(t, "MED_002", apperrors.GetCode(err))
}

func TestTakeDoseUpdatesLedgerInventoryAndState(t *testing.T) {
	tr, clk := setupTracker(t)

	med := newMed("Lisinopril", 30)
	require.NoError(t, tr.AddMedication(med))

	taken, err := tr.TakeDose(med.ID)
	require.NoError(t, err)

	assert.True(t, taken.IsTaken)
	require.NotNil(t, taken.LastTaken)
	assert.True(t, taken.LastTaken.Equal(clk.Now()))
	assert.Equal(t, 29, *taken.PillsRemaining)

	day := tr.TodayAdherence()
	require.Len(t, day.MedicationRecords, 1)
	assert.Equal(t, 1, day.MedicationRecords[0].TakenDoses)

	stored, err := tr.Medication(med.ID)
	require.NoError(t, err)
	assert.Equal(t, 29, *stored.PillsRemaining)
	assert.True(t, stored.IsTaken)
}

func TestTakeDoseUnknownMedication(t *testing.T) {
	tr, _ := setupTracker(t)

	_, err := tr.TakeDose("no-such-id")
	require.Error(t, err)
	assert.Equal(t, "MED_001", apperrors.GetCode(err))
}

func TestSkipDoseCreatesZeroTakenRecord(t *testing.T) {
	tr, _ := setupTracker(t)

	med := newMed("Metformin", 60)
	med.ReminderTimes = nil // default frequency of one dose per day
	require.NoError(t, tr.AddMedication(med))

	require.NoError(t, tr.SkipDose(med.ID))

	day := tr.TodayAdherence()
	require.Len(t, day.MedicationRecords, 1)
	assert.Equal(t, 0, day.MedicationRecords[0].TakenDoses)
	assert.Equal(t, adherence.LevelMissed, day.MedicationRecords[0].Level())
}

func TestInitializeTodayResetsFlagsAndSeedsRecords(t *testing.T) {
	tr, clk := setupTracker(t)

	med := newMed("Lisinopril", 30)
	require.NoError(t, tr.AddMedication(med))
	_, err := tr.TakeDose(med.ID)
	require.NoError(t, err)

	clk.AdvanceDays(1)
	require.NoError(t, tr.InitializeToday())

	stored, err := tr.Medication(med.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsTaken)

	day := tr.TodayAdherence()
	require.Len(t, day.MedicationRecords, 1)
	assert.Equal(t, 0, day.MedicationRecords[0].TakenDoses)

	// yesterday's record is untouched
	yesterday := tr.DayAdherence(clk.Today().AddDate(0, 0, -1))
	require.Len(t, yesterday.MedicationRecords, 1)
	assert.Equal(t, 1, yesterday.MedicationRecords[0].TakenDoses)
}

func TestRefreshNowFlagsInteractingMedications(t *testing.T) {
	tr, _ := setupTracker(t)

	warfarin := newMed("Warfarin", 30)
	aspirin := newMed("Aspirin", 90)
	metformin := newMed("Metformin", 60)
	require.NoError(t, tr.AddMedication(warfarin))
	require.NoError(t, tr.AddMedication(aspirin))
	require.NoError(t, tr.AddMedication(metformin))

	require.NoError(t, tr.RefreshNow(context.Background()))

	interactions := tr.Interactions()
	require.Len(t, interactions, 1)
	assert.Equal(t, interaction.SeverityMajor, interactions[0].Severity)

	w, err := tr.Medication(warfarin.ID)
	require.NoError(t, err)
	assert.True(t, w.HasConflicts)
	assert.Equal(t, []string{"Aspirin"}, w.Conflicts)

	m, err := tr.Medication(metformin.ID)
	require.NoError(t, err)
	assert.False(t, m.HasConflicts)
}

func TestDeleteMedicationClearsConflictOnPartner(t *testing.T) {
	tr, _ := setupTracker(t)

	warfarin := newMed("Warfarin", 30)
	aspirin := newMed("Aspirin", 90)
	require.NoError(t, tr.AddMedication(warfarin))
	require.NoError(t, tr.AddMedication(aspirin))
	require.NoError(t, tr.RefreshNow(context.Background()))

	require.NoError(t, tr.DeleteMedication(aspirin.ID))
	require.NoError(t, tr.RefreshNow(context.Background()))

	assert.Empty(t, tr.Interactions())
	w, err := tr.Medication(warfarin.ID)
	require.NoError(t, err)
	assert.False(t, w.HasConflicts)
}

func TestTakeDoseRefreshesRefillPrediction(t *testing.T) {
	tr, _ := setupTracker(t)

	med := newMed("Lisinopril", 2)
	require.NoError(t, tr.AddMedication(med))

	_, err := tr.TakeDose(med.ID)
	require.NoError(t, err)

	pred, ok := tr.RefillPrediction(med.ID)
	require.True(t, ok)
	require.True(t, pred.Available)
	assert.InDelta(t, 1.0, pred.DaysRemaining, 0.001)

	alerts := tr.RefillAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, refill.AlertCritical, alerts[0].Level)
}

func TestStreakAndWeeklyProgressThroughTracker(t *testing.T) {
	tr, clk := setupTracker(t)

	med := newMed("Lisinopril", 30)
	require.NoError(t, tr.AddMedication(med))

	for i := 0; i < 3; i++ {
		_, err := tr.TakeDose(med.ID)
		require.NoError(t, err)
		if i < 2 {
			clk.AdvanceDays(1)
			require.NoError(t, tr.InitializeToday())
		}
	}

	assert.Equal(t, 3, tr.Streak())

	week := tr.WeeklyProgress()
	require.Len(t, week, 7)
	assert.True(t, week[6])
	assert.True(t, week[5])
	assert.True(t, week[4])
	assert.False(t, week[3])
}

func TestUpdateMedicationUnknownID(t *testing.T) {
	tr, _ := setupTracker(t)

	err := tr.UpdateMedication(&medication.Medication{ID: "missing", Name: "X"})
	require.Error(t, err)
	assert.Equal(t, "MED_001", apperrors.GetCode(err))
}

func TestResetAllDataWipesHistoryKeepsMedications(t *testing.T) {
	tr, clk := setupTracker(t)

	med := newMed("Metformin", 60)
	require.NoError(t, tr.AddMedication(med))

	for i := 0; i < 3; i++ {
		_, err := tr.TakeDose(med.ID)
		require.NoError(t, err)
		if i < 2 {
			clk.AdvanceDays(1)
			require.NoError(t, tr.InitializeToday())
		}
	}
	require.Equal(t, 3, tr.Streak())

	require.NoError(t, tr.ResetAllData())

	assert.Equal(t, 0, tr.Streak())
	today := tr.TodayAdherence()
	assert.Equal(t, 0, today.TotalTaken)
	assert.Equal(t, 1, today.TotalScheduled)

	meds, err := tr.Medications()
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "Metformin", meds[0].Name)
}

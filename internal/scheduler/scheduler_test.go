package scheduler

import (
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
	"github.com/pilltrail/pilltrail/internal/interaction"
	"github.com/pilltrail/pilltrail/internal/medication"
	"github.com/pilltrail/pilltrail/internal/refill"
	"github.com/pilltrail/pilltrail/internal/tracker"
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

func setupScheduler(t *testing.T, cfg config.SchedulerConfig) (*Runner, *tracker.Tracker) {
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

	tr := tracker.New(meds, ledger, predictor, checker, clk, logger)
	t.Cleanup(tr.Close)

	return NewRunner(cfg, tr, logger), tr
}

func TestStartRunsDailyInitImmediately(t *testing.T) {
	r, tr := setupScheduler(t, config.SchedulerConfig{})

	pills := 30
	med := &medication.Medication{
		Name:           "Lisinopril",
		Dose:           "10mg",
		ReminderTimes:  []medication.ReminderTime{{TimeOfDay: "08:00", Enabled: true}},
		PillsRemaining: &pills,
		TotalPills:     &pills,
	}
	require.NoError(t, tr.AddMedication(med))

	require.NoError(t, r.Start())
	defer r.Stop()

	assert.True(t, r.IsRunning())

	today := tr.TodayAdherence()
	assert.Equal(t, 1, today.TotalScheduled)
	assert.Equal(t, 0, today.TotalTaken)
}

func TestStartTwiceFails(t *testing.T) {
	r, _ := setupScheduler(t, config.SchedulerConfig{})

	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Error(t, r.Start())
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	r, _ := setupScheduler(t, config.SchedulerConfig{DailyInitSpec: "not a cron spec"})

	assert.Error(t, r.Start())
}

func TestStopIsIdempotent(t *testing.T) {
	r, _ := setupScheduler(t, config.SchedulerConfig{})

	require.NoError(t, r.Start())
	r.Stop()
	r.Stop()

	assert.False(t, r.IsRunning())
}

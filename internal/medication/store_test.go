package medication

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestStore_CreateAndGet(t *testing.T) {
	store := setupTestStore(t)

	med := &Medication{
		Name: "Lisinopril",
		Dose: "10mg",
		ReminderTimes: []ReminderTime{
			{TimeOfDay: "08:00", Enabled: true},
			{TimeOfDay: "20:00", Enabled: true},
		},
	}

	require.NoError(t, store.Create(med))
	assert.NotEmpty(t, med.ID)
	assert.NotEmpty(t, med.ReminderTimes[0].ID)

	got, err := store.Get(med.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Lisinopril", got.Name)
	require.Len(t, got.ReminderTimes, 2)
	assert.Equal(t, "08:00", got.ReminderTimes[0].TimeOfDay)
}

func TestStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Get("nonexistent")
	require.NoError(t, err, "not-found is empty, not an error")
	assert.Nil(t, got)
}

func TestStore_ListActiveOn(t *testing.T) {
	store := setupTestStore(t)

	ended := time.Now().AddDate(0, 0, -5)
	past := &Medication{
		Name:      "Finished Med",
		StartDate: time.Now().AddDate(0, 0, -30),
		EndDate:   &ended,
	}
	current := &Medication{
		Name:      "Current Med",
		StartDate: time.Now().AddDate(0, 0, -10),
	}
	require.NoError(t, store.Create(past))
	require.NoError(t, store.Create(current))

	today := time.Now()
	active, err := store.List(&today)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Current Med", active[0].Name)

	all, err := store.List(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_UpdateConflicts(t *testing.T) {
	store := setupTestStore(t)

	med := &Medication{Name: "Warfarin"}
	require.NoError(t, store.Create(med))

	med.HasConflicts = true
	med.Conflicts = []string{"Aspirin"}
	require.NoError(t, store.Update(med))

	got, err := store.Get(med.ID)
	require.NoError(t, err)
	assert.True(t, got.HasConflicts)
	assert.Equal(t, []string{"Aspirin"}, got.Conflicts)
}

func TestStore_ResetDailyFlags(t *testing.T) {
	store := setupTestStore(t)

	now := time.Now()
	med := &Medication{Name: "Metformin", IsTaken: true, LastTaken: &now}
	require.NoError(t, store.Create(med))

	require.NoError(t, store.ResetDailyFlags())

	got, err := store.Get(med.ID)
	require.NoError(t, err)
	assert.False(t, got.IsTaken)
	assert.NotNil(t, got.LastTaken, "lastTaken history is kept")
}

func TestMedication_DailyFrequency(t *testing.T) {
	tests := []struct {
		name     string
		times    []ReminderTime
		expected int
	}{
		{"no reminders", nil, 1},
		{"all disabled", []ReminderTime{{TimeOfDay: "08:00"}}, 1},
		{"two enabled one disabled", []ReminderTime{
			{TimeOfDay: "08:00", Enabled: true},
			{TimeOfDay: "14:00", Enabled: false},
			{TimeOfDay: "20:00", Enabled: true},
		}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Medication{ReminderTimes: tt.times}
			assert.Equal(t, tt.expected, m.DailyFrequency())
		})
	}
}

func TestMedication_ActiveOn(t *testing.T) {
	end := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	m := &Medication{
		StartDate: time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local),
		EndDate:   &end,
	}

	assert.False(t, m.ActiveOn(time.Date(2026, 2, 28, 0, 0, 0, 0, time.Local)))
	assert.True(t, m.ActiveOn(time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)), "start day counts")
	assert.True(t, m.ActiveOn(time.Date(2026, 3, 10, 23, 0, 0, 0, time.Local)), "end day counts")
	assert.False(t, m.ActiveOn(time.Date(2026, 3, 11, 0, 0, 0, 0, time.Local)))
}

func TestMedication_ActiveOn_NoEndDate(t *testing.T) {
	m := &Medication{StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)}
	assert.True(t, m.ActiveOn(time.Date(2030, 1, 1, 0, 0, 0, 0, time.Local)))
}

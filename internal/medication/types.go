package medication

import (
	"strings"
	"time"
)

// ReminderTime is one scheduled dose time within a day.
type ReminderTime struct {
	ID        string `json:"id"`
	TimeOfDay string `json:"time_of_day"` // "08:00"
	Enabled   bool   `json:"enabled"`
}

// Medication represents one tracked prescription.
type Medication struct {
	ID string `json:"id" gorm:"primaryKey"`

	// Display details. FrequencyText is informational only; scheduling
	// derives from ReminderTimes.
	Name          string `json:"name"`
	Dose          string `json:"dose"` // e.g., "10mg", "1 tablet"
	FrequencyText string `json:"frequency_text,omitempty"`

	ReminderTimes []ReminderTime `json:"reminder_times" gorm:"-"`
	RemindersJSON string         `json:"-" gorm:"type:text"`

	// Active window
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// Today's-dose convenience flag, reset each day
	IsTaken   bool       `json:"is_taken"`
	LastTaken *time.Time `json:"last_taken,omitempty"`

	// Inventory counters
	PillsRemaining *int `json:"pills_remaining,omitempty"`
	TotalPills     *int `json:"total_pills,omitempty"`

	// Denormalized cache of interaction results
	HasConflicts  bool     `json:"has_conflicts"`
	Conflicts     []string `json:"conflicts,omitempty" gorm:"-"`
	ConflictsJSON string   `json:"-" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyFrequency is the number of enabled reminders, minimum 1.
func (m *Medication) DailyFrequency() int {
	n := 0
	for _, r := range m.ReminderTimes {
		if r.Enabled {
			n++
		}
	}
	if n < 1 {
		return 1
	}
	return n
}

// ActiveOn reports whether the medication's active window covers the
// given calendar day.
func (m *Medication) ActiveOn(day time.Time) bool {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	start := time.Date(m.StartDate.Year(), m.StartDate.Month(), m.StartDate.Day(), 0, 0, 0, 0, day.Location())
	if d.Before(start) {
		return false
	}
	if m.EndDate != nil {
		end := time.Date(m.EndDate.Year(), m.EndDate.Month(), m.EndDate.Day(), 0, 0, 0, 0, day.Location())
		if d.After(end) {
			return false
		}
	}
	return true
}

// EnabledTimesOn returns the concrete timestamps of the day's enabled
// reminders.
func (m *Medication) EnabledTimesOn(day time.Time) []time.Time {
	var out []time.Time
	for _, r := range m.ReminderTimes {
		if !r.Enabled {
			continue
		}
		if t, err := time.Parse("15:04", r.TimeOfDay); err == nil {
			out = append(out, time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()))
		}
	}
	return out
}

// NormalizeName lowercases and trims a drug name for case-insensitive
// matching.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizedName is the lowercase name used for interaction matching.
func (m *Medication) NormalizedName() string {
	return NormalizeName(m.Name)
}

package adherence

import (
	"sort"
	"time"
)

// Level classifies a day's adherence percentage.
type Level string

const (
	LevelNoMedications Level = "noMedications"
	LevelPerfect       Level = "perfect"
	LevelGood          Level = "good"
	LevelFair          Level = "fair"
	LevelPoor          Level = "poor"
	LevelMissed        Level = "missed"
)

// ClassifyLevel maps a scheduled count and adherence percentage to a
// discrete level.
func ClassifyLevel(scheduled int, percentage float64) Level {
	if scheduled == 0 {
		return LevelNoMedications
	}
	switch {
	case percentage >= 100:
		return LevelPerfect
	case percentage >= 80:
		return LevelGood
	case percentage >= 50:
		return LevelFair
	case percentage > 0:
		return LevelPoor
	default:
		return LevelMissed
	}
}

// DailyMedicationRecord is one ledger entry: one medication on one
// calendar day. Records are immutable values; an update replaces the
// record in its month rather than mutating it in place.
type DailyMedicationRecord struct {
	Date           time.Time   `json:"date"`
	MedicationID   string      `json:"medication_id"`
	MedicationName string      `json:"medication_name"`
	ScheduledDoses int         `json:"scheduled_doses"`
	TakenDoses     int         `json:"taken_doses"`
	ReminderTimes  []time.Time `json:"reminder_times,omitempty"`
	TakenTimes     []time.Time `json:"taken_times,omitempty"`

	AdherencePercentage float64 `json:"adherence_percentage"`
}

// withTaken returns a copy with takenDoses clamped to scheduledDoses
// and the percentage recomputed.
func (r DailyMedicationRecord) withTaken(taken int, takenTimes []time.Time) DailyMedicationRecord {
	if taken > r.ScheduledDoses {
		taken = r.ScheduledDoses
	}
	if taken < 0 {
		taken = 0
	}
	r.TakenDoses = taken
	r.TakenTimes = takenTimes
	if r.ScheduledDoses > 0 {
		r.AdherencePercentage = float64(r.TakenDoses) / float64(r.ScheduledDoses) * 100
	} else {
		r.AdherencePercentage = 0
	}
	return r
}

// Level classifies this record's adherence.
func (r DailyMedicationRecord) Level() Level {
	return ClassifyLevel(r.ScheduledDoses, r.AdherencePercentage)
}

// DayAdherenceData aggregates one day across all medications.
type DayAdherenceData struct {
	Date                time.Time               `json:"date"`
	TotalScheduled      int                     `json:"total_scheduled"`
	TotalTaken          int                     `json:"total_taken"`
	AdherencePercentage float64                 `json:"adherence_percentage"`
	Level               Level                   `json:"level"`
	MedicationRecords   []DailyMedicationRecord `json:"medication_records"`
}

// MonthlyAdherenceData aggregates one calendar month. It is always
// rebuilt in full from the month's daily records so the rollup can
// never drift from the ledger.
type MonthlyAdherenceData struct {
	MonthKey         string                      `json:"month_key"` // YYYY-MM
	DailyRecords     map[string]DayAdherenceData `json:"daily_records"`
	OverallAdherence float64                     `json:"overall_adherence"`
	ActiveDays       int                         `json:"active_days"`
}

// monthLedger is the per-month persisted unit: day key -> medication
// id -> record. The monthly rollup is derived, not stored.
type monthLedger struct {
	Records map[string]map[string]DailyMedicationRecord `json:"records"`
}

func newMonthLedger() *monthLedger {
	return &monthLedger{Records: make(map[string]map[string]DailyMedicationRecord)}
}

func (m *monthLedger) dayRecords(dayKey string) map[string]DailyMedicationRecord {
	if m.Records[dayKey] == nil {
		m.Records[dayKey] = make(map[string]DailyMedicationRecord)
	}
	return m.Records[dayKey]
}

// rebuild derives the month's rollup from every daily record.
func (m *monthLedger) rebuild(monthKey string) MonthlyAdherenceData {
	data := MonthlyAdherenceData{
		MonthKey:     monthKey,
		DailyRecords: make(map[string]DayAdherenceData),
	}

	totalScheduled := 0
	totalTaken := 0

	for dayKey, recs := range m.Records {
		day := buildDayData(recs)
		data.DailyRecords[dayKey] = day

		totalScheduled += day.TotalScheduled
		totalTaken += day.TotalTaken
		if day.TotalScheduled > 0 {
			data.ActiveDays++
		}
	}

	if totalScheduled > 0 {
		data.OverallAdherence = float64(totalTaken) / float64(totalScheduled) * 100
	}
	return data
}

func buildDayData(recs map[string]DailyMedicationRecord) DayAdherenceData {
	day := DayAdherenceData{}
	for _, r := range recs {
		if day.Date.IsZero() {
			day.Date = r.Date
		}
		day.TotalScheduled += r.ScheduledDoses
		day.TotalTaken += r.TakenDoses
		day.MedicationRecords = append(day.MedicationRecords, r)
	}
	sort.Slice(day.MedicationRecords, func(i, j int) bool {
		return day.MedicationRecords[i].MedicationID < day.MedicationRecords[j].MedicationID
	})
	if day.TotalScheduled > 0 {
		day.AdherencePercentage = float64(day.TotalTaken) / float64(day.TotalScheduled) * 100
	}
	day.Level = ClassifyLevel(day.TotalScheduled, day.AdherencePercentage)
	return day
}

// Package adherence maintains the ground-truth ledger of scheduled
// versus taken doses and the statistics derived from it.
package adherence

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pilltrail/pilltrail/internal/clock"
	"github.com/pilltrail/pilltrail/internal/config"
	apperrors "github.com/pilltrail/pilltrail/internal/errors"
	"github.com/pilltrail/pilltrail/internal/medication"
)

const (
	monthPrefix = "ledger:"
	indexKey    = "ledger-months"
)

// KV is the persistence capability the ledger requires.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// Ledger owns the adherence record store. Mutations to a given month
// are serialized behind a per-month lock; queries load persisted state
// and treat missing or corrupt months as empty.
type Ledger struct {
	kv     KV
	clock  clock.Clock
	logger *zap.Logger

	streakWindowDays  int
	qualifyingPercent float64

	mu       sync.Mutex
	monthMus map[string]*sync.Mutex
}

// NewLedger creates an adherence ledger with its collaborators injected.
func NewLedger(kv KV, clk clock.Clock, cfg config.AdherenceConfig, logger *zap.Logger) *Ledger {
	streak := cfg.StreakWindowDays
	if streak <= 0 {
		streak = 30
	}
	qualifying := cfg.QualifyingPercent
	if qualifying <= 0 {
		qualifying = 80
	}

	return &Ledger{
		kv:                kv,
		clock:             clk,
		logger:            logger,
		streakWindowDays:  streak,
		qualifyingPercent: qualifying,
		monthMus:          make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) monthLock(monthKey string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.monthMus[monthKey] == nil {
		l.monthMus[monthKey] = &sync.Mutex{}
	}
	return l.monthMus[monthKey]
}

// RecordTaken logs one dose taken at the given time, creating the
// day's record if needed. TakenDoses never exceeds ScheduledDoses.
func (l *Ledger) RecordTaken(med *medication.Medication, at time.Time) error {
	day := clock.Midnight(at)

	return l.mutateMonth(day, func(month *monthLedger) {
		recs := month.dayRecords(clock.DayKey(day))
		rec, ok := recs[med.ID]
		if !ok {
			rec = l.freshRecord(med, day)
		}

		taken := rec.TakenDoses + 1
		takenTimes := append(append([]time.Time{}, rec.TakenTimes...), at)
		if taken > rec.ScheduledDoses {
			// Clamp, and drop the overflow timestamp with it.
			taken = rec.ScheduledDoses
			takenTimes = takenTimes[:rec.ScheduledDoses]
		}

		recs[med.ID] = rec.withTaken(taken, takenTimes)
	})
}

// RecordNotTaken logs an explicit skip for the given day. The taken
// count is left as-is; the record is created if it does not exist.
func (l *Ledger) RecordNotTaken(med *medication.Medication, on time.Time) error {
	day := clock.Midnight(on)

	return l.mutateMonth(day, func(month *monthLedger) {
		recs := month.dayRecords(clock.DayKey(day))
		if _, ok := recs[med.ID]; !ok {
			recs[med.ID] = l.freshRecord(med, day)
		}
	})
}

// InitializeDailyRecords ensures a record exists for every medication
// active on the given day. Idempotent: existing records, including
// their taken counts, are never touched.
func (l *Ledger) InitializeDailyRecords(meds []medication.Medication, on time.Time) error {
	day := clock.Midnight(on)

	return l.mutateMonth(day, func(month *monthLedger) {
		recs := month.dayRecords(clock.DayKey(day))
		for i := range meds {
			med := &meds[i]
			if !med.ActiveOn(day) {
				continue
			}
			if _, ok := recs[med.ID]; ok {
				continue
			}
			recs[med.ID] = l.freshRecord(med, day)
		}
	})
}

func (l *Ledger) freshRecord(med *medication.Medication, day time.Time) DailyMedicationRecord {
	return DailyMedicationRecord{
		Date:           day,
		MedicationID:   med.ID,
		MedicationName: med.Name,
		ScheduledDoses: med.DailyFrequency(),
		ReminderTimes:  med.EnabledTimesOn(day),
	}
}

// mutateMonth applies a read-modify-write on one month under its lock,
// then persists. Writes always run to completion once started.
func (l *Ledger) mutateMonth(day time.Time, fn func(*monthLedger)) error {
	monthKey := clock.MonthKey(day)

	mu := l.monthLock(monthKey)
	mu.Lock()
	defer mu.Unlock()

	month := l.loadMonth(monthKey)
	fn(month)

	data, err := json.Marshal(month)
	if err != nil {
		return apperrors.Wrap(err, "LEDGER_001", "failed to persist adherence records")
	}
	if err := l.kv.Set(monthPrefix+monthKey, data); err != nil {
		return apperrors.Wrap(err, "LEDGER_001", "failed to persist adherence records")
	}

	if err := l.indexMonth(monthKey); err != nil {
		return apperrors.Wrap(err, "LEDGER_001", "failed to persist adherence records")
	}
	return nil
}

// loadMonth reads one month from the store. Missing or corrupt data
// degrades to an empty month.
func (l *Ledger) loadMonth(monthKey string) *monthLedger {
	data, err := l.kv.Get(monthPrefix + monthKey)
	if err != nil || data == nil {
		if err != nil {
			l.logger.Warn("Failed to read ledger month, starting empty",
				zap.String("month", monthKey),
				zap.Error(err),
			)
		}
		return newMonthLedger()
	}

	var month monthLedger
	if err := json.Unmarshal(data, &month); err != nil {
		l.logger.Warn("Corrupt ledger month, starting empty",
			zap.String("month", monthKey),
			zap.Error(err),
		)
		return newMonthLedger()
	}
	if month.Records == nil {
		month.Records = make(map[string]map[string]DailyMedicationRecord)
	}
	return &month
}

// indexMonth records a month key in the ledger's month index so that
// cross-month queries can enumerate months with only Get/Set.
func (l *Ledger) indexMonth(monthKey string) error {
	months := l.monthIndex()
	for _, m := range months {
		if m == monthKey {
			return nil
		}
	}
	months = append(months, monthKey)
	sort.Strings(months)

	data, err := json.Marshal(months)
	if err != nil {
		return err
	}
	return l.kv.Set(indexKey, data)
}

func (l *Ledger) monthIndex() []string {
	data, err := l.kv.Get(indexKey)
	if err != nil || data == nil {
		return nil
	}
	var months []string
	if err := json.Unmarshal(data, &months); err != nil {
		l.logger.Warn("Corrupt ledger month index, starting empty", zap.Error(err))
		return nil
	}
	return months
}

// DayData returns the aggregated adherence data for one calendar day.
func (l *Ledger) DayData(date time.Time) DayAdherenceData {
	day := clock.Midnight(date)
	monthKey := clock.MonthKey(day)

	mu := l.monthLock(monthKey)
	mu.Lock()
	month := l.loadMonth(monthKey)
	mu.Unlock()

	recs, ok := month.Records[clock.DayKey(day)]
	if !ok || len(recs) == 0 {
		return DayAdherenceData{Date: day, Level: LevelNoMedications}
	}
	data := buildDayData(recs)
	data.Date = day
	return data
}

// MonthlyData returns the rollup for the month containing the given
// date, rebuilt from that month's daily records.
func (l *Ledger) MonthlyData(date time.Time) MonthlyAdherenceData {
	monthKey := clock.MonthKey(date)

	mu := l.monthLock(monthKey)
	mu.Lock()
	month := l.loadMonth(monthKey)
	mu.Unlock()

	return month.rebuild(monthKey)
}

// Records returns every ledger entry for one medication, most recent
// first. Unknown medication ids yield an empty slice.
func (l *Ledger) Records(medicationID string) []DailyMedicationRecord {
	var out []DailyMedicationRecord

	for _, monthKey := range l.monthIndex() {
		mu := l.monthLock(monthKey)
		mu.Lock()
		month := l.loadMonth(monthKey)
		mu.Unlock()

		for _, recs := range month.Records {
			if rec, ok := recs[medicationID]; ok {
				out = append(out, rec)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

// RecordsSince returns one medication's records on or after the given
// day, most recent first. Used by the refill predictor's history
// window.
func (l *Ledger) RecordsSince(medicationID string, since time.Time) []DailyMedicationRecord {
	cutoff := clock.Midnight(since)
	all := l.Records(medicationID)

	var out []DailyMedicationRecord
	for _, r := range all {
		if !r.Date.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// Streak counts consecutive qualifying days ending today. A day
// qualifies only if a record exists and its adherence meets the
// qualifying threshold; the first miss breaks the chain.
func (l *Ledger) Streak() int {
	streak := 0
	day := l.clock.Today()

	for i := 0; i < l.streakWindowDays; i++ {
		data := l.DayData(day)
		if data.TotalScheduled == 0 || data.AdherencePercentage < l.qualifyingPercent {
			break
		}
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

// WeeklyProgress reports the last 7 days, oldest first: true for each
// day with a record meeting the qualifying threshold.
func (l *Ledger) WeeklyProgress() []bool {
	out := make([]bool, 7)
	today := l.clock.Today()

	for i := 0; i < 7; i++ {
		day := today.AddDate(0, 0, i-6)
		data := l.DayData(day)
		out[i] = data.TotalScheduled > 0 && data.AdherencePercentage >= l.qualifyingPercent
	}
	return out
}

// Reset wipes every ledger month: the bulk data reset, the only way
// records are deleted.
func (l *Ledger) Reset() error {
	for _, monthKey := range l.monthIndex() {
		mu := l.monthLock(monthKey)
		mu.Lock()
		data, err := json.Marshal(newMonthLedger())
		if err == nil {
			err = l.kv.Set(monthPrefix+monthKey, data)
		}
		mu.Unlock()
		if err != nil {
			return apperrors.Wrap(err, "LEDGER_001", "failed to persist adherence records")
		}
	}

	data, err := json.Marshal([]string{})
	if err != nil {
		return apperrors.Wrap(err, "LEDGER_001", "failed to persist adherence records")
	}
	if err := l.kv.Set(indexKey, data); err != nil {
		return apperrors.Wrap(err, "LEDGER_001", "failed to persist adherence records")
	}

	l.logger.Info("Adherence ledger reset")
	return nil
}

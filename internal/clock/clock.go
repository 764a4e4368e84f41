// Package clock abstracts time so engines can be tested deterministically.
package clock

import "time"

// Clock provides the current time and the current calendar day.
type Clock interface {
	Now() time.Time
	Today() time.Time
}

// System reads the wall clock.
type System struct{}

func NewSystem() *System { return &System{} }

func (System) Now() time.Time { return time.Now() }

func (System) Today() time.Time {
	return Midnight(time.Now())
}

// Fake is a settable clock for tests.
type Fake struct {
	Current time.Time
}

func NewFake(t time.Time) *Fake { return &Fake{Current: t} }

func (f *Fake) Now() time.Time { return f.Current }

func (f *Fake) Today() time.Time { return Midnight(f.Current) }

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) { f.Current = f.Current.Add(d) }

// AdvanceDays moves the fake clock forward by whole days.
func (f *Fake) AdvanceDays(n int) { f.Current = f.Current.AddDate(0, 0, n) }

// Midnight truncates a timestamp to the start of its calendar day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DayKey formats a day as the ledger's day key.
func DayKey(t time.Time) string { return t.Format("2006-01-02") }

// MonthKey formats a day as the ledger's month key.
func MonthKey(t time.Time) string { return t.Format("2006-01") }

// SameDay reports whether two timestamps fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

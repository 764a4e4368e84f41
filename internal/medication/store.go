package medication

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store handles medication persistence. The medication table is the
// single source of truth for the active medication list.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new medication store
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Medication{}); err != nil {
		return nil, fmt.Errorf("failed to migrate medication schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Create(med *Medication) error {
	if med.ID == "" {
		med.ID = uuid.NewString()
	}
	for i := range med.ReminderTimes {
		if med.ReminderTimes[i].ID == "" {
			med.ReminderTimes[i].ID = uuid.NewString()
		}
	}
	if med.StartDate.IsZero() {
		med.StartDate = time.Now()
	}

	serialize(med)

	med.CreatedAt = time.Now()
	med.UpdatedAt = time.Now()
	return s.db.Create(med).Error
}

func (s *Store) Get(id string) (*Medication, error) {
	var med Medication
	err := s.db.Where("id = ?", id).First(&med).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	deserialize(&med)
	return &med, nil
}

func (s *Store) Update(med *Medication) error {
	serialize(med)
	med.UpdatedAt = time.Now()
	return s.db.Save(med).Error
}

func (s *Store) Delete(id string) error {
	return s.db.Where("id = ?", id).Delete(&Medication{}).Error
}

// List returns medications, newest first. With activeOn set, only
// medications whose active window covers that day are returned.
func (s *Store) List(activeOn *time.Time) ([]Medication, error) {
	var meds []Medication
	if err := s.db.Order("created_at DESC").Find(&meds).Error; err != nil {
		return nil, err
	}

	var out []Medication
	for i := range meds {
		deserialize(&meds[i])
		if activeOn != nil && !meds[i].ActiveOn(*activeOn) {
			continue
		}
		out = append(out, meds[i])
	}
	return out, nil
}

// ResetDailyFlags clears the isTaken convenience flag on every
// medication; run at the start of each day.
func (s *Store) ResetDailyFlags() error {
	return s.db.Model(&Medication{}).Where("is_taken = ?", true).Update("is_taken", false).Error
}

func serialize(med *Medication) {
	if len(med.ReminderTimes) > 0 {
		b, _ := json.Marshal(med.ReminderTimes)
		med.RemindersJSON = string(b)
	} else {
		med.RemindersJSON = ""
	}
	if len(med.Conflicts) > 0 {
		b, _ := json.Marshal(med.Conflicts)
		med.ConflictsJSON = string(b)
	} else {
		med.ConflictsJSON = ""
	}
}

func deserialize(med *Medication) {
	if med.RemindersJSON != "" {
		json.Unmarshal([]byte(med.RemindersJSON), &med.ReminderTimes)
	}
	if med.ConflictsJSON != "" {
		json.Unmarshal([]byte(med.ConflictsJSON), &med.Conflicts)
	}
}

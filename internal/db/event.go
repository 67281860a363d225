package db

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is the append-only record of a committed state transition.
type Event struct {
	ID         uint           `gorm:"primaryKey"`
	UID        string         `gorm:"size:36;uniqueIndex;not null"`
	Kind       string         `gorm:"size:64;index;not null"`
	ActivityID *uint          `gorm:"index"`
	PollID     *uint          `gorm:"index"`
	Payload    datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null"`
}

// RecordEvent appends an event row using tx so it commits or rolls back with
// the transition it describes. Zero ids are stored as NULL.
func RecordEvent(tx *gorm.DB, uid, kind string, activityID, pollID uint, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := Event{
		UID:        uid,
		Kind:       kind,
		ActivityID: optionalID(activityID),
		PollID:     optionalID(pollID),
		Payload:    datatypes.JSON(data),
	}
	return tx.Create(&event).Error
}

func optionalID(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

package db

import "time"

const (
	StatusActive     = "active"
	StatusWaitlisted = "waitlisted"
)

// QueueEntry is one participant's place in an activity queue. Status names the
// partition; Position is dense from 1 inside it.
type QueueEntry struct {
	ID         uint      `gorm:"primaryKey"`
	ActivityID uint      `gorm:"not null;index:idx_queue_entries_activity_status_position,priority:1"`
	Status     string    `gorm:"size:16;not null;index:idx_queue_entries_activity_status_position,priority:2"`
	Position   int       `gorm:"not null;index:idx_queue_entries_activity_status_position,priority:3"`
	Name       string    `gorm:"size:64;not null"`
	Email      string    `gorm:"size:254;not null;default:''"`
	AccountID  *uint     `gorm:"index"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

package db

import "time"

// Table is the physical resource activities and polls are scheduled on.
type Table struct {
	ID                     uint   `gorm:"primaryKey"`
	Name                   string `gorm:"size:64;uniqueIndex;not null"`
	DefaultMinParticipants int    `gorm:"not null;default:0"`
	DefaultMaxParticipants int    `gorm:"not null;default:0"`
	DefaultDurationMinutes int    `gorm:"not null;default:0"`
	OpensAt                *time.Time
	ClosesAt               *time.Time
	CreatedAt              time.Time `gorm:"not null"`
	UpdatedAt              time.Time `gorm:"not null"`
	Activities             []Activity
	Polls                  []Poll
}

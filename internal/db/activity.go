package db

import "time"

type Activity struct {
	ID              uint         `gorm:"primaryKey"`
	TableID         uint         `gorm:"index;not null"`
	Name            string       `gorm:"size:128;not null"`
	ExternalRef     string       `gorm:"size:64;not null;default:''"`
	ThumbnailURL    string       `gorm:"size:512;not null;default:''"`
	StartsAt        time.Time    `gorm:"index;not null"`
	DurationMinutes int          `gorm:"not null"`
	MinParticipants int          `gorm:"not null"`
	MaxParticipants int          `gorm:"not null"`
	HostName        string       `gorm:"size:64;not null"`
	HostEmail       string       `gorm:"size:254;not null;default:''"`
	HostAccountID   *uint        `gorm:"index"`
	IsActive        bool         `gorm:"not null"`
	CreatedAt       time.Time    `gorm:"not null"`
	UpdatedAt       time.Time    `gorm:"not null"`
	Entries         []QueueEntry `gorm:"constraint:OnDelete:CASCADE"`
}

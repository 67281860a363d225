package db

import (
	"time"

	"gorm.io/datatypes"
)

type Poll struct {
	ID               uint      `gorm:"primaryKey"`
	TableID          uint      `gorm:"index;not null"`
	CreatorName      string    `gorm:"size:64;not null"`
	CreatorEmail     string    `gorm:"size:254;not null;default:''"`
	CreatorAccountID *uint     `gorm:"index"`
	StartsAt         time.Time `gorm:"not null"`
	Note             string    `gorm:"size:1000;not null;default:''"`
	IsActive         bool      `gorm:"index;not null"`
	ClosedAt         *time.Time
	WinningOptionID  *uint
	ActivityID       *uint        `gorm:"index"`
	CreatedAt        time.Time    `gorm:"not null"`
	UpdatedAt        time.Time    `gorm:"not null"`
	Options          []PollOption `gorm:"constraint:OnDelete:CASCADE"`
}

// OptionMetadata is the optional game information carried by a poll option.
// Nil fields are unknown, not zero.
type OptionMetadata struct {
	MinPlayers      *int     `json:"min_players,omitempty"`
	MaxPlayers      *int     `json:"max_players,omitempty"`
	PlayTimeMinutes *int     `json:"play_time_minutes,omitempty"`
	Difficulty      *float64 `json:"difficulty,omitempty"`
}

type PollOption struct {
	ID            uint                               `gorm:"primaryKey"`
	PollID        uint                               `gorm:"index;not null"`
	Name          string                             `gorm:"size:128;not null"`
	ExternalRef   string                             `gorm:"size:64;not null;default:''"`
	ThumbnailURL  string                             `gorm:"size:512;not null;default:''"`
	Metadata      datatypes.JSONType[OptionMetadata] `gorm:"not null"`
	VoteThreshold int                                `gorm:"not null"`
	DisplayOrder  int                                `gorm:"not null"`
	CreatedAt     time.Time                          `gorm:"not null"`
	UpdatedAt     time.Time                          `gorm:"not null"`
	Votes         []Vote                             `gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE"`
}

package db

import "time"

type Vote struct {
	ID         uint      `gorm:"primaryKey"`
	PollID     uint      `gorm:"not null;index:idx_votes_poll_email,priority:1"`
	OptionID   uint      `gorm:"not null;uniqueIndex:idx_votes_option_email,priority:1"`
	VoterName  string    `gorm:"size:64;not null"`
	VoterEmail string    `gorm:"size:254;not null;uniqueIndex:idx_votes_option_email,priority:2;index:idx_votes_poll_email,priority:2"`
	CreatedAt  time.Time `gorm:"not null"`
}

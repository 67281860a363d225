package signup

import (
	"fmt"
	"time"

	"tabletop-signup/internal/apperr"
	"tabletop-signup/internal/auth"
	"tabletop-signup/internal/db"
)

var (
	ErrActivityNotFound = fmt.Errorf("activity %w", apperr.ErrNotFound)
	ErrEntryNotFound    = fmt.Errorf("queue entry %w", apperr.ErrNotFound)
	ErrTableNotFound    = fmt.Errorf("table %w", apperr.ErrNotFound)
	ErrActivityInactive = fmt.Errorf("%w: activity is not active", apperr.ErrInvalidState)
	ErrWaitlistDisabled = fmt.Errorf("%w: activity is full and the waitlist is disabled", apperr.ErrInvalidState)
	ErrAlreadyJoined    = fmt.Errorf("%w: email is already in this queue", apperr.ErrInvalidState)
)

type Person struct {
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AccountID *uint  `json:"account_id,omitempty"`
}

type Entry struct {
	ID         uint      `json:"id"`
	ActivityID uint      `json:"activity_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	AccountID  *uint     `json:"account_id,omitempty"`
	Partition  Partition `json:"partition"`
	Position   int       `json:"position"`
	CreatedAt  time.Time `json:"created_at"`
}

type Activity struct {
	ID              uint      `json:"id"`
	TableID         uint      `json:"table_id"`
	Name            string    `json:"name"`
	ExternalRef     string    `json:"external_ref,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
	MinParticipants int       `json:"min_participants"`
	MaxParticipants int       `json:"max_participants"`
	Host            Person    `json:"host"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// ActivitySpec describes an activity to create. Zero capacity and duration
// are filled from the table defaults; a zero start time means the table's
// opening time, or now.
type ActivitySpec struct {
	TableID         uint
	Name            string
	ExternalRef     string
	ThumbnailURL    string
	StartsAt        time.Time
	DurationMinutes int
	MinParticipants int
	MaxParticipants int
	Host            Person
}

type Queue struct {
	Activity   Activity `json:"activity"`
	Active     []Entry  `json:"active"`
	Waitlisted []Entry  `json:"waitlisted"`
}

type JoinRequest struct {
	ActivityID    uint
	Participant   Person
	WantsWaitlist bool
}

type JoinResult struct {
	Entry      Entry `json:"entry"`
	Overridden bool  `json:"overridden"`
}

type ResignRequest struct {
	ActivityID uint
	EntryID    uint
	Actor      auth.Actor
}

type ResignResult struct {
	Resigned Entry  `json:"resigned"`
	Promoted *Entry `json:"promoted,omitempty"`
}

func entryFromRow(row db.QueueEntry) Entry {
	return Entry{
		ID:         row.ID,
		ActivityID: row.ActivityID,
		Name:       row.Name,
		Email:      row.Email,
		AccountID:  row.AccountID,
		Partition:  Partition(row.Status),
		Position:   row.Position,
		CreatedAt:  row.CreatedAt,
	}
}

func activityFromRow(row db.Activity) Activity {
	return Activity{
		ID:              row.ID,
		TableID:         row.TableID,
		Name:            row.Name,
		ExternalRef:     row.ExternalRef,
		ThumbnailURL:    row.ThumbnailURL,
		StartsAt:        row.StartsAt,
		DurationMinutes: row.DurationMinutes,
		MinParticipants: row.MinParticipants,
		MaxParticipants: row.MaxParticipants,
		Host: Person{
			Name:      row.HostName,
			Email:     row.HostEmail,
			AccountID: row.HostAccountID,
		},
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt,
	}
}

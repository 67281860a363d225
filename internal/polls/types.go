package polls

import (
	"fmt"
	"time"

	"tabletop-signup/internal/apperr"
	"tabletop-signup/internal/db"
	"tabletop-signup/internal/signup"
)

const (
	MinOptions         = 2
	MaxOptions         = 20
	MaxVoteThreshold   = 100
	maxPlayersCap      = 1000
	maxPlayTimeMinutes = 24 * 60
	maxDifficulty      = 5.0
)

var (
	ErrPollNotFound   = fmt.Errorf("poll %w", apperr.ErrNotFound)
	ErrOptionNotFound = fmt.Errorf("poll option %w", apperr.ErrNotFound)
	ErrPollClosed     = fmt.Errorf("%w: poll is closed", apperr.ErrInvalidState)
	ErrOptionHasVotes = fmt.Errorf("%w: option already has votes", apperr.ErrInvalidState)
	ErrInvalidEmail   = fmt.Errorf("%w: invalid voter email", apperr.ErrValidation)
	ErrTooFewOptions  = fmt.Errorf("%w: a poll needs at least %d options", apperr.ErrValidation, MinOptions)
	ErrTooManyOptions = fmt.Errorf("%w: a poll allows at most %d options", apperr.ErrValidation, MaxOptions)

	ErrAlreadyVoted            = apperr.ErrAlreadyVoted
	ErrAlreadyVotedThisOption  = apperr.ErrAlreadyVotedThisOption
	ErrCannotRemoveVotedOption = apperr.ErrCannotRemoveVotedOption
)

// Policy holds the voting switches. It is built from config by the caller.
type Policy struct {
	// SingleChoice allows one vote per email across the whole poll.
	SingleChoice bool
}

type OptionInput struct {
	Name          string            `json:"name"`
	ExternalRef   string            `json:"external_ref,omitempty"`
	ThumbnailURL  string            `json:"thumbnail_url,omitempty"`
	Metadata      db.OptionMetadata `json:"metadata"`
	VoteThreshold int               `json:"vote_threshold"`
	DisplayOrder  *int              `json:"display_order,omitempty"`
}

type CreatePollRequest struct {
	TableID  uint
	Creator  signup.Person
	StartsAt time.Time
	Note     string
	Options  []OptionInput
}

// OptionUpdate changes the set fields of an option without votes.
type OptionUpdate struct {
	OptionID      uint               `json:"option_id"`
	Name          *string            `json:"name,omitempty"`
	ExternalRef   *string            `json:"external_ref,omitempty"`
	ThumbnailURL  *string            `json:"thumbnail_url,omitempty"`
	Metadata      *db.OptionMetadata `json:"metadata,omitempty"`
	VoteThreshold *int               `json:"vote_threshold,omitempty"`
	DisplayOrder  *int               `json:"display_order,omitempty"`
}

// EditPollRequest is applied as a unit: every change lands or none does.
type EditPollRequest struct {
	Note     *string        `json:"note,omitempty"`
	StartsAt *time.Time     `json:"starts_at,omitempty"`
	Update   []OptionUpdate `json:"update,omitempty"`
	Remove   []uint         `json:"remove,omitempty"`
	Add      []OptionInput  `json:"add,omitempty"`
}

type VoteRequest struct {
	PollID     uint
	OptionID   uint
	VoterName  string
	VoterEmail string
}

type VoteResult struct {
	VoteID           uint             `json:"vote_id"`
	ThresholdReached bool             `json:"threshold_reached"`
	Resolved         bool             `json:"resolved"`
	WinnerOptionID   uint             `json:"winner_option_id,omitempty"`
	Activity         *signup.Activity `json:"activity,omitempty"`
}

type Poll struct {
	ID              uint          `json:"id"`
	TableID         uint          `json:"table_id"`
	Creator         signup.Person `json:"creator"`
	StartsAt        time.Time     `json:"starts_at"`
	Note            string        `json:"note,omitempty"`
	IsActive        bool          `json:"is_active"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
	WinningOptionID *uint         `json:"winning_option_id,omitempty"`
	ActivityID      *uint         `json:"activity_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

type Option struct {
	ID            uint              `json:"id"`
	PollID        uint              `json:"poll_id"`
	Name          string            `json:"name"`
	ExternalRef   string            `json:"external_ref,omitempty"`
	ThumbnailURL  string            `json:"thumbnail_url,omitempty"`
	Metadata      db.OptionMetadata `json:"metadata"`
	VoteThreshold int               `json:"vote_threshold"`
	DisplayOrder  int               `json:"display_order"`
}

type OptionState struct {
	Option
	VoteCount    int  `json:"vote_count"`
	ThresholdMet bool `json:"threshold_met"`
}

type PollState struct {
	Poll     Poll          `json:"poll"`
	Options  []OptionState `json:"options"`
	IsClosed bool          `json:"is_closed"`
}

func pollFromRow(row db.Poll) Poll {
	return Poll{
		ID:      row.ID,
		TableID: row.TableID,
		Creator: signup.Person{
			Name:      row.CreatorName,
			Email:     row.CreatorEmail,
			AccountID: row.CreatorAccountID,
		},
		StartsAt:        row.StartsAt,
		Note:            row.Note,
		IsActive:        row.IsActive,
		ClosedAt:        row.ClosedAt,
		WinningOptionID: row.WinningOptionID,
		ActivityID:      row.ActivityID,
		CreatedAt:       row.CreatedAt,
	}
}

func optionFromRow(row db.PollOption) Option {
	return Option{
		ID:            row.ID,
		PollID:        row.PollID,
		Name:          row.Name,
		ExternalRef:   row.ExternalRef,
		ThumbnailURL:  row.ThumbnailURL,
		Metadata:      row.Metadata.Data(),
		VoteThreshold: row.VoteThreshold,
		DisplayOrder:  row.DisplayOrder,
	}
}

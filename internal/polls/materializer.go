package polls

import (
	"time"

	"gorm.io/gorm"

	"tabletop-signup/internal/db"
	"tabletop-signup/internal/signup"
)

// ActivityCreator is the part of the signup manager the materializer needs.
type ActivityCreator interface {
	ActivityDefaults(tx *gorm.DB, tableID uint) (signup.Defaults, error)
	CreateActivityTx(tx *gorm.DB, spec signup.ActivitySpec) (signup.Activity, error)
}

// Materializer turns a winning option into an activity with an empty queue.
type Materializer struct {
	activities ActivityCreator
	now        func() time.Time
}

func NewMaterializer(activities ActivityCreator) *Materializer {
	return &Materializer{activities: activities, now: time.Now}
}

// CreateFromOption must run inside the transaction that closes the poll.
// Capacity and duration come from the option metadata when present and
// otherwise from the table defaults.
func (m *Materializer) CreateFromOption(tx *gorm.DB, option db.PollOption, tableID uint, creator signup.Person, startsAt time.Time) (signup.Activity, error) {
	defaults, err := m.activities.ActivityDefaults(tx, tableID)
	if err != nil {
		return signup.Activity{}, err
	}
	meta := option.Metadata.Data()

	maxParticipants := defaults.MaxParticipants
	if meta.MaxPlayers != nil && *meta.MaxPlayers > 0 {
		maxParticipants = *meta.MaxPlayers
	}
	minParticipants := defaults.MinParticipants
	if meta.MinPlayers != nil && *meta.MinPlayers >= 0 {
		minParticipants = *meta.MinPlayers
	}
	if minParticipants > maxParticipants {
		minParticipants = maxParticipants
	}
	duration := defaults.DurationMinutes
	if meta.PlayTimeMinutes != nil && *meta.PlayTimeMinutes > 0 {
		duration = *meta.PlayTimeMinutes
	}

	if startsAt.IsZero() {
		startsAt = defaults.EarliestStart(m.now())
	}
	if defaults.OpensAt != nil && startsAt.Before(*defaults.OpensAt) {
		startsAt = *defaults.OpensAt
	}
	if defaults.ClosesAt != nil && startsAt.After(*defaults.ClosesAt) {
		startsAt = *defaults.ClosesAt
	}

	return m.activities.CreateActivityTx(tx, signup.ActivitySpec{
		TableID:         tableID,
		Name:            option.Name,
		ExternalRef:     option.ExternalRef,
		ThumbnailURL:    option.ThumbnailURL,
		StartsAt:        startsAt,
		DurationMinutes: duration,
		MinParticipants: minParticipants,
		MaxParticipants: maxParticipants,
		Host:            creator,
	})
}

package signup

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"tabletop-signup/internal/db"
)

// Defaults are the capacity, duration and start-time bounds a table applies
// to activities that do not set their own.
type Defaults struct {
	MinParticipants int
	MaxParticipants int
	DurationMinutes int
	OpensAt         *time.Time
	ClosesAt        *time.Time
}

type DefaultsProvider interface {
	ActivityDefaults(tx *gorm.DB, tableID uint) (Defaults, error)
}

// TableDefaults reads defaults from the tables row. Zero columns fall back to
// Fallback.
type TableDefaults struct {
	Fallback Defaults
}

func (d TableDefaults) ActivityDefaults(tx *gorm.DB, tableID uint) (Defaults, error) {
	var table db.Table
	if err := tx.First(&table, tableID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Defaults{}, ErrTableNotFound
		}
		return Defaults{}, fmt.Errorf("signup: load table: %w", err)
	}
	out := Defaults{
		MinParticipants: table.DefaultMinParticipants,
		MaxParticipants: table.DefaultMaxParticipants,
		DurationMinutes: table.DefaultDurationMinutes,
		OpensAt:         table.OpensAt,
		ClosesAt:        table.ClosesAt,
	}
	if out.MaxParticipants <= 0 {
		out.MaxParticipants = d.Fallback.MaxParticipants
		if out.MinParticipants <= 0 {
			out.MinParticipants = d.Fallback.MinParticipants
		}
	}
	if out.MinParticipants > out.MaxParticipants {
		out.MinParticipants = out.MaxParticipants
	}
	if out.DurationMinutes <= 0 {
		out.DurationMinutes = d.Fallback.DurationMinutes
	}
	return out, nil
}

// EarliestStart is the start time used when none is given.
func (d Defaults) EarliestStart(now time.Time) time.Time {
	if d.OpensAt != nil {
		return d.OpensAt.UTC()
	}
	return now.UTC()
}

package signup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tabletop-signup/internal/apperr"
	"tabletop-signup/internal/auth"
	"tabletop-signup/internal/db"
	"tabletop-signup/internal/notify"
	"tabletop-signup/internal/validate"
)

const (
	eventActivityCreated  = "activity_created"
	eventActivityToggled  = "activity_active_changed"
	eventActivityDeleted  = "activity_deleted"
	eventCapacityChanged  = "activity_capacity_changed"
	maxParticipantsCap    = 1000
	maxDurationMinutesCap = 24 * 60
)

func (m *Manager) CreateActivity(ctx context.Context, spec ActivitySpec) (Activity, error) {
	var activity Activity
	err := m.runner.Run(ctx, func(tx *gorm.DB) error {
		created, err := m.CreateActivityTx(tx, spec)
		if err != nil {
			return err
		}
		activity = created
		return nil
	})
	if err != nil {
		return Activity{}, err
	}
	m.logger.Info("activity created",
		zap.Uint("activity_id", activity.ID),
		zap.Uint("table_id", activity.TableID),
		zap.Int("max_participants", activity.MaxParticipants))
	return activity, nil
}

// CreateActivityTx creates an active activity with an empty queue using the
// caller's transaction.
func (m *Manager) CreateActivityTx(tx *gorm.DB, spec ActivitySpec) (Activity, error) {
	name, err := validate.Name("name", spec.Name, validate.MaxTitleLength)
	if err != nil {
		return Activity{}, err
	}
	hostName, err := validate.Name("host_name", spec.Host.Name, validate.MaxNameLength)
	if err != nil {
		return Activity{}, err
	}
	hostEmail, err := validate.Email("host_email", spec.Host.Email, false)
	if err != nil {
		return Activity{}, err
	}
	ref, err := validate.Optional("external_ref", spec.ExternalRef, validate.MaxRefLength)
	if err != nil {
		return Activity{}, err
	}
	thumbnail, err := validate.Optional("thumbnail_url", spec.ThumbnailURL, validate.MaxURLLength)
	if err != nil {
		return Activity{}, err
	}
	defaults, err := m.defaults.ActivityDefaults(tx, spec.TableID)
	if err != nil {
		return Activity{}, err
	}

	minParticipants, maxParticipants := spec.MinParticipants, spec.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = defaults.MaxParticipants
		if minParticipants == 0 {
			minParticipants = defaults.MinParticipants
		}
	}
	if err := checkCapacity(minParticipants, maxParticipants); err != nil {
		return Activity{}, err
	}
	duration := spec.DurationMinutes
	if duration == 0 {
		duration = defaults.DurationMinutes
	}
	if duration <= 0 || duration > maxDurationMinutesCap {
		return Activity{}, apperr.Invalid("duration_minutes", "must be between 1 and %d", maxDurationMinutesCap)
	}
	startsAt := spec.StartsAt.UTC()
	if spec.StartsAt.IsZero() {
		startsAt = defaults.EarliestStart(time.Now())
	}
	if defaults.OpensAt != nil && startsAt.Before(*defaults.OpensAt) {
		return Activity{}, apperr.Invalid("starts_at", "must not be before the table opens")
	}
	if defaults.ClosesAt != nil && startsAt.After(*defaults.ClosesAt) {
		return Activity{}, apperr.Invalid("starts_at", "must not be after the table closes")
	}

	row := db.Activity{
		TableID:         spec.TableID,
		Name:            name,
		ExternalRef:     ref,
		ThumbnailURL:    thumbnail,
		StartsAt:        startsAt,
		DurationMinutes: duration,
		MinParticipants: minParticipants,
		MaxParticipants: maxParticipants,
		HostName:        hostName,
		HostEmail:       hostEmail,
		HostAccountID:   spec.Host.AccountID,
		IsActive:        true,
	}
	if err := tx.Create(&row).Error; err != nil {
		return Activity{}, fmt.Errorf("signup: insert activity: %w", err)
	}
	if err := recordLog(tx, eventActivityCreated, row.ID, map[string]any{
		"name":             row.Name,
		"max_participants": row.MaxParticipants,
	}); err != nil {
		return Activity{}, err
	}
	return activityFromRow(row), nil
}

// SetActive soft-removes or restores an activity. Queue entries are kept.
func (m *Manager) SetActive(ctx context.Context, activityID uint, active bool, actor auth.Actor) (Activity, error) {
	if err := m.authorize(ctx, auth.KindActivity, activityID, actor, ErrActivityNotFound); err != nil {
		return Activity{}, err
	}
	var activity Activity
	err := m.runner.Run(ctx, func(tx *gorm.DB) error {
		row, err := loadActivity(tx, activityID)
		if err != nil {
			return err
		}
		if row.IsActive != active {
			if err := tx.Model(&db.Activity{}).Where("id = ?", row.ID).Update("is_active", active).Error; err != nil {
				return fmt.Errorf("signup: update activity: %w", err)
			}
			row.IsActive = active
			if err := recordLog(tx, eventActivityToggled, row.ID, map[string]any{"is_active": active}); err != nil {
				return err
			}
		}
		activity = activityFromRow(row)
		return nil
	})
	if err != nil {
		return Activity{}, err
	}
	m.logger.Info("activity active flag set", zap.Uint("activity_id", activityID), zap.Bool("is_active", active))
	return activity, nil
}

// DeleteActivity removes an activity and its queue for good. Only admins may
// do this.
func (m *Manager) DeleteActivity(ctx context.Context, activityID uint, actor auth.Actor) error {
	if !actor.Admin {
		return fmt.Errorf("%w: deleting an activity requires admin", apperr.ErrForbidden)
	}
	err := m.runner.Run(ctx, func(tx *gorm.DB) error {
		row, err := loadActivity(tx, activityID)
		if err != nil {
			return err
		}
		if err := tx.Where("activity_id = ?", row.ID).Delete(&db.QueueEntry{}).Error; err != nil {
			return fmt.Errorf("signup: delete entries: %w", err)
		}
		if err := tx.Delete(&db.Activity{}, row.ID).Error; err != nil {
			return fmt.Errorf("signup: delete activity: %w", err)
		}
		return recordLog(tx, eventActivityDeleted, row.ID, map[string]any{"name": row.Name})
	})
	if err != nil {
		return err
	}
	m.logger.Info("activity deleted", zap.Uint("activity_id", activityID))
	return nil
}

// SetCapacity changes the participant bounds. Raising the maximum promotes
// waitlisted entries in order until the active partition is full; lowering
// it never demotes anyone.
func (m *Manager) SetCapacity(ctx context.Context, activityID uint, minParticipants, maxParticipants int, actor auth.Actor) (Queue, error) {
	if err := checkCapacity(minParticipants, maxParticipants); err != nil {
		return Queue{}, err
	}
	if err := m.authorize(ctx, auth.KindActivity, activityID, actor, ErrActivityNotFound); err != nil {
		return Queue{}, err
	}
	var events []notify.Event
	err := m.runner.Run(ctx, func(tx *gorm.DB) error {
		events = nil
		row, err := loadActivity(tx, activityID)
		if err != nil {
			return err
		}
		if err := tx.Model(&db.Activity{}).Where("id = ?", row.ID).Updates(map[string]any{
			"min_participants": minParticipants,
			"max_participants": maxParticipants,
		}).Error; err != nil {
			return fmt.Errorf("signup: update capacity: %w", err)
		}
		row.MinParticipants, row.MaxParticipants = minParticipants, maxParticipants
		if err := recordLog(tx, eventCapacityChanged, row.ID, map[string]any{
			"min_participants": minParticipants,
			"max_participants": maxParticipants,
		}); err != nil {
			return err
		}
		activeCount, err := countPartition(tx, row.ID, Active)
		if err != nil {
			return err
		}
		for activeCount < maxParticipants {
			head, found, err := waitlistHead(tx, row.ID)
			if err != nil {
				return err
			}
			if !found {
				break
			}
			promoted, err := promote(tx, head, activeCount+1)
			if err != nil {
				return err
			}
			event := entryEvent(notify.ParticipantPromoted, row, promoted)
			if err := record(tx, event); err != nil {
				return err
			}
			events = append(events, event)
			activeCount++
		}
		return nil
	})
	if err != nil {
		return Queue{}, err
	}
	m.logger.Info("activity capacity set",
		zap.Uint("activity_id", activityID),
		zap.Int("min_participants", minParticipants),
		zap.Int("max_participants", maxParticipants),
		zap.Int("promoted", len(events)))
	m.notifier.Notify(events...)
	return m.GetQueue(ctx, activityID)
}

func checkCapacity(minParticipants, maxParticipants int) error {
	if maxParticipants < 1 || maxParticipants > maxParticipantsCap {
		return apperr.Invalid("max_participants", "must be between 1 and %d", maxParticipantsCap)
	}
	if minParticipants < 0 || minParticipants > maxParticipants {
		return apperr.Invalid("min_participants", "must be between 0 and max_participants")
	}
	return nil
}

func recordLog(tx *gorm.DB, kind string, activityID uint, payload map[string]any) error {
	if err := db.RecordEvent(tx, uuid.NewString(), kind, activityID, 0, payload); err != nil {
		return fmt.Errorf("signup: record %s: %w", kind, err)
	}
	return nil
}

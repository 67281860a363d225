// Package signup keeps the per-activity queue: who is playing, who is waiting
// and in which order.
package signup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tabletop-signup/internal/apperr"
	"tabletop-signup/internal/auth"
	"tabletop-signup/internal/db"
	"tabletop-signup/internal/notify"
	"tabletop-signup/internal/validate"
)

type Manager struct {
	runner   *db.TxRunner
	auth     auth.Authorizer
	notifier notify.Notifier
	defaults DefaultsProvider
	logger   *zap.Logger
}

func NewManager(runner *db.TxRunner, authorizer auth.Authorizer, notifier notify.Notifier, defaults DefaultsProvider, logger *zap.Logger) *Manager {
	if authorizer == nil {
		authorizer = auth.AllowAll{}
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if defaults == nil {
		defaults = TableDefaults{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		runner:   runner,
		auth:     authorizer,
		notifier: notifier,
		defaults: defaults,
		logger:   logger,
	}
}

// ActivityDefaults exposes the defaults provider to callers running their own
// transaction.
func (m *Manager) ActivityDefaults(tx *gorm.DB, tableID uint) (Defaults, error) {
	return m.defaults.ActivityDefaults(tx, tableID)
}

func (m *Manager) Join(ctx context.Context, policy Policy, req JoinRequest) (JoinResult, error) {
	name, err := validate.Name("name", req.Participant.Name, validate.MaxNameLength)
	if err != nil {
		return JoinResult{}, err
	}
	email, err := validate.Email("email", req.Participant.Email, policy.RequireEmail)
	if err != nil {
		return JoinResult{}, err
	}

	var (
		result JoinResult
		events []notify.Event
	)
	err = m.runner.Run(ctx, func(tx *gorm.DB) error {
		events = nil
		activity, err := loadActivity(tx, req.ActivityID)
		if err != nil {
			return err
		}
		if !activity.IsActive {
			return ErrActivityInactive
		}
		if email != "" {
			var existing int64
			if err := tx.Model(&db.QueueEntry{}).
				Where("activity_id = ? AND email = ?", activity.ID, email).
				Count(&existing).Error; err != nil {
				return fmt.Errorf("signup: check duplicate: %w", err)
			}
			if existing > 0 {
				return ErrAlreadyJoined
			}
		}
		activeCount, err := countPartition(tx, activity.ID, Active)
		if err != nil {
			return err
		}
		partition, overridden := Place(activeCount, activity.MaxParticipants, req.WantsWaitlist)
		if partition == Waitlisted && !policy.AllowWaitlist {
			return ErrWaitlistDisabled
		}
		position := activeCount + 1
		if partition == Waitlisted {
			waiting, err := countPartition(tx, activity.ID, Waitlisted)
			if err != nil {
				return err
			}
			position = waiting + 1
		}
		row := db.QueueEntry{
			ActivityID: activity.ID,
			Status:     string(partition),
			Position:   position,
			Name:       name,
			Email:      email,
			AccountID:  req.Participant.AccountID,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("signup: insert entry: %w", err)
		}
		event := entryEvent(notify.ParticipantJoined, activity, row)
		if err := record(tx, event); err != nil {
			return err
		}
		events = append(events, event)
		result = JoinResult{Entry: entryFromRow(row), Overridden: overridden}
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}
	m.logger.Info("participant joined",
		zap.Uint("activity_id", result.Entry.ActivityID),
		zap.Uint("entry_id", result.Entry.ID),
		zap.String("partition", string(result.Entry.Partition)),
		zap.Int("position", result.Entry.Position),
		zap.Bool("overridden", result.Overridden))
	m.notifier.Notify(events...)
	return result, nil
}

func (m *Manager) Resign(ctx context.Context, req ResignRequest) (ResignResult, error) {
	if err := m.authorize(ctx, auth.KindQueueEntry, req.EntryID, req.Actor, ErrEntryNotFound); err != nil {
		return ResignResult{}, err
	}

	var (
		result ResignResult
		events []notify.Event
	)
	err := m.runner.Run(ctx, func(tx *gorm.DB) error {
		events = nil
		result = ResignResult{}
		activity, err := loadActivity(tx, req.ActivityID)
		if err != nil {
			return err
		}
		var entry db.QueueEntry
		if err := tx.Where("id = ? AND activity_id = ?", req.EntryID, activity.ID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return fmt.Errorf("signup: load entry: %w", err)
		}
		if err := tx.Delete(&db.QueueEntry{}, entry.ID).Error; err != nil {
			return fmt.Errorf("signup: delete entry: %w", err)
		}
		resigned := entryEvent(notify.ParticipantResigned, activity, entry)
		if err := record(tx, resigned); err != nil {
			return err
		}
		events = append(events, resigned)
		result.Resigned = entryFromRow(entry)

		if Partition(entry.Status) == Waitlisted {
			return CompactPartition(tx, activity.ID, Waitlisted, entry.Position)
		}
		remaining, err := countPartition(tx, activity.ID, Active)
		if err != nil {
			return err
		}
		if remaining >= activity.MaxParticipants {
			return CompactPartition(tx, activity.ID, Active, entry.Position)
		}
		head, found, err := waitlistHead(tx, activity.ID)
		if err != nil {
			return err
		}
		if !found {
			return CompactPartition(tx, activity.ID, Active, entry.Position)
		}
		promoted, err := promote(tx, head, entry.Position)
		if err != nil {
			return err
		}
		event := entryEvent(notify.ParticipantPromoted, activity, promoted)
		if err := record(tx, event); err != nil {
			return err
		}
		events = append(events, event)
		out := entryFromRow(promoted)
		result.Promoted = &out
		return nil
	})
	if err != nil {
		return ResignResult{}, err
	}
	fields := []zap.Field{
		zap.Uint("activity_id", req.ActivityID),
		zap.Uint("entry_id", result.Resigned.ID),
		zap.String("partition", string(result.Resigned.Partition)),
	}
	if result.Promoted != nil {
		fields = append(fields, zap.Uint("promoted_entry_id", result.Promoted.ID))
	}
	m.logger.Info("participant resigned", fields...)
	m.notifier.Notify(events...)
	return result, nil
}

// CompactPartition closes the gap left at removedPosition by moving every
// later entry of the partition up by one.
func CompactPartition(tx *gorm.DB, activityID uint, partition Partition, removedPosition int) error {
	err := tx.Model(&db.QueueEntry{}).
		Where("activity_id = ? AND status = ? AND position > ?", activityID, string(partition), removedPosition).
		UpdateColumn("position", gorm.Expr("position - 1")).Error
	if err != nil {
		return fmt.Errorf("signup: compact %s: %w", partition, err)
	}
	return nil
}

func (m *Manager) GetQueue(ctx context.Context, activityID uint) (Queue, error) {
	conn := m.runner.Conn(ctx)
	activity, err := loadActivity(conn, activityID)
	if err != nil {
		return Queue{}, err
	}
	var rows []db.QueueEntry
	if err := conn.Where("activity_id = ?", activity.ID).
		Order("position ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return Queue{}, fmt.Errorf("signup: load queue: %w", err)
	}
	queue := Queue{
		Activity:   activityFromRow(activity),
		Active:     []Entry{},
		Waitlisted: []Entry{},
	}
	for _, row := range rows {
		if Partition(row.Status) == Active {
			queue.Active = append(queue.Active, entryFromRow(row))
		} else {
			queue.Waitlisted = append(queue.Waitlisted, entryFromRow(row))
		}
	}
	return queue, nil
}

func (m *Manager) authorize(ctx context.Context, kind auth.EntityKind, id uint, actor auth.Actor, notFound error) error {
	ok, err := m.auth.CanModify(ctx, kind, id, actor)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return notFound
		}
		return fmt.Errorf("signup: authorize: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s %d", apperr.ErrForbidden, kind, id)
	}
	return nil
}

func loadActivity(tx *gorm.DB, id uint) (db.Activity, error) {
	var activity db.Activity
	if err := tx.First(&activity, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Activity{}, ErrActivityNotFound
		}
		return db.Activity{}, fmt.Errorf("signup: load activity: %w", err)
	}
	return activity, nil
}

func countPartition(tx *gorm.DB, activityID uint, partition Partition) (int, error) {
	var count int64
	if err := tx.Model(&db.QueueEntry{}).
		Where("activity_id = ? AND status = ?", activityID, string(partition)).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("signup: count %s: %w", partition, err)
	}
	return int(count), nil
}

func waitlistHead(tx *gorm.DB, activityID uint) (db.QueueEntry, bool, error) {
	var head db.QueueEntry
	err := tx.Where("activity_id = ? AND status = ?", activityID, string(Waitlisted)).
		Order("position ASC").Order("id ASC").
		Limit(1).Find(&head).Error
	if err != nil {
		return db.QueueEntry{}, false, fmt.Errorf("signup: load waitlist head: %w", err)
	}
	return head, head.ID != 0, nil
}

// promote moves the waitlist head into the active partition at position and
// closes the gap it leaves in the waitlist.
func promote(tx *gorm.DB, head db.QueueEntry, position int) (db.QueueEntry, error) {
	formerPosition := head.Position
	if err := tx.Model(&db.QueueEntry{}).Where("id = ?", head.ID).
		Updates(map[string]any{"status": string(Active), "position": position}).Error; err != nil {
		return db.QueueEntry{}, fmt.Errorf("signup: promote entry: %w", err)
	}
	if err := CompactPartition(tx, head.ActivityID, Waitlisted, formerPosition); err != nil {
		return db.QueueEntry{}, err
	}
	head.Status = string(Active)
	head.Position = position
	return head, nil
}

func entryEvent(kind notify.Kind, activity db.Activity, entry db.QueueEntry) notify.Event {
	return notify.NewEvent(kind, activity.ID, 0, notify.Payload{
		EntryID:      entry.ID,
		Name:         entry.Name,
		Email:        entry.Email,
		Partition:    entry.Status,
		Position:     entry.Position,
		ActivityName: activity.Name,
	})
}

func record(tx *gorm.DB, event notify.Event) error {
	if err := db.RecordEvent(tx, event.ID, string(event.Kind), event.ActivityID, event.PollID, event.Payload); err != nil {
		return fmt.Errorf("signup: record %s: %w", event.Kind, err)
	}
	return nil
}

package polls

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"tabletop-signup/internal/apperr"
	"tabletop-signup/internal/auth"
	"tabletop-signup/internal/db"
	"tabletop-signup/internal/notify"
	"tabletop-signup/internal/validate"
)

const (
	eventPollCreated = "poll_created"
	eventPollEdited  = "poll_edited"
)

func (a *Arbiter) CreatePoll(ctx context.Context, req CreatePollRequest) (PollState, error) {
	creatorName, err := validate.Name("creator_name", req.Creator.Name, validate.MaxNameLength)
	if err != nil {
		return PollState{}, err
	}
	creatorEmail, err := validate.Email("creator_email", req.Creator.Email, false)
	if err != nil {
		return PollState{}, err
	}
	note, err := validate.Note(req.Note)
	if err != nil {
		return PollState{}, err
	}
	if len(req.Options) < MinOptions {
		return PollState{}, ErrTooFewOptions
	}
	if len(req.Options) > MaxOptions {
		return PollState{}, ErrTooManyOptions
	}
	options := make([]db.PollOption, len(req.Options))
	for i, input := range req.Options {
		order := i
		if input.DisplayOrder != nil {
			order = *input.DisplayOrder
		}
		option, err := newOption(input, order)
		if err != nil {
			return PollState{}, err
		}
		options[i] = option
	}

	var state PollState
	err = a.runner.Run(ctx, func(tx *gorm.DB) error {
		startsAt, err := a.checkStart(tx, req.TableID, req.StartsAt)
		if err != nil {
			return err
		}
		poll := db.Poll{
			TableID:          req.TableID,
			CreatorName:      creatorName,
			CreatorEmail:     creatorEmail,
			CreatorAccountID: req.Creator.AccountID,
			StartsAt:         startsAt,
			Note:             note,
			IsActive:         true,
			Options:          append([]db.PollOption(nil), options...),
		}
		if err := tx.Create(&poll).Error; err != nil {
			return fmt.Errorf("polls: insert poll: %w", err)
		}
		if err := recordLog(tx, eventPollCreated, poll.ID, map[string]any{"options": len(poll.Options)}); err != nil {
			return err
		}
		state, err = pollState(tx, poll)
		return err
	})
	if err != nil {
		return PollState{}, err
	}
	a.logger.Info("poll created",
		zap.Uint("poll_id", state.Poll.ID),
		zap.Uint("table_id", state.Poll.TableID),
		zap.Int("options", len(state.Options)))
	return state, nil
}

// AddOption appends an option to an open poll. Anyone may suggest one.
func (a *Arbiter) AddOption(ctx context.Context, pollID uint, input OptionInput) (OptionState, error) {
	var (
		added  OptionState
		events []notify.Event
	)
	err := a.runner.Run(ctx, func(tx *gorm.DB) error {
		events = nil
		poll, err := loadPoll(tx, pollID)
		if err != nil {
			return err
		}
		if !poll.IsActive {
			return ErrPollClosed
		}
		var count int64
		if err := tx.Model(&db.PollOption{}).Where("poll_id = ?", poll.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("polls: count options: %w", err)
		}
		if count >= MaxOptions {
			return ErrTooManyOptions
		}
		order, err := nextDisplayOrder(tx, poll.ID)
		if err != nil {
			return err
		}
		if input.DisplayOrder != nil {
			order = *input.DisplayOrder
		}
		option, err := newOption(input, order)
		if err != nil {
			return err
		}
		option.PollID = poll.ID
		if err := tx.Create(&option).Error; err != nil {
			return fmt.Errorf("polls: insert option: %w", err)
		}
		event := optionAddedEvent(poll.ID, option)
		if err := record(tx, event); err != nil {
			return err
		}
		events = append(events, event)
		added = OptionState{Option: optionFromRow(option)}
		return nil
	})
	if err != nil {
		return OptionState{}, err
	}
	a.logger.Info("poll option added", zap.Uint("poll_id", pollID), zap.Uint("option_id", added.ID))
	a.notifier.Notify(events...)
	return added, nil
}

// EditPoll applies every change in req or none of them.
func (a *Arbiter) EditPoll(ctx context.Context, pollID uint, req EditPollRequest, actor auth.Actor) (PollState, error) {
	var note string
	if req.Note != nil {
		normalized, err := validate.Note(*req.Note)
		if err != nil {
			return PollState{}, err
		}
		note = normalized
	}
	updates := make([]map[string]any, len(req.Update))
	for i, update := range req.Update {
		changes, err := optionChanges(update)
		if err != nil {
			return PollState{}, err
		}
		updates[i] = changes
	}
	if err := a.authorize(ctx, pollID, actor); err != nil {
		return PollState{}, err
	}

	var (
		state  PollState
		events []notify.Event
	)
	err := a.runner.Run(ctx, func(tx *gorm.DB) error {
		events = nil
		poll, err := loadPoll(tx, pollID)
		if err != nil {
			return err
		}
		if !poll.IsActive {
			return ErrPollClosed
		}
		votes, err := voteCounts(tx, poll.ID)
		if err != nil {
			return err
		}

		pollChanges := map[string]any{}
		if req.Note != nil {
			pollChanges["note"] = note
		}
		if req.StartsAt != nil {
			startsAt, err := a.checkStart(tx, poll.TableID, *req.StartsAt)
			if err != nil {
				return err
			}
			pollChanges["starts_at"] = startsAt
		}
		if len(pollChanges) > 0 {
			if err := tx.Model(&db.Poll{}).Where("id = ?", poll.ID).Updates(pollChanges).Error; err != nil {
				return fmt.Errorf("polls: update poll: %w", err)
			}
		}

		for _, optionID := range req.Remove {
			if _, err := loadOption(tx, poll.ID, optionID); err != nil {
				return err
			}
			if votes[optionID] > 0 {
				return fmt.Errorf("%w: option %d", ErrCannotRemoveVotedOption, optionID)
			}
			if err := tx.Delete(&db.PollOption{}, optionID).Error; err != nil {
				return fmt.Errorf("polls: delete option: %w", err)
			}
		}

		for i, update := range req.Update {
			if _, err := loadOption(tx, poll.ID, update.OptionID); err != nil {
				return err
			}
			if votes[update.OptionID] > 0 {
				return fmt.Errorf("%w: option %d", ErrOptionHasVotes, update.OptionID)
			}
			if len(updates[i]) == 0 {
				continue
			}
			if err := tx.Model(&db.PollOption{}).Where("id = ?", update.OptionID).Updates(updates[i]).Error; err != nil {
				return fmt.Errorf("polls: update option: %w", err)
			}
		}

		if len(req.Add) > 0 {
			order, err := nextDisplayOrder(tx, poll.ID)
			if err != nil {
				return err
			}
			for _, input := range req.Add {
				optionOrder := order
				if input.DisplayOrder != nil {
					optionOrder = *input.DisplayOrder
				}
				option, err := newOption(input, optionOrder)
				if err != nil {
					return err
				}
				option.PollID = poll.ID
				if err := tx.Create(&option).Error; err != nil {
					return fmt.Errorf("polls: insert option: %w", err)
				}
				event := optionAddedEvent(poll.ID, option)
				if err := record(tx, event); err != nil {
					return err
				}
				events = append(events, event)
				order = max(order, optionOrder) + 1
			}
		}

		var remaining int64
		if err := tx.Model(&db.PollOption{}).Where("poll_id = ?", poll.ID).Count(&remaining).Error; err != nil {
			return fmt.Errorf("polls: count options: %w", err)
		}
		if remaining < MinOptions {
			return ErrTooFewOptions
		}
		if remaining > MaxOptions {
			return ErrTooManyOptions
		}
		if err := recordLog(tx, eventPollEdited, poll.ID, map[string]any{
			"updated": len(req.Update),
			"removed": len(req.Remove),
			"added":   len(req.Add),
		}); err != nil {
			return err
		}

		fresh, err := loadPoll(tx, poll.ID)
		if err != nil {
			return err
		}
		state, err = pollState(tx, fresh)
		return err
	})
	if err != nil {
		return PollState{}, err
	}
	a.logger.Info("poll edited",
		zap.Uint("poll_id", pollID),
		zap.Int("updated", len(req.Update)),
		zap.Int("removed", len(req.Remove)),
		zap.Int("added", len(req.Add)))
	a.notifier.Notify(events...)
	return state, nil
}

// RemoveOption deletes one option that has no votes.
func (a *Arbiter) RemoveOption(ctx context.Context, pollID, optionID uint, actor auth.Actor) (PollState, error) {
	return a.EditPoll(ctx, pollID, EditPollRequest{Remove: []uint{optionID}}, actor)
}

// checkStart resolves a zero start time and keeps it inside the table's
// opening hours.
func (a *Arbiter) checkStart(tx *gorm.DB, tableID uint, startsAt time.Time) (time.Time, error) {
	defaults, err := a.materializer.activities.ActivityDefaults(tx, tableID)
	if err != nil {
		return time.Time{}, err
	}
	if startsAt.IsZero() {
		return defaults.EarliestStart(a.now()), nil
	}
	startsAt = startsAt.UTC()
	if defaults.OpensAt != nil && startsAt.Before(*defaults.OpensAt) {
		return time.Time{}, apperr.Invalid("starts_at", "must not be before the table opens")
	}
	if defaults.ClosesAt != nil && startsAt.After(*defaults.ClosesAt) {
		return time.Time{}, apperr.Invalid("starts_at", "must not be after the table closes")
	}
	return startsAt, nil
}

func newOption(input OptionInput, displayOrder int) (db.PollOption, error) {
	name, err := validate.Name("name", input.Name, validate.MaxTitleLength)
	if err != nil {
		return db.PollOption{}, err
	}
	if err := checkThreshold(input.VoteThreshold); err != nil {
		return db.PollOption{}, err
	}
	if err := checkMetadata(input.Metadata); err != nil {
		return db.PollOption{}, err
	}
	ref, err := validate.Optional("external_ref", input.ExternalRef, validate.MaxRefLength)
	if err != nil {
		return db.PollOption{}, err
	}
	thumbnail, err := validate.Optional("thumbnail_url", input.ThumbnailURL, validate.MaxURLLength)
	if err != nil {
		return db.PollOption{}, err
	}
	return db.PollOption{
		Name:          name,
		ExternalRef:   ref,
		ThumbnailURL:  thumbnail,
		Metadata:      datatypes.NewJSONType(input.Metadata),
		VoteThreshold: input.VoteThreshold,
		DisplayOrder:  displayOrder,
	}, nil
}

func optionChanges(update OptionUpdate) (map[string]any, error) {
	changes := map[string]any{}
	if update.Name != nil {
		name, err := validate.Name("name", *update.Name, validate.MaxTitleLength)
		if err != nil {
			return nil, err
		}
		changes["name"] = name
	}
	if update.ExternalRef != nil {
		ref, err := validate.Optional("external_ref", *update.ExternalRef, validate.MaxRefLength)
		if err != nil {
			return nil, err
		}
		changes["external_ref"] = ref
	}
	if update.ThumbnailURL != nil {
		thumbnail, err := validate.Optional("thumbnail_url", *update.ThumbnailURL, validate.MaxURLLength)
		if err != nil {
			return nil, err
		}
		changes["thumbnail_url"] = thumbnail
	}
	if update.Metadata != nil {
		if err := checkMetadata(*update.Metadata); err != nil {
			return nil, err
		}
		changes["metadata"] = datatypes.NewJSONType(*update.Metadata)
	}
	if update.VoteThreshold != nil {
		if err := checkThreshold(*update.VoteThreshold); err != nil {
			return nil, err
		}
		changes["vote_threshold"] = *update.VoteThreshold
	}
	if update.DisplayOrder != nil {
		changes["display_order"] = *update.DisplayOrder
	}
	return changes, nil
}

func checkThreshold(threshold int) error {
	if threshold < 1 || threshold > MaxVoteThreshold {
		return apperr.Invalid("vote_threshold", "must be between 1 and %d", MaxVoteThreshold)
	}
	return nil
}

func checkMetadata(meta db.OptionMetadata) error {
	if meta.MinPlayers != nil && (*meta.MinPlayers < 0 || *meta.MinPlayers > maxPlayersCap) {
		return apperr.Invalid("metadata.min_players", "must be between 0 and %d", maxPlayersCap)
	}
	if meta.MaxPlayers != nil && (*meta.MaxPlayers < 1 || *meta.MaxPlayers > maxPlayersCap) {
		return apperr.Invalid("metadata.max_players", "must be between 1 and %d", maxPlayersCap)
	}
	if meta.MinPlayers != nil && meta.MaxPlayers != nil && *meta.MinPlayers > *meta.MaxPlayers {
		return apperr.Invalid("metadata.min_players", "must not exceed max_players")
	}
	if meta.PlayTimeMinutes != nil && (*meta.PlayTimeMinutes < 1 || *meta.PlayTimeMinutes > maxPlayTimeMinutes) {
		return apperr.Invalid("metadata.play_time_minutes", "must be between 1 and %d", maxPlayTimeMinutes)
	}
	if meta.Difficulty != nil && (*meta.Difficulty < 0 || *meta.Difficulty > maxDifficulty) {
		return apperr.Invalid("metadata.difficulty", "must be between 0 and %.0f", maxDifficulty)
	}
	return nil
}

func nextDisplayOrder(tx *gorm.DB, pollID uint) (int, error) {
	var last sql.NullInt64
	if err := tx.Model(&db.PollOption{}).
		Where("poll_id = ?", pollID).
		Select("MAX(display_order)").
		Row().Scan(&last); err != nil {
		return 0, fmt.Errorf("polls: next display order: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return int(last.Int64) + 1, nil
}

func optionAddedEvent(pollID uint, option db.PollOption) notify.Event {
	return notify.NewEvent(notify.PollOptionAdded, 0, pollID, notify.Payload{
		OptionID:   option.ID,
		OptionName: option.Name,
	})
}

func recordLog(tx *gorm.DB, kind string, pollID uint, payload map[string]any) error {
	if err := db.RecordEvent(tx, uuid.NewString(), kind, 0, pollID, payload); err != nil {
		return fmt.Errorf("polls: record %s: %w", kind, err)
	}
	return nil
}

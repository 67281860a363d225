// Package polls runs threshold polls and resolves the winning option into a
// new activity in the same transaction that records the deciding vote.
package polls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tabletop-signup/internal/apperr"
	"tabletop-signup/internal/auth"
	"tabletop-signup/internal/db"
	"tabletop-signup/internal/notify"
	"tabletop-signup/internal/signup"
	"tabletop-signup/internal/validate"
)

type Arbiter struct {
	runner       *db.TxRunner
	auth         auth.Authorizer
	notifier     notify.Notifier
	materializer *Materializer
	logger       *zap.Logger
	now          func() time.Time
}

func NewArbiter(runner *db.TxRunner, authorizer auth.Authorizer, notifier notify.Notifier, materializer *Materializer, logger *zap.Logger) *Arbiter {
	if authorizer == nil {
		authorizer = auth.AllowAll{}
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Arbiter{
		runner:       runner,
		auth:         authorizer,
		notifier:     notifier,
		materializer: materializer,
		logger:       logger,
		now:          time.Now,
	}
}

func (a *Arbiter) CastVote(ctx context.Context, policy Policy, req VoteRequest) (VoteResult, error) {
	voterName, err := validate.Name("voter_name", req.VoterName, validate.MaxNameLength)
	if err != nil {
		return VoteResult{}, err
	}
	voterEmail, err := validate.Email("voter_email", req.VoterEmail, true)
	if err != nil {
		return VoteResult{}, fmt.Errorf("%w: %w", ErrInvalidEmail, err)
	}

	var (
		result VoteResult
		events []notify.Event
	)
	err = a.runner.Run(ctx, func(tx *gorm.DB) error {
		result = VoteResult{}
		events = nil
		poll, err := loadPoll(tx, req.PollID)
		if err != nil {
			return err
		}
		if !poll.IsActive {
			return ErrPollClosed
		}
		option, err := loadOption(tx, poll.ID, req.OptionID)
		if err != nil {
			return err
		}
		if policy.SingleChoice {
			prior, err := countVotes(tx, "poll_id = ? AND voter_email = ?", poll.ID, voterEmail)
			if err != nil {
				return err
			}
			if prior > 0 {
				return fmt.Errorf("%w: %s", ErrAlreadyVoted, voterEmail)
			}
		}
		prior, err := countVotes(tx, "option_id = ? AND voter_email = ?", option.ID, voterEmail)
		if err != nil {
			return err
		}
		if prior > 0 {
			return fmt.Errorf("%w: %s", ErrAlreadyVotedThisOption, voterEmail)
		}

		vote := db.Vote{
			PollID:     poll.ID,
			OptionID:   option.ID,
			VoterName:  voterName,
			VoterEmail: voterEmail,
		}
		if err := tx.Create(&vote).Error; err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s", ErrAlreadyVotedThisOption, voterEmail)
			}
			return fmt.Errorf("polls: insert vote: %w", err)
		}
		result.VoteID = vote.ID

		votes, err := countVotes(tx, "option_id = ?", option.ID)
		if err != nil {
			return err
		}
		if votes < option.VoteThreshold {
			return nil
		}
		result.ThresholdReached = true

		counts, err := Tally(tx, poll.ID)
		if err != nil {
			return err
		}
		winner, ok := SelectWinner(counts)
		if !ok || winner.OptionID != option.ID {
			return nil
		}

		creator := signup.Person{Name: poll.CreatorName, Email: poll.CreatorEmail, AccountID: poll.CreatorAccountID}
		activity, err := a.materializer.CreateFromOption(tx, option, poll.TableID, creator, poll.StartsAt)
		if err != nil {
			return err
		}
		closedAt := a.now().UTC()
		update := tx.Model(&db.Poll{}).
			Where("id = ? AND is_active = ?", poll.ID, true).
			Updates(map[string]any{
				"is_active":         false,
				"closed_at":         closedAt,
				"winning_option_id": option.ID,
				"activity_id":       activity.ID,
			})
		if update.Error != nil {
			return fmt.Errorf("polls: close poll: %w", update.Error)
		}
		if update.RowsAffected == 0 {
			return ErrPollClosed
		}

		event := notify.NewEvent(notify.PollResolved, activity.ID, poll.ID, notify.Payload{
			OptionID:     option.ID,
			OptionName:   option.Name,
			ActivityName: activity.Name,
		})
		if err := record(tx, event); err != nil {
			return err
		}
		events = append(events, event)
		result.Resolved = true
		result.WinnerOptionID = option.ID
		result.Activity = &activity
		return nil
	})
	if err != nil {
		return VoteResult{}, err
	}

	fields := []zap.Field{
		zap.Uint("poll_id", req.PollID),
		zap.Uint("option_id", req.OptionID),
		zap.Uint("vote_id", result.VoteID),
		zap.Bool("threshold_reached", result.ThresholdReached),
	}
	if result.Resolved {
		fields = append(fields, zap.Uint("activity_id", result.Activity.ID))
		a.logger.Info("poll resolved", fields...)
	} else {
		a.logger.Info("vote cast", fields...)
	}
	a.notifier.Notify(events...)
	return result, nil
}

// ClosePoll closes a poll without creating an activity. Closing a closed poll
// succeeds without doing anything.
func (a *Arbiter) ClosePoll(ctx context.Context, pollID uint, actor auth.Actor) (PollState, error) {
	if err := a.authorize(ctx, pollID, actor); err != nil {
		return PollState{}, err
	}
	var events []notify.Event
	err := a.runner.Run(ctx, func(tx *gorm.DB) error {
		events = nil
		poll, err := loadPoll(tx, pollID)
		if err != nil {
			return err
		}
		if !poll.IsActive {
			return nil
		}
		update := tx.Model(&db.Poll{}).
			Where("id = ? AND is_active = ?", poll.ID, true).
			Updates(map[string]any{"is_active": false, "closed_at": a.now().UTC()})
		if update.Error != nil {
			return fmt.Errorf("polls: close poll: %w", update.Error)
		}
		if update.RowsAffected == 0 {
			return nil
		}
		event := notify.NewEvent(notify.PollClosed, 0, poll.ID, notify.Payload{Reason: "closed manually"})
		if err := record(tx, event); err != nil {
			return err
		}
		events = append(events, event)
		return nil
	})
	if err != nil {
		return PollState{}, err
	}
	if len(events) > 0 {
		a.logger.Info("poll closed", zap.Uint("poll_id", pollID))
		a.notifier.Notify(events...)
	}
	return a.GetPollState(ctx, pollID)
}

func (a *Arbiter) GetPollState(ctx context.Context, pollID uint) (PollState, error) {
	conn := a.runner.Conn(ctx)
	poll, err := loadPoll(conn, pollID)
	if err != nil {
		return PollState{}, err
	}
	return pollState(conn, poll)
}

func pollState(tx *gorm.DB, poll db.Poll) (PollState, error) {
	var options []db.PollOption
	if err := tx.Where("poll_id = ?", poll.ID).
		Order("display_order ASC").Order("id ASC").
		Find(&options).Error; err != nil {
		return PollState{}, fmt.Errorf("polls: load options: %w", err)
	}
	votes, err := voteCounts(tx, poll.ID)
	if err != nil {
		return PollState{}, err
	}
	state := PollState{
		Poll:     pollFromRow(poll),
		Options:  make([]OptionState, len(options)),
		IsClosed: !poll.IsActive,
	}
	for i, option := range options {
		state.Options[i] = OptionState{
			Option:       optionFromRow(option),
			VoteCount:    votes[option.ID],
			ThresholdMet: votes[option.ID] >= option.VoteThreshold,
		}
	}
	return state, nil
}

func (a *Arbiter) authorize(ctx context.Context, pollID uint, actor auth.Actor) error {
	ok, err := a.auth.CanModify(ctx, auth.KindPoll, pollID, actor)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return ErrPollNotFound
		}
		return fmt.Errorf("polls: authorize: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: poll %d", apperr.ErrForbidden, pollID)
	}
	return nil
}

func loadPoll(tx *gorm.DB, id uint) (db.Poll, error) {
	var poll db.Poll
	if err := tx.First(&poll, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Poll{}, ErrPollNotFound
		}
		return db.Poll{}, fmt.Errorf("polls: load poll: %w", err)
	}
	return poll, nil
}

func loadOption(tx *gorm.DB, pollID, optionID uint) (db.PollOption, error) {
	var option db.PollOption
	if err := tx.Where("id = ? AND poll_id = ?", optionID, pollID).First(&option).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.PollOption{}, ErrOptionNotFound
		}
		return db.PollOption{}, fmt.Errorf("polls: load option: %w", err)
	}
	return option, nil
}

func countVotes(tx *gorm.DB, query string, args ...any) (int, error) {
	var count int64
	if err := tx.Model(&db.Vote{}).Where(query, args...).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("polls: count votes: %w", err)
	}
	return int(count), nil
}

func record(tx *gorm.DB, event notify.Event) error {
	if err := db.RecordEvent(tx, event.ID, string(event.Kind), event.ActivityID, event.PollID, event.Payload); err != nil {
		return fmt.Errorf("polls: record %s: %w", event.Kind, err)
	}
	return nil
}

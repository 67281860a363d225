// Package auth answers whether an actor may modify an activity, a queue
// entry or a poll.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"tabletop-signup/internal/apperr"
	"tabletop-signup/internal/db"
)

type EntityKind string

const (
	KindActivity   EntityKind = "activity"
	KindQueueEntry EntityKind = "queue_entry"
	KindPoll       EntityKind = "poll"
)

// Actor is whoever is asking for a change. Admin is set by the request layer
// after checking the admin token.
type Actor struct {
	Name      string
	Email     string
	AccountID *uint
	Admin     bool
}

type Authorizer interface {
	CanModify(ctx context.Context, kind EntityKind, id uint, actor Actor) (bool, error)
}

// AllowAll permits everything. Used in development and tests.
type AllowAll struct{}

func (AllowAll) CanModify(context.Context, EntityKind, uint, Actor) (bool, error) {
	return true, nil
}

// Ownership lets admins modify anything, hosts modify their activity and its
// queue, participants modify their own entry and creators modify their poll.
type Ownership struct {
	conn *gorm.DB
}

func NewOwnership(conn *gorm.DB) *Ownership {
	return &Ownership{conn: conn}
}

func (o *Ownership) CanModify(ctx context.Context, kind EntityKind, id uint, actor Actor) (bool, error) {
	if actor.Admin {
		return true, nil
	}
	conn := o.conn.WithContext(ctx)
	switch kind {
	case KindActivity:
		var activity db.Activity
		if err := conn.First(&activity, id).Error; err != nil {
			return false, missing(kind, err)
		}
		return owns(actor, activity.HostEmail, activity.HostAccountID), nil
	case KindQueueEntry:
		var entry db.QueueEntry
		if err := conn.First(&entry, id).Error; err != nil {
			return false, missing(kind, err)
		}
		if owns(actor, entry.Email, entry.AccountID) {
			return true, nil
		}
		var activity db.Activity
		if err := conn.First(&activity, entry.ActivityID).Error; err != nil {
			return false, missing(KindActivity, err)
		}
		return owns(actor, activity.HostEmail, activity.HostAccountID), nil
	case KindPoll:
		var poll db.Poll
		if err := conn.First(&poll, id).Error; err != nil {
			return false, missing(kind, err)
		}
		return owns(actor, poll.CreatorEmail, poll.CreatorAccountID), nil
	default:
		return false, nil
	}
}

func owns(actor Actor, email string, accountID *uint) bool {
	if actor.AccountID != nil && accountID != nil && *actor.AccountID == *accountID {
		return true
	}
	actorEmail := strings.ToLower(strings.TrimSpace(actor.Email))
	return actorEmail != "" && actorEmail == strings.ToLower(email)
}

func missing(kind EntityKind, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %w", kind, apperr.ErrNotFound)
	}
	return err
}

// TokenMatches compares an admin token in constant time. An empty expected
// token disables admin access.
func TokenMatches(expected, provided string) bool {
	provided = strings.TrimSpace(provided)
	if expected == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

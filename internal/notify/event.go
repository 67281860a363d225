// Package notify delivers committed state transitions to interested parties.
// Delivery is best effort and happens after the transaction that produced the
// event has committed; a failed delivery never undoes anything.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	ParticipantJoined   Kind = "participant_joined"
	ParticipantResigned Kind = "participant_resigned"
	ParticipantPromoted Kind = "participant_promoted"
	PollOptionAdded     Kind = "poll_option_added"
	PollResolved        Kind = "poll_resolved"
	PollClosed          Kind = "poll_closed"
)

// Payload carries the details a subscriber needs to render the event. Fields
// that do not apply to a kind are left empty.
type Payload struct {
	EntryID      uint   `json:"entry_id,omitempty"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Partition    string `json:"partition,omitempty"`
	Position     int    `json:"position,omitempty"`
	ActivityName string `json:"activity_name,omitempty"`
	OptionID     uint   `json:"option_id,omitempty"`
	OptionName   string `json:"option_name,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	ActivityID uint      `json:"activity_id,omitempty"`
	PollID     uint      `json:"poll_id,omitempty"`
	Payload    Payload   `json:"payload"`
	At         time.Time `json:"at"`
}

// NewEvent stamps a fresh id. The same id is stored in the event log row
// written inside the transaction.
func NewEvent(kind Kind, activityID, pollID uint, payload Payload) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		ActivityID: activityID,
		PollID:     pollID,
		Payload:    payload,
		At:         time.Now().UTC(),
	}
}

// Topics lists the subscription topics the event is delivered to.
// Public is the event as anonymous subscribers may see it: participant
// emails stay in the event log only.
func (e Event) Public() Event {
	e.Payload.Email = ""
	return e
}

func (e Event) Topics() []string {
	topics := make([]string, 0, 3)
	if e.ActivityID != 0 {
		topics = append(topics, ActivityTopic(e.ActivityID))
	}
	if e.PollID != 0 {
		topics = append(topics, PollTopic(e.PollID))
	}
	return append(topics, TopicAll)
}

const TopicAll = "all"

func ActivityTopic(id uint) string {
	return fmt.Sprintf("activity:%d", id)
}

func PollTopic(id uint) string {
	return fmt.Sprintf("poll:%d", id)
}

// Publisher is a single delivery channel such as a log, a websocket hub or a
// chat integration.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Notifier is what the engines call after commit. It must not block.
type Notifier interface {
	Notify(events ...Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(...Event) {}

func (Discard) Publish(context.Context, Event) error { return nil }

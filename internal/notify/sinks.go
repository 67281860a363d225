package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost-server/v6/model"
	"go.uber.org/zap"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Publish(_ context.Context, event Event) error {
	s.Logger.Info("event",
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind)),
		zap.Uint("activity_id", event.ActivityID),
		zap.Uint("poll_id", event.PollID),
		zap.Uint("entry_id", event.Payload.EntryID),
		zap.String("partition", event.Payload.Partition),
		zap.Int("position", event.Payload.Position))
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(events ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.Notify(event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	kinds := make([]Kind, len(events))
	for i, event := range events {
		kinds[i] = event.Kind
	}
	return kinds
}

type postCreator interface {
	CreatePost(post *model.Post) (*model.Post, *model.Response, error)
}

// MattermostSink posts a short message per event to one channel.
type MattermostSink struct {
	client    postCreator
	channelID string
	logger    *zap.Logger
}

// NewMattermostSink posts to channelID. Each post is abandoned after timeout
// so a stalled server cannot hold up queued events.
func NewMattermostSink(serverURL, token, channelID string, timeout time.Duration, logger *zap.Logger) *MattermostSink {
	return newMattermostSink(newMattermostClient(serverURL, token, timeout), channelID, logger)
}

func newMattermostClient(serverURL, token string, timeout time.Duration) *model.Client4 {
	client := model.NewAPIv4Client(serverURL)
	client.SetToken(token)
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	return client
}

func newMattermostSink(client postCreator, channelID string, logger *zap.Logger) *MattermostSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MattermostSink{client: client, channelID: channelID, logger: logger}
}

func (s *MattermostSink) Publish(_ context.Context, event Event) error {
	post := &model.Post{
		ChannelId: s.channelID,
		Message:   FormatMessage(event),
	}
	_, resp, err := s.client.CreatePost(post)
	if err != nil {
		return fmt.Errorf("mattermost post: %w", err)
	}
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	s.logger.Debug("mattermost post sent",
		zap.String("channel_id", s.channelID),
		zap.String("event_id", event.ID),
		zap.Int("status_code", statusCode))
	return nil
}

// FormatMessage renders an event as a one-line chat message.
func FormatMessage(event Event) string {
	p := event.Payload
	switch event.Kind {
	case ParticipantJoined:
		return fmt.Sprintf("%s joined %s (%s #%d)", p.Name, activityLabel(event), p.Partition, p.Position)
	case ParticipantResigned:
		return fmt.Sprintf("%s left %s", p.Name, activityLabel(event))
	case ParticipantPromoted:
		return fmt.Sprintf("%s moved off the waitlist for %s (active #%d)", p.Name, activityLabel(event), p.Position)
	case PollOptionAdded:
		return fmt.Sprintf("New option in poll %d: %s", event.PollID, p.OptionName)
	case PollResolved:
		return fmt.Sprintf("Poll %d resolved: %s is on, join activity %d", event.PollID, p.OptionName, event.ActivityID)
	case PollClosed:
		return fmt.Sprintf("Poll %d closed", event.PollID)
	default:
		return strings.TrimSpace(fmt.Sprintf("%s %s", event.Kind, p.Name))
	}
}

func activityLabel(event Event) string {
	if event.Payload.ActivityName != "" {
		return event.Payload.ActivityName
	}
	return fmt.Sprintf("activity %d", event.ActivityID)
}

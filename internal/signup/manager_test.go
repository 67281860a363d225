package signup

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"tabletop-signup/internal/apperr"
	"tabletop-signup/internal/auth"
	"tabletop-signup/internal/db"
	"tabletop-signup/internal/dbtest"
	"tabletop-signup/internal/notify"
	"tabletop-signup/internal/validate"
)

type fixture struct {
	conn     *gorm.DB
	manager  *Manager
	recorder *notify.Recorder
	table    db.Table
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	recorder := &notify.Recorder{}
	defaults := TableDefaults{Fallback: Defaults{MinParticipants: 2, MaxParticipants: 4, DurationMinutes: 120}}
	return fixture{
		conn:     conn,
		manager:  NewManager(dbtest.Runner(conn), auth.AllowAll{}, recorder, defaults, nil),
		recorder: recorder,
		table:    dbtest.CreateTable(t, conn, "Table 1", 2, 4),
	}
}

func (f fixture) createActivity(t *testing.T, maxParticipants int) Activity {
	t.Helper()
	activity, err := f.manager.CreateActivity(context.Background(), ActivitySpec{
		TableID:         f.table.ID,
		Name:            "Azul",
		MinParticipants: 1,
		MaxParticipants: maxParticipants,
		Host:            Person{Name: "Host", Email: "host@example.com"},
	})
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	return activity
}

func (f fixture) join(t *testing.T, activityID uint, name string, wantsWaitlist bool) JoinResult {
	t.Helper()
	result, err := f.manager.Join(context.Background(), DefaultPolicy(), JoinRequest{
		ActivityID:    activityID,
		Participant:   Person{Name: name},
		WantsWaitlist: wantsWaitlist,
	})
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return result
}

func (f fixture) resign(t *testing.T, activityID, entryID uint) ResignResult {
	t.Helper()
	result, err := f.manager.Resign(context.Background(), ResignRequest{ActivityID: activityID, EntryID: entryID})
	if err != nil {
		t.Fatalf("resign entry %d: %v", entryID, err)
	}
	return result
}

func (f fixture) queue(t *testing.T, activityID uint) Queue {
	t.Helper()
	queue, err := f.manager.GetQueue(context.Background(), activityID)
	if err != nil {
		t.Fatalf("get queue: %v", err)
	}
	return queue
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, entry := range entries {
		out[i] = entry.Name
	}
	return out
}

func assertDense(t *testing.T, queue Queue) {
	t.Helper()
	for label, entries := range map[string][]Entry{"active": queue.Active, "waitlisted": queue.Waitlisted} {
		positions := make([]int, len(entries))
		for i, entry := range entries {
			positions[i] = entry.Position
		}
		sort.Ints(positions)
		for i, position := range positions {
			if position != i+1 {
				t.Fatalf("expected dense %s positions, got %v", label, positions)
			}
		}
	}
}

func TestJoinResignScenario(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 2)

	a := f.join(t, activity.ID, "A", false)
	b := f.join(t, activity.ID, "B", false)
	c := f.join(t, activity.ID, "C", false)

	if a.Entry.Partition != Active || a.Entry.Position != 1 {
		t.Fatalf("expected A active 1, got %s %d", a.Entry.Partition, a.Entry.Position)
	}
	if b.Entry.Partition != Active || b.Entry.Position != 2 {
		t.Fatalf("expected B active 2, got %s %d", b.Entry.Partition, b.Entry.Position)
	}
	if c.Entry.Partition != Waitlisted || c.Entry.Position != 1 || !c.Overridden {
		t.Fatalf("expected C waitlisted 1 overridden, got %s %d %v", c.Entry.Partition, c.Entry.Position, c.Overridden)
	}

	result := f.resign(t, activity.ID, a.Entry.ID)
	if result.Promoted == nil || result.Promoted.ID != c.Entry.ID {
		t.Fatalf("expected C promoted, got %+v", result.Promoted)
	}

	queue := f.queue(t, activity.ID)
	if len(queue.Waitlisted) != 0 {
		t.Fatalf("expected empty waitlist, got %v", names(queue.Waitlisted))
	}
	if len(queue.Active) != 2 {
		t.Fatalf("expected two active entries, got %v", names(queue.Active))
	}
	assertDense(t, queue)
	positions := map[string]int{}
	for _, entry := range queue.Active {
		positions[entry.Name] = entry.Position
	}
	if positions["B"] != 2 || positions["C"] != 1 {
		t.Fatalf("expected C to take the vacated slot and B unchanged, got %v", positions)
	}

	kinds := f.recorder.Kinds()
	want := []notify.Kind{
		notify.ParticipantJoined, notify.ParticipantJoined, notify.ParticipantJoined,
		notify.ParticipantResigned, notify.ParticipantPromoted,
	}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("expected notifications %v, got %v", want, kinds)
	}
}

func TestResignWaitlistedCompactsWaitlist(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 1)
	f.join(t, activity.ID, "A", false)
	b := f.join(t, activity.ID, "B", false)
	f.join(t, activity.ID, "C", false)
	f.join(t, activity.ID, "D", false)

	result := f.resign(t, activity.ID, b.Entry.ID)
	if result.Promoted != nil {
		t.Fatalf("expected no promotion, got %+v", result.Promoted)
	}
	queue := f.queue(t, activity.ID)
	if got := names(queue.Waitlisted); fmt.Sprint(got) != "[C D]" {
		t.Fatalf("expected waitlist [C D], got %v", got)
	}
	assertDense(t, queue)
}

func TestResignActiveWithoutWaitlistCompactsActive(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 3)
	a := f.join(t, activity.ID, "A", false)
	f.join(t, activity.ID, "B", false)
	f.join(t, activity.ID, "C", false)

	f.resign(t, activity.ID, a.Entry.ID)
	queue := f.queue(t, activity.ID)
	if got := names(queue.Active); fmt.Sprint(got) != "[B C]" {
		t.Fatalf("expected active [B C], got %v", got)
	}
	assertDense(t, queue)
}

func TestPromotionIsFIFO(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 1)
	a := f.join(t, activity.ID, "A", false)
	f.join(t, activity.ID, "W1", true)
	f.join(t, activity.ID, "W2", true)
	f.join(t, activity.ID, "W3", true)

	result := f.resign(t, activity.ID, a.Entry.ID)
	if result.Promoted == nil || result.Promoted.Name != "W1" {
		t.Fatalf("expected W1 promoted, got %+v", result.Promoted)
	}
	queue := f.queue(t, activity.ID)
	if got := names(queue.Waitlisted); fmt.Sprint(got) != "[W2 W3]" {
		t.Fatalf("expected waitlist [W2 W3], got %v", got)
	}
	assertDense(t, queue)
}

func TestQueueStaysDenseUnderRandomSequences(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 3)
	rng := rand.New(rand.NewSource(42))
	var live []uint

	for step := 0; step < 60; step++ {
		if len(live) == 0 || rng.Intn(3) > 0 {
			result := f.join(t, activity.ID, fmt.Sprintf("P%d", step), rng.Intn(4) == 0)
			live = append(live, result.Entry.ID)
		} else {
			i := rng.Intn(len(live))
			f.resign(t, activity.ID, live[i])
			live = append(live[:i], live[i+1:]...)
		}
		queue := f.queue(t, activity.ID)
		assertDense(t, queue)
		if len(queue.Active) > 3 {
			t.Fatalf("step %d: expected at most 3 active, got %d", step, len(queue.Active))
		}
		if len(queue.Active)+len(queue.Waitlisted) != len(live) {
			t.Fatalf("step %d: expected %d entries, got %d", step, len(live), len(queue.Active)+len(queue.Waitlisted))
		}
	}
}

func TestJoinRejectsInactiveAndMissingActivities(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 2)
	ctx := context.Background()

	if _, err := f.manager.SetActive(ctx, activity.ID, false, auth.Actor{}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err := f.manager.Join(ctx, DefaultPolicy(), JoinRequest{ActivityID: activity.ID, Participant: Person{Name: "A"}})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	_, err = f.manager.Join(ctx, DefaultPolicy(), JoinRequest{ActivityID: 999, Participant: Person{Name: "A"}})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if _, err := f.manager.SetActive(ctx, activity.ID, true, auth.Actor{}); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	f.join(t, activity.ID, "A", false)
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 2)
	ctx := context.Background()

	_, err := f.manager.Join(ctx, DefaultPolicy(), JoinRequest{ActivityID: activity.ID, Participant: Person{Name: "  "}})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
	strict := Policy{AllowWaitlist: true, RequireEmail: true}
	_, err = f.manager.Join(ctx, strict, JoinRequest{ActivityID: activity.ID, Participant: Person{Name: "A"}})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for missing email, got %v", err)
	}
	_, err = f.manager.Join(ctx, DefaultPolicy(), JoinRequest{ActivityID: activity.ID, Participant: Person{Name: "A", Email: "nope"}})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for bad email, got %v", err)
	}
}

func TestJoinRejectsDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 2)
	ctx := context.Background()
	req := JoinRequest{ActivityID: activity.ID, Participant: Person{Name: "A", Email: "a@example.com"}}
	if _, err := f.manager.Join(ctx, DefaultPolicy(), req); err != nil {
		t.Fatalf("first join: %v", err)
	}
	req.Participant.Email = "A@Example.com"
	if _, err := f.manager.Join(ctx, DefaultPolicy(), req); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected already joined, got %v", err)
	}
}

func TestJoinWithWaitlistDisabled(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 1)
	ctx := context.Background()
	policy := Policy{AllowWaitlist: false}

	if _, err := f.manager.Join(ctx, policy, JoinRequest{ActivityID: activity.ID, Participant: Person{Name: "A"}}); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, err := f.manager.Join(ctx, policy, JoinRequest{ActivityID: activity.ID, Participant: Person{Name: "B"}})
	if !errors.Is(err, ErrWaitlistDisabled) || !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected waitlist disabled, got %v", err)
	}
}

func TestCapacityRespectedAtInsertion(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 4)
	for i := 0; i < 10; i++ {
		f.join(t, activity.ID, fmt.Sprintf("P%d", i), false)
	}
	queue := f.queue(t, activity.ID)
	if len(queue.Active) != 4 || len(queue.Waitlisted) != 6 {
		t.Fatalf("expected 4 active and 6 waitlisted, got %d and %d", len(queue.Active), len(queue.Waitlisted))
	}
	assertDense(t, queue)
}

func TestResignErrors(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 2)
	other := f.createActivity(t, 2)
	entry := f.join(t, activity.ID, "A", false)
	ctx := context.Background()

	_, err := f.manager.Resign(ctx, ResignRequest{ActivityID: activity.ID, EntryID: 999})
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected entry not found, got %v", err)
	}
	_, err = f.manager.Resign(ctx, ResignRequest{ActivityID: other.ID, EntryID: entry.Entry.ID})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for entry of another activity, got %v", err)
	}
}

func TestResignRequiresPermission(t *testing.T) {
	conn := dbtest.Open(t)
	table := dbtest.CreateTable(t, conn, "Table 1", 2, 4)
	manager := NewManager(dbtest.Runner(conn), auth.NewOwnership(conn), nil, TableDefaults{}, nil)
	ctx := context.Background()
	activity, err := manager.CreateActivity(ctx, ActivitySpec{
		TableID: table.ID, Name: "Azul", MaxParticipants: 2,
		Host: Person{Name: "Host", Email: "host@example.com"},
	})
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	joined, err := manager.Join(ctx, DefaultPolicy(), JoinRequest{
		ActivityID:  activity.ID,
		Participant: Person{Name: "Ada", Email: "ada@example.com"},
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	stranger := auth.Actor{Name: "Eve", Email: "eve@example.com"}
	_, err = manager.Resign(ctx, ResignRequest{ActivityID: activity.ID, EntryID: joined.Entry.ID, Actor: stranger})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	owner := auth.Actor{Name: "Ada", Email: "ADA@example.com"}
	if _, err := manager.Resign(ctx, ResignRequest{ActivityID: activity.ID, EntryID: joined.Entry.ID, Actor: owner}); err != nil {
		t.Fatalf("expected owner resign to succeed, got %v", err)
	}
}

func TestCompactPartition(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 5)
	var ids []uint
	for i := 0; i < 4; i++ {
		ids = append(ids, f.join(t, activity.ID, fmt.Sprintf("P%d", i), false).Entry.ID)
	}
	if err := f.conn.Delete(&db.QueueEntry{}, ids[1]).Error; err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	if err := CompactPartition(f.conn, activity.ID, Active, 2); err != nil {
		t.Fatalf("compact: %v", err)
	}
	queue := f.queue(t, activity.ID)
	if got := names(queue.Active); fmt.Sprint(got) != "[P0 P2 P3]" {
		t.Fatalf("expected [P0 P2 P3], got %v", got)
	}
	assertDense(t, queue)
}

func TestSetCapacityPromotesInOrder(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 1)
	for _, name := range []string{"A", "B", "C", "D"} {
		f.join(t, activity.ID, name, false)
	}
	ctx := context.Background()

	queue, err := f.manager.SetCapacity(ctx, activity.ID, 1, 3, auth.Actor{})
	if err != nil {
		t.Fatalf("set capacity: %v", err)
	}
	if got := names(queue.Active); fmt.Sprint(got) != "[A B C]" {
		t.Fatalf("expected active [A B C], got %v", got)
	}
	if got := names(queue.Waitlisted); fmt.Sprint(got) != "[D]" {
		t.Fatalf("expected waitlist [D], got %v", got)
	}
	assertDense(t, queue)

	queue, err = f.manager.SetCapacity(ctx, activity.ID, 1, 2, auth.Actor{})
	if err != nil {
		t.Fatalf("lower capacity: %v", err)
	}
	if len(queue.Active) != 3 {
		t.Fatalf("expected lowering capacity to keep 3 active, got %d", len(queue.Active))
	}
	if _, err := f.manager.SetCapacity(ctx, activity.ID, 3, 2, auth.Actor{}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for min > max, got %v", err)
	}
}

func TestDeleteActivity(t *testing.T) {
	f := newFixture(t)
	activity := f.createActivity(t, 2)
	f.join(t, activity.ID, "A", false)
	ctx := context.Background()

	if err := f.manager.DeleteActivity(ctx, activity.ID, auth.Actor{}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}
	if err := f.manager.DeleteActivity(ctx, activity.ID, auth.Actor{Admin: true}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.manager.GetQueue(ctx, activity.ID); !errors.Is(err, ErrActivityNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	var remaining int64
	f.conn.Model(&db.QueueEntry{}).Where("activity_id = ?", activity.ID).Count(&remaining)
	if remaining != 0 {
		t.Fatalf("expected entries removed, got %d", remaining)
	}
}

func TestCreateActivityDefaultsAndBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	activity, err := f.manager.CreateActivity(ctx, ActivitySpec{
		TableID: f.table.ID, Name: "  Root  ", Host: Person{Name: "Host"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if activity.Name != "Root" || activity.MinParticipants != 2 || activity.MaxParticipants != 4 || activity.DurationMinutes != 90 {
		t.Fatalf("expected table defaults applied, got %+v", activity)
	}

	opens := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	closes := opens.Add(8 * time.Hour)
	bounded := db.Table{Name: "Bounded", DefaultMaxParticipants: 5, OpensAt: &opens, ClosesAt: &closes}
	if err := f.conn.Create(&bounded).Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	activity, err = f.manager.CreateActivity(ctx, ActivitySpec{TableID: bounded.ID, Name: "Azul", Host: Person{Name: "Host"}})
	if err != nil {
		t.Fatalf("create bounded: %v", err)
	}
	if !activity.StartsAt.Equal(opens) || activity.DurationMinutes != 120 || activity.MaxParticipants != 5 {
		t.Fatalf("expected opening time and fallback defaults, got %+v", activity)
	}
	_, err = f.manager.CreateActivity(ctx, ActivitySpec{
		TableID: bounded.ID, Name: "Late", StartsAt: closes.Add(time.Hour), Host: Person{Name: "Host"},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected start time validation error, got %v", err)
	}
	_, err = f.manager.CreateActivity(ctx, ActivitySpec{TableID: 999, Name: "Azul", Host: Person{Name: "Host"}})
	if !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected table not found, got %v", err)
	}
}

func TestFailingNotifierDoesNotFailJoin(t *testing.T) {
	conn := dbtest.Open(t)
	table := dbtest.CreateTable(t, conn, "Table 1", 2, 4)
	dispatcher := notify.NewDispatcher(nil, 10*time.Millisecond, brokenSink{})
	manager := NewManager(dbtest.Runner(conn), nil, dispatcher, TableDefaults{}, nil)
	ctx := context.Background()

	activity, err := manager.CreateActivity(ctx, ActivitySpec{TableID: table.ID, Name: "Azul", Host: Person{Name: "Host"}})
	if err != nil {
		t.Fatalf("create activity: %v", err)
	}
	if _, err := manager.Join(ctx, DefaultPolicy(), JoinRequest{ActivityID: activity.ID, Participant: Person{Name: "A"}}); err != nil {
		t.Fatalf("expected join to succeed despite notifier failure, got %v", err)
	}
	dispatcher.Close()

	var events int64
	conn.Model(&db.Event{}).Where("kind = ?", string(notify.ParticipantJoined)).Count(&events)
	if events != 1 {
		t.Fatalf("expected one logged join event, got %d", events)
	}
}

type brokenSink struct{}

func (brokenSink) Publish(context.Context, notify.Event) error {
	return errors.New("delivery failed")
}

func TestCreateActivityBoundsRefAndThumbnail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.CreateActivity(ctx, ActivitySpec{
		TableID: f.table.ID, Name: "Azul", Host: Person{Name: "Host"},
		ExternalRef: strings.Repeat("1", validate.MaxRefLength+1),
	})
	var fieldErr *apperr.FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "external_ref" {
		t.Fatalf("expected external_ref field error, got %v", err)
	}

	_, err = f.manager.CreateActivity(ctx, ActivitySpec{
		TableID: f.table.ID, Name: "Azul", Host: Person{Name: "Host"},
		ThumbnailURL: "https://example.com/" + strings.Repeat("a", validate.MaxURLLength),
	})
	if !errors.As(err, &fieldErr) || fieldErr.Field != "thumbnail_url" {
		t.Fatalf("expected thumbnail_url field error, got %v", err)
	}

	activity, err := f.manager.CreateActivity(ctx, ActivitySpec{
		TableID: f.table.ID, Name: "Azul", Host: Person{Name: "Host"},
		ExternalRef: " 230802 ", ThumbnailURL: "https://example.com/azul.png",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if activity.ExternalRef != "230802" {
		t.Fatalf("expected trimmed external ref, got %q", activity.ExternalRef)
	}
}

package signup

import "tabletop-signup/internal/db"

type Partition string

const (
	Active     Partition = db.StatusActive
	Waitlisted Partition = db.StatusWaitlisted
)

// Place picks the partition for a new entry given how many active entries
// the activity already has. overridden is true when the participant asked
// for an active slot but the activity is full.
func Place(activeCount, maxParticipants int, wantsWaitlist bool) (partition Partition, overridden bool) {
	if wantsWaitlist {
		return Waitlisted, false
	}
	if activeCount >= maxParticipants {
		return Waitlisted, true
	}
	return Active, false
}

// Policy holds the deployment switches for joining. It is built from config
// by the caller and passed into each operation.
type Policy struct {
	AllowWaitlist bool
	RequireEmail  bool
}

func DefaultPolicy() Policy {
	return Policy{AllowWaitlist: true}
}

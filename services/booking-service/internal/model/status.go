package model

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusCancelled},
	StatusApproved: {StatusCompleted, StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// SyncOp is the calendar work a status change leaves behind.
type SyncOp string

const (
	SyncNone   SyncOp = ""
	SyncUpsert SyncOp = "upsert"
	SyncDelete SyncOp = "delete"
)

// StatusChange is a conditional transition: it applies only while the stored
// status still equals From.
type StatusChange struct {
	AppointmentID string
	From          Status
	To            Status
	Sync          SyncOp
	Actor         string
}

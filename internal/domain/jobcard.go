package domain

import (
	"fmt"
	"time"
)

// Status is a stage in the nine-step job-card progression. Stages are
// strictly ordered; the zero value is StatusCreated.
type Status int

const (
	StatusCreated Status = iota
	StatusContextVerified
	StatusDiagnosed
	StatusEstimated
	StatusCustomerApproval
	StatusInProgress
	StatusPDI
	StatusInvoiced
	StatusClosed
)

var statusNames = [...]string{
	"CREATED",
	"CONTEXT_VERIFIED",
	"DIAGNOSED",
	"ESTIMATED",
	"CUSTOMER_APPROVAL",
	"IN_PROGRESS",
	"PDI",
	"INVOICED",
	"CLOSED",
}

// String returns the wire name of the status.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Valid reports whether s is one of the nine defined stages.
func (s Status) Valid() bool {
	return s >= StatusCreated && s <= StatusClosed
}

// Terminal reports whether the job card has reached its final stage.
func (s Status) Terminal() bool {
	return s == StatusClosed
}

// ParseStatus maps a wire name back to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", name)
}

// JobCard is the service record tracked per session. Exactly one status is
// held at a time; the status index only ever moves forward.
type JobCard struct {
	SessionID string    `json:"session_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

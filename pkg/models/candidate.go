package models

import "time"

// CandidateStatus is the lifecycle state of a due-able entity as reported by
// the host application.
type CandidateStatus string

const (
	CandidatePending    CandidateStatus = "pending"
	CandidateInProgress CandidateStatus = "in_progress"
	CandidateCompleted  CandidateStatus = "completed"
)

// DueCandidate is a read-only projection of a task or catalogue record that
// may carry a due timestamp. The engine never mutates it.
type DueCandidate struct {
	ID       string          `json:"id" yaml:"id"`
	Kind     AlertKind       `json:"kind" yaml:"kind"`
	Title    string          `json:"title" yaml:"title"`
	DueAt    *time.Time      `json:"due_at,omitempty" yaml:"due_at,omitempty"`
	Priority Priority        `json:"priority" yaml:"priority"`
	Status   CandidateStatus `json:"status" yaml:"status"`
}

// Completed reports whether the candidate has been resolved by the host.
func (c DueCandidate) Completed() bool {
	return c.Status == CandidateCompleted
}

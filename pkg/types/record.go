// Package types defines the core data structures for the Keepsake memory
// store: the memory record, its status lifecycle, and validation helpers.
package types

import (
	"fmt"
	"time"
)

// RecordStatus represents the lifecycle status of a memory record.
type RecordStatus string

const (
	// StatusActive indicates a record that has not been superseded or
	// consolidated. Active records are visible in default retrieval results.
	StatusActive RecordStatus = "active"

	// StatusSuperseded indicates a record replaced by a consolidated record.
	// Superseded records are hidden by default but retained for history.
	StatusSuperseded RecordStatus = "superseded"

	// StatusConsolidated indicates a record produced by compaction, merging
	// multiple active records for one topic.
	StatusConsolidated RecordStatus = "consolidated"
)

// ValidStatuses lists all recognized record statuses.
var ValidStatuses = []RecordStatus{StatusActive, StatusSuperseded, StatusConsolidated}

// IsValid reports whether s is a recognized record status.
func (s RecordStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusSuperseded, StatusConsolidated:
		return true
	}
	return false
}

// Rank returns the sort precedence of a status when final scores tie.
// Consolidated outranks Active, which outranks Superseded.
func (s RecordStatus) Rank() int {
	switch s {
	case StatusConsolidated:
		return 2
	case StatusActive:
		return 1
	case StatusSuperseded:
		return 0
	}
	return -1
}

// CanTransitionTo reports whether a status transition is allowed.
// The lifecycle only moves forward: Active → Superseded. Consolidated
// records are born consolidated and never change; Superseded records
// never return to Active.
func (s RecordStatus) CanTransitionTo(target RecordStatus) bool {
	return s == StatusActive && target == StatusSuperseded
}

// MemoryRecord is the atomic unit of memory: one short structured summary
// of an interaction, accumulated append-only over time.
type MemoryRecord struct {
	// ID is an opaque unique identifier assigned at creation. Immutable.
	ID string `json:"id"`

	// TopicID groups related records over time (same discussion thread or
	// decision area). Required, non-empty; the sole clustering key for
	// compaction. Not unique.
	TopicID string `json:"topic_id"`

	// SessionID optionally identifies the originating interaction session.
	SessionID string `json:"session_id,omitempty"`

	// PlanID is an optional cross-reference to an external tracking identifier.
	PlanID string `json:"plan_id,omitempty"`

	// Status is the lifecycle status. New records are always Active except
	// consolidated records, which are born Consolidated.
	Status RecordStatus `json:"status"`

	// CreatedAt is set once at creation (UTC) and never changes.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt changes only on status transition. Always >= CreatedAt.
	UpdatedAt time.Time `json:"updated_at"`

	// SummaryText is the free-text body and the indexed/searchable payload.
	SummaryText string `json:"summary_text"`

	// Structured list fields. Ordered, optional, may be empty.
	Decisions     []string `json:"decisions,omitempty"`
	Rationale     []string `json:"rationale,omitempty"`
	OpenQuestions []string `json:"open_questions,omitempty"`
	NextSteps     []string `json:"next_steps,omitempty"`
	References    []string `json:"references,omitempty"`

	// SupersededBy references the ID of the Consolidated record that replaced
	// this one. Set only when Status transitions to Superseded.
	SupersededBy string `json:"superseded_by,omitempty"`
}

// Validate checks the record invariants that must hold before persistence.
func (r *MemoryRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record ID is required")
	}
	if r.TopicID == "" {
		return fmt.Errorf("record %s: topic ID is required", r.ID)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("record %s: invalid status %q", r.ID, r.Status)
	}
	if r.Status == StatusSuperseded && r.SupersededBy == "" {
		return fmt.Errorf("record %s: superseded record must reference its consolidated record", r.ID)
	}
	if r.SupersededBy != "" && r.Status != StatusSuperseded {
		return fmt.Errorf("record %s: superseded_by is set but status is %q", r.ID, r.Status)
	}
	if !r.CreatedAt.IsZero() && !r.UpdatedAt.IsZero() && r.UpdatedAt.Before(r.CreatedAt) {
		return fmt.Errorf("record %s: updated_at precedes created_at", r.ID)
	}
	return nil
}

// Package models defines the core domain types for Ember: cases, timeline
// events and the supporting value types shared across packages.
package models

import (
	"strings"
	"time"
)

// CategoryTask is the category carrying due dates and closure semantics.
const CategoryTask = "TASK"

// CategoryInfo is the default category for freshly created events.
const CategoryInfo = "INFO"

// Event is a single timestamped timeline entry belonging to a case.
type Event struct {
	// GUID is the stable unique identifier, assigned by the remote service.
	GUID string `json:"guid"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// Category is one of the case-defined category names (e.g. INFO, TASK).
	Category string `json:"category"`

	// Date is the event's logical timestamp, distinct from Created which is
	// the ingestion timestamp set by the backend.
	Date    time.Time  `json:"date"`
	Created *time.Time `json:"created,omitempty"`

	// DueDate is only meaningful for TASK events.
	DueDate *time.Time `json:"duedate,omitempty"`

	// Closes holds the GUID of another event this one closes. An event closes
	// at most one other event.
	Closes string `json:"closes,omitempty"`

	Starred bool `json:"starred"`
	Trashed bool `json:"trashed"`

	Assignees []string `json:"assignees,omitempty"`

	// Creator is the author's username. Defaulted to the acting user on
	// optimistic inserts before the backend echo fills it in.
	Creator string `json:"creator,omitempty"`
}

// IsTask reports whether the event belongs to the TASK category.
func (e *Event) IsTask() bool {
	return e.Category == CategoryTask
}

// AssignedTo reports whether username is among the event's assignees.
func (e *Event) AssignedTo(username string) bool {
	for _, a := range e.Assignees {
		if a == username {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	cloned := e
	if len(e.Assignees) > 0 {
		cloned.Assignees = append([]string(nil), e.Assignees...)
	}
	if e.Created != nil {
		created := *e.Created
		cloned.Created = &created
	}
	if e.DueDate != nil {
		due := *e.DueDate
		cloned.DueDate = &due
	}
	return cloned
}

// CloneEvents deep-copies a slice of events.
func CloneEvents(events []Event) []Event {
	if len(events) == 0 {
		return nil
	}
	cloned := make([]Event, len(events))
	for i := range events {
		cloned[i] = events[i].Clone()
	}
	return cloned
}

// Validate checks the event for local consistency before submission.
func (e *Event) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(e.Title) == "" {
		errs.AddMessage("title", "title is required")
	}
	if strings.TrimSpace(e.Category) == "" {
		errs.AddMessage("category", "category is required")
	}
	if e.Date.IsZero() {
		errs.AddMessage("date", "date is required")
	}
	return errs.Err()
}

// Category describes one entry of a case's category set.
type Category struct {
	Name        string   `json:"name"`
	Icon        string   `json:"icon"`
	Color       string   `json:"color,omitempty"`
	Description string   `json:"description,omitempty"`
	Groups      []string `json:"groups,omitempty"`
}

// SearchPattern is a server-provided named regular expression offered as a
// one-click timeline filter.
type SearchPattern struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
}

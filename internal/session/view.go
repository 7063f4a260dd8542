package session

import (
	"github.com/emberwatch/ember/internal/models"
	"github.com/emberwatch/ember/internal/timeline"
)

// View is an immutable presentation snapshot of the session. A new value is
// produced on every change; the presentation layer never reaches into the
// session's internals.
type View struct {
	State State
	Case  models.Case

	// Days lists the displayed bucket keys, newest day first.
	Days []string
	// Buckets is the displayed (filtered) bucket set.
	Buckets timeline.Buckets

	Categories  []models.Category
	ActiveUsers []string

	ReadOnly   bool
	FilterMode bool

	// Flagged holds the GUIDs currently carrying the unseen highlight.
	Flagged []string

	// PendingTasks lists TASK events not yet closed, newest first.
	PendingTasks []models.Event
}

func (s *Session) viewLocked() View {
	displayed := s.displayed.Clone()
	return View{
		State:        s.state,
		Case:         s.meta,
		Days:         timeline.SortedKeys(displayed),
		Buckets:      displayed,
		Categories:   append([]models.Category(nil), s.categories...),
		ActiveUsers:  append([]string(nil), s.activeUsers...),
		ReadOnly:     s.readonly,
		FilterMode:   s.filterMode,
		Flagged:      append([]string(nil), s.flagged...),
		PendingTasks: s.events.PendingTasks(),
	}
}

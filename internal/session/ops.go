package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/emberwatch/ember/internal/models"
)

// CreateEvent validates and submits a new event, applying it optimistically.
// The live-channel echo of the same event is absorbed by the store's
// idempotent upsert. The draft is cached before the upload so a lost session
// cannot lose the operator's text.
func (s *Session) CreateEvent(ctx context.Context, ev models.Event) error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if s.readonly {
		s.mu.Unlock()
		return ErrReadOnly
	}
	caseGUID := s.meta.GUID

	if ev.Date.IsZero() {
		ev.Date = time.Now()
	}
	if ev.Category == "" {
		ev.Category = models.CategoryInfo
	}
	if ev.Creator == "" {
		ev.Creator = s.username
	}

	if err := ev.Validate(); err != nil {
		s.mu.Unlock()
		s.sink.Toast(LevelError, "Error", err.Error())
		return err
	}

	// A closing event dated before the task it closes is rejected locally;
	// no network call is issued.
	if ev.Closes != "" {
		if target, ok := s.events.Get(ev.Closes); ok && target.Date.After(ev.Date) {
			s.mu.Unlock()
			msg := "Task is newer than Event: closing Event date cannot be inferior to Task date"
			s.sink.Toast(LevelError, "Error", msg)
			return fmt.Errorf("closing event predates task %s", ev.Closes)
		}
	}
	s.mu.Unlock()

	if ev.GUID == "" {
		ev.GUID = uuid.NewString()
	}

	if s.cache != nil {
		if err := s.cache.PutPendingDraft(caseGUID, ev); err != nil {
			s.logger.Warn().Err(err).Msg("draft cache write failed")
		}
	}

	created, err := s.api.CreateEvent(ctx, caseGUID, ev)
	if err != nil {
		// The draft stays cached for recovery on the next visit.
		return fmt.Errorf("create event: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.ClearPendingDraft(); err != nil {
			s.logger.Warn().Err(err).Msg("draft cache clear failed")
		}
	}
	if created.GUID == "" {
		created = ev
	}
	if created.Creator == "" {
		created.Creator = s.username
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateOpen {
		s.events.Upsert(created)
	}
	return nil
}

// CloseTask builds and submits the conventional closing event for a task.
func (s *Session) CloseTask(ctx context.Context, task models.Event) error {
	return s.CreateEvent(ctx, models.Event{
		Title:    fmt.Sprintf("[OK] %s", task.Title),
		Category: models.CategoryInfo,
		Closes:   task.GUID,
		Date:     time.Now(),
	})
}

// ReplaceEvent trashes an event and submits its replacement, the clone-edit
// flow. Each store call emits its own change notification.
func (s *Session) ReplaceEvent(ctx context.Context, oldGUID string, replacement models.Event) error {
	s.mu.Lock()
	caseGUID := s.meta.GUID
	s.mu.Unlock()

	if err := s.api.TrashEvent(ctx, caseGUID, oldGUID); err != nil {
		return fmt.Errorf("trash event: %w", err)
	}
	s.mu.Lock()
	s.events.Remove(oldGUID)
	s.mu.Unlock()

	return s.CreateEvent(ctx, replacement)
}

// ToggleStar flips the starred flag.
func (s *Session) ToggleStar(ctx context.Context, eventGUID string) error {
	s.mu.Lock()
	if s.readonly {
		s.mu.Unlock()
		return ErrReadOnly
	}
	caseGUID := s.meta.GUID
	current, ok := s.events.Get(eventGUID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown event %s", eventGUID)
	}

	if err := s.api.StarEvent(ctx, caseGUID, eventGUID); err != nil {
		return fmt.Errorf("star event: %w", err)
	}
	s.mu.Lock()
	s.events.SetStar(eventGUID, !current.Starred)
	s.mu.Unlock()
	return nil
}

// TrashEvent moves an event to the trash.
func (s *Session) TrashEvent(ctx context.Context, eventGUID string) error {
	s.mu.Lock()
	if s.readonly {
		s.mu.Unlock()
		return ErrReadOnly
	}
	caseGUID := s.meta.GUID
	s.mu.Unlock()

	if err := s.api.TrashEvent(ctx, caseGUID, eventGUID); err != nil {
		return fmt.Errorf("trash event: %w", err)
	}
	s.mu.Lock()
	s.events.Remove(eventGUID)
	s.mu.Unlock()
	return nil
}

// RestoreEvent restores a trashed event. The echo of the restore is absorbed
// by RestoreIfAbsent.
func (s *Session) RestoreEvent(ctx context.Context, ev models.Event) error {
	s.mu.Lock()
	if s.readonly {
		s.mu.Unlock()
		return ErrReadOnly
	}
	caseGUID := s.meta.GUID
	s.mu.Unlock()

	if err := s.api.RestoreEvent(ctx, caseGUID, ev.GUID); err != nil {
		return fmt.Errorf("restore event: %w", err)
	}
	s.mu.Lock()
	if s.state == StateOpen {
		s.events.RestoreIfAbsent(ev)
	}
	s.mu.Unlock()
	return nil
}

// DeleteEvent permanently removes an event (from the trash view).
func (s *Session) DeleteEvent(ctx context.Context, eventGUID string) error {
	s.mu.Lock()
	caseGUID := s.meta.GUID
	s.mu.Unlock()

	if err := s.api.DeleteEvent(ctx, caseGUID, eventGUID); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	s.mu.Lock()
	s.events.Remove(eventGUID)
	s.mu.Unlock()
	return nil
}

// Trash fetches the trashed events, newest first.
func (s *Session) Trash(ctx context.Context) ([]models.Event, error) {
	s.mu.Lock()
	caseGUID := s.meta.GUID
	s.mu.Unlock()

	events, err := s.api.FetchTrash(ctx, caseGUID)
	if err != nil {
		return nil, fmt.Errorf("fetch trash: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.After(events[j].Date)
	})
	return events, nil
}

// CloseCase closes the case. The lifecycle transition runs through the same
// idempotent path as a live update, so the echo cannot double-apply it.
func (s *Session) CloseCase(ctx context.Context) error {
	s.mu.Lock()
	caseGUID := s.meta.GUID
	s.mu.Unlock()

	closed := time.Now().UTC().Format(time.RFC3339)
	updated, err := s.api.UpdateCase(ctx, caseGUID, models.CasePatch{Closed: &closed})
	if err != nil {
		return fmt.Errorf("close case: %w", err)
	}
	s.mu.Lock()
	s.applyCaseUpdateLocked(updated)
	s.mu.Unlock()
	return nil
}

// ReopenCase reopens a closed case and re-baselines the store.
func (s *Session) ReopenCase(ctx context.Context) error {
	s.mu.Lock()
	caseGUID := s.meta.GUID
	s.mu.Unlock()

	empty := ""
	updated, err := s.api.UpdateCase(ctx, caseGUID, models.CasePatch{Closed: &empty})
	if err != nil {
		return fmt.Errorf("reopen case: %w", err)
	}
	s.mu.Lock()
	s.applyCaseUpdateLocked(updated)
	s.mu.Unlock()
	return nil
}

// SetUTCDisplay switches the bucketing zone for every viewer of the case.
func (s *Session) SetUTCDisplay(ctx context.Context, utc bool) error {
	s.mu.Lock()
	caseGUID := s.meta.GUID
	s.mu.Unlock()

	updated, err := s.api.UpdateCase(ctx, caseGUID, models.CasePatch{UTCDisplay: &utc})
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	s.mu.Lock()
	s.applyCaseUpdateLocked(updated)
	s.mu.Unlock()
	return nil
}

// DeleteCase deletes the case outright.
func (s *Session) DeleteCase(ctx context.Context) error {
	s.mu.Lock()
	caseGUID := s.meta.GUID
	s.mu.Unlock()

	if err := s.api.DeleteCase(ctx, caseGUID); err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	return nil
}

// RecoverDraft returns a cached draft for this case, if one survived a lost
// session.
func (s *Session) RecoverDraft() (models.Event, bool) {
	if s.cache == nil {
		return models.Event{}, false
	}
	caseGUID, ev, ok := s.cache.PendingDraft()
	if !ok {
		return models.Event{}, false
	}
	s.mu.Lock()
	match := caseGUID == s.meta.GUID
	s.mu.Unlock()
	if !match {
		return models.Event{}, false
	}
	return ev, true
}

package session

import (
	"github.com/emberwatch/ember/internal/models"
	"github.com/emberwatch/ember/internal/timeline"
)

// SetSearchPatterns installs the server-provided named patterns available
// for selection.
func (s *Session) SetSearchPatterns(patterns []models.SearchPattern) {
	s.mu.Lock()
	s.patterns = patterns
	s.mu.Unlock()
}

// EnterFilterMode activates filtering with every category selected and no
// patterns, mirroring the unfiltered view until the operator narrows it.
func (s *Session) EnterFilterMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return
	}
	categories := make(map[string]struct{}, len(s.categories))
	for _, c := range s.categories {
		categories[c.Name] = struct{}{}
	}
	s.filterMode = true
	s.filter = timeline.FilterState{Categories: categories}
	s.applyFilterLocked()
}

// LeaveFilterMode cancels filtering and restores the full bucket set.
func (s *Session) LeaveFilterMode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterMode = false
	s.filter = timeline.FilterState{}
	s.displayed = s.buckets.Clone()
	s.emitLocked()
}

// ToggleCategory flips one category in the selection and re-runs the filter
// from the full bucket set.
func (s *Session) ToggleCategory(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filterMode {
		return nil
	}
	if s.filter.Categories == nil {
		s.filter.Categories = make(map[string]struct{})
	}
	if _, ok := s.filter.Categories[name]; ok {
		delete(s.filter.Categories, name)
	} else {
		s.filter.Categories[name] = struct{}{}
	}
	return s.applyFilterLocked()
}

// SelectAllCategories selects every known category.
func (s *Session) SelectAllCategories() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filterMode {
		return nil
	}
	categories := make(map[string]struct{}, len(s.categories))
	for _, c := range s.categories {
		categories[c.Name] = struct{}{}
	}
	s.filter.Categories = categories
	return s.applyFilterLocked()
}

// DeselectAllCategories empties the selection, excluding everything.
func (s *Session) DeselectAllCategories() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filterMode {
		return nil
	}
	s.filter.Categories = make(map[string]struct{})
	return s.applyFilterLocked()
}

// SetFreeText updates the ad-hoc pattern and re-runs the filter. A pattern
// that fails to compile leaves the previous display untouched and surfaces
// the error.
func (s *Session) SetFreeText(pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filterMode {
		return nil
	}
	previous := s.filter.FreeText
	s.filter.FreeText = pattern
	if err := s.applyFilterLocked(); err != nil {
		s.filter.FreeText = previous
		return err
	}
	return nil
}

// ToggleNamedPattern selects or deselects one of the server-provided search
// patterns by name.
func (s *Session) ToggleNamedPattern(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filterMode {
		return nil
	}
	if _, selected := s.filter.Patterns[name]; selected {
		delete(s.filter.Patterns, name)
		return s.applyFilterLocked()
	}
	for _, sp := range s.patterns {
		if sp.Name == name {
			if s.filter.Patterns == nil {
				s.filter.Patterns = make(map[string]string)
			}
			s.filter.Patterns[name] = sp.Pattern
			return s.applyFilterLocked()
		}
	}
	return nil
}

// ResetPatterns clears the free-text and named patterns, keeping the
// category selection.
func (s *Session) ResetPatterns() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.filterMode {
		return nil
	}
	s.filter.FreeText = ""
	s.filter.Patterns = nil
	return s.applyFilterLocked()
}

// applyFilterLocked re-derives the displayed buckets from the full set. On a
// compile error the previous display stays as-is and the error is both
// toasted and returned.
func (s *Session) applyFilterLocked() error {
	displayed, err := timeline.Apply(s.buckets, s.filter)
	if err != nil {
		s.sink.Toast(LevelError, "Error", "Error while parsing Regex expression")
		return err
	}
	s.displayed = displayed
	s.emitLocked()
	return nil
}

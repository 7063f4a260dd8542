package timeline

import (
	"fmt"
	"regexp"

	"github.com/emberwatch/ember/internal/models"
)

// FilterState describes the active timeline filter.
//
// A nil Categories map signals no category restriction; an empty non-nil map
// excludes every category. Named patterns are the selected server-provided
// search patterns; FreeText is the user's ad-hoc pattern, matched
// case-insensitively. With no patterns and no category restriction the filter
// is inactive and Apply is the identity.
type FilterState struct {
	Categories map[string]struct{}
	Patterns   map[string]string
	FreeText   string
}

// Active reports whether the filter restricts the displayed set at all.
func (f FilterState) Active() bool {
	return f.Categories != nil || len(f.Patterns) > 0 || f.FreeText != ""
}

func (f FilterState) categoryAllowed(category string) bool {
	if f.Categories == nil {
		return true
	}
	_, ok := f.Categories[category]
	return ok
}

// compile builds the OR'd pattern set. Named patterns keep their own casing
// rules; the free-text pattern is case-insensitive.
func (f FilterState) compile() ([]*regexp.Regexp, error) {
	patterns := make([]*regexp.Regexp, 0, len(f.Patterns)+1)
	for name, src := range f.Patterns {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
		patterns = append(patterns, re)
	}
	if f.FreeText != "" {
		re, err := regexp.Compile("(?i)" + f.FreeText)
		if err != nil {
			return nil, fmt.Errorf("free-text pattern: %w", err)
		}
		patterns = append(patterns, re)
	}
	return patterns, nil
}

// Apply derives the displayed bucket set from the full bucket set. Buckets
// that end up empty are dropped. An event passes when its category is allowed
// and, if any patterns are set, at least one pattern matches its title or
// description.
//
// A pattern that fails to compile aborts the whole application: the error is
// returned and the caller keeps its previously displayed buckets unchanged.
func Apply(buckets Buckets, state FilterState) (Buckets, error) {
	if !state.Active() {
		return buckets.Clone(), nil
	}

	patterns, err := state.compile()
	if err != nil {
		return nil, err
	}

	filtered := make(Buckets)
	for key, events := range buckets {
		var matched []models.Event
		for _, ev := range events {
			if !state.categoryAllowed(ev.Category) {
				continue
			}
			if len(patterns) > 0 && !anyMatch(patterns, ev) {
				continue
			}
			matched = append(matched, ev.Clone())
		}
		if len(matched) > 0 {
			filtered[key] = matched
		}
	}
	return filtered, nil
}

func anyMatch(patterns []*regexp.Regexp, ev models.Event) bool {
	for _, re := range patterns {
		if re.MatchString(ev.Title) || re.MatchString(ev.Description) {
			return true
		}
	}
	return false
}

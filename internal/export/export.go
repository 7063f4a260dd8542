// Package export renders a case timeline to portable formats for reporting.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emberwatch/ember/internal/models"
	"github.com/emberwatch/ember/internal/timeline"
)

// Field names selectable for markdown export.
const (
	FieldDescription = "description"
	FieldCategory    = "category"
	FieldCreator     = "creator"
	FieldAssignees   = "assignees"
)

// DefaultFields is the markdown field set when none is given.
var DefaultFields = []string{FieldDescription, FieldCategory, FieldCreator}

// Options controls what ends up in the export.
type Options struct {
	// StarredOnly keeps only starred events.
	StarredOnly bool
	// Fields selects the per-event detail lines for markdown output. Ignored
	// by the JSON export, which always carries full events.
	Fields []string
}

func selectEvents(buckets timeline.Buckets, starredOnly bool) timeline.Buckets {
	if !starredOnly {
		return buckets
	}
	kept := make(timeline.Buckets, len(buckets))
	for day, events := range buckets {
		for _, ev := range events {
			if ev.Starred {
				kept[day] = append(kept[day], ev)
			}
		}
	}
	return kept
}

type jsonDay struct {
	Date   string         `json:"date"`
	Events []models.Event `json:"events"`
}

type jsonExport struct {
	Case     models.Case `json:"case"`
	Exported time.Time   `json:"exported"`
	Days     []jsonDay   `json:"days"`
}

// WriteJSON writes the timeline as a single JSON document, newest day first.
func WriteJSON(w io.Writer, meta models.Case, buckets timeline.Buckets, opts Options) error {
	selected := selectEvents(buckets, opts.StarredOnly)

	doc := jsonExport{Case: meta, Exported: time.Now().UTC()}
	for _, day := range timeline.SortedKeys(selected) {
		doc.Days = append(doc.Days, jsonDay{Date: day, Events: selected[day]})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: encode json: %w", err)
	}
	return nil
}

// WriteMarkdown writes the timeline as a markdown report, one section per day,
// newest day first, events newest first within the day.
func WriteMarkdown(w io.Writer, meta models.Case, buckets timeline.Buckets, opts Options) error {
	fields := opts.Fields
	if len(fields) == 0 {
		fields = DefaultFields
	}
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[strings.ToLower(f)] = true
	}

	selected := selectEvents(buckets, opts.StarredOnly)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", meta.Name)
	if meta.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", meta.Description)
	}
	if meta.IsClosed() {
		fmt.Fprintf(&b, "\nClosed: %s\n", meta.Closed)
	}

	for _, day := range timeline.SortedKeys(selected) {
		fmt.Fprintf(&b, "\n## %s\n\n", day)
		for _, ev := range selected[day] {
			writeEvent(&b, ev, want, meta.UTCDisplay)
		}
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("export: write markdown: %w", err)
	}
	return nil
}

func writeEvent(b *strings.Builder, ev models.Event, want map[string]bool, utc bool) {
	stamp := ev.Date
	if utc {
		stamp = stamp.UTC()
	}
	marker := ""
	if ev.Starred {
		marker = " ★"
	}
	fmt.Fprintf(b, "- **%s** %s%s\n", stamp.Format("15:04"), ev.Title, marker)

	if want[FieldCategory] && ev.Category != "" {
		fmt.Fprintf(b, "  - category: %s\n", ev.Category)
	}
	if want[FieldCreator] && ev.Creator != "" {
		fmt.Fprintf(b, "  - creator: %s\n", ev.Creator)
	}
	if want[FieldAssignees] && len(ev.Assignees) > 0 {
		names := append([]string(nil), ev.Assignees...)
		sort.Strings(names)
		fmt.Fprintf(b, "  - assignees: %s\n", strings.Join(names, ", "))
	}
	if want[FieldDescription] && ev.Description != "" {
		for _, line := range strings.Split(strings.TrimRight(ev.Description, "\n"), "\n") {
			fmt.Fprintf(b, "  > %s\n", line)
		}
	}
}

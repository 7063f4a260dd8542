// Package timeline derives presentation views from event snapshots: calendar
// day buckets and the filtered subset of those buckets. Both derivations are
// pure functions of their inputs so they can be recomputed from scratch on
// every store change.
package timeline

import (
	"sort"
	"time"

	"github.com/emberwatch/ember/internal/models"
)

// DayKeyFormat is the calendar-day bucket key layout.
const DayKeyFormat = "2006-01-02"

// Buckets maps a calendar-day key to the events of that day, newest first.
type Buckets map[string][]models.Event

// Bucket groups events into calendar-day buckets. The day key is computed in
// UTC when utcDisplay is set, otherwise in localZone. Events inside a bucket
// are sorted descending by date; identical dates keep their input order.
func Bucket(events []models.Event, utcDisplay bool, localZone *time.Location) Buckets {
	zone := localZone
	if utcDisplay || zone == nil {
		zone = time.UTC
	}

	buckets := make(Buckets)
	for _, ev := range events {
		key := ev.Date.In(zone).Format(DayKeyFormat)
		buckets[key] = append(buckets[key], ev.Clone())
	}

	for _, dayEvents := range buckets {
		sort.SliceStable(dayEvents, func(i, j int) bool {
			return dayEvents[i].Date.After(dayEvents[j].Date)
		})
	}
	return buckets
}

// SortedKeys returns the bucket day keys newest first.
func SortedKeys(buckets Buckets) []string {
	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys
}

// Clone deep-copies a bucket set so callers can hold a displayed view while
// the source is recomputed.
func (b Buckets) Clone() Buckets {
	if b == nil {
		return nil
	}
	cloned := make(Buckets, len(b))
	for key, events := range b {
		cloned[key] = models.CloneEvents(events)
	}
	return cloned
}

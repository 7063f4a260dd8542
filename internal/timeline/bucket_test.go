package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberwatch/ember/internal/models"
)

var paris = mustLoadLocation("Europe/Paris")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func event(guid string, date time.Time) models.Event {
	return models.Event{GUID: guid, Title: guid, Category: models.CategoryInfo, Date: date}
}

func TestBucketGroupsByDay(t *testing.T) {
	events := []models.Event{
		event("a", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		event("b", time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC)),
		event("c", time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)),
	}

	buckets := Bucket(events, true, nil)
	require.Len(t, buckets, 2)
	require.Len(t, buckets["2024-01-01"], 2)
	require.Len(t, buckets["2024-01-02"], 1)
}

func TestBucketNewestFirstWithinDay(t *testing.T) {
	events := []models.Event{
		event("early", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		event("late", time.Date(2024, 1, 1, 21, 0, 0, 0, time.UTC)),
		event("noon", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
	}

	buckets := Bucket(events, true, nil)
	day := buckets["2024-01-01"]
	require.Equal(t, []string{"late", "noon", "early"}, []string{day[0].GUID, day[1].GUID, day[2].GUID})
}

func TestBucketStableOrderOnEqualDates(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []models.Event{event("first", at), event("second", at), event("third", at)}

	buckets := Bucket(events, true, nil)
	day := buckets["2024-01-01"]
	require.Equal(t, []string{"first", "second", "third"}, []string{day[0].GUID, day[1].GUID, day[2].GUID})
}

func TestBucketIsPure(t *testing.T) {
	events := []models.Event{
		event("a", time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)),
		event("b", time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC)),
	}

	require.Equal(t, Bucket(events, true, paris), Bucket(events, true, paris))
	require.Equal(t, Bucket(events, false, paris), Bucket(events, false, paris))
}

func TestBucketTimezoneFlipMovesDateLineCrossers(t *testing.T) {
	// 23:30 UTC on June 1st is already June 2nd in Paris (UTC+2 in summer).
	crosser := event("crosser", time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC))

	utc := Bucket([]models.Event{crosser}, true, paris)
	local := Bucket([]models.Event{crosser}, false, paris)

	require.Contains(t, utc, "2024-06-01")
	require.Contains(t, local, "2024-06-02")
}

func TestSortedKeysNewestFirst(t *testing.T) {
	buckets := Buckets{
		"2024-01-01": nil,
		"2024-03-15": nil,
		"2023-12-31": nil,
	}
	require.Equal(t, []string{"2024-03-15", "2024-01-01", "2023-12-31"}, SortedKeys(buckets))
}

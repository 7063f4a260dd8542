package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberwatch/ember/internal/live"
	"github.com/emberwatch/ember/internal/models"
)

type fakeAPI struct {
	mu sync.Mutex

	caseMeta   models.Case
	caseErr    error
	events     []models.Event
	eventsErr  error
	categories []models.Category

	createdEvents []models.Event
	trashed       []string
	starred       []string
	restored      []string
	deleted       []string
	patches       []models.CasePatch
	fetchEvents   int

	subscribeBody io.ReadCloser
}

func (f *fakeAPI) FetchCase(ctx context.Context, caseGUID string) (models.Case, error) {
	return f.caseMeta, f.caseErr
}

func (f *fakeAPI) FetchEvents(ctx context.Context, caseGUID string) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchEvents++
	return models.CloneEvents(f.events), f.eventsErr
}

func (f *fakeAPI) FetchCategories(ctx context.Context, caseGUID string) ([]models.Category, error) {
	return f.categories, nil
}

func (f *fakeAPI) FetchTrash(ctx context.Context, caseGUID string) ([]models.Event, error) {
	return nil, nil
}

func (f *fakeAPI) Subscribe(ctx context.Context, caseGUID string) (io.ReadCloser, error) {
	if f.subscribeBody != nil {
		return f.subscribeBody, nil
	}
	pr, _ := io.Pipe()
	return pr, nil
}

func (f *fakeAPI) CreateEvent(ctx context.Context, caseGUID string, ev models.Event) (models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdEvents = append(f.createdEvents, ev)
	return ev, nil
}

func (f *fakeAPI) UpdateCase(ctx context.Context, caseGUID string, patch models.CasePatch) (models.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	updated := f.caseMeta
	if patch.Closed != nil {
		updated.Closed = *patch.Closed
	}
	if patch.UTCDisplay != nil {
		updated.UTCDisplay = *patch.UTCDisplay
	}
	f.caseMeta = updated
	return updated, nil
}

func (f *fakeAPI) StarEvent(ctx context.Context, caseGUID, eventGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starred = append(f.starred, eventGUID)
	return nil
}

func (f *fakeAPI) TrashEvent(ctx context.Context, caseGUID, eventGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trashed = append(f.trashed, eventGUID)
	return nil
}

func (f *fakeAPI) RestoreEvent(ctx context.Context, caseGUID, eventGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, eventGUID)
	return nil
}

func (f *fakeAPI) DeleteEvent(ctx context.Context, caseGUID, eventGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventGUID)
	return nil
}

func (f *fakeAPI) DeleteCase(ctx context.Context, caseGUID string) error {
	return nil
}

func (f *fakeAPI) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createdEvents)
}

func (f *fakeAPI) fetchEventsCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchEvents
}

type toast struct {
	level          Level
	title, message string
}

type recordingSink struct {
	mu     sync.Mutex
	views  []View
	toasts []toast
	navs   []NavIntent
}

func (r *recordingSink) ViewChanged(view View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, view)
}

func (r *recordingSink) Toast(level Level, title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, toast{level, title, message})
}

func (r *recordingSink) Navigate(intent NavIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navs = append(r.navs, intent)
}

func (r *recordingSink) lastView() (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return View{}, false
	}
	return r.views[len(r.views)-1], true
}

func (r *recordingSink) toastCount(title string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, tm := range r.toasts {
		if tm.title == title {
			n++
		}
	}
	return n
}

func (r *recordingSink) navIntents() []NavIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NavIntent(nil), r.navs...)
}

func openCase(guid string) models.Case {
	return models.Case{
		GUID:       guid,
		Name:       "intrusion",
		ACS:        []string{"csirt", "alice"},
		UTCDisplay: true,
	}
}

func infoEvent(guid string, date time.Time) models.Event {
	return models.Event{GUID: guid, Title: "event " + guid, Category: models.CategoryInfo, Date: date, Creator: "bob"}
}

func startSession(t *testing.T, api *fakeAPI) (*Session, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	s := New(Config{
		API:       api,
		Sink:      sink,
		CaseGUID:  api.caseMeta.GUID,
		Username:  "alice",
		Groups:    []string{"csirt"},
		LocalZone: time.UTC,
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s, sink
}

func TestStartSeedsAndOpens(t *testing.T) {
	api := &fakeAPI{
		caseMeta: openCase("c1"),
		events: []models.Event{
			infoEvent("a", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
			infoEvent("b", time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)),
		},
	}
	s, sink := startSession(t, api)

	require.Equal(t, StateOpen, s.View().State)
	view, ok := sink.lastView()
	require.True(t, ok)
	require.Len(t, view.Buckets, 2)
	require.Equal(t, []string{"2024-01-02", "2024-01-01"}, view.Days)
}

func TestLiveEchoOfSeededEventIsDeduplicated(t *testing.T) {
	api := &fakeAPI{
		caseMeta: openCase("c1"),
		events:   []models.Event{infoEvent("a", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))},
	}
	s, _ := startSession(t, api)

	echo := infoEvent("a", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	s.Apply(live.Message{Kind: live.KindCreateEvent, Event: &echo})

	view := s.View()
	require.Len(t, view.Buckets["2024-01-01"], 1)
}

func TestClosedCaseSuppressesEventMutations(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, sink := startSession(t, api)

	closedMeta := api.caseMeta
	closedMeta.Closed = "2024-02-01T00:00:00Z"
	s.Apply(live.Message{Kind: live.KindUpdateCase, Case: &closedMeta})

	require.Equal(t, StateClosed, s.View().State)
	require.Equal(t, 1, sink.toastCount("Error"))

	ev := infoEvent("late", time.Now())
	s.Apply(live.Message{Kind: live.KindCreateEvent, Event: &ev})
	require.Empty(t, s.View().Buckets)
}

func TestDuplicateCloseMessagesAreIdempotent(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, sink := startSession(t, api)

	closedMeta := api.caseMeta
	closedMeta.Closed = "2024-02-01T00:00:00Z"
	s.Apply(live.Message{Kind: live.KindUpdateCase, Case: &closedMeta})
	s.Apply(live.Message{Kind: live.KindUpdateCase, Case: &closedMeta})

	// A second identical close must not double-toast or double-clear.
	require.Equal(t, 1, sink.toastCount("Error"))
	require.Equal(t, StateClosed, s.View().State)
}

func TestReopenReseedsViaFreshBulkLoad(t *testing.T) {
	meta := openCase("c1")
	meta.Closed = "2024-02-01T00:00:00Z"
	api := &fakeAPI{caseMeta: meta}
	s, _ := startSession(t, api)
	require.Equal(t, StateClosed, s.View().State)

	api.mu.Lock()
	api.events = []models.Event{infoEvent("a", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))}
	api.mu.Unlock()

	reopened := openCase("c1")
	s.Apply(live.Message{Kind: live.KindUpdateCase, Case: &reopened})

	require.Eventually(t, func() bool {
		view := s.View()
		return view.State == StateOpen && len(view.Buckets) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, api.fetchEventsCount())
}

func TestIdentityChangeRedirectsSilently(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, sink := startSession(t, api)

	reattached := openCase("c2")
	s.Apply(live.Message{Kind: live.KindUpdateCase, Case: &reattached})

	require.Equal(t, StateTerminal, s.View().State)
	navs := sink.navIntents()
	require.Len(t, navs, 1)
	require.Equal(t, "c2", navs[0].CaseGUID)
	require.False(t, navs[0].Home)
}

func TestACSLossForcesRedirectHome(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, sink := startSession(t, api)

	restricted := openCase("c1")
	restricted.ACS = []string{"managers"}
	s.Apply(live.Message{Kind: live.KindUpdateCase, Case: &restricted})

	require.Equal(t, StateTerminal, s.View().State)
	navs := sink.navIntents()
	require.Len(t, navs, 1)
	require.True(t, navs[0].Home)
}

func TestDeleteCaseTerminates(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, sink := startSession(t, api)

	s.Apply(live.Message{Kind: live.KindDeleteCase})

	require.Equal(t, StateTerminal, s.View().State)
	require.Len(t, sink.navIntents(), 1)

	// Later messages against the dead session are dropped.
	ev := infoEvent("x", time.Now())
	s.Apply(live.Message{Kind: live.KindCreateEvent, Event: &ev})
	require.Empty(t, s.View().Buckets)
}

func TestBulkLoadFailureIsFatal(t *testing.T) {
	api := &fakeAPI{caseErr: errors.New("boom"), caseMeta: models.Case{GUID: "c1"}}
	sink := &recordingSink{}
	s := New(Config{API: api, Sink: sink, CaseGUID: "c1", Username: "alice", LocalZone: time.UTC})

	require.Error(t, s.Start(context.Background()))
	require.Equal(t, StateTerminal, s.View().State)
	navs := sink.navIntents()
	require.Len(t, navs, 1)
	require.True(t, navs[0].Home)
	require.NotEmpty(t, navs[0].Message)
}

func TestSubscriberRoster(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, _ := startSession(t, api)

	s.Apply(live.Message{Kind: live.KindSubscribers, Usernames: []string{"alice", "bob"}})
	require.Equal(t, []string{"alice", "bob"}, s.View().ActiveUsers)

	s.Apply(live.Message{Kind: live.KindSubscribe, Username: "carol"})
	s.Apply(live.Message{Kind: live.KindSubscribe, Username: "carol"})
	require.Equal(t, []string{"alice", "bob", "carol"}, s.View().ActiveUsers)

	s.Apply(live.Message{Kind: live.KindUnsubscribe, Username: "bob"})
	require.Equal(t, []string{"alice", "carol"}, s.View().ActiveUsers)
}

func TestTaskAssignmentToast(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, sink := startSession(t, api)

	task := models.Event{
		GUID:      "t1",
		Title:     "triage host",
		Category:  models.CategoryTask,
		Date:      time.Now(),
		Assignees: []string{"alice"},
		Creator:   "bob",
	}
	s.Apply(live.Message{Kind: live.KindCreateEvent, Event: &task})
	require.Equal(t, 1, sink.toastCount("New task!"))

	// The duplicate delivery must not toast again.
	s.Apply(live.Message{Kind: live.KindCreateEvent, Event: &task})
	require.Equal(t, 1, sink.toastCount("New task!"))
}

func TestCreateEventOptimisticThenEcho(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, _ := startSession(t, api)

	require.NoError(t, s.CreateEvent(context.Background(), models.Event{Title: "note"}))
	require.Equal(t, 1, api.createCount())

	view := s.View()
	var total int
	for _, events := range view.Buckets {
		total += len(events)
	}
	require.Equal(t, 1, total)

	// The echo of our own create arrives over the live channel.
	created := api.createdEvents[0]
	s.Apply(live.Message{Kind: live.KindCreateEvent, Event: &created})

	view = s.View()
	total = 0
	for _, events := range view.Buckets {
		total += len(events)
	}
	require.Equal(t, 1, total)
}

func TestCreateEventDefaultsCreator(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, _ := startSession(t, api)

	require.NoError(t, s.CreateEvent(context.Background(), models.Event{Title: "note"}))
	require.Equal(t, "alice", api.createdEvents[0].Creator)
	require.NotEmpty(t, api.createdEvents[0].GUID)
}

func TestClosingEventPredatingTaskIsRejectedLocally(t *testing.T) {
	task := infoEvent("t1", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	task.Category = models.CategoryTask
	api := &fakeAPI{caseMeta: openCase("c1"), events: []models.Event{task}}
	s, sink := startSession(t, api)

	err := s.CreateEvent(context.Background(), models.Event{
		Title:  "[OK] done",
		Closes: "t1",
		Date:   time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	require.Zero(t, api.createCount())
	require.Equal(t, 1, sink.toastCount("Error"))
}

func TestCreateEventRejectedWhenClosed(t *testing.T) {
	meta := openCase("c1")
	meta.Closed = "2024-02-01T00:00:00Z"
	api := &fakeAPI{caseMeta: meta}
	s, _ := startSession(t, api)

	err := s.CreateEvent(context.Background(), models.Event{Title: "nope"})
	require.ErrorIs(t, err, ErrNotOpen)
	require.Zero(t, api.createCount())
}

func TestFilterFlow(t *testing.T) {
	api := &fakeAPI{
		caseMeta:   openCase("c1"),
		categories: []models.Category{{Name: "INFO"}, {Name: "TASK"}},
		events: []models.Event{
			{GUID: "t1", Title: "urgent fix", Category: "TASK", Date: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
			{GUID: "t2", Title: "fix", Category: "TASK", Date: time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)},
			{GUID: "i1", Title: "urgent", Category: "INFO", Date: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		},
	}
	s, _ := startSession(t, api)

	s.EnterFilterMode()
	require.True(t, s.View().FilterMode)

	// Narrow to TASK + "urgent": only t1 remains.
	require.NoError(t, s.ToggleCategory("INFO"))
	require.NoError(t, s.SetFreeText("urgent"))

	view := s.View()
	require.Len(t, view.Buckets["2024-01-01"], 1)
	require.Equal(t, "t1", view.Buckets["2024-01-01"][0].GUID)

	s.LeaveFilterMode()
	view = s.View()
	require.Len(t, view.Buckets["2024-01-01"], 3)
}

func TestBadFilterPatternKeepsPreviousDisplay(t *testing.T) {
	api := &fakeAPI{
		caseMeta:   openCase("c1"),
		categories: []models.Category{{Name: "INFO"}},
		events:     []models.Event{infoEvent("a", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))},
	}
	s, sink := startSession(t, api)

	s.EnterFilterMode()
	before := s.View()

	err := s.SetFreeText("(unclosed")
	require.Error(t, err)
	require.GreaterOrEqual(t, sink.toastCount("Error"), 1)

	after := s.View()
	require.Equal(t, before.Buckets, after.Buckets)
}

func TestCloseAndReopenCaseOwnActions(t *testing.T) {
	api := &fakeAPI{caseMeta: openCase("c1")}
	s, _ := startSession(t, api)

	require.NoError(t, s.CloseCase(context.Background()))
	require.Equal(t, StateClosed, s.View().State)
	require.True(t, s.View().ReadOnly)

	require.NoError(t, s.ReopenCase(context.Background()))
	require.Eventually(t, func() bool {
		return s.View().State == StateOpen
	}, time.Second, 5*time.Millisecond)
	require.False(t, s.View().ReadOnly)
}

func TestUTCDisplayFlipRebuckets(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	meta := openCase("c1")
	meta.UTCDisplay = true
	// 23:30 UTC on June 1st lands on June 2nd in Paris.
	api := &fakeAPI{caseMeta: meta, events: []models.Event{infoEvent("x", time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC))}}

	sink := &recordingSink{}
	s := New(Config{API: api, Sink: sink, CaseGUID: "c1", Username: "alice", Groups: []string{"csirt"}, LocalZone: paris})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	require.Contains(t, s.View().Buckets, "2024-06-01")

	require.NoError(t, s.SetUTCDisplay(context.Background(), false))
	require.Contains(t, s.View().Buckets, "2024-06-02")
}

func TestStarTrashRestoreRoundTrip(t *testing.T) {
	ev := infoEvent("a", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	api := &fakeAPI{caseMeta: openCase("c1"), events: []models.Event{ev}}
	s, _ := startSession(t, api)

	require.NoError(t, s.ToggleStar(context.Background(), "a"))
	require.Equal(t, []string{"a"}, api.starred)
	require.True(t, s.View().Buckets["2024-01-01"][0].Starred)

	require.NoError(t, s.TrashEvent(context.Background(), "a"))
	require.Empty(t, s.View().Buckets)

	require.NoError(t, s.RestoreEvent(context.Background(), ev))
	require.Len(t, s.View().Buckets["2024-01-01"], 1)

	// The restore echo is absorbed.
	s.Apply(live.Message{Kind: live.KindRestoreEvent, Event: &ev})
	require.Len(t, s.View().Buckets["2024-01-01"], 1)
}

func TestPendingTasksInView(t *testing.T) {
	task := models.Event{GUID: "t1", Title: "check", Category: models.CategoryTask, Date: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	closer := models.Event{GUID: "c9", Title: "[OK] check", Category: models.CategoryInfo, Closes: "t1", Date: time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)}
	open := models.Event{GUID: "t2", Title: "open", Category: models.CategoryTask, Date: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	api := &fakeAPI{caseMeta: openCase("c1"), events: []models.Event{task, closer, open}}
	s, _ := startSession(t, api)

	pending := s.View().PendingTasks
	require.Len(t, pending, 1)
	require.Equal(t, "t2", pending[0].GUID)
}

// Package session owns one case view: it drives the case lifecycle state
// machine, seeds the event store from the bulk load, arms the live channel
// once seeding is done and translates every live message into an idempotent
// store operation or a lifecycle transition.
//
// A session is single-owner: no two sessions share a store. All outputs go
// through the Sink as plain values (view snapshots, toast strings, navigation
// intents); the session never touches presentation directly.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberwatch/ember/internal/live"
	"github.com/emberwatch/ember/internal/logging"
	"github.com/emberwatch/ember/internal/models"
	"github.com/emberwatch/ember/internal/notify"
	"github.com/emberwatch/ember/internal/store"
	"github.com/emberwatch/ember/internal/timeline"
)

// State is the case session lifecycle state.
type State string

const (
	StateLoading  State = "loading"
	StateOpen     State = "open"
	StateClosed   State = "closed"
	StateTerminal State = "terminal"
)

// Level classifies a toast message.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// NavIntent is an opaque navigation request toward the presentation layer.
type NavIntent struct {
	// CaseGUID, when set, asks for a silent re-pointing to another case.
	CaseGUID string
	// Home asks for a return to the case list.
	Home bool
	// Message optionally accompanies the navigation.
	Message string
}

// Sink receives everything the session produces. Callbacks run on the
// goroutine performing the mutation and must not call back into the session.
type Sink interface {
	ViewChanged(view View)
	Toast(level Level, title, message string)
	Navigate(intent NavIntent)
}

// API is the remote collaborator surface the session consumes.
type API interface {
	FetchCase(ctx context.Context, caseGUID string) (models.Case, error)
	FetchEvents(ctx context.Context, caseGUID string) ([]models.Event, error)
	FetchCategories(ctx context.Context, caseGUID string) ([]models.Category, error)
	FetchTrash(ctx context.Context, caseGUID string) ([]models.Event, error)
	Subscribe(ctx context.Context, caseGUID string) (io.ReadCloser, error)
	CreateEvent(ctx context.Context, caseGUID string, ev models.Event) (models.Event, error)
	UpdateCase(ctx context.Context, caseGUID string, patch models.CasePatch) (models.Case, error)
	StarEvent(ctx context.Context, caseGUID, eventGUID string) error
	TrashEvent(ctx context.Context, caseGUID, eventGUID string) error
	RestoreEvent(ctx context.Context, caseGUID, eventGUID string) error
	DeleteEvent(ctx context.Context, caseGUID, eventGUID string) error
	DeleteCase(ctx context.Context, caseGUID string) error
}

// DraftCache is the local key-value collaborator for crash-safe drafts and
// per-case seen counters.
type DraftCache interface {
	PutSeenCount(caseGUID string, count int) error
	PutPendingDraft(caseGUID string, ev models.Event) error
	PendingDraft() (string, models.Event, bool)
	ClearPendingDraft() error
}

// Session errors.
var (
	ErrReadOnly   = errors.New("case is read-only")
	ErrNotOpen    = errors.New("case is not open")
	ErrTerminated = errors.New("session terminated")
)

// Config assembles a Session.
type Config struct {
	API       API
	Sink      Sink
	Cache     DraftCache // optional
	CaseGUID  string
	Username  string
	Groups    []string
	LocalZone *time.Location // used when the case is not in UTC display

	// FlagDelay and ClearDelay override the notifier's wake-up timing when
	// positive.
	FlagDelay  time.Duration
	ClearDelay time.Duration
}

// Session is one operator's live view onto a single case.
type Session struct {
	api      API
	sink     Sink
	cache    DraftCache
	username string
	groups   []string
	zone     *time.Location
	logger   zerolog.Logger

	events   *store.Store
	notifier *notify.Notifier

	mu          sync.Mutex
	state       State
	meta        models.Case
	categories  []models.Category
	patterns    []models.SearchPattern
	activeUsers []string
	filterMode  bool
	filter      timeline.FilterState
	buckets     timeline.Buckets // full, unfiltered
	displayed   timeline.Buckets
	flagged     []string
	readonly    bool

	ctx     context.Context
	cancel  context.CancelFunc
	channel *live.Channel
	drops   chan struct{}
	wg      sync.WaitGroup
}

// New assembles a session; Start performs the bulk load and arms the channel.
func New(cfg Config) *Session {
	zone := cfg.LocalZone
	if zone == nil {
		zone = time.Local
	}
	s := &Session{
		api:      cfg.API,
		sink:     cfg.Sink,
		cache:    cfg.Cache,
		username: cfg.Username,
		groups:   cfg.Groups,
		zone:     zone,
		logger:   logging.WithCase(cfg.CaseGUID),
		events:   store.New(),
		state:    StateLoading,
		meta:     models.Case{GUID: cfg.CaseGUID},
		drops:    make(chan struct{}, 1),
	}
	s.notifier = notify.New(s.onFlag, s.onClear)
	if cfg.FlagDelay > 0 {
		s.notifier.FlagDelay = cfg.FlagDelay
	}
	if cfg.ClearDelay > 0 {
		s.notifier.ClearDelay = cfg.ClearDelay
	}
	// The store's change handler runs on the mutating goroutine, which
	// always holds s.mu already.
	s.events.SetOnChange(s.rebucketLocked)
	return s
}

// Start performs the bulk load and, once it completes, arms the live channel.
// A bulk-load failure is fatal for the session and produces a redirect.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	meta, err := s.api.FetchCase(s.ctx, s.meta.GUID)
	if err != nil {
		s.fail("Error while retrieving case")
		return err
	}

	s.mu.Lock()
	s.meta = meta
	s.readonly = meta.Managed || meta.IsClosed()
	s.mu.Unlock()

	if categories, err := s.api.FetchCategories(s.ctx, meta.GUID); err == nil {
		s.mu.Lock()
		s.categories = categories
		s.mu.Unlock()
	} else {
		s.logger.Warn().Err(err).Msg("categories unavailable")
	}

	if meta.IsClosed() {
		// Closed case: the event list stays empty but the channel is still
		// armed so a reopen by another operator is observable.
		s.mu.Lock()
		s.state = StateClosed
		s.rebucketLocked()
		s.mu.Unlock()
	} else {
		events, err := s.api.FetchEvents(s.ctx, meta.GUID)
		if err != nil {
			s.fail("Error while retrieving case events")
			return err
		}
		s.mu.Lock()
		s.state = StateOpen
		s.mu.Unlock()
		s.seed(events)
	}

	// The bulk load has completed; only now is the channel armed, so its
	// first message cannot race ahead of the baseline.
	if err := s.Resubscribe(); err != nil {
		s.sink.Toast(LevelError, "Live channel", "Live updates unavailable")
		s.logger.Error().Err(err).Msg("live subscription failed")
	}
	return nil
}

// Resubscribe (re)opens the live channel. Reconnection policy belongs to the
// caller; the session never retries on its own.
func (s *Session) Resubscribe() error {
	s.mu.Lock()
	if s.state == StateTerminal {
		s.mu.Unlock()
		return ErrTerminated
	}
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	guid := s.meta.GUID
	s.mu.Unlock()

	body, err := s.api.Subscribe(s.ctx, guid)
	if err != nil {
		return err
	}

	channel := live.NewChannel(body)
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.consume(channel)
	return nil
}

// Close leaves the case view: the subscription is torn down and pending
// notifier timers are suppressed.
func (s *Session) Close() {
	s.mu.Lock()
	channel := s.channel
	s.channel = nil
	s.mu.Unlock()

	if channel != nil {
		channel.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.notifier.Close()
	s.wg.Wait()
}

// SetIdle feeds the external idle/wake signal to the notifier.
func (s *Session) SetIdle(idle bool) {
	s.notifier.SetIdle(idle)
}

// View returns the current presentation snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) consume(channel *live.Channel) {
	defer s.wg.Done()
	for msg := range channel.Messages() {
		s.Apply(msg)
	}

	err := channel.Err()
	if err == nil || errors.Is(err, live.ErrChannelClosed) {
		return
	}
	s.mu.Lock()
	terminal := s.state == StateTerminal
	s.mu.Unlock()
	if !terminal {
		s.logger.Warn().Err(err).Msg("live channel dropped")
		s.sink.Toast(LevelError, "Live channel", "Live channel disconnected")
		select {
		case s.drops <- struct{}{}:
		default:
		}
	}
}

// Drops signals each abnormal loss of the live channel. The owner decides the
// reconnect policy and calls Resubscribe.
func (s *Session) Drops() <-chan struct{} {
	return s.drops
}

// Apply processes one live mutation. Every path is idempotent against
// duplicate delivery.
func (s *Session) Apply(msg live.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminal {
		return
	}

	switch msg.Kind {
	case live.KindSubscribers:
		s.activeUsers = append([]string(nil), msg.Usernames...)
		s.emitLocked()

	case live.KindSubscribe:
		for _, u := range s.activeUsers {
			if u == msg.Username {
				return
			}
		}
		s.activeUsers = append(s.activeUsers, msg.Username)
		s.emitLocked()

	case live.KindUnsubscribe:
		kept := s.activeUsers[:0]
		for _, u := range s.activeUsers {
			if u != msg.Username {
				kept = append(kept, u)
			}
		}
		s.activeUsers = kept
		s.emitLocked()

	case live.KindCreateEvent:
		if s.state != StateOpen || msg.Event == nil {
			return
		}
		ev := *msg.Event
		if ev.Creator == "" {
			ev.Creator = s.username
		}
		if s.events.Upsert(ev) {
			s.notifier.Observe(ev.GUID)
			if ev.IsTask() && ev.AssignedTo(s.username) {
				s.sink.Toast(LevelInfo, "New task!", "You have been assigned to a new task")
			}
		}

	case live.KindStarEvent:
		if s.state != StateOpen || msg.Event == nil {
			return
		}
		s.events.SetStar(msg.Event.GUID, msg.Event.Starred)

	case live.KindTrashEvent, live.KindDeleteEvent:
		if s.state != StateOpen || msg.Event == nil {
			return
		}
		s.events.Remove(msg.Event.GUID)

	case live.KindRestoreEvent:
		if s.state != StateOpen || msg.Event == nil {
			return
		}
		ev := *msg.Event
		if ev.Creator == "" {
			ev.Creator = s.username
		}
		if s.events.RestoreIfAbsent(ev) {
			s.notifier.Observe(ev.GUID)
		}

	case live.KindUpdateCase:
		if msg.Case != nil {
			s.applyCaseUpdateLocked(*msg.Case)
		}

	case live.KindDeleteCase:
		s.sink.Toast(LevelInfo, "Case deleted", "This case was deleted")
		s.terminateLocked(NavIntent{Home: true})
	}
}

// applyCaseUpdateLocked handles a case metadata change, from either a live
// message or the echo of the session's own update.
func (s *Session) applyCaseUpdateLocked(next models.Case) {
	// Identity change: the case was re-attached elsewhere. Re-point the
	// session silently rather than erroring out.
	if next.GUID != "" && next.GUID != s.meta.GUID {
		s.sink.Toast(LevelInfo, "Info", "Case was re-attached and its ID changed. You were redirected automatically.")
		s.terminateLocked(NavIntent{CaseGUID: next.GUID})
		return
	}

	// Authorization loss is fatal for the session.
	if next.ACS != nil && !next.Viewable(s.username, s.groups) {
		s.sink.Toast(LevelError, "Error", "Case groups were modified, you are not allowed to view the case anymore")
		s.terminateLocked(NavIntent{Home: true})
		return
	}

	utcChanged := next.UTCDisplay != s.meta.UTCDisplay

	switch {
	case next.IsClosed() && s.state != StateClosed:
		s.state = StateClosed
		s.readonly = true
		s.filterMode = false
		s.filter = timeline.FilterState{}
		s.meta = next
		s.events.Clear()
		s.sink.Toast(LevelError, "Error", "This case was closed")
		return

	case !next.IsClosed() && s.state == StateClosed:
		s.state = StateOpen
		s.readonly = next.Managed
		s.meta = next
		s.sink.Toast(LevelInfo, "Info", "This case was reopened")
		s.reseedLocked()

	default:
		// Same open/closed phase: duplicate delivery or a plain metadata
		// edit. No lifecycle side effects.
		s.meta = next
	}

	if utcChanged {
		s.rebucketLocked()
	} else {
		s.emitLocked()
	}
}

// reseedLocked re-baselines the store after a reopen. The response is keyed
// to the identity it was requested for; a stale response is discarded rather
// than cancelled.
func (s *Session) reseedLocked() {
	guid := s.meta.GUID
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		events, err := s.api.FetchEvents(s.ctx, guid)

		s.mu.Lock()
		stale := s.meta.GUID != guid || s.state != StateOpen
		s.mu.Unlock()
		if stale {
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Msg("re-seed failed")
			s.sink.Toast(LevelError, "Error", "Error while retrieving case events")
			return
		}
		s.seed(events)
	}()
}

func (s *Session) seed(events []models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Seed fires the change handler, which rebuckets and refreshes the
	// seen-count cache.
	s.events.Seed(events)
}

// fail terminates the session after a fatal bulk-load error.
func (s *Session) fail(message string) {
	s.mu.Lock()
	s.terminateLocked(NavIntent{Home: true, Message: message})
	s.mu.Unlock()
}

func (s *Session) terminateLocked(intent NavIntent) {
	if s.state == StateTerminal {
		return
	}
	s.state = StateTerminal
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	s.sink.Navigate(intent)
}

// rebucketLocked recomputes the full and displayed bucket sets from the store
// snapshot. Bucketing and filtering are pure, so the whole view is derived
// from scratch on every change.
func (s *Session) rebucketLocked() {
	s.buckets = timeline.Bucket(s.events.Snapshot(), s.meta.UTCDisplay, s.zone)

	if s.filterMode {
		displayed, err := timeline.Apply(s.buckets, s.filter)
		if err != nil {
			// Keep the previous display; the bad pattern was already
			// reported when it was set.
			s.emitLocked()
			return
		}
		s.displayed = displayed
	} else {
		s.displayed = s.buckets.Clone()
	}
	s.emitLocked()

	if s.cache != nil {
		if err := s.cache.PutSeenCount(s.meta.GUID, s.events.Len()); err != nil {
			s.logger.Warn().Err(err).Msg("seen-count cache write failed")
		}
	}
}

func (s *Session) emitLocked() {
	s.sink.ViewChanged(s.viewLocked())
}

func (s *Session) onFlag(guids []string) {
	s.mu.Lock()
	s.flagged = guids
	s.emitLocked()
	s.mu.Unlock()
}

func (s *Session) onClear() {
	s.mu.Lock()
	s.flagged = nil
	s.emitLocked()
	s.mu.Unlock()
}

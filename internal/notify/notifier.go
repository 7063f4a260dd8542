// Package notify tracks events that arrived while the operator was idle and
// drives their one-time highlight on wake.
package notify

import (
	"sync"
	"time"
)

const (
	// DefaultFlagDelay is how long after wake the unseen events are flagged.
	DefaultFlagDelay = 200 * time.Millisecond
	// DefaultClearDelay is how long after wake the transient highlight ends.
	DefaultClearDelay = 1 * time.Second
)

// Notifier collects the GUIDs of events inserted while idle. On wake it runs
// a two-phase highlight: after FlagDelay the collected GUIDs are flagged,
// after ClearDelay the list is cleared unconditionally. The state is purely
// presentational; nothing is held beyond GUIDs and two timers.
type Notifier struct {
	FlagDelay  time.Duration
	ClearDelay time.Duration

	// OnFlag receives the unseen GUIDs when the flag phase fires.
	OnFlag func(guids []string)
	// OnClear fires when the highlight phase ends.
	OnClear func()

	mu         sync.Mutex
	idle       bool
	unseen     []string
	seen       map[string]struct{}
	flagTimer  *time.Timer
	clearTimer *time.Timer
	closed     bool
}

// New creates a Notifier with the default delays.
func New(onFlag func([]string), onClear func()) *Notifier {
	return &Notifier{
		FlagDelay:  DefaultFlagDelay,
		ClearDelay: DefaultClearDelay,
		OnFlag:     onFlag,
		OnClear:    onClear,
		seen:       make(map[string]struct{}),
	}
}

// Observe records an inserted event. Only events arriving while idle are
// collected; duplicates do not accumulate.
func (n *Notifier) Observe(guid string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.idle || n.closed || guid == "" {
		return
	}
	if _, dup := n.seen[guid]; dup {
		return
	}
	n.seen[guid] = struct{}{}
	n.unseen = append(n.unseen, guid)
}

// IsIdle reports the current idle state.
func (n *Notifier) IsIdle() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.idle
}

// SetIdle updates the idle state. The idle→awake edge starts the two-phase
// highlight; repeated signals of the same state are no-ops.
func (n *Notifier) SetIdle(idle bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || idle == n.idle {
		return
	}
	n.idle = idle
	if !idle {
		n.wakeLocked()
	}
}

// Unseen returns a copy of the currently collected GUIDs.
func (n *Notifier) Unseen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.unseen...)
}

// Close cancels any pending timers and suppresses further callbacks.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.stopTimersLocked()
}

func (n *Notifier) wakeLocked() {
	n.stopTimersLocked()

	n.flagTimer = time.AfterFunc(n.FlagDelay, func() {
		n.mu.Lock()
		if n.closed {
			n.mu.Unlock()
			return
		}
		guids := append([]string(nil), n.unseen...)
		fn := n.OnFlag
		n.mu.Unlock()
		if fn != nil && len(guids) > 0 {
			fn(guids)
		}
	})

	// The clear fires unconditionally, regardless of activity in between.
	n.clearTimer = time.AfterFunc(n.ClearDelay, func() {
		n.mu.Lock()
		if n.closed {
			n.mu.Unlock()
			return
		}
		n.unseen = nil
		n.seen = make(map[string]struct{})
		fn := n.OnClear
		n.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (n *Notifier) stopTimersLocked() {
	if n.flagTimer != nil {
		n.flagTimer.Stop()
		n.flagTimer = nil
	}
	if n.clearTimer != nil {
		n.clearTimer.Stop()
		n.clearTimer = nil
	}
}

package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestNotifier() (*Notifier, *recorder) {
	rec := &recorder{}
	n := New(rec.flag, rec.clear)
	n.FlagDelay = 10 * time.Millisecond
	n.ClearDelay = 30 * time.Millisecond
	return n, rec
}

type recorder struct {
	mu      sync.Mutex
	flagged [][]string
	cleared int
}

func (r *recorder) flag(guids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flagged = append(r.flagged, guids)
}

func (r *recorder) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
}

func (r *recorder) snapshot() ([][]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.flagged...), r.cleared
}

func TestIdleInsertThenWakeFlagsAndClears(t *testing.T) {
	n, rec := newTestNotifier()
	defer n.Close()

	n.SetIdle(true)
	n.Observe("g1")
	n.Observe("g2")
	require.Equal(t, []string{"g1", "g2"}, n.Unseen())

	n.SetIdle(false)

	require.Eventually(t, func() bool {
		flagged, _ := rec.snapshot()
		return len(flagged) == 1
	}, time.Second, time.Millisecond)

	flagged, _ := rec.snapshot()
	require.Equal(t, []string{"g1", "g2"}, flagged[0])

	require.Eventually(t, func() bool {
		_, cleared := rec.snapshot()
		return cleared == 1
	}, time.Second, time.Millisecond)
	require.Empty(t, n.Unseen())
}

func TestObserveWhileAwakeIsIgnored(t *testing.T) {
	n, _ := newTestNotifier()
	defer n.Close()

	n.Observe("g1")
	require.Empty(t, n.Unseen())
}

func TestDuplicateGUIDsDoNotAccumulate(t *testing.T) {
	n, _ := newTestNotifier()
	defer n.Close()

	n.SetIdle(true)
	n.Observe("g1")
	n.Observe("g1")
	n.Observe("g1")
	require.Equal(t, []string{"g1"}, n.Unseen())
}

func TestRepeatedIdleSignalIsNoop(t *testing.T) {
	n, rec := newTestNotifier()
	defer n.Close()

	n.SetIdle(false) // already awake
	n.SetIdle(true)
	n.SetIdle(true)
	n.Observe("g1")
	n.SetIdle(false)

	require.Eventually(t, func() bool {
		_, cleared := rec.snapshot()
		return cleared == 1
	}, time.Second, time.Millisecond)

	flagged, cleared := rec.snapshot()
	require.Len(t, flagged, 1)
	require.Equal(t, 1, cleared)
}

func TestClearFiresEvenWithActivityInBetween(t *testing.T) {
	n, rec := newTestNotifier()
	defer n.Close()

	n.SetIdle(true)
	n.Observe("g1")
	n.SetIdle(false)

	// New idle period begins before the clear timer fires.
	time.Sleep(15 * time.Millisecond)
	n.SetIdle(true)
	n.Observe("g2")

	require.Eventually(t, func() bool {
		_, cleared := rec.snapshot()
		return cleared >= 1
	}, time.Second, time.Millisecond)
}

func TestCloseSuppressesCallbacks(t *testing.T) {
	n, rec := newTestNotifier()

	n.SetIdle(true)
	n.Observe("g1")
	n.SetIdle(false)
	n.Close()

	time.Sleep(60 * time.Millisecond)
	flagged, cleared := rec.snapshot()
	require.Empty(t, flagged)
	require.Zero(t, cleared)
}

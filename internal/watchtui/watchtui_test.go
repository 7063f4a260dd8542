package watchtui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/emberwatch/ember/internal/models"
	"github.com/emberwatch/ember/internal/session"
	"github.com/emberwatch/ember/internal/timeline"
)

type stubController struct {
	idleCalls []bool
	toggled   []string
	freeText  []string
	entered   int
	left      int
}

func (s *stubController) SetIdle(idle bool)            { s.idleCalls = append(s.idleCalls, idle) }
func (s *stubController) ToggleCategory(n string) error { s.toggled = append(s.toggled, n); return nil }
func (s *stubController) SetFreeText(p string) error   { s.freeText = append(s.freeText, p); return nil }
func (s *stubController) EnterFilterMode()             { s.entered++ }
func (s *stubController) LeaveFilterMode()             { s.left++ }

func sampleView() session.View {
	events := []models.Event{
		{GUID: "a", Title: "triage host", Category: models.CategoryTask, Creator: "alice", Date: time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)},
		{GUID: "b", Title: "phish reported", Description: "mail from helpdesk\nsecond line", Category: models.CategoryInfo, Creator: "bob", Starred: true, Date: time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)},
	}
	buckets := timeline.Bucket(events, true, nil)
	return session.View{
		State:   session.StateOpen,
		Case:    models.Case{GUID: "c1", Name: "intrusion", UTCDisplay: true},
		Days:    timeline.SortedKeys(buckets),
		Buckets: buckets,
		Flagged: []string{"a"},
	}
}

func keyMsg(s string) tea.KeyMsg {
	if len(s) == 1 {
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestTimelineLinesLayout(t *testing.T) {
	lines := timelineLines(sampleView())

	require.Equal(t, lineDay, lines[0].kind)
	require.Equal(t, "2024-04-02", lines[0].text)
	require.Equal(t, lineEvent, lines[1].kind)
	require.Contains(t, lines[1].text, "triage host")
	require.Contains(t, lines[1].text, "[TASK]")
	require.True(t, lines[1].flagged)

	require.Equal(t, "2024-04-01", lines[2].text)
	require.Contains(t, lines[3].text, "★")
	require.False(t, lines[3].flagged)
	// Only the first description line is shown.
	require.Equal(t, lineDetail, lines[4].kind)
	require.Contains(t, lines[4].text, "mail from helpdesk")
	require.NotContains(t, lines[4].text, "second line")
}

func TestTimelineLinesEmpty(t *testing.T) {
	lines := timelineLines(session.View{})
	require.Len(t, lines, 1)
	require.Contains(t, lines[0].text, "no events")
}

func TestViewRendersTimeline(t *testing.T) {
	ctrl := &stubController{}
	m := newModel(ctrl, Config{IdleAfter: time.Minute, ToastTTL: time.Minute}, make(chan tea.Msg, 1))
	m.width = 120
	m.height = 40
	m.view = sampleView()

	out := m.View()
	require.Contains(t, out, "intrusion")
	require.Contains(t, out, "[open]")
	require.Contains(t, out, "triage host")
	require.Contains(t, out, "tasks: 1 open")
}

func TestFilterModeForwardsInput(t *testing.T) {
	ctrl := &stubController{}
	m := newModel(ctrl, Config{IdleAfter: time.Minute, ToastTTL: time.Minute}, make(chan tea.Msg, 1))
	m.view = sampleView()
	m.view.Categories = []models.Category{{Name: "INFO"}, {Name: "TASK"}}

	next, _ := m.Update(keyMsg("/"))
	m = next.(model)
	require.Equal(t, 1, ctrl.entered)
	require.Equal(t, modeFilter, m.mode)

	// Leading digit toggles a category.
	next, _ = m.Update(keyMsg("2"))
	m = next.(model)
	require.Equal(t, []string{"TASK"}, ctrl.toggled)

	// Letters build the free-text pattern.
	next, _ = m.Update(keyMsg("u"))
	m = next.(model)
	next, _ = m.Update(keyMsg("r"))
	m = next.(model)
	require.Equal(t, []string{"u", "ur"}, ctrl.freeText)

	// Esc leaves filter mode.
	next, _ = m.Update(keyMsg("esc"))
	m = next.(model)
	require.Equal(t, 1, ctrl.left)
	require.Equal(t, modeTimeline, m.mode)
}

func TestIdleTransitionOnTick(t *testing.T) {
	ctrl := &stubController{}
	m := newModel(ctrl, Config{IdleAfter: 10 * time.Millisecond, ToastTTL: time.Minute}, make(chan tea.Msg, 1))
	m.lastInput = time.Now().Add(-time.Second)

	next, _ := m.Update(tickMsg{})
	m = next.(model)
	require.Equal(t, []bool{true}, ctrl.idleCalls)
	require.True(t, m.idle)

	// A key press wakes the session up again.
	next, _ = m.Update(keyMsg("j"))
	m = next.(model)
	require.Equal(t, []bool{true, false}, ctrl.idleCalls)
	require.False(t, m.idle)
}

func TestToastLifecycle(t *testing.T) {
	ctrl := &stubController{}
	m := newModel(ctrl, Config{IdleAfter: time.Minute, ToastTTL: 10 * time.Millisecond}, make(chan tea.Msg, 1))
	m.width = 120

	next, _ := m.Update(toastMsg{level: session.LevelError, title: "Error", message: "This case was closed"})
	m = next.(model)
	require.Len(t, m.toasts, 1)
	require.Contains(t, m.View(), "Error: This case was closed")

	m.toasts[0].expires = time.Now().Add(-time.Millisecond)
	next, _ = m.Update(tickMsg{})
	m = next.(model)
	require.Empty(t, m.toasts)
}

func TestNavigateQuits(t *testing.T) {
	ctrl := &stubController{}
	m := newModel(ctrl, Config{IdleAfter: time.Minute, ToastTTL: time.Minute}, make(chan tea.Msg, 1))

	next, cmd := m.Update(navigateMsg{intent: session.NavIntent{Home: true, Message: "gone"}})
	m = next.(model)
	require.True(t, m.quitting)
	require.True(t, m.exitIntent.Home)
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())
}

func TestTruncateLine(t *testing.T) {
	require.Equal(t, "abc", truncateLine("abc", 10))
	out := truncateLine(strings.Repeat("x", 50), 10)
	require.LessOrEqual(t, len([]rune(out)), 10)
	require.True(t, strings.HasSuffix(out, "…"))
}

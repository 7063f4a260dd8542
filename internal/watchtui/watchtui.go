// Package watchtui is the live timeline view: it renders session snapshots,
// shows toasts, and feeds the idle/wake signal back from terminal input.
package watchtui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/emberwatch/ember/internal/models"
	"github.com/emberwatch/ember/internal/session"
)

const (
	defaultIdleAfter = 30 * time.Second
	defaultToastTTL  = 5 * time.Second
	tickInterval     = time.Second

	sinkBuffer = 256
)

// Config controls watch TUI behavior.
type Config struct {
	// IdleAfter is how long without a key press before the view counts as
	// idle for notification purposes.
	IdleAfter time.Duration
	// ToastTTL is how long a toast stays on screen.
	ToastTTL time.Duration
}

// Controller is the slice of the session the TUI drives. Kept narrow so tests
// can stub it.
type Controller interface {
	SetIdle(idle bool)
	ToggleCategory(name string) error
	SetFreeText(pattern string) error
	EnterFilterMode()
	LeaveFilterMode()
}

// App bridges a session and a bubbletea program. It implements session.Sink;
// sink callbacks forward into the program's message loop, so the model never
// races the session.
type App struct {
	cfg  Config
	msgs chan tea.Msg
}

// NewApp creates the bridge. Pass it as the session's Sink, then call Run.
func NewApp(cfg Config) *App {
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = defaultIdleAfter
	}
	if cfg.ToastTTL <= 0 {
		cfg.ToastTTL = defaultToastTTL
	}
	return &App{cfg: cfg, msgs: make(chan tea.Msg, sinkBuffer)}
}

// ViewChanged implements session.Sink.
func (a *App) ViewChanged(view session.View) {
	a.send(viewMsg{view: view})
}

// Toast implements session.Sink.
func (a *App) Toast(level session.Level, title, message string) {
	a.send(toastMsg{level: level, title: title, message: message})
}

// Navigate implements session.Sink.
func (a *App) Navigate(intent session.NavIntent) {
	a.send(navigateMsg{intent: intent})
}

// send never blocks the session; under pressure the oldest message wins.
func (a *App) send(msg tea.Msg) {
	select {
	case a.msgs <- msg:
	default:
	}
}

// Run starts the TUI and blocks until the operator quits or the session
// navigates away. The returned intent is zero on a plain quit.
func (a *App) Run(ctrl Controller) (session.NavIntent, error) {
	m := newModel(ctrl, a.cfg, a.msgs)
	program := tea.NewProgram(m, tea.WithAltScreen())
	final, err := program.Run()
	if err != nil {
		return session.NavIntent{}, err
	}
	if fm, ok := final.(model); ok {
		return fm.exitIntent, nil
	}
	return session.NavIntent{}, nil
}

type viewMsg struct{ view session.View }

type toastMsg struct {
	level          session.Level
	title, message string
}

type navigateMsg struct{ intent session.NavIntent }

type tickMsg struct{}

type toastEntry struct {
	level   session.Level
	text    string
	expires time.Time
}

type uiMode int

const (
	modeTimeline uiMode = iota
	modeFilter
)

type model struct {
	ctrl      Controller
	cfg       Config
	msgs      chan tea.Msg
	palette   palette
	width     int
	height    int
	mode      uiMode
	view      session.View
	toasts    []toastEntry
	freeText  string
	scroll    int
	lastInput time.Time
	idle      bool

	exitIntent session.NavIntent
	quitting   bool
}

func newModel(ctrl Controller, cfg Config, msgs chan tea.Msg) model {
	return model{
		ctrl:      ctrl,
		cfg:       cfg,
		msgs:      msgs,
		palette:   defaultPalette,
		lastInput: time.Now(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.listenCmd(), m.tickCmd())
}

func (m model) listenCmd() tea.Cmd {
	msgs := m.msgs
	return func() tea.Msg {
		return <-msgs
	}
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case viewMsg:
		m.view = msg.view
		m.clampScroll()
		return m, m.listenCmd()

	case toastMsg:
		text := msg.title
		if msg.message != "" {
			text = msg.title + ": " + msg.message
		}
		m.toasts = append(m.toasts, toastEntry{
			level:   msg.level,
			text:    text,
			expires: time.Now().Add(m.cfg.ToastTTL),
		})
		return m, m.listenCmd()

	case navigateMsg:
		m.exitIntent = msg.intent
		m.quitting = true
		return m, tea.Quit

	case tickMsg:
		m.toasts = pruneToasts(m.toasts, time.Now())
		if !m.idle && time.Since(m.lastInput) >= m.cfg.IdleAfter {
			m.idle = true
			m.ctrl.SetIdle(true)
		}
		return m, m.tickCmd()

	case tea.KeyMsg:
		m.lastInput = time.Now()
		if m.idle {
			m.idle = false
			m.ctrl.SetIdle(false)
		}
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
		if m.mode == modeFilter {
			return m.updateFilterMode(msg)
		}
		return m.updateTimelineMode(msg)
	}

	return m, nil
}

func (m model) updateTimelineMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "/":
		m.mode = modeFilter
		m.freeText = ""
		m.ctrl.EnterFilterMode()
		return m, nil
	case "j", "down":
		m.scroll++
		m.clampScroll()
		return m, nil
	case "k", "up":
		m.scroll--
		m.clampScroll()
		return m, nil
	case "home":
		m.scroll = 0
		return m, nil
	case "end":
		m.scroll = 1 << 30
		m.clampScroll()
		return m, nil
	default:
		return m, nil
	}
}

func (m model) updateFilterMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeTimeline
		m.freeText = ""
		m.ctrl.LeaveFilterMode()
		return m, nil
	case "enter":
		m.mode = modeTimeline
		return m, nil
	case "tab":
		// Cycle category toggles with tab+digit instead; tab alone is a no-op.
		return m, nil
	case "backspace", "ctrl+h", "delete":
		if m.freeText != "" {
			m.freeText = removeLastRune(m.freeText)
			_ = m.ctrl.SetFreeText(m.freeText)
		}
		return m, nil
	case "space":
		m.freeText += " "
		_ = m.ctrl.SetFreeText(m.freeText)
		return m, nil
	default:
		if len(msg.Runes) == 1 && msg.Runes[0] >= '1' && msg.Runes[0] <= '9' && m.freeText == "" {
			// A leading digit toggles the nth category.
			idx := int(msg.Runes[0] - '1')
			if idx < len(m.view.Categories) {
				_ = m.ctrl.ToggleCategory(m.view.Categories[idx].Name)
			}
			return m, nil
		}
		if len(msg.Runes) > 0 {
			m.freeText += string(msg.Runes)
			_ = m.ctrl.SetFreeText(m.freeText)
		}
		return m, nil
	}
}

func (m *model) clampScroll() {
	max := len(timelineLines(m.view)) - m.bodyHeight()
	if max < 0 {
		max = 0
	}
	if m.scroll > max {
		m.scroll = max
	}
	if m.scroll < 0 {
		m.scroll = 0
	}
}

func (m model) bodyHeight() int {
	height := m.height
	if height <= 0 {
		height = 34
	}
	overhead := 3 + len(m.toasts)
	if m.mode == modeFilter {
		overhead++
	}
	if height-overhead < 5 {
		return 5
	}
	return height - overhead
}

func removeLastRune(s string) string {
	runes := []rune(s)
	if len(runes) == 0 {
		return s
	}
	return string(runes[:len(runes)-1])
}

func pruneToasts(toasts []toastEntry, now time.Time) []toastEntry {
	kept := toasts[:0]
	for _, t := range toasts {
		if t.expires.After(now) {
			kept = append(kept, t)
		}
	}
	return kept
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	width := m.width
	if width <= 0 {
		width = 100
	}

	parts := []string{m.renderHeader(width)}

	body := timelineLines(m.view)
	start := m.scroll
	if start > len(body) {
		start = len(body)
	}
	end := start + m.bodyHeight()
	if end > len(body) {
		end = len(body)
	}
	for _, line := range body[start:end] {
		parts = append(parts, m.renderLine(line, width))
	}

	if m.mode == modeFilter {
		parts = append(parts, m.renderFilterBar(width))
	}
	for _, t := range m.toasts {
		parts = append(parts, m.renderToast(t, width))
	}
	parts = append(parts, m.renderFooter(width))

	return strings.Join(parts, "\n")
}

func (m model) renderHeader(width int) string {
	state := string(m.view.State)
	name := m.view.Case.Name
	if name == "" {
		name = m.view.Case.GUID
	}
	header := fmt.Sprintf("ember  %s  [%s]", name, state)
	if m.view.ReadOnly {
		header += "  read-only"
	}
	if len(m.view.ActiveUsers) > 0 {
		header += "  viewers: " + strings.Join(m.view.ActiveUsers, ", ")
	}
	if n := len(m.view.PendingTasks); n > 0 {
		header += fmt.Sprintf("  tasks: %d open", n)
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(m.palette.Text)).
		Background(lipgloss.Color(m.palette.Panel)).
		Padding(0, 1).
		Render(truncateLine(header, width-2))
}

func (m model) renderFilterBar(width int) string {
	selected := make([]string, 0, len(m.view.Categories))
	for i, c := range m.view.Categories {
		selected = append(selected, fmt.Sprintf("%d:%s", i+1, c.Name))
	}
	bar := "filter /" + m.freeText + "  categories: " + strings.Join(selected, " ") + "  esc to clear"
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(m.palette.Focus)).
		Render(truncateLine(bar, width))
}

func (m model) renderToast(t toastEntry, width int) string {
	color := m.palette.Info
	switch t.level {
	case session.LevelWarn:
		color = m.palette.Warn
	case session.LevelError:
		color = m.palette.Error
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(color)).
		Bold(true).
		Render(truncateLine(t.text, width))
}

func (m model) renderFooter(width int) string {
	footer := "keys: j/k scroll  / filter  q quit"
	if m.mode == modeFilter {
		footer = "keys: type to filter  1-9 toggle category  enter keep  esc clear"
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(m.palette.TextMuted)).
		Render(truncateLine(footer, width))
}

func (m model) renderLine(line timelineLine, width int) string {
	switch line.kind {
	case lineDay:
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color(m.palette.Focus)).
			Bold(true).
			Render(truncateLine("── "+line.text+" ──", width))
	case lineEvent:
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(m.palette.Text))
		if line.flagged {
			style = style.Foreground(lipgloss.Color(m.palette.Warn)).Bold(true)
		}
		return style.Render(truncateLine(line.text, width))
	default:
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color(m.palette.TextMuted)).
			Render(truncateLine(line.text, width))
	}
}

type lineKind int

const (
	lineDay lineKind = iota
	lineEvent
	lineDetail
)

type timelineLine struct {
	kind    lineKind
	text    string
	flagged bool
}

// timelineLines flattens the displayed buckets into render lines, newest day
// first, matching the session's bucket ordering.
func timelineLines(view session.View) []timelineLine {
	flagged := make(map[string]struct{}, len(view.Flagged))
	for _, guid := range view.Flagged {
		flagged[guid] = struct{}{}
	}

	lines := make([]timelineLine, 0, 64)
	for _, day := range view.Days {
		lines = append(lines, timelineLine{kind: lineDay, text: day})
		for _, ev := range view.Buckets[day] {
			_, hot := flagged[ev.GUID]
			lines = append(lines, timelineLine{kind: lineEvent, text: eventLine(ev, view.Case.UTCDisplay), flagged: hot})
			if ev.Description != "" {
				lines = append(lines, timelineLine{kind: lineDetail, text: "      " + firstLine(ev.Description)})
			}
		}
	}
	if len(lines) == 0 {
		lines = append(lines, timelineLine{kind: lineDetail, text: "(no events)"})
	}
	return lines
}

func eventLine(ev models.Event, utc bool) string {
	stamp := ev.Date
	if utc {
		stamp = stamp.UTC()
	}
	marker := " "
	if ev.Starred {
		marker = "★"
	}
	badge := ""
	if ev.IsTask() {
		badge = " [TASK]"
	}
	return fmt.Sprintf("%s %s %s%s  (%s)", stamp.Format("15:04"), marker, ev.Title, badge, ev.Creator)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}

type palette struct {
	Text      string
	TextMuted string
	Panel     string
	Focus     string
	Info      string
	Warn      string
	Error     string
}

var defaultPalette = palette{
	Text:      "#d8dee9",
	TextMuted: "#616e88",
	Panel:     "#3b4252",
	Focus:     "#88c0d0",
	Info:      "#a3be8c",
	Warn:      "#ebcb8b",
	Error:     "#bf616a",
}

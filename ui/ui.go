// Package ui is the terminal front end: a queue view with the item being
// narrated highlighted, a status bar and transport key bindings.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vrwarp/versicle/playback"
	"github.com/vrwarp/versicle/playback/provider"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AD58B4"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	pausedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ECFD65"))
	skippedStyle   = lipgloss.NewStyle().Strikethrough(true).Foreground(lipgloss.Color("#555555"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
)

// updateMsg wraps an engine update for the bubbletea loop.
type updateMsg playback.Update

// subClosedMsg signals that the engine shut down the subscription.
type subClosedMsg struct{}

// Model is the bubbletea model for the narration view.
type Model struct {
	engine *playback.Orchestrator
	sub    playback.Subscription

	title  string
	width  int
	height int

	status   playback.Status
	index    int
	queue    []playback.QueueItem
	location string
	download float64
	lastErr  error
}

// NewModel creates the narration view bound to a running engine.
func NewModel(engine *playback.Orchestrator, title string) Model {
	return Model{
		engine:   engine,
		sub:      engine.Subscribe(),
		title:    title,
		status:   playback.StatusStopped,
		download: -1,
	}
}

// Init starts listening for engine updates.
func (m Model) Init() tea.Cmd {
	return m.waitForUpdate()
}

func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-m.sub.Updates
		if !ok {
			return subClosedMsg{}
		}
		return updateMsg(u)
	}
}

// Update handles key presses and engine updates.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case updateMsg:
		m.status = msg.Status
		m.index = msg.CurrentIndex
		m.queue = msg.Queue
		m.location = msg.ActiveLocationID
		m.download = msg.DownloadProgress
		m.lastErr = msg.Err
		return m, m.waitForUpdate()

	case subClosedMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.engine.Unsubscribe(m.sub.ID)
			return m, tea.Quit
		case " ":
			if m.status == playback.StatusPlaying || m.status == playback.StatusLoading {
				m.engine.Pause()
			} else {
				m.engine.Play()
			}
		case "s":
			m.engine.Stop()
		case "n", "right":
			m.engine.Next()
		case "p", "left":
			m.engine.Prev()
		case "d":
			m.engine.SetProvider(provider.KindDevice)
		case "c":
			m.engine.SetProvider(provider.KindCloud)
		}
		return m, nil
	}
	return m, nil
}

// View renders the queue, status bar and key help.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	b.WriteString(m.renderQueue())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("space play/pause · n/p next/prev · s stop · d/c provider · q quit"))

	return b.String()
}

func (m Model) renderQueue() string {
	if len(m.queue) == 0 {
		return dimStyle.Render("no content loaded")
	}

	// Window of items around the current index.
	visible := m.height - 8
	if visible < 3 {
		visible = 3
	}
	start := m.index - visible/2
	if start < 0 {
		start = 0
	}
	end := start + visible
	if end > len(m.queue) {
		end = len(m.queue)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		item := m.queue[i]
		line := item.Text
		if m.width > 4 {
			if r := []rune(line); len(r) > m.width-4 {
				line = string(r[:m.width-4]) + "…"
			}
		}
		switch {
		case i == m.index:
			b.WriteString(highlightStyle.Render("▶ " + line))
		case item.Skipped:
			b.WriteString(skippedStyle.Render("  " + line))
		case item.IsAnnouncement:
			b.WriteString(dimStyle.Render("  " + line))
		default:
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderStatusBar() string {
	var parts []string

	switch m.status {
	case playback.StatusPlaying:
		parts = append(parts, statusStyle.Render("▶ playing"))
	case playback.StatusLoading:
		parts = append(parts, statusStyle.Render("⟳ loading"))
	case playback.StatusPaused:
		parts = append(parts, pausedStyle.Render("⏸ paused"))
	case playback.StatusCompleted:
		parts = append(parts, dimStyle.Render("✓ finished"))
	default:
		parts = append(parts, dimStyle.Render("■ stopped"))
	}

	if len(m.queue) > 0 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("%d/%d", m.index+1, len(m.queue))))
	}
	if remaining := m.engine.RemainingDuration(); remaining > 0 {
		parts = append(parts, dimStyle.Render(formatDuration(remaining)+" left"))
	}
	if m.download >= 0 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("downloading %d%%", int(m.download*100))))
	}
	if m.lastErr != nil {
		parts = append(parts, errorStyle.Render(m.lastErr.Error()))
	}

	return strings.Join(parts, "  ")
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if mins >= 60 {
		return fmt.Sprintf("%d:%02d:%02d", mins/60, mins%60, secs)
	}
	return fmt.Sprintf("%d:%02d", mins, secs)
}

package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"swallow/internal/processor"
)

// Model renders the live progress of one pipeline run.
type Model struct {
	pipeline   string
	updates    <-chan processor.ProgressUpdate
	started    time.Time
	width      int
	discovered int
	processed  int
	done       int
	errors     int
	postponed  int
	skipped    int
	swept      int
	quitting   bool
}

type doneMsg struct{}

type updateMsg processor.ProgressUpdate

func NewModel(pipeline string, updates <-chan processor.ProgressUpdate) Model {
	return Model{pipeline: pipeline, updates: updates, started: time.Now()}
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.discovered += msg.DiscoveredDelta
		m.processed += msg.ProcessedDelta
		m.done += msg.DoneDelta
		m.errors += msg.ErrorDelta
		m.postponed += msg.PostponedDelta
		m.skipped += msg.SkippedDelta
		m.swept += msg.SweptDelta
		return m, listenForUpdates(m.updates)
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	ratio := 0.0
	if m.discovered > 0 {
		ratio = math.Min(1, float64(m.processed)/float64(m.discovered))
	}

	elapsed := time.Since(m.started).Round(time.Millisecond)

	lines := []string{
		titleStyle.Render("swallow " + m.pipeline),
		labelStyle.Render(fmt.Sprintf("Files: %d/%d", m.processed, m.discovered)) +
			dimStyle.Render(fmt.Sprintf("  done:%d errors:%d postponed:%d", m.done, m.errors, m.postponed)),
		dimStyle.Render(fmt.Sprintf("Skipped: %d  Swept: %d", m.skipped, m.swept)),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", elapsed)),
		barStyle.Render(renderBar(barWidth, ratio)),
	}

	return strings.Join(lines, "\n")
}

func listenForUpdates(updates <-chan processor.ProgressUpdate) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(update)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle   = lipgloss.NewStyle().Foreground(ColorAccentAlt)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorDim)
)

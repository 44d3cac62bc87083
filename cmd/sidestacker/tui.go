package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/brensch/sidestacker/executor/inference"
	"github.com/brensch/sidestacker/executor/selfplay"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(18)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("231"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	helpStyle  = lipgloss.NewStyle().Faint(true)
)

type tickMsg time.Time

// doneMsg is sent once the progress channel closes.
type doneMsg struct{}

type progressModel struct {
	updates   <-chan selfplay.Progress
	stats     func() inference.RuntimeStats
	last      selfplay.Progress
	recent    []string
	startTime time.Time
	finished  bool
}

func newProgressModel(updates <-chan selfplay.Progress, stats func() inference.RuntimeStats) progressModel {
	return progressModel{updates: updates, stats: stats, startTime: time.Now()}
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForUpdate(updates <-chan selfplay.Progress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return p
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		return m, tickCmd()
	case selfplay.Progress:
		m.last = msg
		line := fmt.Sprintf("iter %d game %d: winner %s, %d plies", msg.Iteration, msg.GamesDone, msg.LastGameWinner, msg.LastGamePlies)
		m.recent = append([]string{line}, m.recent...)
		if len(m.recent) > 8 {
			m.recent = m.recent[:8]
		}
		return m, waitForUpdate(m.updates)
	case doneMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	elapsed := time.Since(m.startTime)
	secs := elapsed.Seconds()
	games := m.last.Wins + m.last.Draws
	rate := func(n int64) string {
		if secs < 1 {
			return "-"
		}
		return fmt.Sprintf("%.2f", float64(n)/secs)
	}

	row := func(label, value string) string {
		return labelStyle.Render(label) + valueStyle.Render(value)
	}

	lines := []string{
		titleStyle.Render("sidestacker self-play"),
		row("Iteration", fmt.Sprintf("%d / %d", m.last.Iteration+1, max(m.last.Iterations, 1))),
		row("Games", fmt.Sprintf("%d / %d this iteration, %d total", m.last.GamesDone, m.last.GamesPerIter, games)),
		row("Wins / Draws", fmt.Sprintf("%d / %d", m.last.Wins, m.last.Draws)),
		row("Samples", fmt.Sprintf("%d", m.last.Samples)),
		row("Games/sec", rate(games)),
		row("Plies/sec", rate(m.last.Plies)),
		row("Inferences/sec", rate(totalInferences.Load())),
		row("Elapsed", elapsed.Round(time.Second).String()),
	}
	if m.stats != nil {
		st := m.stats()
		lines = append(lines, row("ONNX batch", fmt.Sprintf("avg %.1f last %d queue %d run %.2fms", st.AvgBatchSize, st.LastBatchSize, st.QueueLen, st.AvgRunMs)))
	}

	var sb strings.Builder
	sb.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	sb.WriteString("\n\nRecent games:\n")
	for _, g := range m.recent {
		sb.WriteString("  " + g + "\n")
	}
	if m.finished {
		sb.WriteString("\nDone.\n")
	} else {
		sb.WriteString(helpStyle.Render("\nPress q to stop.") + "\n")
	}
	return sb.String()
}

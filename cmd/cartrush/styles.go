package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jpalmerr/cartrush"
)

// Semantic colors for session output.
var (
	colorSuccess = lipgloss.Color("#8BC34A")
	colorError   = lipgloss.Color("#E53935")
	colorWarning = lipgloss.Color("#FFC107")
	colorInfo    = lipgloss.Color("#2196F3")
	colorMuted   = lipgloss.Color("#8A8F98")
)

var (
	labelStyle = lipgloss.NewStyle().Bold(true).Width(9)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorInfo).
			Padding(0, 1)
)

func stateStyle(s cartrush.State) lipgloss.Style {
	base := labelStyle
	switch s {
	case cartrush.StateSuccess:
		return base.Foreground(colorSuccess)
	case cartrush.StateError:
		return base.Foreground(colorError)
	case cartrush.StateStopped:
		return base.Foreground(colorWarning)
	default:
		return base.Foreground(colorInfo)
	}
}

// printer renders session events to a terminal.
type printer struct {
	out     io.Writer
	verbose bool
}

func (p printer) banner(t cartrush.Target, maxConcurrent int, maxDuration time.Duration) {
	body := fmt.Sprintf("cartrush  %s\nconcurrency %d · max %s",
		t.String(), maxConcurrent, maxDuration)
	fmt.Fprintln(p.out, boxStyle.Render(body))
}

func (p printer) status(s cartrush.Status) {
	line := stateStyle(s.State).Render(string(s.State)) +
		mutedStyle.Render(fmt.Sprintf("#%-6d %6.1fs ", s.RequestCount, s.Elapsed.Seconds())) +
		s.LastMessage
	if s.ServerMessage != "" && s.ServerMessage != s.LastMessage {
		line += mutedStyle.Render(" (" + s.ServerMessage + ")")
	}
	fmt.Fprintln(p.out, line)
}

func (p printer) log(e cartrush.LogEntry) {
	if !p.verbose {
		return
	}
	fmt.Fprintln(p.out, mutedStyle.Render(e.At.Format("15:04:05.000")+" "+e.Message))
}

func (p printer) waiting(at time.Time) {
	fmt.Fprintln(p.out, mutedStyle.Render(fmt.Sprintf("waiting until %s (%s)",
		at.Format(time.RFC3339), time.Until(at).Round(time.Second))))
}

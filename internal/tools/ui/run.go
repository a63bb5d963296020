package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vendi-market/vendi/internal/tools/common"
)

const runTimeout = 3 * time.Minute

var frames = []string{"|", "/", "-", "\\"}

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	done    bool
	details []string
	err     error
	run     func() tea.Msg
}

func newModel(title string, fn func(context.Context) ([]string, error)) model {
	return model{
		title: title,
		run: func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			defer cancel()
			details, err := fn(ctx)
			return doneMsg{details: details, err: err}
		},
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.run, tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = context.Canceled
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(frames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	if m.done {
		return common.RenderResult(m.err == nil, m.title, m.details, m.err)
	}
	return fmt.Sprintf("%s %s\n", frames[m.frame], m.title)
}

// Run executes fn behind a terminal progress indicator and returns its
// result once it finishes.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	final, err := tea.NewProgram(newModel(title, fn)).Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(model)
	if !ok {
		return nil, fmt.Errorf("unexpected model %T", final)
	}
	return m.details, m.err
}

// Package monitor renders pipeline runs in the terminal: a live BubbleTea
// dashboard fed by progress events, and a static summary of the result.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/seer/internal/pipeline"
)

// maxNotes caps the warnings shown under the stage list.
const maxNotes = 5

type stageStatus int

const (
	statusPending stageStatus = iota
	statusRunning
	statusDone
	statusWarned
	statusFailed
)

type stageState struct {
	stage   pipeline.Stage
	status  stageStatus
	count   int
	message string
}

// Outcome is what Run returned.
type Outcome struct {
	Result *pipeline.Result
	Err    error
}

// Model is the BubbleTea dashboard for one run.
type Model struct {
	events <-chan pipeline.Event

	stages   []stageState
	notes    []string
	started  time.Time
	elapsed  time.Duration
	outcome  Outcome
	finished bool
	quitting bool

	progress progress.Model
	now      func() time.Time
}

// NewModel creates a dashboard reading progress from events. The run's
// outcome arrives as a Done message sent to the program.
func NewModel(events <-chan pipeline.Event) Model {
	all := pipeline.Stages()
	stages := make([]stageState, 0, len(all)-1)
	for _, s := range all {
		if s == pipeline.StageDone {
			continue
		}
		stages = append(stages, stageState{stage: s})
	}
	return Model{
		events:  events,
		stages:  stages,
		started: time.Now(),
		progress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(progressWidth),
		),
		now: time.Now,
	}
}

// Finished reports whether the run ended while the dashboard was open.
func (m Model) Finished() bool { return m.finished }

// Quitting reports whether the user closed the dashboard.
func (m Model) Quitting() bool { return m.quitting }

// Outcome returns the run outcome; valid once Finished.
func (m Model) Outcome() Outcome { return m.outcome }

// Message types
type eventMsg pipeline.Event
type doneMsg Outcome
type tickMsg time.Time

// Done wraps the run outcome for tea.Program.Send. The dashboard quits when
// it receives it.
func Done(o Outcome) tea.Msg {
	return doneMsg(o)
}

// Init starts listening for events and the elapsed-time ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.events),
		tick(),
	)
}

func waitForEvent(events <-chan pipeline.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		m.apply(pipeline.Event(msg))
		return m, waitForEvent(m.events)

	case doneMsg:
		m.outcome = Outcome(msg)
		m.finished = true
		m.elapsed = m.now().Sub(m.started)
		return m, tea.Quit

	case tickMsg:
		if m.finished || m.quitting {
			return m, nil
		}
		m.elapsed = m.now().Sub(m.started)
		return m, tick()
	}

	return m, nil
}

func (m *Model) stage(s pipeline.Stage) *stageState {
	for i := range m.stages {
		if m.stages[i].stage == s {
			return &m.stages[i]
		}
	}
	return nil
}

// current returns the running stage, or nil.
func (m *Model) current() *stageState {
	for i := range m.stages {
		if m.stages[i].status == statusRunning {
			return &m.stages[i]
		}
	}
	return nil
}

func (m *Model) apply(e pipeline.Event) {
	switch e.Type {
	case pipeline.EventStarted:
		m.stages[0].status = statusRunning
		m.stages[0].message = e.Message

	case pipeline.EventProgress:
		st := m.stage(e.Step)
		if st == nil {
			return
		}
		if st.status != statusWarned {
			st.status = statusDone
		}
		st.count = e.Count
		st.message = e.Message
		for i := range m.stages {
			if m.stages[i].stage == e.Step && i+1 < len(m.stages) {
				m.stages[i+1].status = statusRunning
			}
		}

	case pipeline.EventWarning:
		if st := m.stage(e.Step); st != nil && st.status != statusFailed {
			st.status = statusWarned
		}
		m.notes = append(m.notes, fmt.Sprintf("%s: %s", e.Step, e.Message))
		if len(m.notes) > maxNotes {
			m.notes = m.notes[len(m.notes)-maxNotes:]
		}

	case pipeline.EventError:
		st := m.stage(e.Step)
		if st == nil {
			st = m.current()
		}
		if st != nil {
			st.status = statusFailed
			st.message = e.Message
		}

	case pipeline.EventCompleted:
		for i := range m.stages {
			if m.stages[i].status == statusPending || m.stages[i].status == statusRunning {
				m.stages[i].status = statusDone
			}
		}
	}
}

// fraction is the share of stages no longer pending or running.
func (m Model) fraction() float64 {
	done := 0
	for _, st := range m.stages {
		if st.status != statusPending && st.status != statusRunning {
			done++
		}
	}
	return float64(done) / float64(len(m.stages))
}

func getStageBadge(s stageStatus) string {
	switch s {
	case statusDone:
		return healthyStyle.Render("[✓]")
	case statusWarned:
		return warningStyle.Render("[⚠]")
	case statusFailed:
		return errorStyle.Render("[✗]")
	case statusRunning:
		return labelStyle.Render("[…]")
	default:
		return dimStyle.Render("[ ]")
	}
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting || m.finished {
		return ""
	}

	var b strings.Builder
	header := headerStyle.Render(" seer run ")
	fmt.Fprintf(&b, "%s   %s %s\n", header, dimStyle.Render("Elapsed:"), valueStyle.Render(FormatDuration(m.elapsed)))

	fraction := m.fraction()
	fmt.Fprintf(&b, "\n%s%s %s\n", labelStyle.Render("  Progress: "), m.progress.ViewAs(fraction),
		dimStyle.Render(FormatPercentage(fraction)))

	b.WriteString(sectionStyle.Render("┃ Stages") + "\n")
	for _, st := range m.stages {
		line := fmt.Sprintf("  %s %s", getStageBadge(st.status), labelStyle.Render(fmt.Sprintf("%-10s", st.stage)))
		if st.status != statusPending && st.message != "" {
			line += " " + dimStyle.Render(st.message)
		}
		b.WriteString(line + "\n")
	}

	if len(m.notes) > 0 {
		b.WriteString(sectionStyle.Render("┃ Warnings") + "\n")
		for _, n := range m.notes {
			fmt.Fprintf(&b, "  %s\n", warningStyle.Render("⚠ "+n))
		}
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" cancel run")
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

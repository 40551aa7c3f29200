package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/js-runtime/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	rejectStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB86C"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const historyLimit = 200

type replModel struct {
	rt       *runtime.Runtime
	ctx      *runtime.Context
	input    textinput.Model
	history  []replEntry
	past     []string
	pastIdx  int
	evalSeq  int
	rejects  *rejectLog
	quitting bool
}

type replEntry struct {
	input  string
	output string
	isErr  bool
}

// rejectLog collects unhandled-rejection reports fired from inside the
// runtime so the view can show them after the evaluation that caused
// them.
type rejectLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *rejectLog) add(origin string, value any) {
	l.mu.Lock()
	l.entries = append(l.entries, fmt.Sprintf("unhandled rejection in %s: %v", origin, value))
	l.mu.Unlock()
}

func (l *rejectLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.entries
	l.entries = nil
	return out
}

func newReplModel(stack int) (*replModel, error) {
	rt, err := runtime.New(&runtime.Config{MaxCallStackSize: stack})
	if err != nil {
		return nil, err
	}
	registerDemoOps(rt)

	rejects := &rejectLog{}
	rt.SetRejectionHandler(rejects.add)

	ctx, err := rt.NewContext(runtime.WithName("repl"))
	if err != nil {
		rt.Shutdown()
		return nil, err
	}

	ti := textinput.New()
	ti.Prompt = "js> "
	ti.PromptStyle = promptStyle
	ti.Focus()
	ti.Width = 80

	return &replModel{
		rt:      rt,
		ctx:     ctx,
		input:   ti,
		rejects: rejects,
	}, nil
}

type evalResultMsg struct {
	seq     int
	input   string
	output  string
	isErr   bool
	rejects []string
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) evaluate(src string, seq int) tea.Cmd {
	return func() tea.Msg {
		h, err := m.ctx.Evaluate(src, fmt.Sprintf("repl-%d.js", seq))
		if err != nil {
			return evalResultMsg{seq: seq, input: src, output: formatError(err), isErr: true, rejects: m.rejects.take()}
		}

		if h.IsPromise() {
			settled, err := m.rt.AwaitHandle(h, 5*time.Second)
			if err != nil {
				return evalResultMsg{seq: seq, input: src, output: formatError(err), isErr: true, rejects: m.rejects.take()}
			}
			h = settled
		}

		out, err := h.JSON()
		if err != nil {
			return evalResultMsg{seq: seq, input: src, output: formatError(err), isErr: true, rejects: m.rejects.take()}
		}
		if out == "" {
			out = "undefined"
		}
		return evalResultMsg{seq: seq, input: src, output: out, rejects: m.rejects.take()}
	}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			m.quitting = true
			m.ctx.Destroy()
			m.rt.Shutdown()
			return m, tea.Quit

		case "enter":
			src := strings.TrimSpace(m.input.Value())
			if src == "" {
				return m, nil
			}
			m.input.SetValue("")
			m.past = append(m.past, src)
			m.pastIdx = len(m.past)
			m.evalSeq++
			return m, m.evaluate(src, m.evalSeq)

		case "up":
			if m.pastIdx > 0 {
				m.pastIdx--
				m.input.SetValue(m.past[m.pastIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.pastIdx < len(m.past)-1 {
				m.pastIdx++
				m.input.SetValue(m.past[m.pastIdx])
				m.input.CursorEnd()
			} else {
				m.pastIdx = len(m.past)
				m.input.SetValue("")
			}
			return m, nil
		}

	case evalResultMsg:
		m.history = append(m.history, replEntry{
			input:  msg.input,
			output: msg.output,
			isErr:  msg.isErr,
		})
		for _, r := range msg.rejects {
			m.history = append(m.history, replEntry{output: r, isErr: true})
		}
		if len(m.history) > historyLimit {
			m.history = m.history[len(m.history)-historyLimit:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("js-runtime"))
	b.WriteString(" interactive\n\n")

	start := 0
	if len(m.history) > 20 {
		start = len(m.history) - 20
	}
	for _, e := range m.history[start:] {
		if e.input != "" {
			b.WriteString(promptStyle.Render("js> "))
			b.WriteString(e.input)
			b.WriteString("\n")
		}
		switch {
		case e.isErr && e.input == "":
			b.WriteString(rejectStyle.Render(e.output))
		case e.isErr:
			b.WriteString(errorStyle.Render(e.output))
		default:
			b.WriteString(resultStyle.Render(e.output))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter evaluate • ↑/↓ history • ctrl+c quit"))
	return b.String()
}

func runInteractive(stack int) error {
	m, err := newReplModel(stack)
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

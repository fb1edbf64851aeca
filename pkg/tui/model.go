// Package tui is the terminal chat client: a Bubble Tea program around a
// chatclient.Session, plus a line-oriented loop for when stdin is not a
// terminal.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/papercomputeco/staffdesk/pkg/chatclient"
	"github.com/papercomputeco/staffdesk/pkg/llm"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	partialStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("214"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// chrome is the number of lines around the viewport: title, status, input.
const chrome = 3

type entryMsg chatclient.Entry

type replyDoneMsg struct{ err error }

// Model is the chat screen.
type Model struct {
	ctx     context.Context
	session *chatclient.Session
	updates chan chatclient.Entry

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	glamourStyle string
	renderer     *glamour.TermRenderer
	// rendered caches the markdown rendering of settled entries by index.
	rendered map[int]string

	width     int
	ready     bool
	streaming bool
	waiting   bool
	status    string
	statusErr bool
}

// New creates the chat screen for a fresh conversation through client.
func New(ctx context.Context, client *chatclient.Client) *Model {
	m := &Model{
		ctx:      ctx,
		updates:  make(chan chatclient.Entry, 64),
		rendered: make(map[int]string),
	}
	m.session = chatclient.NewSession(client, func(e chatclient.Entry) {
		// The transcript is re-read on every refresh, so a dropped
		// notification only delays a repaint.
		select {
		case m.updates <- e:
		default:
		}
	})

	m.input = textinput.New()
	m.input.Placeholder = "Ask something..."
	m.input.Prompt = "> "
	m.input.CharLimit = 4000
	m.input.Focus()

	m.spinner = spinner.New()
	m.spinner.Spinner = spinner.Dot

	m.glamourStyle = "light"
	if termenv.HasDarkBackground() {
		m.glamourStyle = "dark"
	}

	return m
}

// Session exposes the conversation behind the screen.
func (m *Model) Session() *chatclient.Session { return m.session }

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case entryMsg:
		m.waiting = false
		m.refresh()
		return m, m.waitForEntry()

	case replyDoneMsg:
		m.streaming = false
		m.waiting = false
		if msg.err != nil {
			m.status = describe(msg.err)
			m.statusErr = true
		}
		m.refresh()
		return m, m.input.Focus()

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "ctrl+n":
		if m.streaming {
			return m, nil
		}
		_ = m.session.Reset()
		m.rendered = make(map[int]string)
		m.status = "new conversation"
		m.statusErr = false
		m.refresh()
		return m, nil

	case "enter":
		if m.streaming {
			return m, nil
		}
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.input.Blur()
		m.streaming = true
		m.waiting = true
		m.status = ""
		m.statusErr = false
		return m, tea.Batch(m.send(text), m.waitForEntry(), m.spinner.Tick)

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.streaming {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) send(text string) tea.Cmd {
	return func() tea.Msg {
		return replyDoneMsg{err: m.session.Send(m.ctx, text)}
	}
}

func (m *Model) waitForEntry() tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-m.updates:
			return entryMsg(e)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	vh := height - chrome
	if vh < 1 {
		vh = 1
	}
	if !m.ready {
		m.viewport = viewport.New(width, vh)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vh
	}
	m.input.Width = width - len(m.input.Prompt) - 1

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.glamourStyle),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		m.renderer = r
	}
	m.rendered = make(map[int]string)
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m *Model) renderTranscript() string {
	var b strings.Builder
	wrap := lipgloss.NewStyle().Width(m.width)

	for i, e := range m.session.Transcript() {
		if e.Role == llm.RoleUser {
			b.WriteString(userStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(wrap.Render(e.Content))
			b.WriteString("\n\n")
			continue
		}

		b.WriteString(assistantStyle.Render("Assistant"))
		b.WriteString("\n")
		switch e.State {
		case chatclient.EntryComplete:
			b.WriteString(m.markdown(i, e.Content))
		case chatclient.EntryPartial:
			b.WriteString(wrap.Render(e.Content))
			b.WriteString("\n")
			b.WriteString(partialStyle.Render("[reply truncated]"))
		default:
			b.WriteString(wrap.Render(e.Content))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m *Model) markdown(i int, content string) string {
	if out, ok := m.rendered[i]; ok {
		return out
	}
	if m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	out = strings.Trim(out, "\n")
	m.rendered[i] = out
	return out
}

func (m *Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var status string
	switch {
	case m.waiting:
		status = m.spinner.View() + hintStyle.Render(" waiting for reply")
	case m.status != "":
		line := ansi.Truncate(m.status, m.width, "…")
		if m.statusErr {
			status = errorStyle.Render(line)
		} else {
			status = hintStyle.Render(line)
		}
	default:
		status = hintStyle.Render(ansi.Truncate("enter send · ctrl+n new chat · esc quit", m.width, "…"))
	}

	return titleStyle.Render("staffdesk") + "\n" +
		m.viewport.View() + "\n" +
		status + "\n" +
		m.input.View()
}

// describe turns a reply error into a status line.
func describe(err error) string {
	if errors.Is(err, context.Canceled) {
		return "reply canceled"
	}
	switch llm.CodeOf(err) {
	case llm.CodeTimeout:
		return "reply cut off: the relay's time limit was reached"
	case llm.CodeBackendInterrupted:
		return "reply interrupted: the connection to the model was lost"
	case llm.CodeBackendUnavailable:
		var e *llm.Error
		if errors.As(err, &e) {
			return "model unavailable: " + e.Reason
		}
		return "model unavailable: " + err.Error()
	case llm.CodeUnauthorized:
		return "not signed in: run `staffdesk login`"
	default:
		return err.Error()
	}
}

// Run shows the chat screen until the user quits or ctx is done.
func Run(ctx context.Context, client *chatclient.Client) error {
	p := tea.NewProgram(New(ctx, client), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xhad/docqa/internal/models"
)

// QAPort is the TUI-facing subset of the question answering session.
type QAPort interface {
	Load(ctx context.Context, source string) (name string, chunks int, err error)
	Ask(ctx context.Context, question string) (*models.Answer, error)
	Reset()
}

type answerMsg struct {
	answer *models.Answer
	err    error
}

type loadedMsg struct {
	name   string
	chunks int
	err    error
	own    bool // started by /load
}

// LoadedMsg reports a document processed outside the UI, such as a reload
// after the file changed.
func LoadedMsg(name string, chunks int, err error) tea.Msg {
	return loadedMsg{name: name, chunks: chunks, err: err}
}

type entry struct {
	role    string
	text    string
	context []models.Passage
	failed  bool
}

// Model is the Bubble Tea model for the chat UI.
type Model struct {
	port        QAPort
	input       textinput.Model
	viewport    viewport.Model
	entries     []entry
	status      string
	document    string
	showContext bool
	busy        bool
	ready       bool
}

// New creates a chat model. document names an already loaded document, or
// is empty.
func New(port QAPort, document string, showContext bool) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, /load <path|url>, /context, /reset"
	ti.Focus()
	ti.CharLimit = 0

	status := "Load a document with /load <path|url>."
	if document != "" {
		status = fmt.Sprintf("Loaded %s. Ask away.", document)
	}

	return Model{
		port:        port,
		input:       ti,
		viewport:    viewport.New(0, 0),
		status:      status,
		document:    document,
		showContext: showContext,
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, bh := transcriptStyle.GetFrameSize()
		_, ih := inputStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1 // header lines, status, input box
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-bh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.entries = append(m.entries, entry{
				role:    models.RoleAssistant,
				text:    msg.answer.Text,
				context: msg.answer.Context,
				failed:  msg.answer.Err != nil,
			})
			m.status = fmt.Sprintf("Answered from %d passages (k=%d).", len(msg.answer.Context), msg.answer.K)
		}
		m.refresh()
		return m, nil

	case loadedMsg:
		// An outside reload must not release a question still in flight.
		if msg.own {
			m.busy = false
		}
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.document = msg.name
			if m.busy && len(m.entries) > 0 {
				m.entries = m.entries[len(m.entries)-1:]
			} else {
				m.entries = nil
			}
			m.status = fmt.Sprintf("Loaded %s (%d chunks). Ask away.", msg.name, msg.chunks)
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.Type {
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.busy {
		return m, nil
	}
	m.input.SetValue("")

	switch {
	case text == "exit" || text == "/quit":
		return m, tea.Quit

	case text == "/reset":
		m.port.Reset()
		m.entries = nil
		m.document = ""
		m.status = "Session cleared. Load a document with /load <path|url>."
		m.refresh()
		return m, nil

	case text == "/context":
		m.showContext = !m.showContext
		m.status = fmt.Sprintf("Context passages %s.", onOff(m.showContext))
		m.refresh()
		return m, nil

	case strings.HasPrefix(text, "/load"):
		source := strings.TrimSpace(strings.TrimPrefix(text, "/load"))
		if source == "" {
			m.status = "Usage: /load <path|url>"
			return m, nil
		}
		m.busy = true
		m.status = "Processing " + source + "..."
		return m, m.load(source)

	case strings.HasPrefix(text, "/"):
		m.status = "Unknown command " + text
		return m, nil
	}

	m.entries = append(m.entries, entry{role: models.RoleUser, text: text})
	m.busy = true
	m.status = "Thinking..."
	m.refresh()
	return m, m.ask(text)
}

func (m Model) ask(question string) tea.Cmd {
	port := m.port
	return func() tea.Msg {
		answer, err := port.Ask(context.Background(), question)
		return answerMsg{answer: answer, err: err}
	}
}

func (m Model) load(source string) tea.Cmd {
	port := m.port
	return func() tea.Msg {
		name, chunks, err := port.Load(context.Background(), source)
		return loadedMsg{name: name, chunks: chunks, err: err, own: true}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	doc := m.document
	if doc == "" {
		doc = "no document"
	}
	header := headerStyle.Render("Document QA")
	subtitle := subtleStyle.Render(doc)
	transcript := transcriptStyle.Render(m.viewport.View())
	input := inputStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	if strings.HasPrefix(m.status, "Error") {
		status = errorStyle.Render(m.status)
	}

	return header + "\n" + subtitle + "\n" + transcript + "\n" + input + "\n" + status
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return subtleStyle.Render("No messages yet.")
	}

	width := max(20, m.viewport.Width-2)
	var b strings.Builder
	for _, e := range m.entries {
		if e.role == models.RoleUser {
			b.WriteString(userStyle.Render("You: "))
			b.WriteString(lipgloss.NewStyle().Width(width).Render(e.text))
			b.WriteString("\n\n")
			continue
		}

		style := lipgloss.NewStyle().Width(width)
		if e.failed {
			style = style.Inherit(errorStyle)
		}
		b.WriteString(assistantStyle.Render("Assistant: "))
		b.WriteString(style.Render(e.text))
		b.WriteString("\n")

		if m.showContext {
			for i, p := range e.context {
				b.WriteString(subtleStyle.Width(width).Render(fmt.Sprintf("  [%d] chunk %d, score %.3f: %s", i+1, p.Ordinal, p.Score, p.Text)))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func onOff(on bool) string {
	if on {
		return "shown"
	}
	return "hidden"
}

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// SetTheme adjusts colours for light or dark terminals.
func SetTheme(theme string) {
	switch theme {
	case "light":
		subtleStyle = subtleStyle.Foreground(lipgloss.Color("240"))
		statusStyle = statusStyle.Foreground(lipgloss.Color("28"))
		assistantStyle = assistantStyle.Foreground(lipgloss.Color("130"))
	case "dark":
		subtleStyle = subtleStyle.Foreground(lipgloss.Color("245"))
	}
}

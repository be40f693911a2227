package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	gopherchat "github.com/A13xB0/GopherChat"
)

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	sentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	receivedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	systemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	baseStyle     = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

const refreshTimeout = 10 * time.Second

type lineMsg gopherchat.TranscriptLine

type refreshDoneMsg struct{ err error }

type model struct {
	chat     *gopherchat.Chat
	updates  <-chan gopherchat.TranscriptLine
	cancel   func()
	viewport viewport.Model
	input    textinput.Model
	lines    []string
	next     uint64
	// config and status are cached so View never waits on a Refresh
	config gopherchat.ConnectionConfig
	status gopherchat.Status
	ready  bool
	busy   bool
}

func newModel(chat *gopherchat.Chat) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message or /help"
	ti.CharLimit = 1024
	ti.Focus()

	updates, cancel := chat.Transcript().Subscribe(256)

	m := model{
		chat:    chat,
		updates: updates,
		cancel:  cancel,
		input:   ti,
		config:  chat.Config(),
		status:  chat.Status(),
	}
	for _, line := range chat.Transcript().Lines() {
		m.addLine(line)
	}
	return m
}

// waitForLine delivers the next transcript line as a message
func waitForLine(ch <-chan gopherchat.TranscriptLine) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return nil
		}
		return lineMsg(line)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForLine(m.updates))
}

func (m model) refresh() tea.Cmd {
	chat := m.chat
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		return refreshDoneMsg{err: chat.Refresh(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancel()
			return m, tea.Quit
		case tea.KeyEnter:
			text := m.input.Value()
			m.input.Reset()
			if cmd := m.handleInput(text); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		height := msg.Height - lipgloss.Height(m.statusView()) - 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 2
			m.viewport.Height = height
		}
		m.input.Width = msg.Width - 4
		m.syncViewport()

	case lineMsg:
		m.addLine(gopherchat.TranscriptLine(msg))
		m.syncViewport()
		cmds = append(cmds, waitForLine(m.updates))

	case refreshDoneMsg:
		m.busy = false
		m.status = m.chat.Status()
		if msg.err != nil {
			m.chat.AppendLine(msg.err.Error())
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleInput applies a slash command or sends text as a message
func (m *model) handleInput(text string) tea.Cmd {
	if !strings.HasPrefix(text, "/") {
		chat := m.chat
		return func() tea.Msg {
			// Errors are already in the transcript
			chat.SendMessage(text)
			return nil
		}
	}

	command, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch command {
	case "transport":
		var kind gopherchat.TransportKind
		if kind, err = gopherchat.ParseTransportKind(arg); err == nil {
			err = m.chat.SetTransportKind(kind)
		}
	case "address":
		err = m.chat.SetRemoteAddress(arg)
		if err != nil {
			err = fmt.Errorf("%w, keeping %s", err, m.chat.RemoteAddress())
		}
	case "port":
		err = m.chat.SetRemotePort(arg)
		if err != nil {
			err = fmt.Errorf("%w, keeping %s", err, m.chat.RemotePort())
		}
	case "server":
		switch arg {
		case "on":
			m.chat.SetLocalServerEnabled(true)
		case "off":
			m.chat.SetLocalServerEnabled(false)
		default:
			err = fmt.Errorf("usage: /server on|off")
		}
	case "help":
		m.chat.PrintUsageInstructions()
		return nil
	default:
		err = fmt.Errorf("unknown command /%s", command)
	}

	if err != nil {
		m.chat.AppendLine(err.Error())
		return nil
	}
	m.config = m.chat.Config()
	m.busy = true
	return m.refresh()
}

// addLine renders a transcript line once, skipping lines seen both in the
// initial snapshot and on the subscription
func (m *model) addLine(line gopherchat.TranscriptLine) {
	if line.Seq < m.next {
		return
	}
	m.lines = append(m.lines, renderLine(line))
	m.next = line.Seq + 1
}

func (m *model) syncViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func renderLine(line gopherchat.TranscriptLine) string {
	switch line.Direction {
	case gopherchat.Sent:
		return sentStyle.Render(line.Text)
	case gopherchat.Received:
		return receivedStyle.Render(line.Text)
	default:
		return systemStyle.Render(line.Text)
	}
}

func (m model) statusView() string {
	config, status := m.config, m.status

	server := "off"
	if config.LocalServerEnabled {
		server = "on"
		if !status.Listening {
			server = "failed"
		}
	}
	peer := "disconnected"
	if status.Connected {
		peer = "connected"
	}
	if m.busy {
		peer = "refreshing"
	}

	return statusStyle.Render(fmt.Sprintf("%s  %s  %s  server %s  %s",
		m.chat.LocalName(),
		config.Kind,
		config.RemoteEndpoint(),
		server,
		peer,
	))
}

func (m model) View() string {
	if !m.ready {
		return "Starting..."
	}
	return fmt.Sprintf("%s\n%s\n%s",
		m.statusView(),
		baseStyle.Render(m.viewport.View()),
		m.input.View(),
	)
}

package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/lightbridge/host"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	methodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	notifyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// methodsID tags the request the console issues for its method list.
const methodsID = `"console-methods"`

const logLines = 14

type modelState int

const (
	stateSelectMethod modelState = iota
	stateInputParams
)

type responseMsg string

type stoppedMsg struct {
	err error
}

type sentMsg struct {
	err error
}

type entryKind int

const (
	entrySent entryKind = iota
	entryResult
	entryError
	entryNotification
)

type logEntry struct {
	text string
	kind entryKind
}

type interactiveModel struct {
	err      error
	send     func(string) error
	chain    string
	methods  []string
	log      []logEntry
	input    textinput.Model
	nextID   int
	selected int
	state    modelState
	stopped  bool
}

func newInteractiveModel(chain string, send func(string) error) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = `params, e.g. 0x01 or "text"`
	ti.Prompt = "params: "
	ti.Width = 60
	return &interactiveModel{
		chain:  chain,
		send:   send,
		input:  ti,
		nextID: 1,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.sendCmd(fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"method":"rpc_methods"}`, methodsID))
}

func (m *interactiveModel) sendCmd(req string) tea.Cmd {
	return func() tea.Msg {
		return sentMsg{err: m.send(req)}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state == stateSelectMethod {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectMethod && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectMethod && m.selected < len(m.methods)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectMethod:
				if len(m.methods) == 0 {
					return m, nil
				}
				m.state = stateInputParams
				m.input.SetValue("")
				m.input.Focus()
				return m, textinput.Blink

			case stateInputParams:
				req, err := buildRequest(m.methods[m.selected], m.input.Value(), m.nextID)
				if err != nil {
					m.appendLog(logEntry{text: err.Error(), kind: entryError})
					return m, nil
				}
				m.nextID++
				m.appendLog(logEntry{text: "→ " + req, kind: entrySent})
				m.input.Blur()
				m.state = stateSelectMethod
				return m, m.sendCmd(req)
			}

		case "esc":
			if m.state == stateInputParams {
				m.input.Blur()
				m.state = stateSelectMethod
			}
			return m, nil
		}

	case responseMsg:
		m.observe(string(msg))
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.appendLog(logEntry{text: msg.err.Error(), kind: entryError})
		}
		return m, nil

	case stoppedMsg:
		m.stopped = true
		m.err = msg.err
		return m, nil
	}

	if m.state == stateInputParams {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// observe logs a response and picks up the method list when it arrives.
func (m *interactiveModel) observe(resp string) {
	var env struct {
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal([]byte(resp), &env); err != nil {
		m.appendLog(logEntry{text: resp, kind: entryError})
		return
	}

	if string(env.ID) == methodsID && env.Error == nil {
		var list struct {
			Methods []string `json:"methods"`
		}
		if json.Unmarshal(env.Result, &list) == nil {
			m.methods = list.Methods
			m.selected = 0
			return
		}
	}

	switch {
	case env.Method != "":
		m.appendLog(logEntry{text: "← " + resp, kind: entryNotification})
	case env.Error != nil:
		m.appendLog(logEntry{text: fmt.Sprintf("← %s %d %s", env.ID, env.Error.Code, env.Error.Message), kind: entryError})
	default:
		m.appendLog(logEntry{text: "← " + resp, kind: entryResult})
	}
}

func (m *interactiveModel) appendLog(e logEntry) {
	m.log = append(m.log, e)
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("lightbridge"))
	b.WriteString(" ")
	b.WriteString(m.chain)
	b.WriteString("\n\n")

	if m.stopped {
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Host stopped: %v", m.err)))
		} else {
			b.WriteString("Host stopped.")
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("q quit"))
		return b.String()
	}

	switch m.state {
	case stateSelectMethod:
		if len(m.methods) == 0 {
			b.WriteString("Loading methods...\n")
			break
		}
		b.WriteString("Select a method to call:\n\n")
		for i, name := range m.methods {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + name))
			} else {
				b.WriteString("  " + name)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputParams:
		b.WriteString(fmt.Sprintf("Calling %s\n\n", methodStyle.Render(m.methods[m.selected])))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter send • esc back"))
	}

	if len(m.log) > 0 {
		b.WriteString("\n\n")
		for _, e := range m.log {
			b.WriteString(renderEntry(e))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderEntry(e logEntry) string {
	switch e.kind {
	case entryResult:
		return resultStyle.Render(e.text)
	case entryError:
		return errorStyle.Render(e.text)
	case entryNotification:
		return notifyStyle.Render(e.text)
	default:
		return helpStyle.Render(e.text)
	}
}

// buildRequest turns a method and a whitespace-separated parameter line into
// a JSON-RPC request. Each parameter is taken as JSON when it parses and as
// a string otherwise.
func buildRequest(method, params string, id int) (string, error) {
	args := []json.RawMessage{}
	for _, field := range strings.Fields(params) {
		if json.Valid([]byte(field)) {
			args = append(args, json.RawMessage(field))
			continue
		}
		quoted, err := json.Marshal(field)
		if err != nil {
			return "", err
		}
		args = append(args, quoted)
	}
	req := struct {
		JSONRPC string            `json:"jsonrpc"`
		Method  string            `json:"method"`
		Params  []json.RawMessage `json:"params"`
		ID      int               `json:"id"`
	}{"2.0", method, args, id}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runInteractive(ctx context.Context, h *host.Host, chain string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan string)
	send := func(req string) error {
		select {
		case in <- req:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p := tea.NewProgram(newInteractiveModel(chain, send), tea.WithAltScreen(), tea.WithContext(ctx))

	hostErr := make(chan error, 1)
	go func() {
		err := h.Run(ctx, in, func(resp string) { p.Send(responseMsg(resp)) })
		p.Send(stoppedMsg{err: err})
		hostErr <- err
	}()

	_, err := p.Run()
	cancel()
	runErr := <-hostErr

	if err != nil && !stderrors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if runErr != nil && !stderrors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

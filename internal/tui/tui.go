// Package tui implements the interactive terminal client.
//
// The interface is a Bubble Tea program with three regions: a scrollable
// transcript viewport, a single-line input box, and a help bar. While a
// turn is in flight the transcript shows the pipeline's progress labels
// ("Searching documents...", "Generating response...") next to a spinner,
// then streams the answer text as it arrives.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/koopa0/ragchat/internal/chat"
)

// State represents TUI state machine.
type State int

// TUI state machine states.
const (
	StateInput     State = iota // Awaiting user input
	StateThinking               // Pipeline running, no answer text yet
	StateStreaming              // Answer text arriving
)

// Memory bounds to prevent unbounded growth.
const (
	maxMessages = 100 // Maximum messages stored
	maxHistory  = 100 // Maximum command history entries
)

// streamTimeout bounds a single turn end to end.
const streamTimeout = 5 * time.Minute

// Message role constants for consistent display.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
	roleError     = "error"
)

// Layout constants for viewport height calculation.
const (
	separatorLines = 2 // Two separator lines (above and below input)
	helpLines      = 1 // Help bar height
	promptLines    = 1 // Prompt prefix line
	minViewport    = 3 // Minimum viewport height
)

// Slash command constants.
const (
	cmdHelp  = "/help"
	cmdClear = "/clear"
	cmdExit  = "/exit"
	cmdQuit  = "/quit"
)

// Message represents a conversation message for display.
type Message struct {
	Role string // "user", "assistant", "system", "error"
	Text string
}

// TUI is the Bubble Tea model for the terminal chat client.
type TUI struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	// State
	state     State
	status    string // Current pipeline phase label, shown while thinking
	lastCtrlC time.Time

	// Output
	spinner  spinner.Model
	output   strings.Builder
	viewBuf  strings.Builder // Reusable buffer for View() to reduce allocations
	messages []Message

	// Scrollable message viewport
	viewport viewport.Model

	// Help bar for keyboard shortcuts
	help help.Model
	keys keyMap

	// Stream management
	// Note: No sync.WaitGroup - Bubble Tea's event loop provides synchronization.
	// Single union channel with discriminated events simplifies select logic.
	streamCancel  context.CancelFunc
	streamEventCh <-chan streamEvent

	// Dependencies (direct, no interface)
	svc       *chat.Service
	sessionID string
	ctx       context.Context
	ctxCancel context.CancelFunc // For canceling all operations on exit

	// Dimensions
	width  int
	height int

	// Styles
	styles Styles

	// Markdown rendering (nil = graceful degradation to plain text)
	markdown *markdownRenderer
}

// addMessage appends a message and enforces maxMessages bound.
func (t *TUI) addMessage(msg Message) {
	t.messages = append(t.messages, msg)
	if len(t.messages) > maxMessages {
		// Remove oldest messages to stay within bounds
		t.messages = t.messages[len(t.messages)-maxMessages:]
	}
}

// New creates a TUI model for chat interaction. An empty sessionID starts
// a fresh conversation; the id minted on the first turn is adopted so
// later turns continue it.
//
// IMPORTANT: ctx MUST be the same context passed to tea.WithContext()
// to ensure consistent cancellation behavior.
func New(ctx context.Context, svc *chat.Service, sessionID string) (*TUI, error) {
	if svc == nil {
		return nil, errors.New("tui.New: chat service is required")
	}
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}

	// Create cancellable context for cleanup on exit
	ctx, cancel := context.WithCancel(ctx)

	// Create textarea for multi-line input
	// Enter submits, Shift+Enter adds newline (default behavior)
	ta := textarea.New()
	ta.Placeholder = "Ask about the docs, or paste a URL to summarize..."
	ta.SetHeight(1)  // Single line by default
	ta.SetWidth(120) // Wide enough for long text, updated on WindowSizeMsg
	ta.MaxWidth = 0  // No max width limit
	ta.ShowLineNumbers = false

	// Minimal styling: no background colors, just plain text
	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")), // Gray placeholder
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{
		Focused: cleanStyle,
		Blurred: cleanStyle,
	})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Create viewport for scrollable message history.
	// Built-in keyboard handling is disabled; handleKey routes keys
	// explicitly to avoid conflicts with textarea/history navigation.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{} // Disable default key bindings

	h := help.New()

	return &TUI{
		svc:       svc,
		sessionID: sessionID,
		ctx:       ctx,
		ctxCancel: cancel,
		input:     ta,
		spinner:   sp,
		viewport:  vp,
		help:      h,
		keys:      newKeyMap(),
		styles:    DefaultStyles(),
		history:   make([]string, 0, maxHistory),
		markdown:  newMarkdownRenderer(80),
		width:     80, // Default width until WindowSizeMsg arrives
	}, nil
}

// Init implements tea.Model.
func (t *TUI) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		t.spinner.Tick,
		t.input.Focus(), // Ensure textarea is focused on startup
	)
}

// Update implements tea.Model.
//
//nolint:gocognit,gocyclo // Bubble Tea Update requires type switch on all message types
func (t *TUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return t.handleKey(msg)

	case tea.WindowSizeMsg:
		t.width = msg.Width
		t.height = msg.Height

		// Calculate viewport height: total - input - separators - help
		inputHeight := t.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		t.viewport.SetWidth(msg.Width)
		t.viewport.SetHeight(vpHeight)
		t.input.SetWidth(msg.Width - 4) // Room for "> " prompt
		t.help.SetWidth(msg.Width)
		t.markdown.UpdateWidth(msg.Width)

		// Rebuild viewport content with new dimensions
		t.rebuildViewportContent()
		return t, nil

	case tea.MouseWheelMsg:
		// Forward mouse wheel to viewport for scrolling
		var cmd tea.Cmd
		t.viewport, cmd = t.viewport.Update(msg)
		return t, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		t.spinner, cmd = t.spinner.Update(msg)
		// Rebuild viewport to update spinner animation
		if t.state == StateThinking {
			t.rebuildViewportContent()
		}
		return t, cmd

	case streamStartedMsg:
		t.streamCancel = msg.cancel
		t.streamEventCh = msg.eventCh
		// The pipeline reports progress before any answer text exists,
		// so stay in thinking state until the first chunk arrives.
		t.state = StateThinking
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, listenForStream(msg.eventCh)

	case streamPhaseMsg:
		if t.streamEventCh == nil {
			return t, nil // Stream already canceled
		}
		t.status = msg.status
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, listenForStream(t.streamEventCh)

	case streamTextMsg:
		if t.streamEventCh == nil {
			return t, nil // Stream already canceled
		}
		t.state = StateStreaming
		t.status = ""
		t.output.WriteString(msg.text)
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, listenForStream(t.streamEventCh)

	case streamDoneMsg:
		if t.streamEventCh == nil {
			return t, nil // Stream already canceled
		}
		t.state = StateInput
		t.status = ""

		// Cancel context to release timer resources
		if t.streamCancel != nil {
			t.streamCancel()
			t.streamCancel = nil
		}
		t.streamEventCh = nil

		// Prefer the final result content over accumulated chunks: it
		// carries the fallback wording when the model produced nothing.
		finalText := t.output.String()
		if msg.result != nil {
			if msg.result.Content != "" {
				finalText = msg.result.Content
			}
			// Adopt the session id minted on the first turn so the
			// next message continues the same conversation.
			if msg.result.SessionID != "" {
				t.sessionID = msg.result.SessionID
			}
		}

		t.addMessage(Message{
			Role: roleAssistant,
			Text: finalText,
		})
		t.output.Reset()
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		// Re-focus textarea after stream completes
		return t, t.input.Focus()

	case streamErrorMsg:
		if t.streamEventCh == nil {
			return t, nil // Stream already canceled
		}
		t.state = StateInput
		t.status = ""

		// Cancel context to release timer resources
		if t.streamCancel != nil {
			t.streamCancel()
			t.streamCancel = nil
		}
		t.streamEventCh = nil

		switch {
		case errors.Is(msg.err, context.Canceled):
			t.addMessage(Message{Role: roleSystem, Text: "(Canceled)"})
		case errors.Is(msg.err, context.DeadlineExceeded):
			t.addMessage(Message{Role: roleError, Text: "Request timeout (>5 min). Try a simpler question."})
		default:
			t.addMessage(Message{Role: roleError, Text: msg.err.Error()})
		}
		t.output.Reset()
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		// Re-focus textarea after error
		return t, t.input.Focus()
	}

	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	return t, cmd
}

// View implements tea.Model.
// Uses AltScreen with viewport for scrollable message history.
func (t *TUI) View() tea.View {
	t.viewBuf.Reset()

	// Viewport (scrollable message area)
	_, _ = t.viewBuf.WriteString(t.viewport.View())
	_, _ = t.viewBuf.WriteString("\n")

	// Separator line above input
	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	// Input prompt - always show and always accept input
	// Users can type while the pipeline is thinking/streaming
	_, _ = t.viewBuf.WriteString(t.styles.Prompt.Render("> "))
	_, _ = t.viewBuf.WriteString(t.input.View())
	_, _ = t.viewBuf.WriteString("\n")

	// Separator line below input
	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	// Help bar (keyboard shortcuts)
	_, _ = t.viewBuf.WriteString(t.renderStatusBar())

	v := tea.NewView(t.viewBuf.String())
	v.AltScreen = true
	return v
}

// rebuildViewportContent reconstructs the viewport content from messages and state.
// Called when messages, streaming output, or state changes.
func (t *TUI) rebuildViewportContent() {
	var b strings.Builder

	// Banner and tips
	_, _ = b.WriteString(t.styles.RenderBanner())
	_, _ = b.WriteString("\n")
	_, _ = b.WriteString(t.styles.RenderWelcomeTips())
	_, _ = b.WriteString("\n")

	// Messages (already bounded by addMessage)
	for _, msg := range t.messages {
		switch msg.Role {
		case roleUser:
			_, _ = b.WriteString(t.styles.User.Render("You> "))
			_, _ = b.WriteString(msg.Text)
		case roleAssistant:
			_, _ = b.WriteString(t.styles.Assistant.Render("ragchat> "))
			_, _ = b.WriteString(t.markdown.Render(msg.Text))
		case roleSystem:
			_, _ = b.WriteString(t.styles.System.Render(msg.Text))
		case roleError:
			_, _ = b.WriteString(t.styles.Error.Render("Error: " + msg.Text))
		}
		_, _ = b.WriteString("\n\n")
	}

	// Current streaming output
	if t.state == StateStreaming && t.output.Len() > 0 {
		_, _ = b.WriteString(t.styles.Assistant.Render("ragchat> "))
		_, _ = b.WriteString(t.output.String())
		_, _ = b.WriteString("\n\n")
	}

	// Progress indicator: spinner plus the current pipeline phase label
	if t.state == StateThinking {
		status := t.status
		if status == "" {
			status = "Thinking..."
		}
		_, _ = b.WriteString(t.spinner.View())
		_, _ = b.WriteString(" ")
		_, _ = b.WriteString(t.styles.System.Render(status))
		_, _ = b.WriteString("\n\n")
	}

	t.viewport.SetContent(b.String())
}

// renderSeparator returns a horizontal line separator.
func (t *TUI) renderSeparator() string {
	width := t.width
	if width <= 0 {
		width = 80 // Default width
	}
	return t.styles.Separator.Render(strings.Repeat("─", width))
}

// renderStatusBar returns state-appropriate keyboard shortcut help.
func (t *TUI) renderStatusBar() string {
	var bindings []key.Binding
	switch t.state {
	case StateInput:
		bindings = []key.Binding{
			t.keys.Submit, t.keys.NewLine, t.keys.History,
			t.keys.Cancel, t.keys.Quit, t.keys.ScrollUp,
		}
	case StateThinking, StateStreaming:
		bindings = []key.Binding{
			t.keys.EscCancel, t.keys.Cancel,
			t.keys.ScrollUp, t.keys.ScrollDown,
		}
	}
	return t.help.ShortHelpView(bindings)
}

// keyMap holds key bindings for help bar display.
type keyMap struct {
	Submit     key.Binding
	NewLine    key.Binding
	History    key.Binding
	Cancel     key.Binding
	Quit       key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	EscCancel  key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Submit:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		NewLine:    key.NewBinding(key.WithKeys("shift+enter"), key.WithHelp("s+enter", "newline")),
		History:    key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "history")),
		Cancel:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "cancel")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "exit")),
		ScrollUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		ScrollDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
		EscCancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	}
}

//nolint:gocyclo // Keyboard handler requires branching for all key combinations
func (t *TUI) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	k := msg.Key()

	// Check for Ctrl modifier
	if k.Mod&tea.ModCtrl != 0 {
		switch k.Code {
		case 'c':
			return t.handleCtrlC()
		case 'd':
			cmd := t.cleanup()
			return t, cmd
		}
	}

	// Check special keys
	switch k.Code {
	case tea.KeyEnter:
		if t.state == StateInput {
			// Enter without Shift = submit
			// Shift+Enter = newline (pass through to textarea)
			if k.Mod&tea.ModShift == 0 {
				return t.handleSubmit()
			}
		}

	case tea.KeyUp:
		// Up at first line navigates history, otherwise pass to textarea
		if t.state == StateInput && t.input.Line() == 0 {
			return t.navigateHistory(-1)
		}

	case tea.KeyDown:
		// Down at last line navigates history, otherwise pass to textarea
		if t.state == StateInput && t.input.Line() == t.input.LineCount()-1 {
			return t.navigateHistory(1)
		}

	case tea.KeyEscape:
		if t.state == StateStreaming || t.state == StateThinking {
			t.cancelStream()
			t.state = StateInput
			t.status = ""
			t.output.Reset()
			return t, nil
		}

	case tea.KeyPgUp:
		t.viewport.PageUp()
		return t, nil

	case tea.KeyPgDown:
		t.viewport.PageDown()
		return t, nil
	}

	// Pass keys to textarea for typing - ALWAYS allow typing even during
	// streaming so users can prepare the next message
	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	return t, cmd
}

func (t *TUI) handleCtrlC() (tea.Model, tea.Cmd) {
	now := time.Now()

	// Double Ctrl+C within 1 second = quit
	if now.Sub(t.lastCtrlC) < time.Second {
		cmd := t.cleanup()
		return t, cmd
	}
	t.lastCtrlC = now

	switch t.state {
	case StateInput:
		t.input.Reset()
		return t, nil

	case StateThinking, StateStreaming:
		t.cancelStream()
		t.state = StateInput
		t.status = ""
		t.output.Reset()
		t.addMessage(Message{Role: roleSystem, Text: "(Canceled)"})
		t.rebuildViewportContent()
		return t, nil
	}

	return t, nil
}

func (t *TUI) handleSubmit() (tea.Model, tea.Cmd) {
	query := strings.TrimSpace(t.input.Value())
	if query == "" {
		return t, nil
	}

	// Handle slash commands
	if strings.HasPrefix(query, "/") {
		return t.handleSlashCommand(query)
	}

	// Add to history (enforce maxHistory cap)
	t.history = append(t.history, query)
	if len(t.history) > maxHistory {
		// Remove oldest entries to stay within bounds
		t.history = t.history[len(t.history)-maxHistory:]
	}
	t.historyIdx = len(t.history)

	// Add user message
	t.addMessage(Message{Role: roleUser, Text: query})

	// Clear input
	t.input.Reset()

	// Start thinking
	t.state = StateThinking
	t.status = ""

	return t, tea.Batch(
		t.spinner.Tick,
		t.startStream(query),
	)
}

func (t *TUI) handleSlashCommand(cmd string) (tea.Model, tea.Cmd) {
	switch cmd {
	case cmdHelp:
		t.addMessage(Message{
			Role: roleSystem,
			Text: "Commands: " + cmdHelp + ", " + cmdClear + ", " + cmdExit + "\nShortcuts:\n  Enter: send message\n  Shift+Enter: new line\n  Ctrl+C: cancel/clear\n  Ctrl+D: exit\n  Up/Down: history\n  PgUp/PgDn: scroll",
		})
	case cmdClear:
		// Clears the display only; the server-side session keeps its history
		t.messages = nil
	case cmdExit, cmdQuit:
		cleanupCmd := t.cleanup()
		return t, cleanupCmd
	default:
		t.addMessage(Message{
			Role: roleError,
			Text: "Unknown command: " + cmd,
		})
	}
	t.input.Reset()
	t.rebuildViewportContent()
	return t, nil
}

func (t *TUI) navigateHistory(delta int) (tea.Model, tea.Cmd) {
	if len(t.history) == 0 {
		return t, nil
	}

	t.historyIdx += delta

	if t.historyIdx < 0 {
		t.historyIdx = 0
	}
	if t.historyIdx > len(t.history) {
		t.historyIdx = len(t.history)
	}

	if t.historyIdx == len(t.history) {
		t.input.SetValue("")
	} else {
		t.input.SetValue(t.history[t.historyIdx])
		// Move cursor to end of text
		t.input.CursorEnd()
	}

	return t, nil
}

// cancelStream stops the in-flight turn and drops its channel so late
// events from the dying stream are ignored by Update.
func (t *TUI) cancelStream() {
	if t.streamCancel != nil {
		t.streamCancel()
		t.streamCancel = nil
	}
	t.streamEventCh = nil
}

// cleanup cancels any active stream and returns the quit command.
func (t *TUI) cleanup() tea.Cmd {
	// Cancel main context first - this triggers all goroutines using t.ctx
	if t.ctxCancel != nil {
		t.ctxCancel()
		t.ctxCancel = nil
	}

	// Then cancel stream-specific context (may already be canceled via parent)
	t.cancelStream()

	return tea.Quit
}

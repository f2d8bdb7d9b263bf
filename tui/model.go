// Package tui renders the chat client in the terminal with bubbletea.
//
// The model never mutates chat state itself: it calls the session's
// operations from commands and redraws from the events the services
// publish (roster_update, conversation_update, notice, ...), received
// through a Bridge.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/akinalp/forumchat/models"
	"github.com/akinalp/forumchat/pkg"
	"github.com/akinalp/forumchat/services"
	"github.com/akinalp/forumchat/ws"
)

// ChatSession is what the model needs from *services.Session.
type ChatSession interface {
	Start(ctx context.Context, login *models.LoginRequest) (models.Session, error)
	OpenConversation(ctx context.Context, peerID string) error
	CloseConversation()
	LoadOlder(ctx context.Context) error
	Composer() services.Composer
	Notifier() services.NotificationDispatcher
	Logout(ctx context.Context) error
}

type mode int

const (
	modeLogin mode = iota
	modeChat
)

type pane int

const (
	paneRoster pane = iota
	paneInput
)

// Async results.
type (
	sessionStartedMsg struct {
		user models.Session
		err  error
		auto bool // attempted without credentials
	}
	loggedOutMsg struct{ err error }
	actionErrMsg struct{ err error }
)

// Model is the bubbletea model of the client.
type Model struct {
	ctx     context.Context
	session ChatSession
	bridge  *Bridge

	mode   mode
	focus  pane
	width  int
	height int

	// Login form
	identifierInput textinput.Model
	passwordInput   textinput.Model
	loginFocus      int
	loginErr        string
	loading         bool
	autoLogin       *models.LoginRequest

	// Chat
	user         models.Session
	roster       models.Roster
	cursor       int
	conv         ws.ConversationData
	chatViewport viewport.Model
	messageInput textinput.Model
	notices      []models.Notice
	channelState models.ChannelState
	status       string
	statusErr    bool
	sidebarWidth int
}

// Options configure New.
type Options struct {
	// AutoLogin posts these credentials on start instead of checking the
	// existing session.
	AutoLogin *models.LoginRequest
}

// New creates the model. Init checks the session (or logs in with
// opts.AutoLogin) and falls back to the login form.
func New(ctx context.Context, session ChatSession, bridge *Bridge, opts Options) Model {
	identifierInput := textinput.New()
	identifierInput.Placeholder = "Nickname or email"
	identifierInput.CharLimit = 64
	identifierInput.Width = 30
	identifierInput.Focus()

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.CharLimit = 64
	passwordInput.Width = 30

	messageInput := textinput.New()
	messageInput.Placeholder = "Select a user to start chatting"
	messageInput.CharLimit = models.MaxMessageLength
	messageInput.Width = 50

	return Model{
		ctx:             ctx,
		session:         session,
		bridge:          bridge,
		mode:            modeLogin,
		identifierInput: identifierInput,
		passwordInput:   passwordInput,
		messageInput:    messageInput,
		chatViewport:    viewport.New(80, 20),
		channelState:    models.ChannelDisconnected,
		autoLogin:       opts.AutoLogin,
		loading:         true,
		width:           100,
		height:          30,
		sidebarWidth:    30,
	}
}

// Init starts listening to the hub and authenticates.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.bridge.Listen(), m.start(m.autoLogin, m.autoLogin == nil))
}

func (m Model) start(login *models.LoginRequest, auto bool) tea.Cmd {
	return func() tea.Msg {
		user, err := m.session.Start(m.ctx, login)
		return sessionStartedMsg{user: user, err: err, auto: auto}
	}
}

func (m Model) openConversation(peerID string) tea.Cmd {
	return func() tea.Msg {
		if err := m.session.OpenConversation(m.ctx, peerID); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) loadOlder() tea.Cmd {
	return func() tea.Msg {
		if err := m.session.LoadOlder(m.ctx); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) actOnNotice(noticeID string) tea.Cmd {
	notifier := m.session.Notifier()
	if notifier == nil {
		return nil
	}
	return func() tea.Msg {
		if err := notifier.Act(m.ctx, noticeID); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m Model) logout() tea.Cmd {
	return func() tea.Msg {
		return loggedOutMsg{err: m.session.Logout(m.ctx)}
	}
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case EventMsg:
		m.applyEvent(msg.Event)
		return m, m.bridge.Listen()

	case sessionStartedMsg:
		m.loading = false
		if msg.err != nil {
			// No live session is the normal first run: show the form quietly.
			if !(msg.auto && errors.Is(msg.err, pkg.ErrUnauthorized)) {
				m.loginErr = loginError(msg.err)
			}
			return m, nil
		}
		m.user = msg.user
		m.mode = modeChat
		m.focus = paneRoster
		m.loginErr = ""
		m.passwordInput.Reset()
		m.setStatus("Logged in as "+msg.user.Nickname, false)
		return m, nil

	case loggedOutMsg:
		m.resetChat()
		if msg.err != nil {
			m.loginErr = "Logged out locally; server logout failed."
		}
		cmd := m.identifierInput.Focus()
		return m, cmd

	case actionErrMsg:
		m.setError(msg.err)
		return m, nil

	case tea.MouseMsg:
		if m.mode == modeChat {
			return m.updateMouse(msg)
		}
		return m, nil

	case tea.KeyMsg:
		// Quitting keeps the server session; main shuts the local one down.
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
		if m.mode == modeLogin {
			return m.updateLogin(msg)
		}
		return m.updateChat(msg)
	}

	return m, nil
}

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Enter):
		if m.loading {
			return m, nil
		}
		login := &models.LoginRequest{
			Identifier: strings.TrimSpace(m.identifierInput.Value()),
			Password:   m.passwordInput.Value(),
		}
		if login.Identifier == "" || login.Password == "" {
			m.loginErr = "Enter your nickname or email and your password."
			return m, nil
		}
		m.loading = true
		m.loginErr = ""
		return m, m.start(login, false)

	case key.Matches(msg, keys.NextField):
		m.loginFocus = (m.loginFocus + 1) % 2
		if m.loginFocus == 0 {
			m.passwordInput.Blur()
			cmd := m.identifierInput.Focus()
			return m, cmd
		}
		m.identifierInput.Blur()
		cmd := m.passwordInput.Focus()
		return m, cmd
	}

	var cmd tea.Cmd
	if m.loginFocus == 0 {
		m.identifierInput, cmd = m.identifierInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Logout):
		return m, m.logout()

	case key.Matches(msg, keys.OpenNotice):
		if len(m.notices) == 0 {
			return m, nil
		}
		return m, m.actOnNotice(m.notices[len(m.notices)-1].ID)

	case key.Matches(msg, keys.Escape):
		if len(m.notices) > 0 {
			if notifier := m.session.Notifier(); notifier != nil {
				notifier.Dismiss(m.notices[len(m.notices)-1].ID)
			}
			return m, nil
		}
		if m.conv.PeerID != "" {
			m.session.CloseConversation()
			m.focus = paneRoster
			m.messageInput.Blur()
		}
		return m, nil

	case key.Matches(msg, keys.SwitchPane):
		if m.focus == paneRoster && m.conv.PeerID != "" {
			m.focus = paneInput
			cmd := m.messageInput.Focus()
			return m, cmd
		}
		m.focus = paneRoster
		m.messageInput.Blur()
		return m, nil

	case key.Matches(msg, keys.PageUp):
		m.chatViewport.SetYOffset(m.chatViewport.YOffset - m.chatViewport.Height/2)
		if m.chatViewport.AtTop() {
			return m, m.loadOlder()
		}
		return m, nil

	case key.Matches(msg, keys.PageDown):
		m.chatViewport.SetYOffset(m.chatViewport.YOffset + m.chatViewport.Height/2)
		return m, nil
	}

	if m.focus == paneRoster {
		return m.updateRoster(msg)
	}
	return m.updateInput(msg)
}

func (m Model) updateRoster(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	entries := m.roster.Entries()

	switch {
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(entries)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Enter):
		if m.cursor < len(entries) {
			peerID := entries[m.cursor].User.ID
			m.focus = paneInput
			m.messageInput.Placeholder = "Type a message"
			focus := m.messageInput.Focus()
			return m, tea.Batch(m.openConversation(peerID), focus)
		}
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	composer := m.session.Composer()

	if key.Matches(msg, keys.Enter) {
		if composer == nil {
			return m, nil
		}
		composer.SetDraft(m.messageInput.Value())
		if err := composer.Send(); err != nil {
			m.setError(err)
			return m, nil
		}
		m.messageInput.Reset()
		m.setStatus("", false)
		return m, nil
	}

	var cmd tea.Cmd
	m.messageInput, cmd = m.messageInput.Update(msg)
	if composer != nil {
		composer.SetDraft(m.messageInput.Value())
	}
	return m, cmd
}

func (m Model) updateMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.chatViewport.SetYOffset(m.chatViewport.YOffset - 3)
		if m.chatViewport.AtTop() && m.conv.PeerID != "" {
			return m, m.loadOlder()
		}
	case tea.MouseButtonWheelDown:
		m.chatViewport.SetYOffset(m.chatViewport.YOffset + 3)
	}
	return m, nil
}

// applyEvent folds one hub event into the model.
func (m *Model) applyEvent(event ws.Event) {
	switch event.Op {
	case ws.OpRosterUpdate:
		if roster, ok := event.Data.(models.Roster); ok {
			m.setRoster(roster)
		}

	case ws.OpConversationUpdate:
		if data, ok := event.Data.(ws.ConversationData); ok {
			m.setConversation(data)
		}

	case ws.OpHistoryLoaded:
		if data, ok := event.Data.(ws.HistoryLoadedData); ok && data.Err != nil {
			m.setStatus("Could not load messages. Scroll up to retry.", true)
		}

	case ws.OpNotice:
		if notice, ok := event.Data.(models.Notice); ok {
			m.notices = append(m.notices, notice)
		}

	case ws.OpNoticeDismiss:
		if data, ok := event.Data.(ws.NoticeDismissData); ok {
			m.removeNotice(data.NoticeID)
		}

	case ws.OpChannelState:
		if data, ok := event.Data.(ws.ChannelStateData); ok {
			m.channelState = data.State
		}

	case ws.OpChannelClosed:
		data, ok := event.Data.(ws.ChannelClosedData)
		switch {
		case !ok || data.Deliberate:
		case data.Final:
			m.setStatus("Chat connection lost. Log in again to reconnect.", true)
		default:
			m.setStatus("Chat connection lost, reconnecting in "+data.RetryIn.String()+"…", true)
		}
	}
}

// setRoster keeps the cursor on the same user across reorders.
func (m *Model) setRoster(roster models.Roster) {
	var selected string
	if entries := m.roster.Entries(); m.cursor < len(entries) {
		selected = entries[m.cursor].User.ID
	}

	m.roster = roster
	entries := roster.Entries()
	m.cursor = 0
	for i, e := range entries {
		if e.User.ID == selected {
			m.cursor = i
			break
		}
	}
}

// setConversation redraws the chat window.
//
// A page of older messages keeps the viewport on the message the user was
// reading: the offset moves down by the height of the prepended rows. Any
// other change follows the bottom when the user was already there.
func (m *Model) setConversation(data ws.ConversationData) {
	samePeer := data.PeerID == m.conv.PeerID
	wasAtBottom := m.chatViewport.AtBottom()
	offset := m.chatViewport.YOffset

	m.conv = data
	m.chatViewport.SetContent(m.renderMessages(data.Messages))

	switch {
	case !samePeer:
		m.chatViewport.GotoBottom()
	case data.ScrollAnchor > 0 && data.ScrollAnchor <= len(data.Messages):
		added := lineCount(m.renderMessages(data.Messages[:data.ScrollAnchor]))
		m.chatViewport.SetYOffset(offset + added)
	case wasAtBottom:
		m.chatViewport.GotoBottom()
	}
}

func (m *Model) removeNotice(id string) {
	for i, n := range m.notices {
		if n.ID == id {
			m.notices = append(m.notices[:i], m.notices[i+1:]...)
			return
		}
	}
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

// setError shows the guidance for user-facing errors and a generic line
// for the rest.
func (m *Model) setError(err error) {
	if text := pkg.UserMessage(err); text != "" {
		m.setStatus(text, true)
		return
	}
	m.setStatus("Something went wrong: "+err.Error(), true)
}

func (m *Model) resetChat() {
	m.mode = modeLogin
	m.loading = false
	m.user = models.Session{}
	m.roster = models.Roster{}
	m.cursor = 0
	m.conv = ws.ConversationData{}
	m.notices = nil
	m.channelState = models.ChannelDisconnected
	m.setStatus("", false)
	m.messageInput.Reset()
	m.messageInput.Blur()
	m.chatViewport.SetContent("")
	m.loginFocus = 0
}

// layout sizes the panes after a resize.
func (m *Model) layout() {
	m.sidebarWidth = m.width / 3
	if m.sidebarWidth < 24 {
		m.sidebarWidth = 24
	}

	chatWidth := m.width - m.sidebarWidth - 4
	if chatWidth < 20 {
		chatWidth = 20
	}
	// header, footer, borders and the status line
	chatHeight := m.height - 9
	if chatHeight < 3 {
		chatHeight = 3
	}

	m.chatViewport.Width = chatWidth
	m.chatViewport.Height = chatHeight
	m.messageInput.Width = chatWidth - 4
	m.chatViewport.SetContent(m.renderMessages(m.conv.Messages))
}

// loginError turns a failed session start into text for the login form.
func loginError(err error) string {
	switch {
	case errors.Is(err, pkg.ErrRateLimited):
		if _, detail, ok := strings.Cut(err.Error(), ": "); ok {
			return "Login blocked: " + detail + "."
		}
		return "Too many login attempts. Try again later."
	case errors.Is(err, pkg.ErrUnauthorized):
		return "Invalid nickname/email or password."
	case errors.Is(err, pkg.ErrFetch):
		return "Login failed: " + err.Error()
	default:
		return "Could not reach the server. Check your connection and try again."
	}
}

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/akinalp/forumchat/models"
)

// View renders the current screen.
func (m Model) View() string {
	if m.mode == modeLogin {
		return m.loginView()
	}
	return m.chatView()
}

func (m Model) loginView() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Forum Chat"))
	b.WriteString("\n\n")

	if m.loading {
		b.WriteString(mutedStyle.Render("Checking session..."))
		return m.center(boxStyle.Render(b.String()))
	}

	b.WriteString("Nickname or email\n")
	b.WriteString(m.identifierInput.View())
	b.WriteString("\n\nPassword\n")
	b.WriteString(m.passwordInput.View())
	b.WriteString("\n\n")

	if m.loginErr != "" {
		b.WriteString(errorStyle.Render(m.loginErr))
		b.WriteString("\n\n")
	}
	b.WriteString(mutedStyle.Render("tab switch field • enter log in • ctrl+c quit"))

	return m.center(boxStyle.Render(b.String()))
}

func (m Model) center(s string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, s)
}

func (m Model) chatView() string {
	sidebar := m.rosterView()
	chat := m.conversationView()
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, chat)

	if n := len(m.notices); n > 0 {
		body = lipgloss.JoinVertical(lipgloss.Left, body, m.noticeView(m.notices[n-1]))
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, m.statusView())
}

// ─── Roster ───

func (m Model) rosterView() string {
	width := m.sidebarWidth - 4
	height := m.height - 4

	var b strings.Builder
	b.WriteString(titleStyle.Render(displayName(m.user.Nickname)))
	b.WriteString("\n")

	switch {
	case m.roster.Unavailable && m.roster.Len() == 0:
		b.WriteString(mutedStyle.Render("\nUsers unavailable, retrying..."))
	case m.roster.Len() == 0:
		b.WriteString(mutedStyle.Render("\nNo users available"))
	default:
		index := 0
		for _, group := range []struct {
			title   string
			entries []models.RosterEntry
		}{
			{"Online", m.roster.Online},
			{"Offline", m.roster.Offline},
		} {
			if len(group.entries) == 0 {
				continue
			}
			b.WriteString(groupStyle.Render(fmt.Sprintf("%s (%d)", group.title, len(group.entries))))
			b.WriteString("\n")
			for _, entry := range group.entries {
				b.WriteString(m.rosterItem(entry, index, width))
				b.WriteString("\n")
				index++
			}
		}
	}

	style := sidebarStyle.Width(m.sidebarWidth - 2).Height(height)
	if m.focus == paneRoster {
		style = style.BorderForeground(activeBorder)
	}
	return style.Render(b.String())
}

func (m Model) rosterItem(entry models.RosterEntry, index, width int) string {
	dot := offlineDot
	if entry.User.Online {
		dot = onlineDot
	}

	name := displayName(entry.User.Nickname)
	if name == "" {
		name = entry.User.ID
	}
	line := dot + " " + truncate.StringWithTail(name, uint(max(width-4, 4)), "…")

	if entry.Preview != nil {
		when := formatRelativeTime(entry.Preview.LastMessageTime, time.Now())
		snippet := strings.Join(strings.Fields(entry.Preview.LastMessageContent), " ")
		snippet = truncate.StringWithTail(snippet, uint(max(width-len(when)-3, 4)), "…")
		line += "\n  " + mutedStyle.Render(snippet+" · "+when)
	}

	if index == m.cursor && m.focus == paneRoster {
		return selectedItemStyle.Render(line)
	}
	if m.conv.PeerID == entry.User.ID {
		return selectedItemStyle.BorderForeground(mutedColor).Render(line)
	}
	return unselectedItemStyle.Render(line)
}

// ─── Conversation ───

func (m Model) conversationView() string {
	width := m.chatViewport.Width

	if m.conv.PeerID == "" {
		empty := mutedStyle.Render("Select a user to start chatting")
		return chatWindowStyle.
			Width(width + 2).
			Height(m.chatViewport.Height + 4).
			Render(lipgloss.Place(width, m.chatViewport.Height+4, lipgloss.Center, lipgloss.Center, empty))
	}

	title := displayName(m.peerNickname())
	if m.conv.Loading {
		title += mutedStyle.Render("  loading older messages...")
	}
	header := headerStyle.Width(width).Render(title)

	content := m.chatViewport.View()
	if m.conv.Placeholder {
		content = lipgloss.Place(width, m.chatViewport.Height, lipgloss.Center, lipgloss.Center,
			mutedStyle.Render("No messages yet"))
	}

	footer := footerStyle.Width(width).Render(m.messageInput.View())

	style := chatWindowStyle
	if m.focus == paneInput {
		style = style.BorderForeground(activeBorder)
	}
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, header, content, footer))
}

// peerNickname finds the open peer in the roster. History rows carry no
// nickname, so the roster is the source of truth for the header.
func (m Model) peerNickname() string {
	for _, entry := range m.roster.Entries() {
		if entry.User.ID == m.conv.PeerID {
			return entry.User.Nickname
		}
	}
	return m.conv.PeerID
}

// renderMessages formats messages for the viewport, oldest first.
func (m Model) renderMessages(messages []models.Message) string {
	if len(messages) == 0 {
		return ""
	}

	width := m.chatViewport.Width - 2
	if width < 10 {
		width = 10
	}
	peerName := displayName(m.peerNickname())

	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n")
		}

		var name string
		if msg.SenderID == m.user.UserID {
			name = ownMessageStyle.Render("You")
		} else {
			sender := peerName
			if msg.SenderNickname != "" {
				sender = displayName(msg.SenderNickname)
			}
			name = otherMessageStyle.Render(sender)
		}

		b.WriteString(name + " " + mutedStyle.Render(msg.CreatedAt.Local().Format("Jan 2 15:04")))
		b.WriteString("\n")
		b.WriteString(wordwrap.String(msg.Content, width))
	}
	return b.String()
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// ─── Notices and status ───

func (m Model) noticeView(n models.Notice) string {
	text := fmt.Sprintf("New message from %s: %s", n.SenderNickname, n.Preview)
	text = truncate.StringWithTail(text, uint(max(m.width-6, 10)), "…")
	hint := mutedStyle.Render("ctrl+n open • esc dismiss")
	return noticeStyle.Width(m.width - 2).Render(text + "\n" + hint)
}

func (m Model) statusView() string {
	state := string(m.channelState)
	if m.channelState == models.ChannelOpen {
		state = lipgloss.NewStyle().Foreground(onlineColor).Render(state)
	} else {
		state = mutedStyle.Render(state)
	}

	line := state + "  " + mutedStyle.Render(helpLine())
	if m.status != "" {
		if m.statusErr {
			line = state + "  " + errorStyle.Render(m.status)
		} else {
			line = state + "  " + m.status
		}
	}
	return statusStyle.Width(m.width).Render(line)
}

// displayName title-cases a nickname for display.
func displayName(name string) string {
	return cases.Title(language.Und).String(strings.ToLower(name))
}

// formatRelativeTime renders a preview timestamp relative to now.
func formatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	default:
		return t.Local().Format("Jan 2")
	}
}

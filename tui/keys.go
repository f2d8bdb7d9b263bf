package tui

import "github.com/charmbracelet/bubbles/key"

// Key bindings
var keys = struct {
	Quit       key.Binding
	Logout     key.Binding
	SwitchPane key.Binding
	Up         key.Binding
	Down       key.Binding
	Enter      key.Binding
	Escape     key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
	OpenNotice key.Binding
	NextField  key.Binding
}{
	Quit:       key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	Logout:     key.NewBinding(key.WithKeys("ctrl+l"), key.WithHelp("ctrl+l", "logout")),
	SwitchPane: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch pane")),
	Up:         key.NewBinding(key.WithKeys("up")),
	Down:       key.NewBinding(key.WithKeys("down")),
	Enter:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open / send")),
	Escape:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "dismiss / close")),
	PageUp:     key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("pgup", "older")),
	PageDown:   key.NewBinding(key.WithKeys("pgdown", "ctrl+d")),
	OpenNotice: key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "open notice")),
	NextField:  key.NewBinding(key.WithKeys("tab", "shift+tab", "up", "down")),
}

// helpLine lists the main bindings in the status bar.
func helpLine() string {
	bindings := []key.Binding{keys.SwitchPane, keys.Enter, keys.PageUp, keys.OpenNotice, keys.Escape, keys.Logout, keys.Quit}
	out := ""
	for i, b := range bindings {
		if i > 0 {
			out += " • "
		}
		out += b.Help().Key + " " + b.Help().Desc
	}
	return out
}

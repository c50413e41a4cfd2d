package app

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	ToggleFocus   key.Binding
	SwitchView    key.Binding
	SessionPicker key.Binding
	Reload        key.Binding
	Help          key.Binding
	Quit          key.Binding
}

var GlobalKeys = KeyMap{
	ToggleFocus: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "toggle focus"),
	),
	SwitchView: key.NewBinding(
		key.WithKeys("v"),
		key.WithHelp("v", "log/report"),
	),
	SessionPicker: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "session"),
	),
	Reload: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reload"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/roster/internal/config"
	"github.com/pders01/roster/internal/machine"
	"github.com/pders01/roster/internal/people"
)

// keyMap holds the configurable bindings. It satisfies help.KeyMap.
type keyMap struct {
	Quit             key.Binding
	Retry            key.Binding
	ToggleEmployee   key.Binding
	ToggleContractor key.Binding
	FocusSearch      key.Binding
	Open             key.Binding
	Back             key.Binding
	Help             key.Binding
}

func newKeyMap(b config.KeyBindings) keyMap {
	bind := func(k, desc string) key.Binding {
		return key.NewBinding(key.WithKeys(k), key.WithHelp(k, desc))
	}
	return keyMap{
		Quit:             bind(b.Quit, "quit"),
		Retry:            bind(b.Retry, "retry"),
		ToggleEmployee:   bind(b.ToggleEmployee, "employees"),
		ToggleContractor: bind(b.ToggleContractor, "contractors"),
		FocusSearch:      bind(b.FocusSearch, "search"),
		Open:             bind(b.Open, "open"),
		Back:             bind(b.Back, "back"),
		Help:             bind(b.Help, "help"),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.ToggleEmployee, k.ToggleContractor, k.Retry, k.Open, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.FocusSearch, k.Open, k.Back},
		{k.ToggleEmployee, k.ToggleContractor},
		{k.Retry, k.Help, k.Quit},
	}
}

type KeyHandler struct {
	app  *App
	keys keyMap
}

func NewKeyHandler(app *App, keys keyMap) *KeyHandler {
	return &KeyHandler{app: app, keys: keys}
}

func (kh *KeyHandler) HandleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, kh.keys.Quit):
		return kh.app, tea.Quit
	case key.Matches(msg, kh.keys.Retry):
		kh.app.send(machine.Retry{})
		return kh.app, nil
	case key.Matches(msg, kh.keys.ToggleEmployee):
		kh.toggle(people.Employee)
		return kh.app, nil
	case key.Matches(msg, kh.keys.ToggleContractor):
		kh.toggle(people.Contractor)
		return kh.app, nil
	}

	if kh.app.view == ViewDetail {
		return kh.handleDetail(msg)
	}
	if kh.isInTextInputMode() {
		return kh.handleTextInputMode(msg)
	}
	return kh.handleListMode(msg)
}

func (kh *KeyHandler) isInTextInputMode() bool {
	return kh.app.view == ViewPeople && kh.app.focus == FocusQuery
}

func (kh *KeyHandler) toggle(kind people.Employment) {
	set := kh.app.filter().Employment
	kh.app.send(machine.SetEmployment{Employment: set.With(kind, !set.Contains(kind))})
}

func (kh *KeyHandler) handleTextInputMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "tab", "down", "esc":
		kh.app.focusList()
		return kh.app, nil
	}

	before := kh.app.queryInput.Value()
	var cmd tea.Cmd
	kh.app.queryInput, cmd = kh.app.queryInput.Update(msg)
	if q := kh.app.queryInput.Value(); q != before {
		kh.app.send(machine.SetQuery{Query: q})
	}
	return kh.app, cmd
}

func (kh *KeyHandler) handleListMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, kh.keys.FocusSearch), key.Matches(msg, kh.keys.Back), msg.String() == "tab":
		return kh.app, kh.app.focusQuery()
	case key.Matches(msg, kh.keys.Open):
		return kh.app.openSelected()
	case key.Matches(msg, kh.keys.Help):
		kh.app.help.ShowAll = !kh.app.help.ShowAll
		return kh.app, nil
	}
	return kh.delegateToList(msg)
}

func (kh *KeyHandler) handleDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, kh.keys.Back) {
		kh.app.view = ViewPeople
		kh.app.selected = nil
		return kh.app, nil
	}
	var cmd tea.Cmd
	kh.app.viewport, cmd = kh.app.viewport.Update(msg)
	return kh.app, cmd
}

func (kh *KeyHandler) delegateToList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	kh.app.personList, cmd = kh.app.personList.Update(msg)
	return kh.app, cmd
}

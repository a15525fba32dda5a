package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/pders01/roster/internal/machine"
	"github.com/pders01/roster/internal/people"
)

type (
	machineStartedMsg struct{}
	machineUpdatedMsg struct{}
)

type personRenderedMsg struct {
	id      int
	content string
}

// Notifier turns machine observer callbacks into tea messages. Observe never
// blocks; a pending notification already covers any later transition because
// the app always reads the latest snapshot.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Observe is passed to machine.WithObserver.
func (n *Notifier) Observe(machine.Snapshot) {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *Notifier) wait() tea.Cmd {
	return func() tea.Msg {
		<-n.ch
		return machineUpdatedMsg{}
	}
}

func (a *App) startMachine() tea.Cmd {
	return func() tea.Msg {
		a.machine.Send(machine.Start{})
		return machineStartedMsg{}
	}
}

func personMarkdown(p people.Person) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Name)
	fmt.Fprintf(&b, "**%s** in %s\n\n", p.JobTitle, p.Country)
	fmt.Fprintf(&b, "- **Employment:** %s\n", p.Employment)
	fmt.Fprintf(&b, "- **Salary:** %s %s\n", formatAmount(p.Salary), p.Currency)
	fmt.Fprintf(&b, "- **ID:** %d\n", p.ID)
	return b.String()
}

func (a *App) renderPerson(p people.Person) tea.Cmd {
	r, err := a.getRenderer()
	return func() tea.Msg {
		if err != nil {
			return personRenderedMsg{id: p.ID, content: "Error initializing renderer: " + err.Error()}
		}
		rendered, err := r.Render(personMarkdown(p))
		if err != nil {
			return personRenderedMsg{id: p.ID, content: "Error rendering person: " + err.Error()}
		}
		return personRenderedMsg{id: p.ID, content: rendered}
	}
}

func (a *App) getRenderer() (*glamour.TermRenderer, error) {
	wordWrapWidth := (a.width * 9) / 10
	if wordWrapWidth > 100 {
		wordWrapWidth = 100
	}
	if wordWrapWidth < 20 {
		wordWrapWidth = 20
	}

	if a.renderer == nil || a.rendererWidth != wordWrapWidth {
		styleOpt := glamour.WithAutoStyle()
		if a.glamourStyle != "" {
			styleOpt = glamour.WithStandardStyle(a.glamourStyle)
		}
		r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(wordWrapWidth))
		if err != nil {
			return nil, err
		}
		a.renderer = r
		a.rendererWidth = wordWrapWidth
	}
	return a.renderer, nil
}

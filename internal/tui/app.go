package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/roster/internal/config"
	"github.com/pders01/roster/internal/machine"
	"github.com/pders01/roster/internal/people"
)

type App struct {
	config   *config.Config
	machine  *machine.Machine
	notifier *Notifier
	snap     machine.Snapshot

	view  View
	focus Focus

	queryInput textinput.Model
	personList list.Model
	spinner    spinner.Model
	viewport   viewport.Model
	help       help.Model
	keys       keyMap
	keyHandler *KeyHandler

	selected      *people.Person
	renderer      *glamour.TermRenderer
	rendererWidth int
	// glamourStyle names a standard glamour style; empty detects the terminal.
	glamourStyle string

	width  int
	height int
}

type personItem struct {
	person people.Person
}

func (i personItem) Title() string { return i.person.Name }

func (i personItem) Description() string {
	return fmt.Sprintf("%s · %s · %s", i.person.JobTitle, i.person.Country, i.person.Employment)
}

func (i personItem) FilterValue() string { return i.person.Name }

// NewApp builds the TUI around m. n must be the notifier registered on m
// with machine.WithObserver; it may be nil, in which case the view only
// refreshes after the app's own events.
func NewApp(m *machine.Machine, n *Notifier, cfg *config.Config) *App {
	ti := textinput.New()
	ti.Placeholder = "Search people by name..."
	ti.Prompt = "› "
	ti.CharLimit = 100
	ti.Focus()

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(AccentColor).BorderForeground(AccentColor)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(SecondaryColor).BorderForeground(AccentColor)

	personList := list.New([]list.Item{}, delegate, 0, 0)
	personList.SetShowTitle(false)
	personList.SetShowHelp(false)
	personList.SetShowStatusBar(false)
	personList.SetFilteringEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(AccentColor)

	keys := newKeyMap(cfg.Keys.Bindings)

	app := &App{
		config:     cfg,
		machine:    m,
		notifier:   n,
		snap:       m.Snapshot(),
		view:       ViewPeople,
		focus:      FocusQuery,
		queryInput: ti,
		personList: personList,
		spinner:    sp,
		viewport:   viewport.New(0, 0),
		help:       help.New(),
		keys:       keys,
	}
	app.keyHandler = NewKeyHandler(app, keys)
	return app
}

// SetGlamourStyle selects a standard glamour style for the detail view
// instead of detecting the terminal background.
func (a *App) SetGlamourStyle(style string) {
	a.glamourStyle = style
	a.renderer = nil
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{
		a.startMachine(),
		a.spinner.Tick,
		textinput.Blink,
		tea.EnterAltScreen,
	}
	if a.notifier != nil {
		cmds = append(cmds, a.notifier.wait())
	}
	return tea.Batch(cmds...)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		if a.view == ViewDetail && a.selected != nil {
			return a, a.renderPerson(*a.selected)
		}
		return a, nil

	case tea.KeyMsg:
		return a.keyHandler.HandleKey(msg)

	case machineStartedMsg:
		a.sync()
		return a, nil

	case machineUpdatedMsg:
		a.sync()
		if a.notifier != nil {
			return a, a.notifier.wait()
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case personRenderedMsg:
		if a.selected != nil && a.selected.ID == msg.id {
			a.viewport.SetContent(msg.content)
			a.viewport.GotoTop()
		}
		return a, nil
	}

	var cmd tea.Cmd
	if a.focus == FocusQuery {
		a.queryInput, cmd = a.queryInput.Update(msg)
	}
	return a, cmd
}

// send hands ev to the machine and refreshes from the resulting snapshot.
func (a *App) send(ev machine.Event) {
	a.machine.Send(ev)
	a.sync()
}

func (a *App) sync() {
	a.snap = a.machine.Snapshot()

	found := a.snap.Context.People
	items := make([]list.Item, len(found))
	for i, p := range found {
		items[i] = personItem{person: p}
	}
	idx := a.personList.Index()
	a.personList.SetItems(items)
	if idx >= len(items) {
		idx = len(items) - 1
	}
	if idx >= 0 {
		a.personList.Select(idx)
	}
}

// filter is the filter the next fetch will use.
func (a *App) filter() people.Filter {
	if p := a.snap.Context.PendingFilter; p != nil {
		return *p
	}
	return a.snap.Context.ActiveFilter
}

func (a *App) focusList() {
	a.focus = FocusList
	a.queryInput.Blur()
}

func (a *App) focusQuery() tea.Cmd {
	a.focus = FocusQuery
	return a.queryInput.Focus()
}

func (a *App) openSelected() (tea.Model, tea.Cmd) {
	item, ok := a.personList.SelectedItem().(personItem)
	if !ok {
		return a, nil
	}
	p := item.person
	a.selected = &p
	a.view = ViewDetail
	a.viewport.SetContent(renderMuted("Rendering…"))
	return a, a.renderPerson(p)
}

func (a *App) resize(width, height int) {
	a.width = width
	a.height = height
	a.help.Width = width
	a.queryInput.Width = max(width-12, 10)

	// header(2) + input(3) + toggles(1) + banner(1) + status(1) + help(1) + gaps
	a.personList.SetSize(width, max(height-12, 3))
	a.viewport.Width = width
	a.viewport.Height = max(height-4, 3)
}

func (a *App) View() string {
	if a.width == 0 {
		return MsgIdle
	}

	var content string
	switch {
	case a.view == ViewDetail:
		content = a.viewDetail()
	case a.snap.Status() == people.StatusUnavailable:
		content = a.viewUnavailable()
	default:
		content = a.viewPeople()
	}
	return ContentWrapper(a.width, a.height).Render(content)
}

func (a *App) viewPeople() string {
	rows := []string{
		renderHeader(AppName, Tagline, a.width),
		renderInputFrame(a.queryInput.View(), a.focus == FocusQuery, a.queryInput.Width),
		renderToggles(a.filter().Employment, a.keys.ToggleEmployee.Help().Key, a.keys.ToggleContractor.Help().Key),
	}
	if a.snap.Status() == people.StatusDegraded {
		rows = append(rows, a.degradedBanner())
	}
	rows = append(rows, a.personList.View(), a.statusBar(), a.help.View(a.keys))
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (a *App) degradedBanner() string {
	errs := a.snap.Context.Errors
	last := errs[len(errs)-1].Message
	text := fmt.Sprintf("⚠ Service degraded: %s · %s to retry", last, a.keys.Retry.Help().Key)
	return BannerStyle.Render(truncateEnd(text, a.width-2))
}

func (a *App) statusBar() string {
	text, kind := statusLine(a.snap)
	if a.snap.State == machine.StateFetch {
		text = a.spinner.View() + " " + text
	}
	return StatusBarStyle.Render(kind.style().Render(truncateEnd(text, a.width-2)))
}

func (a *App) viewUnavailable() string {
	errs := a.snap.Context.Errors
	var b strings.Builder
	b.WriteString(ErrorMessageStyle.Render(MsgUnavailable))
	b.WriteString("\n\n")
	b.WriteString(renderMuted(MsgFailures(len(errs), errs[len(errs)-1].Message)))
	b.WriteString("\n")
	if a.snap.State == machine.StateFetch {
		b.WriteString(a.spinner.View() + " " + MsgLoading)
	} else {
		b.WriteString(renderHelp(fmt.Sprintf("Press %s to retry or %s to quit",
			a.keys.Retry.Help().Key, a.keys.Quit.Help().Key)))
	}
	return renderCentered(a.width, a.height, GetCompactBanner(b.String()))
}

func (a *App) viewDetail() string {
	title := ""
	if a.selected != nil {
		title = a.selected.Name
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		renderHeader(title, "", a.width),
		a.viewport.View(),
		renderHelp(fmt.Sprintf("%s back · %s quit", a.keys.Back.Help().Key, a.keys.Quit.Help().Key)),
	)
}

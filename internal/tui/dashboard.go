package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/musher-dev/adoc/internal/model"
	"github.com/musher-dev/adoc/internal/store"
	"github.com/musher-dev/adoc/internal/tui/render"
)

// Refresher asks the daemon for an immediate cycle.
type Refresher func(ctx context.Context) error

// Cache is the store area the dashboard reads and follows.
type Cache interface {
	store.Reader
	OnAnyChange(fn func(key string, value json.RawMessage)) func()
}

// Options configures the dashboard.
type Options struct {
	Cache   Cache
	Refresh Refresher
	Now     func() time.Time
}

// styles

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	sectionStyle = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	runStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	statusStyle  = lipgloss.NewStyle().Faint(true).PaddingLeft(1)
)

// messages

// CacheChangedMsg tells the dashboard to reload the cache.
type CacheChangedMsg struct{}

type loadedMsg struct {
	data Data
	err  error
}

type refreshDoneMsg struct {
	err error
}

type clockMsg struct{}

func clockCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return clockMsg{} })
}

// keys

type keyMap struct {
	Quit     key.Binding
	Refresh  key.Binding
	Jobs     key.Binding
	Collapse key.Binding
	Up       key.Binding
	Down     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Jobs:     key.NewBinding(key.WithKeys("j"), key.WithHelp("j", "jobs")),
		Collapse: key.NewBinding(key.WithKeys("1", "2", "3", "4"), key.WithHelp("1-4", "fold section")),
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑", "scroll")),
		Down:     key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "scroll")),
	}
}

func (k keyMap) short() []key.Binding {
	return []key.Binding{k.Refresh, k.Jobs, k.Collapse, k.Up, k.Down, k.Quit}
}

// model

// Model is the dashboard bubbletea model.
type Model struct {
	opts Options
	keys keyMap
	help help.Model

	viewport viewport.Model
	spinner  spinner.Model

	data       Data
	loaded     bool
	loadErr    error
	refreshing bool
	refreshErr error
	showJobs   bool
	collapsed  map[string]bool

	width  int
	height int
}

// New creates the dashboard model.
func New(opts Options) Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return Model{
		opts:      opts,
		keys:      defaultKeys(),
		help:      help.New(),
		viewport:  viewport.New(80, 20),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		collapsed: map[string]bool{SectionCompleted: true, SectionFailed: true},
	}
}

func (m Model) loadCmd() tea.Cmd {
	return func() tea.Msg {
		data, err := Load(m.opts.Cache)
		return loadedMsg{data: data, err: err}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	if m.opts.Refresh == nil {
		return nil
	}

	return func() tea.Msg {
		return refreshDoneMsg{err: m.opts.Refresh(context.Background())}
	}
}

// Init loads the cache and asks for a fresh cycle.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadCmd(), m.refreshCmd(), m.spinner.Tick, clockCmd())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 1)
		m.syncContent()

		return m, nil

	case tea.KeyMsg:
		return m.updateKeys(msg)

	case CacheChangedMsg:
		return m, m.loadCmd()

	case loadedMsg:
		m.loaded = true
		m.loadErr = msg.err

		if msg.err == nil {
			m.data = msg.data
		}

		m.syncContent()

		return m, nil

	case refreshDoneMsg:
		m.refreshing = false
		m.refreshErr = msg.err

		return m, nil

	case clockMsg:
		m.syncContent()
		return m, clockCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)

		return m, cmd
	}

	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Refresh):
		if m.refreshing || m.opts.Refresh == nil {
			return m, nil
		}

		m.refreshing = true

		return m, m.refreshCmd()
	case key.Matches(msg, m.keys.Jobs):
		m.showJobs = !m.showJobs
		m.syncContent()

		return m, nil
	case key.Matches(msg, m.keys.Collapse):
		m.toggleSection(int(msg.String()[0] - '1'))
		m.syncContent()

		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)

	return m, cmd
}

func (m *Model) toggleSection(i int) {
	sections := Sections(&m.data)
	if i < 0 || i >= len(sections) {
		return
	}

	id := sections[i].ID
	m.collapsed[id] = !m.collapsed[id]
}

func (m *Model) syncContent() {
	m.viewport.SetContent(m.content())
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(" Azure DevOps") + "\n")
	b.WriteString(m.viewport.View() + "\n")
	b.WriteString(m.statusLine() + "\n")
	b.WriteString(statusStyle.Render(m.help.ShortHelpView(m.keys.short())))

	return b.String()
}

func (m *Model) bodyWidth() int {
	if m.width <= 0 {
		return 80
	}

	return m.width
}

// content renders the scrollable body.
func (m *Model) content() string {
	width := m.bodyWidth()

	switch {
	case !m.loaded:
		return dimStyle.Render("  Loading…")
	case m.loadErr != nil:
		return errStyle.Render("  Cache unreadable: " + m.loadErr.Error())
	case m.data.Settings.Organization == "":
		return "  Not configured\n" + dimStyle.Render("  Run `adoc auth login` to set an organization and PAT.")
	case m.data.Error != nil && m.data.Error.Type.NeedsReauth():
		title := "Authentication failed"
		if m.data.Error.Type == model.ErrorPATExpired {
			title = "PAT expired"
		}

		return "  " + errStyle.Render(title) + "\n" +
			dimStyle.Render("  "+m.data.Error.Message) + "\n" +
			dimStyle.Render("  Run `adoc auth login` to update the PAT.")
	}

	now := m.opts.Now()

	var b strings.Builder

	for i, sec := range Sections(&m.data) {
		marker := "▼"
		if m.collapsed[sec.ID] {
			marker = "▶"
		}

		b.WriteString(sectionStyle.Render(fmt.Sprintf("%d %s %s (%d)", i+1, marker, sec.Title, sec.Count())) + "\n")

		if m.collapsed[sec.ID] {
			continue
		}

		if sec.Count() == 0 {
			b.WriteString(dimStyle.Render("    "+emptyText(sec.ID)) + "\n")
			continue
		}

		for j := range sec.PRs {
			b.WriteString(prLine(&sec.PRs[j], width) + "\n")
		}

		for j := range sec.Builds {
			b.WriteString(buildLines(&sec.Builds[j], width, now, m.showJobs))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func emptyText(id string) string {
	switch id {
	case SectionPullRequests:
		return "No active PRs"
	case SectionActivePipelines:
		return "No running pipelines"
	default:
		return "Nothing in this window"
	}
}

func prLine(pr *model.PullRequest, width int) string {
	title := pr.Title
	if pr.IsDraft {
		title = "[draft] " + title
	}

	votes := ""
	if pr.Approvals > 0 {
		votes += okStyle.Render(fmt.Sprintf(" ✓%d", pr.Approvals))
	}

	if pr.WaitingOnAuthor > 0 {
		votes += warnStyle.Render(fmt.Sprintf(" …%d", pr.WaitingOnAuthor))
	}

	if pr.Rejections > 0 {
		votes += errStyle.Render(fmt.Sprintf(" ✗%d", pr.Rejections))
	}

	where := dimStyle.Render(fmt.Sprintf("  %s/%s", pr.ProjectName, pr.RepositoryName))
	room := width - 4 - render.VisibleLength(votes) - render.VisibleLength(where)

	return "    " + render.TruncatePlain(title, max(room, 10)) + votes + where
}

func buildLines(b *model.Build, width int, now time.Time, showJobs bool) string {
	var sb strings.Builder

	status := buildStatus(b)
	meta := dimStyle.Render(fmt.Sprintf("  %s · %s", b.ProjectName, RelativeTime(now, b.QueueTime)))
	watched := ""

	if b.Watched {
		watched = " 👁"
	}

	room := width - 4 - render.VisibleLength(status) - render.VisibleLength(meta) - render.VisibleLength(watched) - 1
	sb.WriteString("    " + render.TruncatePlain(b.Label(), max(room, 10)) + watched + " " + status + meta + "\n")

	if b.Status.Active() {
		sb.WriteString("      " + progressBar(b.CompletedTasks, b.TotalTasks, 20) + "\n")
	}

	if showJobs {
		for _, job := range b.Jobs {
			sb.WriteString(fmt.Sprintf("      %s %s %s\n", jobDot(&job),
				render.TruncatePlain(job.Name, max(width-24, 10)),
				dimStyle.Render(fmt.Sprintf("%d/%d", job.CompletedTasks, job.TotalTasks))))
		}
	}

	return sb.String()
}

func buildStatus(b *model.Build) string {
	switch {
	case b.Status == model.StatusInProgress:
		return runStyle.Render("Running")
	case b.Status != model.StatusCompleted:
		return dimStyle.Render(string(b.Status))
	case b.Result == model.ResultFailed:
		return errStyle.Render("failed")
	case b.Result == model.ResultCanceled:
		return warnStyle.Render("canceled")
	default:
		return okStyle.Render(string(b.Result))
	}
}

// progressBar renders "[####------] 4/10 40%".
func progressBar(done, total, cells int) string {
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}

	filled := pct * cells / 100

	return fmt.Sprintf("[%s%s] %d/%d tasks %d%%",
		runStyle.Render(strings.Repeat("█", filled)),
		dimStyle.Render(strings.Repeat("░", cells-filled)),
		done, total, pct)
}

func jobDot(job *model.Job) string {
	switch {
	case job.State == model.JobCompleted && job.Result == model.JobResultSucceeded:
		return okStyle.Render("●")
	case job.State == model.JobCompleted && job.Result == model.JobResultFailed:
		return errStyle.Render("●")
	case job.State == model.JobInProgress:
		return runStyle.Render("●")
	default:
		return dimStyle.Render("●")
	}
}

func (m *Model) statusLine() string {
	left := "Never updated"
	if !m.data.LastUpdated.IsZero() {
		left = "Updated " + RelativeTime(m.opts.Now(), m.data.LastUpdated)
	}

	var right []string

	if m.refreshing {
		right = append(right, m.spinner.View()+" refreshing")
	}

	if m.data.Error != nil && m.data.Error.Type == model.ErrorNetwork {
		right = append(right, warnStyle.Render("⚠ Refresh failed"))
	}

	if m.refreshErr != nil {
		right = append(right, warnStyle.Render("⚠ Daemon unreachable"))
	}

	line := left
	if len(right) > 0 {
		line += "  " + strings.Join(right, "  ")
	}

	return statusStyle.Render(render.Fit(line, m.bodyWidth()-1))
}

// Run shows the dashboard until the user quits or ctx ends. Cache changes
// reload the view.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen(), tea.WithContext(ctx))

	stop := opts.Cache.OnAnyChange(func(string, json.RawMessage) {
		p.Send(CacheChangedMsg{})
	})
	defer stop()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run dashboard: %w", err)
	}

	return nil
}

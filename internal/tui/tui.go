// Package tui provides a Bubble Tea terminal user interface for the
// download manager.
package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/tilefetch/internal/config"
	"github.com/handiism/tilefetch/internal/download"
	"github.com/handiism/tilefetch/internal/http"
	ioutils "github.com/handiism/tilefetch/internal/io"
	"github.com/handiism/tilefetch/internal/mainloop"
	"github.com/handiism/tilefetch/internal/metrics"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)

	urlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateDownloading
	StateComplete
	StateError
)

// Level is the severity of a log line.
type Level int

const (
	LevelVerbose Level = iota
	LevelInfo
	LevelSuccess
	LevelWarning
	LevelError
)

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   Level
}

type entry struct {
	id        int
	url       string
	received  int64
	total     int64
	done      bool
	ok        bool
	cancelled bool
	path      string
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model
	settings  *config.Settings
	logs      []LogEntry
	err       error

	loop    *mainloop.Loop
	manager *download.Manager
	send    func(tea.Msg)

	entries map[int]*entry
	order   []int

	cancelled bool
	verbose   bool

	width  int
	height int
}

// NewModel creates a new TUI model. manager must run on loop; send
// delivers messages from the loop goroutine to the running program.
func NewModel(settings *config.Settings, loop *mainloop.Loop, manager *download.Manager, send func(tea.Msg)) Model {
	ti := textinput.New()
	ti.Placeholder = "https://example.com/file.zip (separate several URLs with spaces)"
	ti.Focus()
	ti.CharLimit = 2000
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	return Model{
		state:     StateInput,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
		settings:  settings,
		logs:      make([]LogEntry, 0),
		loop:      loop,
		manager:   manager,
		send:      send,
		entries:   make(map[int]*entry),
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Message types
type (
	// QueuedMsg is sent once the manager accepted a batch of URLs.
	QueuedMsg struct {
		IDs  []int
		URLs []string
	}

	// ProgressMsg is sent when a download reports progress.
	ProgressMsg struct {
		ID        int
		Current   int64
		Total     int64
		SinceLast int64
	}

	// DownloadDoneMsg is sent when a download completes.
	DownloadDoneMsg struct {
		Result download.Result
	}

	// SavedMsg is sent after a downloaded body was written to disk.
	SavedMsg struct {
		ID   int
		Path string
		Err  error
	}

	// QueueFinishedMsg is sent when the manager has no downloads left.
	QueueFinishedMsg struct{}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 20
		if m.progress.Width > 80 {
			m.progress.Width = 80
		}
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancelAll()
			return m, tea.Quit

		case "esc":
			if m.state == StateInput {
				return m, tea.Quit
			}
			if m.state == StateDownloading {
				m.cancelAll()
				m.cancelled = true
				m.addLog("Cancelling downloads...", LevelWarning)
			}

		case "enter":
			if m.state == StateInput {
				urls := ParseURLs(m.textInput.Value())
				if len(urls) > 0 {
					m.state = StateDownloading
					m.submit(urls)
					return m, m.spinner.Tick
				}
			}

		case "tab":
			if m.state == StateInput {
				m.verbose = !m.verbose
				return m, nil
			}

		case "q":
			if m.state == StateComplete || m.state == StateError {
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				// Reset for new downloads
				m.state = StateInput
				m.logs = nil
				m.err = nil
				m.entries = make(map[int]*entry)
				m.order = nil
				m.cancelled = false
				m.textInput.SetValue("")
				m.textInput.Focus()
				return m, nil
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case QueuedMsg:
		for i, id := range msg.IDs {
			e := m.entry(id)
			e.url = msg.URLs[i]
			m.addLog(fmt.Sprintf("Queued #%d %s", id, e.url), LevelVerbose)
		}

	case ProgressMsg:
		e := m.entry(msg.ID)
		e.received = msg.Current
		e.total = msg.Total
		cmds = append(cmds, m.progress.SetPercent(m.percent()))

	case DownloadDoneMsg:
		r := msg.Result
		e := m.entry(r.ID)
		e.url = r.URL
		e.done = true
		e.ok = r.OK
		e.cancelled = r.Cancelled

		switch {
		case r.Cancelled:
			m.addLog(fmt.Sprintf("Cancelled %s", r.URL), LevelWarning)
		case !r.OK:
			m.addLog(fmt.Sprintf("Failed %s after %d attempt(s): %v", r.URL, r.Attempts, r.Err), LevelError)
		default:
			e.received = int64(len(r.Data))
			cmds = append(cmds, m.save(r))
		}
		cmds = append(cmds, m.progress.SetPercent(m.percent()))

	case SavedMsg:
		if msg.Err != nil {
			m.addLog(fmt.Sprintf("Failed to save #%d: %v", msg.ID, msg.Err), LevelError)
		} else {
			e := m.entry(msg.ID)
			e.path = msg.Path
			m.addLog(fmt.Sprintf("Saved %s (%s)", msg.Path, humanize.Bytes(uint64(e.received))), LevelSuccess)
		}

	case QueueFinishedMsg:
		if m.state == StateDownloading {
			if m.cancelled {
				m.state = StateError
				m.err = errors.New("cancelled by user")
			} else {
				m.state = StateComplete
			}
		}

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	// Update text input
	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) entry(id int) *entry {
	e, ok := m.entries[id]
	if !ok {
		e = &entry{id: id, total: download.UnknownTotal}
		m.entries[id] = e
		m.order = append(m.order, id)
	}
	return e
}

func (m *Model) addLog(message string, level Level) {
	if level == LevelVerbose && !m.verbose {
		return
	}
	m.logs = append(m.logs, LogEntry{Message: message, Level: level})
	// Keep only last 10 logs
	if len(m.logs) > 10 {
		m.logs = m.logs[len(m.logs)-10:]
	}
}

// ParseURLs splits user input into URLs, dropping blanks and duplicates.
func ParseURLs(input string) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, f := range strings.Fields(input) {
		if seen[f] {
			continue
		}
		seen[f] = true
		urls = append(urls, f)
	}
	return urls
}

// submit hands the URLs to the manager on the loop goroutine. The ids are
// sent before any callback of those downloads can fire.
func (m *Model) submit(urls []string) {
	manager, send := m.manager, m.send
	m.loop.Post(func() {
		ids := make([]int, 0, len(urls))
		for _, u := range urls {
			var id int
			id = manager.StartAsyncDownload(u, nil,
				func(r download.Result) {
					send(DownloadDoneMsg{Result: r})
				},
				func(current, total, sinceLast int64) {
					send(ProgressMsg{ID: id, Current: current, Total: total, SinceLast: sinceLast})
				},
				nil,
			)
			ids = append(ids, id)
		}
		send(QueuedMsg{IDs: ids, URLs: urls})
	})
}

func (m *Model) cancelAll() {
	if m.manager == nil {
		return
	}
	manager := m.manager
	m.loop.Post(manager.CancelAllDownloads)
}

// save writes a finished body below the downloads path.
func (m Model) save(r download.Result) tea.Cmd {
	dir := m.settings.DownloadsPath
	return func() tea.Msg {
		name := ioutils.FileNameFromURL(r.URL, fmt.Sprintf("download-%d", r.ID))
		path := filepath.Join(dir, name)

		if err := ioutils.EnsureDir(dir); err != nil {
			return SavedMsg{ID: r.ID, Err: err}
		}
		if err := ioutils.WriteFileAtomic(path, r.Data); err != nil {
			return SavedMsg{ID: r.ID, Err: err}
		}
		return SavedMsg{ID: r.ID, Path: path}
	}
}

// percent is the share of finished downloads.
func (m Model) percent() float64 {
	if len(m.entries) == 0 {
		return 0
	}
	done := 0
	for _, e := range m.entries {
		if e.done {
			done++
		}
	}
	return float64(done) / float64(len(m.entries))
}

func (m Model) totals() (done, failed int, received int64) {
	for _, e := range m.entries {
		received += e.received
		if !e.done {
			continue
		}
		if e.ok {
			done++
		} else {
			failed++
		}
	}
	return done, failed, received
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(titleStyle.Render("⇣ tilefetch"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Download files over HTTP"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	}

	// Footer
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Enter URL(s):"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")

	verboseCheck := "[ ]"
	if m.verbose {
		verboseCheck = "[×]"
	}

	b.WriteString(infoStyle.Render("Options:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s Verbose output (tab)\n", verboseCheck))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("Download path: %s", m.settings.DownloadsPath)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(subtitleStyle.Render(fmt.Sprintf("Downloading %d file(s)...", len(m.entries))))
	b.WriteString("\n\n")

	for _, id := range m.order {
		e := m.entries[id]
		b.WriteString(urlStyle.Render(fmt.Sprintf("  #%d %s", e.id, e.url)))
		b.WriteString(" ")
		b.WriteString(dimStyle.Render(entryStatus(e)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	// Progress bar
	b.WriteString(m.progress.ViewAs(m.percent()))
	b.WriteString("\n")

	done, failed, received := m.totals()
	b.WriteString(infoStyle.Render(fmt.Sprintf(
		"Files: %d/%d | Failed: %d | Downloaded: %s",
		done,
		len(m.entries),
		failed,
		humanize.Bytes(uint64(received)),
	)))
	b.WriteString("\n\n")

	// Logs
	b.WriteString(m.renderLogs())

	return b.String()
}

func entryStatus(e *entry) string {
	switch {
	case e.cancelled:
		return "cancelled"
	case e.done && !e.ok:
		return "failed"
	case e.done:
		return "done"
	case e.total == download.UnknownTotal:
		return humanize.Bytes(uint64(e.received))
	default:
		return fmt.Sprintf("%s / %s", humanize.Bytes(uint64(e.received)), humanize.Bytes(uint64(e.total)))
	}
}

func (m Model) viewComplete() string {
	var b strings.Builder

	done, failed, received := m.totals()
	box := boxStyle.Render(fmt.Sprintf(
		"✨ Download Complete!\n\n"+
			"Files: %d\n"+
			"Failed: %d\n"+
			"Size: %s",
		done,
		failed,
		humanize.Bytes(uint64(received)),
	))
	b.WriteString(box)
	b.WriteString("\n\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("❌ Error occurred:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
	}

	return b.String()
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "•"
		switch log.Level {
		case LevelError:
			style = errorStyle
			prefix = "✗"
		case LevelWarning:
			style = warningStyle
			prefix = "!"
		case LevelSuccess:
			style = successStyle
			prefix = "✓"
		case LevelInfo:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: start • tab: verbose • esc: quit"
	case StateDownloading:
		return "esc: cancel"
	case StateComplete, StateError:
		return "r: new download • q: quit"
	}
	return ""
}

// Run starts the TUI application. It returns when the user quits or ctx
// is cancelled.
func Run(ctx context.Context, settings *config.Settings, logger *zap.Logger, m *metrics.Metrics) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOpts, err := settings.ToClientOptions()
	if err != nil {
		return err
	}

	loop := mainloop.New()
	manager := download.NewManager(loop, http.NewClient(clientOpts...), settings.ToDownloadOptions(logger, m))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *tea.Program
	send := func(msg tea.Msg) { p.Send(msg) }
	manager.SetQueueFinishedCallback(func() { send(QueueFinishedMsg{}) })

	p = tea.NewProgram(NewModel(settings, loop, manager, send), tea.WithAltScreen(), tea.WithContext(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		_, runErr := p.Run()

		shutdownCtx, stop := context.WithTimeout(context.Background(), time.Duration(settings.ShutdownTimeout*float64(time.Second))+time.Second)
		defer stop()
		var shutdownErr error
		if err := loop.Call(shutdownCtx, func() {
			shutdownErr = manager.Shutdown(shutdownCtx)
		}); err != nil {
			logger.Warn("Download manager did not stop", zap.Error(err))
		}
		if shutdownErr != nil {
			logger.Warn("Downloads still running at exit", zap.Error(shutdownErr))
		}

		if errors.Is(runErr, tea.ErrProgramKilled) {
			return nil
		}
		return runErr
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

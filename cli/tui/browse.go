package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Store is the read side of the bridge.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, fileName string) (string, error)
}

const (
	listWidth     = 28
	defaultWidth  = 80
	defaultHeight = 24
)

type filesMsg struct {
	files []string
	err   error
}

type contentMsg struct {
	name    string
	content string
	err     error
}

// BrowseModel is a Bubble Tea model listing files with a preview of the
// one under the cursor.
type BrowseModel struct {
	ctx     context.Context
	store   Store
	timeout time.Duration

	files    []string
	cursor   int
	shown    string
	preview  viewport.Model
	err      error
	loading  bool
	width    int
	height   int
	quitting bool
}

// NewBrowseModel creates a browse model. Nothing is loaded until Init.
func NewBrowseModel(ctx context.Context, store Store, timeout time.Duration) BrowseModel {
	m := BrowseModel{
		ctx:     ctx,
		store:   store,
		timeout: timeout,
		preview: viewport.New(0, 0),
		loading: true,
	}
	return m.resize(defaultWidth, defaultHeight)
}

// Init implements tea.Model.
func (m BrowseModel) Init() tea.Cmd {
	return m.loadFiles()
}

// Update implements tea.Model.
func (m BrowseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg.Width, msg.Height), nil

	case filesMsg:
		m.loading = false
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		m.files = msg.files
		if m.cursor >= len(m.files) {
			m.cursor = max(len(m.files)-1, 0)
		}
		return m, m.loadSelected()

	case contentMsg:
		if msg.name != m.selected() {
			return m, nil
		}
		m.shown = msg.name
		m.err = msg.err
		if msg.err != nil {
			m.preview.SetContent("")
			return m, nil
		}
		m.preview.SetContent(msg.content)
		m.preview.GotoTop()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
				return m, m.loadSelected()
			}
			return m, nil
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.files)-1 {
				m.cursor++
				return m, m.loadSelected()
			}
			return m, nil
		case key.Matches(msg, keys.Refresh):
			m.loading = true
			return m, m.loadFiles()
		}
		var cmd tea.Cmd
		m.preview, cmd = m.preview.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m BrowseModel) View() string {
	if m.quitting {
		return ""
	}

	list := BoxStyle.Width(listWidth).Height(m.preview.Height).Render(m.renderList())
	preview := BoxStyle.Width(m.preview.Width).Height(m.preview.Height).Render(m.renderPreview())
	body := lipgloss.JoinHorizontal(lipgloss.Top, list, preview)

	help := HelpStyle.Render(helpLine())
	return TitleStyle.Render("burrow") + "\n" + body + "\n" + help
}

func (m BrowseModel) renderList() string {
	switch {
	case m.loading && len(m.files) == 0:
		return MutedStyle.Render("loading...")
	case len(m.files) == 0:
		return MutedStyle.Render("(no files)")
	}
	var b strings.Builder
	for i, name := range m.files {
		if i == m.cursor {
			b.WriteString(SelectedStyle.Render("> " + name))
		} else {
			b.WriteString(ItemStyle.Render(name))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m BrowseModel) renderPreview() string {
	if m.err != nil {
		return ErrorStyle.Render(m.err.Error())
	}
	if m.shown == "" {
		return MutedStyle.Render("select a file")
	}
	return m.preview.View()
}

func (m BrowseModel) resize(width, height int) BrowseModel {
	m.width = width
	m.height = height
	// Borders and padding take 4 columns per box; title, help and borders
	// take 6 rows.
	m.preview.Width = max(width-listWidth-8, 10)
	m.preview.Height = max(height-6, 3)
	return m
}

func (m BrowseModel) selected() string {
	if m.cursor < 0 || m.cursor >= len(m.files) {
		return ""
	}
	return m.files[m.cursor]
}

func (m BrowseModel) callContext() (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(m.ctx)
	}
	return context.WithTimeout(m.ctx, m.timeout)
}

func (m BrowseModel) loadFiles() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.callContext()
		defer cancel()
		files, err := m.store.List(ctx)
		if err != nil {
			return filesMsg{err: fmt.Errorf("list failed: %w", err)}
		}
		return filesMsg{files: files}
	}
}

func (m BrowseModel) loadSelected() tea.Cmd {
	name := m.selected()
	if name == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.callContext()
		defer cancel()
		content, err := m.store.Read(ctx, name)
		if err != nil {
			return contentMsg{name: name, err: fmt.Errorf("read %s failed: %w", name, err)}
		}
		return contentMsg{name: name, content: content}
	}
}

// keyMap defines key bindings.
type keyMap struct {
	Quit    key.Binding
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

func helpLine() string {
	bindings := []key.Binding{keys.Up, keys.Down, keys.Refresh, keys.Quit}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ") + " • pgup/pgdn scroll"
}

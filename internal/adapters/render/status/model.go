package status

import (
	"errors"
	"io"

	"github.com/bnema/gateway-pool/internal/pool"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

const defaultWidth = 80

type renderReadyMsg struct{}

type model struct {
	entries []pool.Entry
	opts    RenderOptions
	styles  styles
	output  string
}

func newModel(entries []pool.Entry, opts RenderOptions) model {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	return model{
		entries: entries,
		opts:    opts,
		styles:  newStyles(),
	}
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg {
		return renderReadyMsg{}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg.(type) {
	case renderReadyMsg:
		m.output = renderView(m.entries, m.opts, m.styles)
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m model) View() string {
	return m.output
}

// Render draws a pool snapshot once, without a terminal, and returns the text.
func Render(entries []pool.Entry, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		newModel(entries, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}

	return rendered.View(), nil
}

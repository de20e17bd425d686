package status

import (
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	account lipgloss.Style
	detail  lipgloss.Style
	warning lipgloss.Style
	section lipgloss.Style
	empty   lipgloss.Style
	key     lipgloss.Style
	meta    lipgloss.Style
	states  map[pool.EntryState]lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		account: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section: lipgloss.NewStyle().MarginTop(1),
		empty:   lipgloss.NewStyle().Faint(true),
		key:     lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		meta:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		states: map[pool.EntryState]lipgloss.Style{
			pool.EntryReady:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
			pool.EntryInUse:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")),
			pool.EntryCooling:     lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
			pool.EntryConnecting:  lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
			pool.EntryStandby:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
			pool.EntryUnavailable: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
			pool.EntryInvalid:     lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Faint(true),
		},
	}
}

func (s styles) state(state pool.EntryState) lipgloss.Style {
	if style, ok := s.states[state]; ok {
		return style
	}
	return s.detail
}

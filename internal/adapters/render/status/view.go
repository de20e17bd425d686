package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now   time.Time
	Title string
	// Width wraps invalid reasons and session errors. Zero means 80 columns.
	Width int
}

func renderView(entries []pool.Entry, opts RenderOptions, s styles) string {
	title := opts.Title
	if title == "" {
		title = "Gateway Pool"
	}

	lines := []string{
		s.title.Render(title),
		s.header.Render(summaryLine(entries)),
	}

	if len(entries) == 0 {
		lines = append(lines, s.empty.Render("No accounts configured."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, entry := range entries {
		lines = append(lines, s.section.Render(renderEntry(entry, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func summaryLine(entries []pool.Entry) string {
	counts := map[pool.EntryState]int{}
	for _, e := range entries {
		counts[e.State]++
	}

	parts := []string{fmt.Sprintf("accounts: %d", len(entries))}
	for _, state := range []pool.EntryState{pool.EntryReady, pool.EntryInUse, pool.EntryCooling, pool.EntryUnavailable, pool.EntryInvalid} {
		if counts[state] > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", state, counts[state]))
		}
	}
	return strings.Join(parts, "  ")
}

func renderEntry(entry pool.Entry, opts RenderOptions, s styles) string {
	account := entry.Account
	parts := []string{
		s.account.Render(fmt.Sprintf("%s (%s)", account.DisplayName(), account.ID)),
		lipgloss.JoinHorizontal(
			lipgloss.Top,
			s.key.Render("state: "),
			s.state(entry.State).Render(stateLabel(entry, opts.Now)),
			s.meta.Render(fmt.Sprintf("  channel: %s  mode: %s", orNA(account.ChannelID), orNA(string(account.Mode)))),
		),
		usageLine(entry, opts.Now, s),
	}

	warning := s.warning
	if opts.Width > 0 {
		warning = warning.Width(opts.Width)
	}
	if entry.Reason != "" {
		parts = append(parts, warning.Render("invalid: "+entry.Reason))
	}
	if entry.LastError != "" {
		parts = append(parts, warning.Render("last error: "+entry.LastError))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func stateLabel(entry pool.Entry, now time.Time) string {
	if entry.State != pool.EntryCooling || now.IsZero() || entry.AvailableAt.IsZero() {
		return string(entry.State)
	}
	remaining := entry.AvailableAt.Sub(now)
	if remaining <= 0 {
		return string(entry.State)
	}
	return fmt.Sprintf("%s (%s left)", entry.State, remaining.Round(100*time.Millisecond))
}

func usageLine(entry pool.Entry, now time.Time, s styles) string {
	usage := entry.Account.Usage
	count := s.detail.Render(fmt.Sprintf("uses: %d", usage.UseCount))
	if usage.LastUsedAt.IsZero() {
		return lipgloss.JoinHorizontal(lipgloss.Top, count, s.meta.Render("  last used: never"))
	}

	// Recent use renders brighter and fades over a day.
	recency := lipgloss.NewStyle().Foreground(lastUsedColor(usage.LastUsedAt, now))
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		count,
		s.meta.Render("  last used: "),
		recency.Render(formatLastUsed(usage.LastUsedAt, now)),
	)
}

func formatLastUsed(at, now time.Time) string {
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	elapsed := now.Sub(at)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return plural(int(elapsed.Minutes()), "minute") + " ago"
	case elapsed < 24*time.Hour:
		return plural(int(elapsed.Hours()), "hour") + " ago"
	default:
		return plural(int(math.Floor(elapsed.Hours()/24)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "n/a"
	}
	return s
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale ramp from 240 to 255.
	baseColor := 240.0
	targetColor := 255.0
	interpolated := baseColor + (targetColor-baseColor)*normalized

	return lipgloss.Color(fmt.Sprintf("%d", int(interpolated)))
}

func lastUsedColor(at, now time.Time) lipgloss.Color {
	if now.IsZero() || at.After(now) {
		return lipgloss.Color("255")
	}
	window := 24 * time.Hour
	inverted := window.Seconds() - now.Sub(at).Seconds()
	return interpolateColor(inverted, 0, window.Seconds())
}

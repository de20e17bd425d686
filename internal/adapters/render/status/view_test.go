package status

import (
	"strings"
	"testing"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPoolEntries(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)

	output, err := Render([]pool.Entry{
		{
			Account: domain.Account{
				ID:        "acc-1",
				Name:      "Primary",
				ChannelID: "chan-1",
				Mode:      domain.ModeFast,
				Usage:     domain.Usage{LastUsedAt: now.Add(-90 * time.Minute), UseCount: 12},
			},
			State: pool.EntryReady,
		},
		{
			Account:     domain.Account{ID: "acc-2", ChannelID: "chan-2"},
			State:       pool.EntryCooling,
			AvailableAt: now.Add(2 * time.Second),
		},
		{
			Account: domain.Account{ID: "acc-3", ChannelID: "chan-3"},
			State:   pool.EntryInvalid,
			Reason:  "invalid account: token is required",
		},
		{
			Account:   domain.Account{ID: "acc-4", ChannelID: "chan-4"},
			State:     pool.EntryUnavailable,
			LastError: "connection failed",
		},
	}, RenderOptions{Now: now})

	require.NoError(t, err)
	assert.Contains(t, output, "Gateway Pool")
	assert.Contains(t, output, "accounts: 4")
	assert.Contains(t, output, "ready: 1")
	assert.Contains(t, output, "Primary (acc-1)")
	assert.Contains(t, output, "uses: 12")
	assert.Contains(t, output, "1 hour ago")
	assert.Contains(t, output, "chan-2 (acc-2)")
	assert.Contains(t, output, "cooling (2s left)")
	assert.Contains(t, output, "last used: never")
	assert.Contains(t, output, "invalid: invalid account: token is required")
	assert.Contains(t, output, "last error: connection failed")
	assert.Contains(t, output, "mode: n/a")
}

func TestRenderWrapsLongErrors(t *testing.T) {
	t.Parallel()

	lastError := "dial gateway: websocket handshake rejected by upstream after repeated attempts"
	output, err := Render([]pool.Entry{{
		Account:   domain.Account{ID: "acc-1", ChannelID: "chan-1"},
		State:     pool.EntryUnavailable,
		LastError: lastError,
	}}, RenderOptions{Width: 30})
	require.NoError(t, err)

	var errorLines []string
	inError := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "last error:") {
			inError = true
		}
		if inError && strings.TrimSpace(line) != "" {
			errorLines = append(errorLines, line)
		}
	}
	require.Greater(t, len(errorLines), 1)
	for _, line := range errorLines {
		assert.LessOrEqual(t, lipgloss.Width(strings.TrimRight(line, " ")), 30)
	}
	assert.Contains(t, errorLines[len(errorLines)-1], "attempts")
}

func TestRenderEmpty(t *testing.T) {
	t.Parallel()

	output, err := Render(nil, RenderOptions{Title: "Accounts"})
	require.NoError(t, err)
	assert.Contains(t, output, "Accounts")
	assert.Contains(t, output, "accounts: 0")
	assert.Contains(t, output, "No accounts configured.")
}

func TestFormatLastUsed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)
	testCases := []struct {
		name string
		at   time.Time
		want string
	}{
		{name: "seconds", at: now.Add(-10 * time.Second), want: "just now"},
		{name: "minutes", at: now.Add(-5 * time.Minute), want: "5 minutes ago"},
		{name: "one hour", at: now.Add(-61 * time.Minute), want: "1 hour ago"},
		{name: "days", at: now.Add(-50 * time.Hour), want: "2 days ago"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, formatLastUsed(tc.at, now))
		})
	}
}

func TestLastUsedColorFades(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 14, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, lipgloss.Color("255"), lastUsedColor(now, now))
	assert.Equal(t, lipgloss.Color("240"), lastUsedColor(now.Add(-48*time.Hour), now))
	assert.Equal(t, lipgloss.Color("255"), lastUsedColor(now, time.Time{}))
}

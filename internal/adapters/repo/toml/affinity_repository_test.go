package toml

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAffinityRepository(t *testing.T) *AffinityRepository {
	t.Helper()
	cfg := viper.New()
	cfg.Set("affinity.path", filepath.Join(t.TempDir(), "affinity.toml"))
	repo, err := NewAffinityRepository(cfg)
	require.NoError(t, err)
	return repo
}

func TestAffinityRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestAffinityRepository(t)
	affinity := domain.Affinity{
		MessageID: "msg-1",
		ChannelID: "chan-1",
		AccountID: "acc-1",
		UpdatedAt: time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC),
	}

	require.NoError(t, repo.Save(context.Background(), affinity))
	got, err := repo.Get(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, affinity, got)

	affinity.ChannelID = "chan-2"
	require.NoError(t, repo.Save(context.Background(), affinity))
	got, err = repo.Get(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "chan-2", got.ChannelID)

	_, err = repo.Get(context.Background(), "msg-unknown")
	require.ErrorIs(t, err, domain.ErrAffinityNotFound)
}

func TestAffinityRepositoryDropsOldestBeyondLimit(t *testing.T) {
	t.Parallel()

	repo := newTestAffinityRepository(t)
	repo.limit = 3
	for i := 0; i <= 3; i++ {
		require.NoError(t, repo.Save(context.Background(), domain.Affinity{
			MessageID: fmt.Sprintf("msg-%d", i),
			ChannelID: "chan",
		}))
	}

	_, err := repo.Get(context.Background(), "msg-0")
	require.ErrorIs(t, err, domain.ErrAffinityNotFound)
	_, err = repo.Get(context.Background(), "msg-3")
	require.NoError(t, err)
}

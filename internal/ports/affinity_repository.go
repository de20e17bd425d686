package ports

import (
	"context"

	"github.com/bnema/gateway-pool/internal/domain"
)

type AffinityRepository interface {
	Get(ctx context.Context, messageID string) (domain.Affinity, error)
	Save(ctx context.Context, affinity domain.Affinity) error
}

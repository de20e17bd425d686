package ports

import (
	"context"

	"github.com/bnema/gateway-pool/internal/domain"
)

type AccountRepository interface {
	GetByID(ctx context.Context, id domain.AccountID) (domain.Account, error)
	List(ctx context.Context) ([]domain.Account, error)
	Save(ctx context.Context, account domain.Account) error
	// PutAll replaces the stored set with accounts, in order.
	PutAll(ctx context.Context, accounts []domain.Account) error
}

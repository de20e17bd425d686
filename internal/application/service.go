package application

import (
	"context"
	"fmt"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/ports"
)

// AccountService manages the stored account set without opening sessions.
type AccountService struct {
	repo     ports.AccountRepository
	validate func(domain.Account) error
	newID    func() domain.AccountID
}

func NewAccountService(repo ports.AccountRepository) *AccountService {
	return &AccountService{
		repo:     repo,
		validate: domain.Validate,
		newID:    domain.NewAccountID,
	}
}

func (s *AccountService) List(ctx context.Context) ([]AccountStatus, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	statuses := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		statuses = append(statuses, AccountStatus{Account: account, Err: s.validate(account)})
	}
	return statuses, nil
}

// Sync reconciles declared with the stored accounts and stores the result.
func (s *AccountService) Sync(ctx context.Context, declared []domain.Account) ([]AccountStatus, error) {
	persisted, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	merged := domain.Reconcile(declared, persisted, s.newID)
	if err := s.repo.PutAll(ctx, merged); err != nil {
		return nil, fmt.Errorf("store accounts: %w", err)
	}

	statuses := make([]AccountStatus, 0, len(merged))
	for _, account := range merged {
		statuses = append(statuses, AccountStatus{Account: account, Err: s.validate(account)})
	}
	return statuses, nil
}

package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/ports"
)

// AffinityService remembers which account produced a result message, so
// follow-up component presses reach the session that owns the message.
type AffinityService struct {
	repo  ports.AffinityRepository
	clock ports.Clock
}

func NewAffinityService(repo ports.AffinityRepository, clock ports.Clock) *AffinityService {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &AffinityService{repo: repo, clock: clock}
}

func (s *AffinityService) Record(ctx context.Context, messageID string, account domain.Account) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil
	}

	err := s.repo.Save(ctx, domain.Affinity{
		MessageID: messageID,
		ChannelID: account.ChannelID,
		AccountID: account.ID,
		UpdatedAt: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("save affinity: %w", err)
	}
	return nil
}

// ChannelFor returns the channel that owns messageID.
func (s *AffinityService) ChannelFor(ctx context.Context, messageID string) (string, error) {
	affinity, err := s.repo.Get(ctx, strings.TrimSpace(messageID))
	if err != nil {
		if errors.Is(err, domain.ErrAffinityNotFound) {
			return "", err
		}
		return "", fmt.Errorf("load affinity: %w", err)
	}
	return affinity.ChannelID, nil
}

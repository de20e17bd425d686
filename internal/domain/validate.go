package domain

import (
	"fmt"
	"strings"
)

// Validate reports why an account cannot be handed out, or nil when it can.
func Validate(a Account) error {
	if strings.TrimSpace(a.Token) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidAccount)
	}
	if strings.TrimSpace(a.ServerID) == "" {
		return fmt.Errorf("%w: server id is required", ErrInvalidAccount)
	}
	if strings.TrimSpace(a.ChannelID) == "" {
		return fmt.Errorf("%w: channel id is required", ErrInvalidAccount)
	}
	if a.Mode != ModeRelax {
		if balance, ok := a.Profile.PaidCreditsBalance(); ok && balance <= 0 {
			return fmt.Errorf("%w: %s mode requires paid credits", ErrInvalidAccount, a.effectiveMode())
		}
	}

	return nil
}

func Valid(a Account) bool {
	return Validate(a) == nil
}

func (a Account) effectiveMode() Mode {
	if a.Mode == "" {
		return ModeFast
	}
	return a.Mode
}

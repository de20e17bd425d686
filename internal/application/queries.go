package application

import "github.com/bnema/gateway-pool/internal/domain"

// AccountStatus is a stored account together with its validation outcome.
type AccountStatus struct {
	Account domain.Account
	Err     error
}

func (s AccountStatus) Valid() bool {
	return s.Err == nil
}

// Reason is the validation failure, or "" for a valid account.
func (s AccountStatus) Reason() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

package domain

import "time"

// Affinity binds a result message to the account whose session produced it.
type Affinity struct {
	MessageID string
	ChannelID string
	AccountID AccountID
	UpdatedAt time.Time
}

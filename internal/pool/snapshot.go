package pool

import (
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
)

type EntryState string

const (
	EntryInvalid     EntryState = "invalid"
	EntryStandby     EntryState = "standby"
	EntryConnecting  EntryState = "connecting"
	EntryReady       EntryState = "ready"
	EntryInUse       EntryState = "in-use"
	EntryCooling     EntryState = "cooling"
	EntryUnavailable EntryState = "unavailable"
)

// Entry is a point-in-time view of one pooled account.
type Entry struct {
	Account     domain.Account
	State       EntryState
	Reason      string
	AvailableAt time.Time
	LastError   string
}

func (e Entry) Valid() bool {
	return e.State != EntryInvalid
}

// Snapshot reports every account in declaration order.
func (p *Pool[S]) Snapshot() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		item := Entry{Account: e.account, AvailableAt: e.availableAt}
		if e.lastErr != nil {
			item.LastError = e.lastErr.Error()
		}

		switch {
		case e.validErr != nil:
			item.State = EntryInvalid
			item.Reason = e.validErr.Error()
		case e.connecting:
			item.State = EntryConnecting
		case e.live && e.checkedOut:
			item.State = EntryInUse
		case e.live && e.availableAt.After(now):
			item.State = EntryCooling
		case e.live:
			item.State = EntryReady
		case e.lastErr != nil:
			item.State = EntryUnavailable
		default:
			item.State = EntryStandby
		}
		out = append(out, item)
	}
	return out
}

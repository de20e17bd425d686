package application

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/gateway"
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/bnema/gateway-pool/internal/stream"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type fakeInteractor struct {
	updates []gateway.Message
	result  gateway.Message
	err     error

	mu      sync.Mutex
	actions []gateway.Action
}

func (f *fakeInteractor) RunInteraction(_ context.Context, action gateway.Action, h gateway.Handlers) (gateway.Message, error) {
	f.mu.Lock()
	f.actions = append(f.actions, action)
	f.mu.Unlock()

	if h.OnStart != nil {
		h.OnStart(gateway.Message{ID: "start"})
	}
	for _, u := range f.updates {
		if h.OnUpdate != nil {
			h.OnUpdate(u)
		}
	}
	if f.err != nil {
		return gateway.Message{}, f.err
	}
	return f.result, nil
}

func (f *fakeInteractor) lastAction() gateway.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions[len(f.actions)-1]
}

type fakePool struct {
	accounts   []domain.Account
	session    *fakeInteractor
	acquireErr error

	mu       sync.Mutex
	released []domain.AccountID
}

func (p *fakePool) Acquire(context.Context) (pool.Lease, *fakeInteractor, error) {
	if p.acquireErr != nil {
		return pool.Lease{}, nil, p.acquireErr
	}
	return pool.Lease{Account: p.accounts[0]}, p.session, nil
}

func (p *fakePool) AcquireIf(pred func(domain.Account) bool) (pool.Lease, *fakeInteractor, error) {
	for _, a := range p.accounts {
		if pred(a) {
			return pool.Lease{Account: a}, p.session, nil
		}
	}
	return pool.Lease{}, nil, domain.ErrNoMatchingAccount
}

func (p *fakePool) Release(_ context.Context, lease pool.Lease) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, lease.Account.ID)
	return nil
}

func (p *fakePool) releasedIDs() []domain.AccountID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.AccountID(nil), p.released...)
}

type recorder struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recorder) Write(event stream.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return true
}

func (r *recorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out string
	for _, e := range r.events {
		out += e.Content
	}
	return out
}

func (r *recorder) last() stream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type memoryAffinities struct {
	mu    sync.Mutex
	byMsg map[string]domain.Affinity
}

func newMemoryAffinities() *memoryAffinities {
	return &memoryAffinities{byMsg: map[string]domain.Affinity{}}
}

func (m *memoryAffinities) Get(_ context.Context, messageID string) (domain.Affinity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byMsg[messageID]
	if !ok {
		return domain.Affinity{}, domain.ErrAffinityNotFound
	}
	return a, nil
}

func (m *memoryAffinities) Save(_ context.Context, affinity domain.Affinity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byMsg[affinity.MessageID] = affinity
	return nil
}

type failingPlanner struct {
	err   error
	event *stream.Event
}

func (p failingPlanner) Plan(_ context.Context, _ string, out stream.Writer) error {
	if p.event != nil {
		out.Write(*p.event)
	}
	return p.err
}

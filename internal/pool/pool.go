package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/ports"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCooldown    = 3 * time.Second
	DefaultConcurrency = 4
)

var ErrPoolClosed = errors.New("pool closed")

// Handle is a live session owned by the pool.
type Handle interface {
	Done() <-chan struct{}
	Err() error
	Destroy()
}

// Factory establishes a ready session for account.
type Factory[S Handle] func(ctx context.Context, account domain.Account) (S, error)

type Config struct {
	// Size caps the number of live sessions. Zero means one per valid account.
	Size        int
	Serial      bool
	Concurrency int
	Cooldown    time.Duration
	Validate    func(domain.Account) error
	Declared    []domain.Account
	Logger      *slog.Logger
	Clock       ports.Clock
}

// Lease is one checkout of an account. Release only honours the lease that
// performed the current checkout.
type Lease struct {
	Account domain.Account
	seq     uint64
}

type entry[S Handle] struct {
	account     domain.Account
	validErr    error
	session     S
	epoch       int
	live        bool
	connecting  bool
	checkedOut  bool
	lease       uint64
	availableAt time.Time
	lastErr     error
}

// Pool hands out accounts with live sessions, one borrower at a time.
type Pool[S Handle] struct {
	repo    ports.AccountRepository
	factory Factory[S]
	cfg     Config
	logger  *slog.Logger
	clock   ports.Clock

	populateMu sync.Mutex

	mu       sync.Mutex
	declared []domain.Account
	entries  []*entry[S]
	byID     map[domain.AccountID]*entry[S]
	changed  chan struct{}
	closed   bool
	leases   uint64
}

func New[S Handle](repo ports.AccountRepository, factory Factory[S], cfg Config) *Pool[S] {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.Validate == nil {
		cfg.Validate = domain.Validate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = ports.SystemClock{}
	}

	return &Pool[S]{
		repo:     repo,
		factory:  factory,
		cfg:      cfg,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		declared: append([]domain.Account(nil), cfg.Declared...),
		byID:     make(map[domain.AccountID]*entry[S]),
		changed:  make(chan struct{}),
	}
}

// SetDeclared replaces the declared accounts used by the next Populate.
func (p *Pool[S]) SetDeclared(accounts []domain.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declared = append([]domain.Account(nil), accounts...)
}

// Populate reconciles the declared accounts with the store and establishes
// sessions for valid accounts that lack one. Accounts that fail to connect are
// marked unavailable and retried on the next call.
func (p *Pool[S]) Populate(ctx context.Context) error {
	p.populateMu.Lock()
	defer p.populateMu.Unlock()

	persisted, err := p.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	p.mu.Lock()
	declared := p.declared
	p.mu.Unlock()

	accounts := domain.Reconcile(declared, persisted, nil)
	if err := p.repo.PutAll(ctx, accounts); err != nil {
		return fmt.Errorf("store reconciled accounts: %w", err)
	}

	pending, stale, err := p.sync(accounts)
	if err != nil {
		return err
	}
	for _, session := range stale {
		session.Destroy()
	}
	if len(pending) == 0 {
		return nil
	}

	if p.cfg.Serial {
		for _, e := range pending {
			p.establish(ctx, e)
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, e := range pending {
		e := e
		g.Go(func() error {
			p.establish(ctx, e)
			return nil
		})
	}
	return g.Wait()
}

// sync rebuilds the entry table from accounts. It returns the entries that
// need a session and the sessions that must be destroyed.
func (p *Pool[S]) sync(accounts []domain.Account) ([]*entry[S], []S, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, ErrPoolClosed
	}

	entries := make([]*entry[S], 0, len(accounts))
	byID := make(map[domain.AccountID]*entry[S], len(accounts))
	for _, account := range accounts {
		e, ok := p.byID[account.ID]
		if !ok {
			e = &entry[S]{}
		}
		usage := e.account.Usage
		e.account = account
		if usage.UseCount > account.Usage.UseCount {
			e.account.Usage = usage
		}
		e.validErr = p.cfg.Validate(account)
		entries = append(entries, e)
		byID[account.ID] = e
	}

	var stale []S
	for id, e := range p.byID {
		if _, keep := byID[id]; keep {
			continue
		}
		if e.live {
			p.logger.Info("dropping undeclared account", "account", e.account.DisplayName())
			stale = append(stale, e.session)
		}
	}
	for _, e := range entries {
		if e.live && e.validErr != nil {
			p.logger.Info("closing session of invalid account", "account", e.account.DisplayName(), "reason", e.validErr)
			stale = append(stale, e.session)
		}
	}

	p.entries = entries
	p.byID = byID

	active := 0
	for _, e := range entries {
		if e.live || e.connecting {
			active++
		}
	}

	var pending []*entry[S]
	for _, e := range entries {
		if e.validErr != nil || e.live || e.connecting {
			continue
		}
		if p.cfg.Size > 0 && active >= p.cfg.Size {
			break
		}
		e.connecting = true
		active++
		pending = append(pending, e)
	}
	p.notifyLocked()

	return pending, stale, nil
}

func (p *Pool[S]) establish(ctx context.Context, e *entry[S]) {
	p.mu.Lock()
	account := e.account
	p.mu.Unlock()

	session, err := p.factory(ctx, account)

	p.mu.Lock()
	defer p.mu.Unlock()
	e.connecting = false

	if err != nil {
		e.lastErr = err
		p.logger.Warn("session unavailable", "account", account.DisplayName(), "token", account.TokenFingerprint(), "err", err)
		p.notifyLocked()
		return
	}
	if p.closed || p.byID[account.ID] != e || e.validErr != nil {
		go session.Destroy()
		return
	}

	e.epoch++
	e.session = session
	e.live = true
	e.lastErr = nil
	p.logger.Info("session established", "account", account.DisplayName())
	go p.watch(e, session, e.epoch)
	p.notifyLocked()
}

// watch marks the entry unavailable once its session closes.
func (p *Pool[S]) watch(e *entry[S], session S, epoch int) {
	<-session.Done()

	p.mu.Lock()
	defer p.mu.Unlock()
	if e.epoch != epoch || !e.live {
		return
	}

	var zero S
	e.session = zero
	e.live = false
	e.checkedOut = false
	e.lastErr = session.Err()
	if e.lastErr == nil {
		e.lastErr = domain.ErrSessionClosed
	}
	p.logger.Warn("session lost", "account", e.account.DisplayName(), "err", e.lastErr)
	p.notifyLocked()
}

// Acquire blocks until a valid, ready, idle and cooled-down account exists and
// checks it out. The least recently used account wins; ties go to declaration
// order.
func (p *Pool[S]) Acquire(ctx context.Context) (Lease, S, error) {
	var zero S
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return Lease{}, zero, ErrPoolClosed
		}
		now := p.clock.Now()
		best, wait := p.pickLocked(now)
		if best != nil {
			lease := p.checkoutLocked(best)
			session := best.session
			p.mu.Unlock()
			return lease, session, nil
		}
		changed := p.changed
		p.mu.Unlock()

		var timer *time.Timer
		var timeout <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			err := ctx.Err()
			stopTimer(timer)
			return Lease{}, zero, err
		case <-changed:
		case <-timeout:
		}
		stopTimer(timer)
	}
}

func (p *Pool[S]) checkoutLocked(e *entry[S]) Lease {
	p.leases++
	e.checkedOut = true
	e.lease = p.leases
	return Lease{Account: e.account, seq: e.lease}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// pickLocked returns the best idle entry, or the delay until the next
// cooling-down entry becomes available.
func (p *Pool[S]) pickLocked(now time.Time) (*entry[S], time.Duration) {
	var best *entry[S]
	var wait time.Duration
	for _, e := range p.entries {
		if !e.idle() {
			continue
		}
		if e.availableAt.After(now) {
			if d := e.availableAt.Sub(now); wait == 0 || d < wait {
				wait = d
			}
			continue
		}
		if best == nil || e.account.Usage.LastUsedAt.Before(best.account.Usage.LastUsedAt) {
			best = e
		}
	}
	return best, wait
}

func (e *entry[S]) idle() bool {
	return e.validErr == nil && e.live && !e.checkedOut
}

// AcquireIf checks out the first valid account matching pred, ignoring
// rotation and cooldown.
func (p *Pool[S]) AcquireIf(pred func(domain.Account) bool) (Lease, S, error) {
	var zero S

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Lease{}, zero, ErrPoolClosed
	}

	var failure error
	for _, e := range p.entries {
		if e.validErr != nil || !pred(e.account) {
			continue
		}
		switch {
		case e.idle():
			return p.checkoutLocked(e), e.session, nil
		case e.checkedOut:
			if failure == nil {
				failure = fmt.Errorf("account %s is in use: %w", e.account.DisplayName(), domain.ErrNoMatchingAccount)
			}
		default:
			if failure == nil {
				failure = fmt.Errorf("account %s: %w", e.account.DisplayName(), domain.ErrSessionClosed)
			}
		}
	}

	if failure != nil {
		return Lease{}, zero, failure
	}
	return Lease{}, zero, domain.ErrNoMatchingAccount
}

// Release returns a checked-out account. It becomes acquirable again after the
// cooldown. A lease that no longer owns the checkout, because its session died
// or it was already released, does nothing.
func (p *Pool[S]) Release(ctx context.Context, lease Lease) error {
	p.mu.Lock()
	e, ok := p.byID[lease.Account.ID]
	if !ok || !e.checkedOut || e.lease != lease.seq {
		p.mu.Unlock()
		return nil
	}
	now := p.clock.Now()
	e.checkedOut = false
	e.availableAt = now.Add(p.cfg.Cooldown)
	e.account.Usage = e.account.Usage.Touch(now)
	account := e.account
	p.notifyLocked()
	p.mu.Unlock()

	if err := p.repo.Save(ctx, account); err != nil {
		return fmt.Errorf("save account usage: %w", err)
	}
	return nil
}

func (p *Pool[S]) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Close destroys every session. Blocked Acquire calls return ErrPoolClosed.
func (p *Pool[S]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var sessions []S
	for _, e := range p.entries {
		if e.live {
			sessions = append(sessions, e.session)
		}
	}
	p.notifyLocked()
	p.mu.Unlock()

	for _, session := range sessions {
		session.Destroy()
	}
}

package gateway

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
)

// DefaultWaitTimeout bounds a registration that does not set its own timeout.
const DefaultWaitTimeout = 5 * time.Minute

type WaitOptions struct {
	Timeout time.Duration
	// Once removes the registration on its first match. Persistent
	// registrations restart their timeout window on every match instead.
	Once    bool
	OnEvent func(Event)
	OnError func(error)
}

// Registration is a handle on a pending correlation.
type Registration struct {
	w     *waiter
	table *waiterTable
}

// Cancel removes the registration without invoking its callbacks.
func (r *Registration) Cancel() {
	if r == nil {
		return
	}
	r.table.cancel(r)
}

type waiter struct {
	id      uint64
	tag     string
	match   func(Event) bool
	opts    WaitOptions
	timer   *time.Timer
	gen     uint64
	removed bool
}

type waiterTable struct {
	mu       sync.Mutex
	nextID   uint64
	byTag    map[string][]*waiter
	closed   bool
	closeErr error
	logger   *slog.Logger
}

func newWaiterTable(logger *slog.Logger) *waiterTable {
	return &waiterTable{byTag: make(map[string][]*waiter), logger: logger}
}

func (t *waiterTable) add(tag string, match func(Event) bool, opts WaitOptions) *Registration {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultWaitTimeout
	}

	t.mu.Lock()
	t.nextID++
	w := &waiter{id: t.nextID, tag: tag, match: match, opts: opts}
	reg := &Registration{w: w, table: t}
	if t.closed {
		w.removed = true
		err := t.closeErr
		t.mu.Unlock()
		t.fail(w, err)
		return reg
	}
	t.byTag[tag] = append(t.byTag[tag], w)
	t.armLocked(w)
	t.mu.Unlock()

	return reg
}

func (t *waiterTable) armLocked(w *waiter) {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.opts.Timeout, func() {
		t.expire(w, gen)
	})
}

func (t *waiterTable) expire(w *waiter, gen uint64) {
	t.mu.Lock()
	if w.removed || w.gen != gen {
		t.mu.Unlock()
		return
	}
	t.removeLocked(w)
	t.mu.Unlock()

	t.fail(w, fmt.Errorf("wait for %s: %w", w.tag, domain.ErrInteractionTimeout))
}

func (t *waiterTable) removeLocked(w *waiter) {
	if w.removed {
		return
	}
	w.removed = true
	if w.timer != nil {
		w.timer.Stop()
	}

	list := t.byTag[w.tag]
	for i, candidate := range list {
		if candidate == w {
			t.byTag[w.tag] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(t.byTag[w.tag]) == 0 {
		delete(t.byTag, w.tag)
	}
}

func (t *waiterTable) cancel(regs ...*Registration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, reg := range regs {
		if reg == nil || reg.w == nil {
			continue
		}
		t.removeLocked(reg.w)
	}
}

func (t *waiterTable) refresh(reg *Registration) {
	if reg == nil || reg.w == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !reg.w.removed {
		t.armLocked(reg.w)
	}
}

// deliver fires every registration for tag whose predicate matches, in
// registration order. Registrations added while delivering do not see event.
func (t *waiterTable) deliver(tag string, event Event) int {
	t.mu.Lock()
	snapshot := append([]*waiter(nil), t.byTag[tag]...)
	t.mu.Unlock()

	fired := 0
	for _, w := range snapshot {
		if !t.matches(w, event) {
			continue
		}

		t.mu.Lock()
		if w.removed {
			t.mu.Unlock()
			continue
		}
		if w.opts.Once {
			t.removeLocked(w)
		} else {
			t.armLocked(w)
		}
		t.mu.Unlock()

		fired++
		if w.opts.OnEvent != nil {
			t.guard(w, "callback", func() { w.opts.OnEvent(event) })
		}
	}

	return fired
}

func (t *waiterTable) matches(w *waiter, event Event) bool {
	t.mu.Lock()
	removed := w.removed
	t.mu.Unlock()
	if removed {
		return false
	}
	if w.match == nil {
		return true
	}

	matched := false
	t.guard(w, "predicate", func() { matched = w.match(event) })
	return matched
}

// guard runs fn and logs a panic instead of letting it stop the dispatch loop.
func (t *waiterTable) guard(w *waiter, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("waiter panicked", "tag", w.tag, "stage", stage, "panic", r)
		}
	}()
	fn()
}

// failAll closes the table and fails every pending registration with err.
func (t *waiterTable) failAll(err error) {
	t.mu.Lock()
	t.closed = true
	t.closeErr = err
	var pending []*waiter
	for _, list := range t.byTag {
		pending = append(pending, list...)
	}
	for _, w := range pending {
		t.removeLocked(w)
	}
	t.mu.Unlock()

	for _, w := range pending {
		t.fail(w, err)
	}
}

func (t *waiterTable) fail(w *waiter, err error) {
	if w.opts.OnError == nil {
		return
	}
	t.guard(w, "error callback", func() { w.opts.OnError(err) })
}

func (t *waiterTable) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, list := range t.byTag {
		n += len(list)
	}
	return n
}

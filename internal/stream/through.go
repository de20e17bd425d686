package stream

import (
	"strings"
	"sync"
)

// Through forwards events to a downstream writer while accumulating the text of
// message events.
type Through struct {
	mu         sync.Mutex
	next       Writer
	text       strings.Builder
	onTerminal func(text string, event Event)
	finished   bool
}

type ThroughOption func(*Through)

// OnTerminal registers a hook that runs once, after the terminal event has been
// forwarded.
func OnTerminal(fn func(text string, event Event)) ThroughOption {
	return func(t *Through) {
		t.onTerminal = fn
	}
}

func NewThrough(next Writer, opts ...ThroughOption) *Through {
	t := &Through{next: next}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Through) Write(event Event) bool {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return false
	}
	if event.Kind == KindMessage {
		t.text.WriteString(event.Content)
	}
	terminal := event.Terminal()
	if terminal {
		t.finished = true
	}
	text := t.text.String()
	t.mu.Unlock()

	ok := true
	if t.next != nil {
		ok = t.next.Write(event)
	}
	if terminal && t.onTerminal != nil {
		t.onTerminal(text, event)
	}
	return ok
}

func (t *Through) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.String()
}

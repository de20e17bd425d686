package stream

import "sync"

type Kind string

const (
	KindMessage Kind = "message"
	KindDone    Kind = "done"
	KindError   Kind = "error"
)

// Event is one item on an output stream. Done and error events are terminal.
type Event struct {
	Kind    Kind   `json:"-"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Status  int    `json:"status,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

func Message(content string) Event {
	return Event{Kind: KindMessage, Content: content}
}

func Done() Event {
	return Event{Kind: KindDone}
}

func Error(msg string, status int) Event {
	return Event{Kind: KindError, Error: msg, Status: status}
}

// Writer accepts stream events. Write reports false once the stream no longer
// accepts events.
type Writer interface {
	Write(Event) bool
}

// Stream delivers events to a sink and guarantees a single terminal event.
type Stream struct {
	mu     sync.Mutex
	sink   func(Event)
	closed chan struct{}
	done   bool
}

func New(sink func(Event)) *Stream {
	return &Stream{sink: sink, closed: make(chan struct{})}
}

func (s *Stream) Write(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return false
	}
	if event.Terminal() {
		s.done = true
		defer close(s.closed)
	}
	if s.sink != nil {
		s.sink(event)
	}
	return true
}

func (s *Stream) Message(content string) bool {
	return s.Write(Message(content))
}

func (s *Stream) Done() bool {
	return s.Write(Done())
}

func (s *Stream) Error(msg string, status int) bool {
	return s.Write(Error(msg, status))
}

// Closed is closed after the terminal event has been delivered.
func (s *Stream) Closed() <-chan struct{} {
	return s.closed
}

// stop marks the stream finished without emitting a terminal event.
func (s *Stream) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.closed)
	}
}

// Channel is a Stream whose events are read from Events. Events is closed
// after the terminal event.
type Channel struct {
	*Stream
	events    chan Event
	abandoned chan struct{}
	once      sync.Once
}

// NewChannel returns a channel-backed stream. Writes block while the buffer is
// full, so a consumer must drain Events until it is closed or call Abandon.
func NewChannel(buf int) *Channel {
	c := &Channel{
		events:    make(chan Event, buf),
		abandoned: make(chan struct{}),
	}
	c.Stream = New(func(event Event) {
		select {
		case c.events <- event:
		case <-c.abandoned:
			return
		}
		if event.Terminal() {
			close(c.events)
		}
	})
	return c
}

func (c *Channel) Events() <-chan Event {
	return c.events
}

// Abandon is called by a consumer that stops reading. Pending and later
// writes are dropped.
func (c *Channel) Abandon() {
	c.once.Do(func() { close(c.abandoned) })
	c.Stream.stop()
}

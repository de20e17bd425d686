package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	InteractionApplicationCommand = 2
	InteractionMessageComponent   = 3

	ComponentButton = 2
)

// Application identifies the bot whose commands are invoked.
type Application struct {
	ID                    string
	ImagineCommandID      string
	ImagineCommandVersion string
}

func (a Application) withDefaults() Application {
	if a.ID == "" {
		a.ID = "936929561302675456"
	}
	if a.ImagineCommandID == "" {
		a.ImagineCommandID = "938956540159881230"
	}
	if a.ImagineCommandVersion == "" {
		a.ImagineCommandVersion = "1237876415471554623"
	}
	return a
}

type ActionKind string

const (
	ActionImagine   ActionKind = "imagine"
	ActionComponent ActionKind = "component"
)

// Action is a user request turned into one interaction.
type Action struct {
	Kind   ActionKind `json:"type"`
	Prompt string     `json:"prompt,omitempty"`

	// Component presses target an existing message on a specific channel.
	ChannelID     string `json:"channel_id,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	CustomID      string `json:"custom_id,omitempty"`
	ComponentType int    `json:"component_type,omitempty"`

	// ReferenceID is the message follow-ups reply to. Empty means the id of
	// the message that starts the interaction.
	ReferenceID string `json:"-"`
}

func (a Action) Validate() error {
	switch a.Kind {
	case ActionImagine:
		if strings.TrimSpace(a.Prompt) == "" {
			return fmt.Errorf("imagine action: prompt is required")
		}
	case ActionComponent:
		if a.MessageID == "" || a.CustomID == "" {
			return fmt.Errorf("component action: message id and custom id are required")
		}
	default:
		return fmt.Errorf("unsupported action type %q", a.Kind)
	}
	return nil
}

type InteractionPayload struct {
	Type          int    `json:"type"`
	ApplicationID string `json:"application_id"`
	GuildID       string `json:"guild_id"`
	ChannelID     string `json:"channel_id"`
	SessionID     string `json:"session_id"`
	Nonce         string `json:"nonce"`
	MessageFlags  *int   `json:"message_flags,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	Data          any    `json:"data"`
}

type commandData struct {
	Version string          `json:"version"`
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Type    int             `json:"type"`
	Options []commandOption `json:"options"`
}

type commandOption struct {
	Type  int    `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type componentData struct {
	ComponentType int    `json:"component_type"`
	CustomID      string `json:"custom_id"`
}

// NewNonce returns a 19 digit decimal nonce.
func NewNonce() string {
	var b strings.Builder
	b.Grow(19)
	b.WriteByte(byte('1' + rand.Intn(9)))
	for i := 1; i < 19; i++ {
		b.WriteByte(byte('0' + rand.Intn(10)))
	}
	return b.String()
}

func (s *Session) payloadFor(action Action, nonce string) InteractionPayload {
	app := s.cfg.Application
	payload := InteractionPayload{
		ApplicationID: app.ID,
		GuildID:       s.account.ServerID,
		ChannelID:     s.account.ChannelID,
		SessionID:     s.id,
		Nonce:         nonce,
	}

	switch action.Kind {
	case ActionComponent:
		flags := 0
		componentType := action.ComponentType
		if componentType == 0 {
			componentType = ComponentButton
		}
		payload.Type = InteractionMessageComponent
		payload.MessageFlags = &flags
		payload.MessageID = action.MessageID
		payload.Data = componentData{ComponentType: componentType, CustomID: action.CustomID}
	default:
		payload.Type = InteractionApplicationCommand
		payload.Data = commandData{
			Version: app.ImagineCommandVersion,
			ID:      app.ImagineCommandID,
			Name:    "imagine",
			Type:    1,
			Options: []commandOption{{Type: 3, Name: "prompt", Value: action.Prompt}},
		}
	}

	return payload
}

// Handlers observe the stages of an interaction. Callbacks never overlap: a
// stage callback still running when the interaction fails completes before
// OnError, and none runs after it.
type Handlers struct {
	OnStart  func(Message)
	OnUpdate func(Message)
	OnEnd    func(Message)
	OnError  func(error)
}

// RunInteraction submits action and follows the resulting messages until the
// final reply arrives or the interaction fails. Exactly one of OnEnd and
// OnError is called; the same outcome is returned.
func (s *Session) RunInteraction(ctx context.Context, action Action, h Handlers) (Message, error) {
	if err := action.Validate(); err != nil {
		return Message{}, err
	}

	run := &interaction{session: s, handlers: h, result: make(chan interactionResult, 1)}
	nonce := NewNonce()
	timeout := s.cfg.InteractionTimeout

	start := s.WaitFor(EventMessageCreate, func(e Event) bool {
		m, ok := messageOf(e)
		return ok && m.Nonce == nonce
	}, WaitOptions{
		Timeout: timeout,
		Once:    true,
		OnEvent: func(e Event) {
			m, _ := messageOf(e)
			run.started(m, action, timeout)
		},
		OnError: func(err error) { run.finish(Message{}, fmt.Errorf("wait for start: %w", err)) },
	})
	run.track(start)

	if err := s.Interact(ctx, s.payloadFor(action, nonce)); err != nil {
		run.finish(Message{}, fmt.Errorf("submit interaction: %w", err))
	}

	select {
	case r := <-run.result:
		return r.message, r.err
	case <-ctx.Done():
		run.finish(Message{}, ctx.Err())
		r := <-run.result
		return r.message, r.err
	}
}

type interactionResult struct {
	message Message
	err     error
}

type interaction struct {
	session  *Session
	handlers Handlers
	result   chan interactionResult

	// stageMu serializes handler calls with the outcome.
	stageMu  sync.Mutex
	mu       sync.Mutex
	regs     []*Registration
	finished bool
	once     sync.Once
}

// stage runs fn unless the outcome is already decided.
func (r *interaction) stage(fn func()) bool {
	r.stageMu.Lock()
	defer r.stageMu.Unlock()

	r.mu.Lock()
	finished := r.finished
	r.mu.Unlock()
	if finished {
		return false
	}
	fn()
	return true
}

// track records regs for cancellation. Registrations made after the outcome
// was decided are cancelled immediately.
func (r *interaction) track(regs ...*Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		r.session.Cancel(regs...)
		return
	}
	r.regs = append(r.regs, regs...)
}

func (r *interaction) started(m Message, action Action, timeout time.Duration) {
	ok := r.stage(func() {
		if r.handlers.OnStart != nil {
			r.handlers.OnStart(m)
		}
	})
	if !ok {
		return
	}

	ref := action.ReferenceID
	if ref == "" {
		ref = m.ID
	}
	s := r.session

	var end *Registration
	update := s.WaitFor(EventMessageUpdate, func(e Event) bool {
		u, ok := messageOf(e)
		if !ok {
			return false
		}
		return u.ID == ref || (u.Type == MessageTypeReply && u.ReferencedID() == ref)
	}, WaitOptions{
		Timeout: timeout,
		OnEvent: func(e Event) {
			u, _ := messageOf(e)
			s.Refresh(end)
			if r.handlers.OnUpdate != nil {
				r.stage(func() { r.handlers.OnUpdate(u) })
			}
		},
		OnError: func(err error) { r.finish(Message{}, fmt.Errorf("wait for update: %w", err)) },
	})
	end = s.WaitFor(EventMessageCreate, func(e Event) bool {
		c, ok := messageOf(e)
		return ok && c.ReferencedID() == ref
	}, WaitOptions{
		Timeout: timeout,
		Once:    true,
		OnEvent: func(e Event) {
			c, _ := messageOf(e)
			r.finish(c, nil)
		},
		OnError: func(err error) { r.finish(Message{}, fmt.Errorf("wait for result: %w", err)) },
	})
	r.track(update, end)
}

func (r *interaction) finish(m Message, err error) {
	r.once.Do(func() {
		r.stageMu.Lock()
		defer r.stageMu.Unlock()

		r.mu.Lock()
		r.finished = true
		regs := r.regs
		r.regs = nil
		r.mu.Unlock()
		r.session.Cancel(regs...)

		if err != nil {
			if r.handlers.OnError != nil {
				r.handlers.OnError(err)
			}
		} else if r.handlers.OnEnd != nil {
			r.handlers.OnEnd(m)
		}
		r.result <- interactionResult{message: m, err: err}
	})
}

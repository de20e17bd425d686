package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedHandlers struct {
	mu      sync.Mutex
	starts  []Message
	updates []Message
	ends    []Message
	errs    []error
}

func (r *recordedHandlers) handlers() Handlers {
	return Handlers{
		OnStart:  func(m Message) { r.mu.Lock(); r.starts = append(r.starts, m); r.mu.Unlock() },
		OnUpdate: func(m Message) { r.mu.Lock(); r.updates = append(r.updates, m); r.mu.Unlock() },
		OnEnd:    func(m Message) { r.mu.Lock(); r.ends = append(r.ends, m); r.mu.Unlock() },
		OnError:  func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
	}
}

func reply(id, ref, content string) Message {
	return Message{
		ID:               id,
		Type:             MessageTypeReply,
		Content:          content,
		MessageReference: &MessageReference{MessageID: ref},
	}
}

func TestRunInteractionDeliversUpdatesThenEnd(t *testing.T) {
	t.Parallel()

	session, conn, submitter := newReadySession(t, Config{})
	submitter.onSubmit = func(p InteractionPayload) {
		conn.pushMessage(t, EventMessageCreate, Message{ID: "other", Nonce: "not-ours"})
		conn.pushMessage(t, EventMessageCreate, Message{ID: "start", Nonce: p.Nonce, Content: "**a cat** - Waiting to start"})
		for _, progress := range []string{"(12%)", "(47%)", "(93%)"} {
			conn.pushMessage(t, EventMessageUpdate, Message{ID: "start", Content: "**a cat** " + progress})
		}
		conn.pushMessage(t, EventMessageUpdate, reply("unrelated", "someone-else", "(50%)"))
		conn.pushMessage(t, EventMessageCreate, reply("result", "start", "**a cat** - done"))
	}

	rec := &recordedHandlers{}
	msg, err := session.RunInteraction(context.Background(), Action{Kind: ActionImagine, Prompt: "a cat"}, rec.handlers())
	require.NoError(t, err)
	assert.Equal(t, "result", msg.ID)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.starts, 1)
	assert.Equal(t, "start", rec.starts[0].ID)
	require.Len(t, rec.updates, 3)
	assert.Contains(t, rec.updates[2].Content, "(93%)")
	require.Len(t, rec.ends, 1)
	assert.Empty(t, rec.errs)
	assert.Equal(t, 0, session.waiters.pending())

	payloads := submitter.submitted()
	require.Len(t, payloads, 1)
	assert.Equal(t, InteractionApplicationCommand, payloads[0].Type)
	assert.Equal(t, "guild-1", payloads[0].GuildID)
	assert.Equal(t, "chan-1", payloads[0].ChannelID)
	assert.Equal(t, session.ID(), payloads[0].SessionID)
	assert.Len(t, payloads[0].Nonce, 19)
	data, ok := payloads[0].Data.(commandData)
	require.True(t, ok)
	assert.Equal(t, "imagine", data.Name)
	assert.Equal(t, "a cat", data.Options[0].Value)
}

func TestRunInteractionTimesOutAfterUpdates(t *testing.T) {
	t.Parallel()

	session, conn, submitter := newReadySession(t, Config{InteractionTimeout: 80 * time.Millisecond})
	submitter.onSubmit = func(p InteractionPayload) {
		conn.pushMessage(t, EventMessageCreate, Message{ID: "start", Nonce: p.Nonce})
		conn.pushMessage(t, EventMessageUpdate, Message{ID: "start", Content: "(10%)"})
		conn.pushMessage(t, EventMessageUpdate, Message{ID: "start", Content: "(20%)"})
	}

	rec := &recordedHandlers{}
	_, err := session.RunInteraction(context.Background(), Action{Kind: ActionImagine, Prompt: "slow"}, rec.handlers())
	require.ErrorIs(t, err, domain.ErrInteractionTimeout)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.updates, 2)
	assert.Empty(t, rec.ends)
	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], domain.ErrInteractionTimeout)
	assert.Equal(t, 0, session.waiters.pending())
}

func TestRunInteractionComponentFollowsReferencedMessage(t *testing.T) {
	t.Parallel()

	session, conn, submitter := newReadySession(t, Config{})
	submitter.onSubmit = func(p InteractionPayload) {
		conn.pushMessage(t, EventMessageCreate, Message{ID: "ack", Nonce: p.Nonce})
		conn.pushMessage(t, EventMessageUpdate, reply("ack", "grid", "(50%)"))
		conn.pushMessage(t, EventMessageCreate, reply("upscaled", "grid", "Image #1"))
	}

	action := Action{
		Kind:        ActionComponent,
		ChannelID:   "chan-1",
		MessageID:   "grid",
		CustomID:    "MJ::JOB::upsample::1",
		ReferenceID: "grid",
	}
	rec := &recordedHandlers{}
	msg, err := session.RunInteraction(context.Background(), action, rec.handlers())
	require.NoError(t, err)
	assert.Equal(t, "upscaled", msg.ID)
	assert.Len(t, rec.updates, 1)

	payloads := submitter.submitted()
	require.Len(t, payloads, 1)
	assert.Equal(t, InteractionMessageComponent, payloads[0].Type)
	assert.Equal(t, "grid", payloads[0].MessageID)
	require.NotNil(t, payloads[0].MessageFlags)
	assert.Equal(t, componentData{ComponentType: ComponentButton, CustomID: "MJ::JOB::upsample::1"}, payloads[0].Data)
}

func TestRunInteractionSubmitFailure(t *testing.T) {
	t.Parallel()

	session, _, submitter := newReadySession(t, Config{})
	submitter.err = errors.New("401 unauthorized")

	rec := &recordedHandlers{}
	_, err := session.RunInteraction(context.Background(), Action{Kind: ActionImagine, Prompt: "x"}, rec.handlers())
	require.ErrorIs(t, err, domain.ErrSend)
	assert.ErrorContains(t, err, "401")
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, 0, session.waiters.pending())
}

func TestRunInteractionFailsWhenSessionCloses(t *testing.T) {
	t.Parallel()

	session, conn, submitter := newReadySession(t, Config{})
	started := make(chan struct{})
	submitter.onSubmit = func(p InteractionPayload) {
		conn.pushMessage(t, EventMessageCreate, Message{ID: "start", Nonce: p.Nonce})
	}
	go func() {
		<-started
		session.Destroy()
	}()

	h := Handlers{OnStart: func(Message) { close(started) }}
	_, err := session.RunInteraction(context.Background(), Action{Kind: ActionImagine, Prompt: "x"}, h)
	require.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestRunInteractionHonoursContext(t *testing.T) {
	t.Parallel()

	session, _, _ := newReadySession(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	rec := &recordedHandlers{}
	_, err := session.RunInteraction(ctx, Action{Kind: ActionImagine, Prompt: "x"}, rec.handlers())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, 0, session.waiters.pending())
}

type orderedHandlers struct {
	mu    sync.Mutex
	order []string
}

func (o *orderedHandlers) record(stage string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.order = append(o.order, stage)
}

func (o *orderedHandlers) stages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

func TestRunInteractionTimeoutWaitsForRunningUpdate(t *testing.T) {
	t.Parallel()

	session, conn, submitter := newReadySession(t, Config{InteractionTimeout: 40 * time.Millisecond})
	submitter.onSubmit = func(p InteractionPayload) {
		conn.pushMessage(t, EventMessageCreate, Message{ID: "start", Nonce: p.Nonce})
		conn.pushMessage(t, EventMessageUpdate, Message{ID: "start", Content: "(10%)"})
	}

	rec := &orderedHandlers{}
	h := Handlers{
		OnUpdate: func(Message) {
			time.Sleep(100 * time.Millisecond)
			rec.record("update")
		},
		OnError: func(error) { rec.record("error") },
	}
	_, err := session.RunInteraction(context.Background(), Action{Kind: ActionImagine, Prompt: "slow"}, h)
	require.ErrorIs(t, err, domain.ErrInteractionTimeout)
	assert.Equal(t, []string{"update", "error"}, rec.stages())
}

func TestRunInteractionCancelWaitsForRunningStart(t *testing.T) {
	t.Parallel()

	session, conn, submitter := newReadySession(t, Config{})
	submitter.onSubmit = func(p InteractionPayload) {
		conn.pushMessage(t, EventMessageCreate, Message{ID: "start", Nonce: p.Nonce})
		conn.pushMessage(t, EventMessageUpdate, Message{ID: "start", Content: "(10%)"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &orderedHandlers{}
	h := Handlers{
		OnStart: func(Message) {
			cancel()
			time.Sleep(50 * time.Millisecond)
			rec.record("start")
		},
		OnUpdate: func(Message) { rec.record("update") },
		OnError:  func(error) { rec.record("error") },
	}
	_, err := session.RunInteraction(ctx, Action{Kind: ActionImagine, Prompt: "x"}, h)
	require.ErrorIs(t, err, context.Canceled)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"start", "error"}, rec.stages())
	assert.Equal(t, 0, session.waiters.pending())
}

func TestActionValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Action{Kind: ActionImagine, Prompt: "p"}.Validate())
	assert.Error(t, Action{Kind: ActionImagine}.Validate())
	assert.Error(t, Action{Kind: ActionComponent, MessageID: "m"}.Validate())
	assert.Error(t, Action{Kind: "animate"}.Validate())
}

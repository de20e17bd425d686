package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/gateway"
	"github.com/bnema/gateway-pool/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccounts() []domain.Account {
	return []domain.Account{
		{ID: "acc-1", Name: "one", Token: "t1", ServerID: "g", ChannelID: "chan-1"},
		{ID: "acc-2", Name: "two", Token: "t2", ServerID: "g", ChannelID: "chan-2"},
	}
}

func finishedMessage() gateway.Message {
	return gateway.Message{
		ID:          "result-1",
		Type:        gateway.MessageTypeReply,
		Attachments: []gateway.Attachment{{Filename: "grid.png", URL: "https://cdn.example/grid.png"}},
		Components: []gateway.Component{{Type: 1, Components: []gateway.Component{
			{Type: gateway.ComponentButton, Label: "U1", CustomID: "upsample::1"},
			{Type: gateway.ComponentButton, Label: "V1", CustomID: "variation::1"},
		}}},
	}
}

func TestBrokerExecuteRendersProgressAndResult(t *testing.T) {
	t.Parallel()

	session := &fakeInteractor{
		updates: []gateway.Message{
			{Content: "**cat** (10%) (fast)"},
			{Content: "**cat** (10%) (fast)"},
			{Content: "**cat** (55%) (fast)"},
			{Content: "no progress here"},
		},
		result: finishedMessage(),
	}
	pool := &fakePool{accounts: testAccounts(), session: session}
	affinities := newMemoryAffinities()
	broker := NewBroker[*fakeInteractor](pool, WithAffinity[*fakeInteractor](NewAffinityService(affinities, fixedClock{now: time.Unix(100, 0)})))

	out := &recorder{}
	err := broker.Execute(context.Background(), gateway.Action{Kind: gateway.ActionImagine, Prompt: "a cat"}, out)
	require.NoError(t, err)

	text := out.text()
	assert.Contains(t, text, "> started")
	assert.Contains(t, text, "10% 55% ")
	assert.NotContains(t, text, "10% 10%")
	assert.Contains(t, text, "![a cat](https://cdn.example/grid.png)")
	assert.Contains(t, text, "|U1|upsample::1|")
	assert.Contains(t, text, "|V1|variation::1|")
	assert.Contains(t, text, "message_id: result-1 channel_id: chan-1")
	assert.Equal(t, stream.KindDone, out.last().Kind)
	assert.Equal(t, []domain.AccountID{"acc-1"}, pool.releasedIDs())

	affinity, err := affinities.Get(context.Background(), "result-1")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", affinity.ChannelID)
	assert.Equal(t, domain.AccountID("acc-1"), affinity.AccountID)
}

func TestBrokerExecuteReportsInteractionFailure(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "timeout", err: fmt.Errorf("wait for result: %w", domain.ErrInteractionTimeout), wantStatus: http.StatusGatewayTimeout},
		{name: "session closed", err: fmt.Errorf("wait for start: %w", domain.ErrSessionClosed), wantStatus: http.StatusBadGateway},
		{name: "other", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pool := &fakePool{accounts: testAccounts(), session: &fakeInteractor{err: tc.err}}
			broker := NewBroker[*fakeInteractor](pool)
			out := &recorder{}

			err := broker.Execute(context.Background(), gateway.Action{Kind: gateway.ActionImagine, Prompt: "x"}, out)
			require.ErrorIs(t, err, tc.err)

			last := out.last()
			assert.Equal(t, stream.KindError, last.Kind)
			assert.Equal(t, tc.wantStatus, last.Status)
			assert.Equal(t, []domain.AccountID{"acc-1"}, pool.releasedIDs())
		})
	}
}

func TestBrokerComponentActionUsesOwningChannel(t *testing.T) {
	t.Parallel()

	session := &fakeInteractor{result: gateway.Message{ID: "upscaled"}}
	pool := &fakePool{accounts: testAccounts(), session: session}
	broker := NewBroker[*fakeInteractor](pool)
	out := &recorder{}

	err := broker.Execute(context.Background(), gateway.Action{
		Kind:      gateway.ActionComponent,
		ChannelID: "chan-2",
		MessageID: "result-1",
		CustomID:  "upsample::1",
	}, out)
	require.NoError(t, err)

	assert.Equal(t, "result-1", session.lastAction().ReferenceID)
	assert.Equal(t, []domain.AccountID{"acc-2"}, pool.releasedIDs())
	assert.Equal(t, stream.KindDone, out.last().Kind)
}

func TestBrokerComponentActionResolvesChannelFromAffinity(t *testing.T) {
	t.Parallel()

	affinities := newMemoryAffinities()
	require.NoError(t, affinities.Save(context.Background(), domain.Affinity{MessageID: "result-1", ChannelID: "chan-2", AccountID: "acc-2"}))

	pool := &fakePool{accounts: testAccounts(), session: &fakeInteractor{result: gateway.Message{ID: "next"}}}
	broker := NewBroker[*fakeInteractor](pool, WithAffinity[*fakeInteractor](NewAffinityService(affinities, nil)))

	err := broker.Execute(context.Background(), gateway.Action{Kind: gateway.ActionComponent, MessageID: "result-1", CustomID: "c"}, &recorder{})
	require.NoError(t, err)
	assert.Equal(t, []domain.AccountID{"acc-2"}, pool.releasedIDs())
}

func TestBrokerComponentActionOnMissingServer(t *testing.T) {
	t.Parallel()

	pool := &fakePool{accounts: testAccounts(), session: &fakeInteractor{}}
	broker := NewBroker[*fakeInteractor](pool)
	out := &recorder{}

	err := broker.Execute(context.Background(), gateway.Action{
		Kind:      gateway.ActionComponent,
		ChannelID: "chan-gone",
		MessageID: "m",
		CustomID:  "c",
	}, out)
	require.ErrorIs(t, err, domain.ErrNoMatchingAccount)

	last := out.last()
	assert.Equal(t, stream.KindError, last.Kind)
	assert.Equal(t, "image server offline", last.Error)
	assert.Empty(t, pool.releasedIDs())
}

func TestBrokerRejectsInvalidAction(t *testing.T) {
	t.Parallel()

	pool := &fakePool{accounts: testAccounts(), session: &fakeInteractor{}}
	out := &recorder{}

	err := NewBroker[*fakeInteractor](pool).Execute(context.Background(), gateway.Action{Kind: gateway.ActionImagine}, out)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, out.last().Status)
	assert.Empty(t, pool.releasedIDs())
}

func TestBrokerAskExecutesEmbeddedAction(t *testing.T) {
	t.Parallel()

	session := &fakeInteractor{result: gateway.Message{ID: "r"}}
	pool := &fakePool{accounts: testAccounts(), session: session}
	out := &recorder{}

	prompt := `Sure, here you go: {"type":"imagine","prompt":"a {curly} fox"} enjoy`
	require.NoError(t, NewBroker[*fakeInteractor](pool).Ask(context.Background(), prompt, out))

	assert.Equal(t, "a {curly} fox", session.lastAction().Prompt)
	assert.Contains(t, out.text(), prompt)

	kinds := 0
	for _, e := range out.events {
		if e.Terminal() {
			kinds++
		}
	}
	assert.Equal(t, 1, kinds)
	assert.Equal(t, stream.KindDone, out.last().Kind)
}

func TestBrokerAskWithoutAction(t *testing.T) {
	t.Parallel()

	pool := &fakePool{accounts: testAccounts(), session: &fakeInteractor{}}
	out := &recorder{}

	require.NoError(t, NewBroker[*fakeInteractor](pool).Ask(context.Background(), "just draw something", out))
	assert.Contains(t, out.text(), "generate action failed")
	assert.Equal(t, stream.KindDone, out.last().Kind)
	assert.Empty(t, pool.releasedIDs())
}

func TestBrokerAskPlannerFailure(t *testing.T) {
	t.Parallel()

	pool := &fakePool{accounts: testAccounts(), session: &fakeInteractor{}}
	planErr := errors.New("provider down")

	out := &recorder{}
	broker := NewBroker[*fakeInteractor](pool, WithPlanner[*fakeInteractor](failingPlanner{err: planErr}))
	require.ErrorIs(t, broker.Ask(context.Background(), "x", out), planErr)
	assert.Equal(t, stream.KindError, out.last().Kind)

	upstream := stream.Error("rate limited", http.StatusTooManyRequests)
	out = &recorder{}
	broker = NewBroker[*fakeInteractor](pool, WithPlanner[*fakeInteractor](failingPlanner{event: &upstream}))
	require.Error(t, broker.Ask(context.Background(), "x", out))
	assert.Equal(t, upstream, out.last())
}

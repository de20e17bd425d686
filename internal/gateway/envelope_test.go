package gateway

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   string
		want    Event
		wantErr bool
	}{
		{
			name:  "hello",
			frame: `{"op":10,"d":{"heartbeat_interval":41250}}`,
			want:  HelloEvent{HeartbeatInterval: 41250 * time.Millisecond},
		},
		{name: "heartbeat ack", frame: `{"op":11,"d":null}`, want: HeartbeatAckEvent{}},
		{name: "reconnect", frame: `{"op":7,"d":null}`, want: ReconnectEvent{}},
		{name: "invalid session", frame: `{"op":9,"d":true}`, want: InvalidSessionEvent{Resumable: true}},
		{
			name:  "message create",
			frame: `{"op":0,"s":3,"t":"MESSAGE_CREATE","d":{"id":"1","nonce":"99","type":0,"channel_id":"c","content":"hi"}}`,
			want: MessageEvent{Tag: EventMessageCreate, Seq: 3, Message: Message{
				ID: "1", Nonce: "99", ChannelID: "c", Content: "hi",
			}},
		},
		{
			name:  "other dispatch",
			frame: `{"op":0,"t":"READY","d":{}}`,
			want:  UnknownEvent{Envelope: Envelope{Op: OpDispatch, T: "READY", D: []byte(`{}`)}},
		},
		{name: "not json", frame: `{"op":`, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode([]byte(tc.frame))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeMalformedDispatchBecomesUnknown(t *testing.T) {
	t.Parallel()

	got, err := Decode([]byte(`{"op":0,"t":"MESSAGE_UPDATE","d":[1,2]}`))
	require.NoError(t, err)

	unknown, ok := got.(UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, EventMessageUpdate, unknown.Name())
	_, isMessage := messageOf(got)
	assert.False(t, isMessage)
}

func TestMessageButtonsFlattensRows(t *testing.T) {
	t.Parallel()

	m := Message{Components: []Component{
		{Type: 1, Components: []Component{
			{Type: 2, Label: "U1", CustomID: "MJ::JOB::upsample::1"},
			{Type: 2, Label: "U2", CustomID: "MJ::JOB::upsample::2"},
		}},
		{Type: 1, Components: []Component{
			{Type: 2, Label: "Link"},
			{Type: 2, Label: "V1", CustomID: "MJ::JOB::variation::1"},
		}},
	}}

	buttons := m.Buttons()
	require.Len(t, buttons, 3)
	assert.Equal(t, "U1", buttons[0].Label)
	assert.Equal(t, "MJ::JOB::variation::1", buttons[2].CustomID)
}

func TestNewNonce(t *testing.T) {
	t.Parallel()

	digits := regexp.MustCompile(`^[1-9][0-9]{18}$`)
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		nonce := NewNonce()
		assert.Regexp(t, digits, nonce)
		seen[nonce] = struct{}{}
	}
	assert.Greater(t, len(seen), 90)
}

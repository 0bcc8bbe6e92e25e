package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Request
	}{
		{"auth", `{"event":"auth","data":{"token":"t"}}`, AuthRequest{Token: "t"}},
		{"heartbeat", `{"event":"heartbeat"}`, HeartbeatRequest{}},
		{"join bare id", `{"event":"join:conversation","data":7}`, JoinRequest{ConversationID: 7}},
		{"join object", `{"event":"join:conversation","data":{"conversationId":7}}`, JoinRequest{ConversationID: 7}},
		{"leave", `{"event":"leave:conversation","data":7}`, LeaveRequest{ConversationID: 7}},
		{"typing start", `{"event":"typing:start","data":3}`, TypingStartRequest{ConversationID: 3}},
		{"typing stop", `{"event":"typing:stop","data":{"conversationId":3}}`, TypingStopRequest{ConversationID: 3}},
		{"presence array", `{"event":"presence:check","data":[1,2]}`, PresenceCheckRequest{UserIDs: []int{1, 2}}},
		{"presence object", `{"event":"presence:check","data":{"userIds":[4]}}`, PresenceCheckRequest{UserIDs: []int{4}}},
		{"send", `{"event":"message:send","data":{"conversationId":2,"content":"hi","clientId":"c1"}}`,
			SendRequest{ConversationID: 2, Content: "hi", ClientID: "c1"}},
		{"read", `{"event":"message:read","data":{"conversationId":2}}`, ReadRequest{ConversationID: 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, event, err := DecodeRequest([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want.event(), event)
		})
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	_, _, err := DecodeRequest([]byte(`not json`))
	assert.ErrorIs(t, err, errBadPayload)

	_, event, err := DecodeRequest([]byte(`{"event":"message:delete"}`))
	assert.ErrorIs(t, err, errUnknownEvent)
	assert.Equal(t, "message:delete", event)

	for _, raw := range []string{
		`{"event":"join:conversation"}`,
		`{"event":"join:conversation","data":0}`,
		`{"event":"join:conversation","data":"seven"}`,
		`{"event":"message:send","data":{"content":"hi"}}`,
		`{"event":"message:read","data":[]}`,
	} {
		_, _, err := DecodeRequest([]byte(raw))
		assert.ErrorIs(t, err, errBadPayload, raw)
	}
}

func TestNewFrameEncodesOnce(t *testing.T) {
	f := NewFrame(EventJoined, ConversationRef{ConversationID: 9})
	assert.Equal(t, EventJoined, f.Event)
	assert.JSONEq(t, `{"conversationId":9}`, string(f.Data))

	raw, err := json.Marshal(Envelope{Event: f.Event, Data: f.Data, Seq: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"joined:conversation","data":{"conversationId":9},"seq":3}`, string(raw))

	empty := NewFrame(EventHeartbeatAck, nil)
	assert.Nil(t, empty.Data)
}

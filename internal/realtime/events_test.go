package realtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		raw  string
		want Inbound
	}{
		{`{"event":"join_chat","data":"65a1f0c2e4b0a1b2c3d4e5f6"}`, JoinChat{ConversationID: "65a1f0c2e4b0a1b2c3d4e5f6"}},
		{`{"event":"join_chat","data":{"conversationId":"abc"}}`, JoinChat{ConversationID: "abc"}},
		{`{"event":"leave_chat","data":"abc"}`, LeaveChat{ConversationID: "abc"}},
		{`{"event":"leave_chat"}`, LeaveChat{}},
		{
			`{"event":"send_message","data":{"conversationId":"abc","content":"hi","messageType":"text"}}`,
			SendMessage{ConversationID: "abc", Content: "hi", MessageType: "text"},
		},
		{
			`{"event":"send_message","data":{"conversationId":"abc","messageType":"image_group","mediaUrls":["a","b"],"imageCount":2}}`,
			SendMessage{ConversationID: "abc", MessageType: "image_group", MediaURLs: []string{"a", "b"}, ImageCount: 2},
		},
		{
			`{"event":"mark_as_read","data":{"conversationId":"abc","messageIds":["1","2"]}}`,
			MarkAsRead{ConversationID: "abc", MessageIDs: []string{"1", "2"}},
		},
	}
	for _, tc := range tests {
		got, err := ParseInbound([]byte(tc.raw))
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.want.EventName(), got.EventName())
	}
}

func TestParseInboundErrors(t *testing.T) {
	for _, raw := range []string{
		`nope`,
		`{"event":"typing"}`,
		`{"event":"send_message"}`,
		`{"event":"send_message","data":"text"}`,
		`{"event":"join_chat","data":42}`,
		`{"event":"mark_as_read","data":{"messageIds":"x"}}`,
	} {
		_, err := ParseInbound([]byte(raw))
		require.Error(t, err, raw)
		assert.Equal(t, KindValidation, KindOf(err), raw)
	}

	_, err := ParseInbound([]byte(`{"event":"typing"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestEventMarshal(t *testing.T) {
	raw, err := json.Marshal(MessagesRead(&ReadUpdate{
		ConversationID: "c1",
		MessageIDs:     []string{"m1"},
		UserID:         "u1",
		Changed:        1,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"messages_read","data":{"conversationId":"c1","messageIds":["m1"],"userId":"u1"}}`, string(raw))

	raw, err = json.Marshal(JoinedChat("c1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"joined_chat","data":"c1"}`, string(raw))
}

func TestErrorEvent(t *testing.T) {
	ev := ErrorEvent(validationError(ErrEmptyText))
	assert.Equal(t, EventError, ev.Name)
	assert.Equal(t, ErrorPayload{Message: ErrEmptyText.Error(), Code: "validation"}, ev.Data)

	ev = ErrorEvent(storageError("create message", errors.New("socket closed")))
	p := ev.Data.(ErrorPayload)
	assert.Equal(t, "storage", p.Code)
	assert.NotContains(t, p.Message, "socket")

	ev = ErrorEvent(errors.New("boom"))
	assert.Equal(t, "internal", ev.Data.(ErrorPayload).Code)
}

func TestKindOf(t *testing.T) {
	err := authorizationError(ErrNotMember)
	assert.Equal(t, KindAuthorization, KindOf(err))
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, "rate_limited", KindRateLimited.String())
	assert.Equal(t, "authentication", (&Error{Kind: KindAuthentication}).Error())
}

package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestMemoryStore_UsersAndPresence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	u, err := s.CreateUser(ctx, " Alice@Example.com ", "", "hash")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, "alice", u.Username)

	_, err = s.CreateUser(ctx, "alice@example.com", "other", "hash")
	assert.ErrorIs(t, err, ErrUserExists)

	ok, err := s.UserExists(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.SetOnline(ctx, u.ID, true))
	now := time.Now()
	require.NoError(t, s.SetLastSeen(ctx, u.ID, now))

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)
	require.NotNil(t, got.LastSeen)
	assert.True(t, got.LastSeen.Equal(now))

	assert.ErrorIs(t, s.SetOnline(ctx, bson.NewObjectID(), true), ErrUserNotFound)
}

func TestMemoryStore_ChatsAndMessages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, _ := s.CreateUser(ctx, "a@example.com", "a", "")
	b, _ := s.CreateUser(ctx, "b@example.com", "b", "")
	c, _ := s.CreateUser(ctx, "c@example.com", "c", "")

	chat, created, err := s.CreateChat(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.CreateChat(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, chat.ID, again.ID)

	group, err := s.CreateGroupChat(ctx, a.ID, []bson.ObjectID{b.ID, c.ID, b.ID}, "team")
	require.NoError(t, err)
	assert.Len(t, group.Users, 3)
	require.NotNil(t, group.GroupAdmin)
	assert.Equal(t, a.ID, *group.GroupAdmin)

	msg, err := s.CreateMessage(ctx, &Message{Sender: a.ID, Chat: chat.ID, Content: "hi", MessageType: MessageText})
	require.NoError(t, err)
	assert.Equal(t, []bson.ObjectID{a.ID}, msg.ReadBy)
	time.Sleep(time.Millisecond)
	require.NoError(t, s.UpdateLatestMessage(ctx, chat.ID, msg.ID))

	view, err := s.GetPopulatedMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", view.Sender.Username)
	require.NotNil(t, view.Chat)
	assert.Equal(t, chat.ID, view.Chat.ID)

	// a message id from another chat is never marked
	other, err := s.CreateMessage(ctx, &Message{Sender: a.ID, Chat: group.ID, Content: "yo", MessageType: MessageText})
	require.NoError(t, err)

	changed, err := s.MarkReadByUser(ctx, chat.ID, []bson.ObjectID{msg.ID, other.ID}, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []bson.ObjectID{msg.ID}, changed)

	changed, err = s.MarkReadByUser(ctx, chat.ID, []bson.ObjectID{msg.ID}, b.ID)
	require.NoError(t, err)
	assert.Empty(t, changed)

	got, err := s.GetMessageByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []bson.ObjectID{a.ID, b.ID}, got.ReadBy)

	list, err := s.ListUserChats(ctx, b.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, chat.ID, list[0].Chat.ID, "chat with the newest message sorts first")
	require.NotNil(t, list[0].LatestMessage)
	assert.Equal(t, msg.ID, list[0].LatestMessage.ID)

	renamed, err := s.UpdateGroup(ctx, group.ID, "core", []bson.ObjectID{a.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, "core", renamed.GroupName)
	assert.False(t, renamed.HasMember(b.ID))
	stored, err := s.FindChatByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []bson.ObjectID{a.ID, c.ID}, stored.Users)

	_, err = s.UpdateGroup(ctx, chat.ID, "nope", []bson.ObjectID{a.ID})
	assert.ErrorIs(t, err, ErrChatNotFound, "1:1 chats are not groups")

	require.NoError(t, s.DeleteChat(ctx, chat.ID))
	_, err = s.FindChatByID(ctx, chat.ID)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestMessageValidate(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"text", Message{MessageType: MessageText, Content: "hi"}, true},
		{"empty", Message{MessageType: MessageText}, false},
		{"image", Message{MessageType: MessageImage, MediaURL: "u"}, true},
		{"group", Message{MessageType: MessageImageGroup, MediaURLs: []string{"a", "b"}, ImageCount: 2}, true},
		{"group count mismatch", Message{MessageType: MessageImageGroup, MediaURLs: []string{"a", "b"}, ImageCount: 3}, false},
		{"group without urls", Message{MessageType: MessageImageGroup, ImageCount: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

package realtime

import (
	"context"
	"errors"
	"strings"

	"github.com/PaulBabatuyi/roomchat/internal/data"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ChatFinder loads a conversation by id.
type ChatFinder interface {
	FindChatByID(ctx context.Context, id bson.ObjectID) (*data.Chat, error)
}

// MembershipValidator confirms a user participates in a conversation.
type MembershipValidator struct {
	chats ChatFinder
}

func NewMembershipValidator(chats ChatFinder) *MembershipValidator {
	return &MembershipValidator{chats: chats}
}

// Authorize returns the conversation if userID is one of its members. The id
// format is checked before any storage lookup.
func (v *MembershipValidator) Authorize(ctx context.Context, userID bson.ObjectID, conversationID string) (*data.Chat, error) {
	chatID, err := ParseConversationID(conversationID)
	if err != nil {
		return nil, err
	}

	chat, err := v.chats.FindChatByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, data.ErrChatNotFound) {
			return nil, authorizationError(ErrConversationNotFound)
		}
		return nil, storageError("find conversation", err)
	}
	if !chat.HasMember(userID) {
		return nil, authorizationError(ErrNotMember)
	}
	return chat, nil
}

// ParseConversationID validates the textual id of a conversation.
func ParseConversationID(s string) (bson.ObjectID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return bson.ObjectID{}, validationError(ErrMissingConversationID)
	}
	id, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return bson.ObjectID{}, validationError(ErrInvalidConversationID)
	}
	return id, nil
}

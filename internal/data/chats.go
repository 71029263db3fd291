package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ChatsStore provides conversation database operations.
type ChatsStore struct {
	coll     *mongo.Collection
	messages *mongo.Collection
}

// NewChatsStore returns a ChatsStore. The messages collection is used to
// attach latest-message previews when listing.
func NewChatsStore(coll, messages *mongo.Collection) *ChatsStore {
	return &ChatsStore{coll: coll, messages: messages}
}

// CreateChat returns the existing 1:1 chat between the two users, or creates
// it. The boolean reports whether a new chat was inserted.
func (c *ChatsStore) CreateChat(ctx context.Context, userID, receiverID bson.ObjectID) (*Chat, bool, error) {
	filter := bson.M{
		"is_group": false,
		"users":    bson.M{"$all": bson.A{userID, receiverID}, "$size": 2},
	}
	var existing Chat
	err := c.coll.FindOne(ctx, filter).Decode(&existing)
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}

	now := time.Now()
	chat := &Chat{
		IsGroup:   false,
		Users:     []bson.ObjectID{userID, receiverID},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.insert(ctx, chat); err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

// CreateGroupChat inserts a group chat administered by adminID. The admin is
// added to the member list if absent.
func (c *ChatsStore) CreateGroupChat(ctx context.Context, adminID bson.ObjectID, userIDs []bson.ObjectID, name string) (*Chat, error) {
	chat := newGroupChat(adminID, userIDs, name)
	if err := c.insert(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (c *ChatsStore) insert(ctx context.Context, chat *Chat) error {
	result, err := c.coll.InsertOne(ctx, chat)
	if err != nil {
		return err
	}
	chat.ID = result.InsertedID.(bson.ObjectID)
	return nil
}

// FindChatByID finds a chat by id.
func (c *ChatsStore) FindChatByID(ctx context.Context, id bson.ObjectID) (*Chat, error) {
	var chat Chat
	if err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&chat); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// ListUserChats returns the user's chats, most recently updated first, each
// with its latest message attached.
func (c *ChatsStore) ListUserChats(ctx context.Context, userID bson.ObjectID, limit int64) ([]*ChatSummary, error) {
	pipeline := mongo.Pipeline{
		// Stage 1: only chats the user belongs to
		bson.D{{Key: "$match", Value: bson.D{{Key: "users", Value: userID}}}},
		// Stage 2: newest activity first (UpdateLatestMessage bumps updated_at)
		bson.D{{Key: "$sort", Value: bson.D{{Key: "updated_at", Value: -1}}}},
		bson.D{{Key: "$limit", Value: limit}},
		// Stage 3: join the latest message document
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: c.messages.Name()},
			{Key: "localField", Value: "latest_message"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "latest"},
		}}},
	}

	cursor, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Chat   `bson:",inline"`
		Latest []Message `bson:"latest"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	out := make([]*ChatSummary, 0, len(rows))
	for i := range rows {
		chat := rows[i].Chat
		s := &ChatSummary{Chat: &chat}
		if len(rows[i].Latest) > 0 {
			s.LatestMessage = &rows[i].Latest[0]
		}
		out = append(out, s)
	}
	return out, nil
}

// UpdateLatestMessage points the chat at its newest message.
func (c *ChatsStore) UpdateLatestMessage(ctx context.Context, chatID, messageID bson.ObjectID) error {
	res, err := c.coll.UpdateByID(ctx, chatID, bson.M{"$set": bson.M{
		"latest_message": messageID,
		"updated_at":     time.Now(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

// UpdateGroup replaces a group's name and member list and returns the
// updated chat. Only group chats match; anything else is ErrChatNotFound.
func (c *ChatsStore) UpdateGroup(ctx context.Context, id bson.ObjectID, name string, users []bson.ObjectID) (*Chat, error) {
	update := bson.M{"$set": bson.M{
		"group_name": name,
		"users":      users,
		"updated_at": time.Now(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var chat Chat
	err := c.coll.FindOneAndUpdate(ctx, bson.M{"_id": id, "is_group": true}, update, opts).Decode(&chat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// DeleteChat removes the chat document. Messages are left in place.
func (c *ChatsStore) DeleteChat(ctx context.Context, id bson.ObjectID) error {
	res, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

// newGroupChat builds a group chat with deduplicated members, admin included.
func newGroupChat(adminID bson.ObjectID, userIDs []bson.ObjectID, name string) *Chat {
	seen := map[bson.ObjectID]bool{adminID: true}
	members := []bson.ObjectID{adminID}
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			members = append(members, id)
		}
	}
	now := time.Now()
	admin := adminID
	return &Chat{
		IsGroup:    true,
		Users:      members,
		GroupName:  name,
		GroupAdmin: &admin,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

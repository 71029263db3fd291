package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is the "messages" collection; users and chats are joined when a
	// message is re-read for fan-out
	coll  *mongo.Collection
	users *mongo.Collection
	chats *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using the given collections.
func NewMessagesStore(coll, users, chats *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll, users: users, chats: chats}
}

// CreateMessage inserts a message document and returns the saved record.
// ReadBy is reset to contain only the sender.
func (m *MessagesStore) CreateMessage(ctx context.Context, msg *Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	msg.ID = bson.ObjectID{}
	msg.ReadBy = []bson.ObjectID{msg.Sender}
	msg.CreatedAt = now
	msg.UpdatedAt = now

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// GetPopulatedMessage re-reads a message with its sender summary and chat
// joined in, ready to be rendered by clients.
func (m *MessagesStore) GetPopulatedMessage(ctx context.Context, id bson.ObjectID) (*MessageView, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "_id", Value: id}}}},
		// Join sender document into "sender"
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: m.users.Name()},
			{Key: "localField", Value: "sender"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "sender"},
		}}},
		bson.D{{Key: "$unwind", Value: "$sender"}},
		// Join chat document into "chat"
		bson.D{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: m.chats.Name()},
			{Key: "localField", Value: "chat"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "chat"},
		}}},
		bson.D{{Key: "$unwind", Value: bson.D{
			{Key: "path", Value: "$chat"},
			{Key: "preserveNullAndEmptyArrays", Value: true},
		}}},
		// Never ship credentials with a message
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "sender.password", Value: 0},
			{Key: "sender.email", Value: 0},
		}}},
	}

	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var views []*MessageView
	if err := cursor.All(ctx, &views); err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, ErrMessageNotFound
	}
	return views[0], nil
}

// GetMessageHistory returns the most recent messages of a chat ordered
// oldest to newest.
func (m *MessagesStore) GetMessageHistory(ctx context.Context, chatID bson.ObjectID, limit int64) ([]*Message, error) {
	// Newest first so the limit keeps the most recent messages
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := m.coll.Find(ctx, bson.M{"chat": chatID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	// Reverse into chronological order for the client
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkReadByUser adds userID to readBy of every listed message in chatID that
// the user has not read yet and returns the ids that changed. Messages already
// read, or belonging to another chat, are untouched.
func (m *MessagesStore) MarkReadByUser(ctx context.Context, chatID bson.ObjectID, ids []bson.ObjectID, userID bson.ObjectID) ([]bson.ObjectID, error) {
	filter := bson.M{
		"_id":     bson.M{"$in": ids},
		"chat":    chatID,
		"read_by": bson.M{"$ne": userID},
	}

	// Collect the ids about to change; a concurrent caller may win the update
	// for some of them, which only over-reports.
	cursor, err := m.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var pending []struct {
		ID bson.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &pending); err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	// $addToSet keeps readBy a set even if two updates race
	_, err = m.coll.UpdateMany(ctx, filter, bson.M{
		"$addToSet": bson.M{"read_by": userID},
		"$set":      bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return nil, err
	}

	changed := make([]bson.ObjectID, 0, len(pending))
	for _, p := range pending {
		changed = append(changed, p.ID)
	}
	return changed, nil
}

// GetMessageByID finds a single message.
func (m *MessagesStore) GetMessageByID(ctx context.Context, id bson.ObjectID) (*Message, error) {
	var msg Message
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

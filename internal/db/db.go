// Package db manages MongoDB connections and collections.
package db

import (
	"context" // For connection timeout/cancellation
	"fmt"     // Error formatting
	"time"    // Duration for timeouts

	"go.mongodb.org/mongo-driver/v2/bson"           // Index key documents
	"go.mongodb.org/mongo-driver/v2/mongo"          // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"  // MongoDB options
	"go.mongodb.org/mongo-driver/v2/mongo/readpref" // MongoDB read preference
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "chat_db"

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db holds the "users", "chats" and "messages" collections
	db *mongo.Database
}

// New connects to MongoDB and returns a Client for the named database.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	if database == "" {
		database = DefaultDatabase
	}

	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second) // fail fast if MongoDB is unreachable

	// Connect only builds the client; Ping below is the real connection test
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// ChatsCollection returns the chats collection.
func (c *Client) ChatsCollection() *mongo.Collection {
	return c.db.Collection("chats")
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// CreateIndexes creates the indexes the stores rely on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== USERS =====
	// Unique email and username; GetUserByEmail and registration depend on them
	usersIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := c.UsersCollection().Indexes().CreateMany(ctx, usersIndexes); err != nil {
		return fmt.Errorf("failed to create users indexes: %w", err)
	}

	// ===== CHATS =====
	// Membership lookups (ListUserChats, 1:1 dedupe) sorted by activity
	chatIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "users", Value: 1}, {Key: "updated_at", Value: -1}}},
	}
	if _, err := c.ChatsCollection().Indexes().CreateMany(ctx, chatIndexes); err != nil {
		return fmt.Errorf("failed to create chat indexes: %w", err)
	}

	// ===== MESSAGES =====
	// History per chat, newest first
	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "chat", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := c.MessagesCollection().Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	return nil
}

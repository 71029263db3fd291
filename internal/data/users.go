// Package data provides DB models and stores.
package data

import (
	"context" // Used for cancellation and timeouts
	"errors"  // Error handling
	"time"    // Timestamps

	"github.com/PaulBabatuyi/roomchat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"  // MongoDB document queries
	"go.mongodb.org/mongo-driver/v2/mongo" // MongoDB driver
)

// UsersStore performs user DB operations.
type UsersStore struct {
	// coll is reference to "users" collection in MongoDB
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with hashed password.
func (u *UsersStore) CreateUser(ctx context.Context, email, username, hashedPassword string) (*User, error) {
	now := time.Now()
	user := &User{
		Email:     normalize.Email(email),
		Username:  normalize.Username(username, email),
		Password:  hashedPassword, // Already hashed by auth.HashPassword()
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := u.coll.InsertOne(ctx, user)
	if err != nil {
		// Unique index on email (and username) rejects duplicates
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	// MongoDB auto-generates the _id field; this ID is the JWT subject
	user.ID = result.InsertedID.(bson.ObjectID)
	return user, nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		// No document found (user was deleted after the token was issued)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UserExists checks if a user exists by email.
func (u *UsersStore) UserExists(ctx context.Context, email string) (bool, error) {
	// CountDocuments is cheaper than FindOne when only existence matters
	count, err := u.coll.CountDocuments(ctx, bson.M{"email": normalize.Email(email)})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetOnline flips the user's online flag.
func (u *UsersStore) SetOnline(ctx context.Context, id bson.ObjectID, online bool) error {
	return u.update(ctx, id, bson.M{"is_online": online})
}

// SetLastSeen stamps the user's last-seen time.
func (u *UsersStore) SetLastSeen(ctx context.Context, id bson.ObjectID, at time.Time) error {
	return u.update(ctx, id, bson.M{"last_seen": at})
}

func (u *UsersStore) update(ctx context.Context, id bson.ObjectID, set bson.M) error {
	set["updated_at"] = time.Now()
	res, err := u.coll.UpdateByID(ctx, id, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

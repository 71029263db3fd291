package data

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")

	// ErrImageGroupShape is returned by Message.Validate for image groups
	// whose media list and declared count disagree.
	ErrImageGroupShape = errors.New("image group requires media urls and a matching image count")
)

// User maps to the users collection.
type User struct {
	ID             bson.ObjectID `bson:"_id,omitempty" json:"_id"`
	Username       string        `bson:"username" json:"username"`
	Email          string        `bson:"email" json:"email"`
	Password       string        `bson:"password" json:"-"`
	ProfilePicture string        `bson:"profile_picture,omitempty" json:"profilePicture,omitempty"`
	About          string        `bson:"about,omitempty" json:"about,omitempty"`
	IsOnline       bool          `bson:"is_online" json:"isOnline"`
	LastSeen       *time.Time    `bson:"last_seen,omitempty" json:"lastSeen,omitempty"`
	CreatedAt      time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updatedAt"`
}

// UserSummary is the sender projection attached to messages for rendering.
type UserSummary struct {
	ID             bson.ObjectID `bson:"_id" json:"_id"`
	Username       string        `bson:"username" json:"username"`
	ProfilePicture string        `bson:"profile_picture,omitempty" json:"profilePicture,omitempty"`
}

// Summary returns the public projection of u.
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, ProfilePicture: u.ProfilePicture}
}

// Chat maps to the chats collection. Group fields are only set when IsGroup.
type Chat struct {
	ID            bson.ObjectID   `bson:"_id,omitempty" json:"_id"`
	IsGroup       bool            `bson:"is_group" json:"isGroup"`
	Users         []bson.ObjectID `bson:"users" json:"users"`
	GroupName     string          `bson:"group_name,omitempty" json:"groupName,omitempty"`
	GroupIcon     string          `bson:"group_icon,omitempty" json:"groupIcon,omitempty"`
	GroupAdmin    *bson.ObjectID  `bson:"group_admin,omitempty" json:"groupAdmin,omitempty"`
	LatestMessage *bson.ObjectID  `bson:"latest_message,omitempty" json:"latestMessage,omitempty"`
	CreatedAt     time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `bson:"updated_at" json:"updatedAt"`
}

// HasMember reports whether userID is in the chat's member set.
func (c *Chat) HasMember(userID bson.ObjectID) bool {
	for _, u := range c.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// ChatSummary pairs a chat with its latest message for list previews.
type ChatSummary struct {
	Chat          *Chat    `json:"chat"`
	LatestMessage *Message `json:"latestMessage,omitempty"`
}

// MessageType enumerates the kinds of message a client may send.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageImage      MessageType = "image"
	MessageVideo      MessageType = "video"
	MessageFile       MessageType = "file"
	MessageImageGroup MessageType = "image_group"
)

// Valid reports whether t is one of the enumerated kinds.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageFile, MessageImageGroup:
		return true
	}
	return false
}

// SingleMedia reports whether t carries exactly one media reference.
func (t MessageType) SingleMedia() bool {
	return t == MessageImage || t == MessageVideo || t == MessageFile
}

// Message maps to the messages collection. ReadBy only ever grows and always
// contains the sender.
type Message struct {
	ID          bson.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Sender      bson.ObjectID   `bson:"sender" json:"sender"`
	Chat        bson.ObjectID   `bson:"chat" json:"chat"`
	Content     string          `bson:"content,omitempty" json:"content,omitempty"`
	MessageType MessageType     `bson:"message_type" json:"messageType"`
	MediaURL    string          `bson:"media_url,omitempty" json:"mediaUrl,omitempty"`
	MediaURLs   []string        `bson:"media_urls,omitempty" json:"mediaUrls,omitempty"`
	ImageCount  int             `bson:"image_count,omitempty" json:"imageCount,omitempty"`
	ReadBy      []bson.ObjectID `bson:"read_by" json:"readBy"`
	CreatedAt   time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `bson:"updated_at" json:"updatedAt"`
}

// Validate enforces the record-level shape rules: image groups carry a media
// list with a matching count, every other kind needs content or a media url.
func (m *Message) Validate() error {
	if m.MessageType == MessageImageGroup {
		if len(m.MediaURLs) == 0 || m.ImageCount <= 0 || m.ImageCount != len(m.MediaURLs) {
			return ErrImageGroupShape
		}
		return nil
	}
	if m.Content == "" && m.MediaURL == "" {
		return errors.New("message requires content or a media url")
	}
	return nil
}

// MessageView is a message with its sender and chat populated, the shape
// fanned out to clients as new_message.
type MessageView struct {
	ID          bson.ObjectID   `bson:"_id" json:"_id"`
	Sender      UserSummary     `bson:"sender" json:"sender"`
	Chat        *Chat           `bson:"chat" json:"chat"`
	Content     string          `bson:"content,omitempty" json:"content,omitempty"`
	MessageType MessageType     `bson:"message_type" json:"messageType"`
	MediaURL    string          `bson:"media_url,omitempty" json:"mediaUrl,omitempty"`
	MediaURLs   []string        `bson:"media_urls,omitempty" json:"mediaUrls,omitempty"`
	ImageCount  int             `bson:"image_count,omitempty" json:"imageCount,omitempty"`
	ReadBy      []bson.ObjectID `bson:"read_by" json:"readBy"`
	CreatedAt   time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `bson:"updated_at" json:"updatedAt"`
}

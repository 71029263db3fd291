// Package chatrpc defines the chat.v1.ChatService gRPC contract: message
// types, the service descriptor and a client.
package chatrpc

import (
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/data"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

func (r *RegisterRequest) GetEmail() string {
	if r == nil {
		return ""
	}
	return r.Email
}

func (r *RegisterRequest) GetPassword() string {
	if r == nil {
		return ""
	}
	return r.Password
}

func (r *RegisterRequest) GetUsername() string {
	if r == nil {
		return ""
	}
	return r.Username
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) GetEmail() string {
	if r == nil {
		return ""
	}
	return r.Email
}

func (r *LoginRequest) GetPassword() string {
	if r == nil {
		return ""
	}
	return r.Password
}

// AuthResponse is returned by Register and Login.
type AuthResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CreateChatRequest struct {
	ReceiverID string `json:"receiverId"`
}

func (r *CreateChatRequest) GetReceiverID() string {
	if r == nil {
		return ""
	}
	return r.ReceiverID
}

type CreateGroupChatRequest struct {
	UserIDs   []string `json:"userIds"`
	GroupName string   `json:"groupName"`
}

func (r *CreateGroupChatRequest) GetUserIDs() []string {
	if r == nil {
		return nil
	}
	return r.UserIDs
}

func (r *CreateGroupChatRequest) GetGroupName() string {
	if r == nil {
		return ""
	}
	return r.GroupName
}

// ChatResponse carries a conversation; Created is false when CreateChat
// returned an existing 1:1 chat.
type ChatResponse struct {
	Chat    *data.Chat `json:"chat"`
	Created bool       `json:"created"`
}

type DeleteChatRequest struct {
	ChatID string `json:"chatId"`
}

func (r *DeleteChatRequest) GetChatID() string {
	if r == nil {
		return ""
	}
	return r.ChatID
}

type DeleteChatResponse struct {
	// Evicted counts live connections removed from the chat's room.
	Evicted int `json:"evicted"`
}

// UpdateGroupRequest renames a group and changes its members. An empty
// GroupName keeps the current name.
type UpdateGroupRequest struct {
	ChatID        string   `json:"chatId"`
	GroupName     string   `json:"groupName,omitempty"`
	AddUserIDs    []string `json:"addUserIds,omitempty"`
	RemoveUserIDs []string `json:"removeUserIds,omitempty"`
}

func (r *UpdateGroupRequest) GetChatID() string {
	if r == nil {
		return ""
	}
	return r.ChatID
}

func (r *UpdateGroupRequest) GetGroupName() string {
	if r == nil {
		return ""
	}
	return r.GroupName
}

func (r *UpdateGroupRequest) GetAddUserIDs() []string {
	if r == nil {
		return nil
	}
	return r.AddUserIDs
}

func (r *UpdateGroupRequest) GetRemoveUserIDs() []string {
	if r == nil {
		return nil
	}
	return r.RemoveUserIDs
}

type UpdateGroupResponse struct {
	Chat *data.Chat `json:"chat"`
	// Evicted counts live connections of removed members taken out of the
	// chat's room.
	Evicted int `json:"evicted"`
}

type ListChatsRequest struct {
	Limit int32 `json:"limit,omitempty"`
}

func (r *ListChatsRequest) GetLimit() int32 {
	if r == nil {
		return 0
	}
	return r.Limit
}

type GetHistoryRequest struct {
	ChatID string `json:"chatId"`
	Limit  int32  `json:"limit,omitempty"`
}

func (r *GetHistoryRequest) GetChatID() string {
	if r == nil {
		return ""
	}
	return r.ChatID
}

func (r *GetHistoryRequest) GetLimit() int32 {
	if r == nil {
		return 0
	}
	return r.Limit
}

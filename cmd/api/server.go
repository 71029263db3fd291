package main

import (
	"context"
	"log/slog"

	"github.com/PaulBabatuyi/roomchat/internal/auth"
	"github.com/PaulBabatuyi/roomchat/internal/chatrpc"
	"github.com/PaulBabatuyi/roomchat/internal/data"
	"github.com/PaulBabatuyi/roomchat/internal/realtime"

	"go.mongodb.org/mongo-driver/v2/bson"
	"google.golang.org/grpc"
)

// UserStore is the account surface used by the RPC handlers.
type UserStore interface {
	CreateUser(ctx context.Context, email, username, hashedPassword string) (*data.User, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	UserExists(ctx context.Context, email string) (bool, error)
}

// ChatStore is the conversation surface used by the RPC handlers.
type ChatStore interface {
	CreateChat(ctx context.Context, userID, receiverID bson.ObjectID) (*data.Chat, bool, error)
	CreateGroupChat(ctx context.Context, adminID bson.ObjectID, userIDs []bson.ObjectID, name string) (*data.Chat, error)
	FindChatByID(ctx context.Context, id bson.ObjectID) (*data.Chat, error)
	ListUserChats(ctx context.Context, userID bson.ObjectID, limit int64) ([]*data.ChatSummary, error)
	UpdateGroup(ctx context.Context, id bson.ObjectID, name string, users []bson.ObjectID) (*data.Chat, error)
	DeleteChat(ctx context.Context, id bson.ObjectID) error
}

// HistoryStore reads persisted messages.
type HistoryStore interface {
	GetMessageHistory(ctx context.Context, chatID bson.ObjectID, limit int64) ([]*data.Message, error)
}

// Server implements the chat service and contains references to stores, auth
// logic and the realtime manager.
type Server struct {
	chatrpc.UnimplementedChatServiceServer

	users   UserStore
	chats   ChatStore
	msgs    HistoryStore
	members *realtime.MembershipValidator
	auth    *auth.JWTManager
	rt      *realtime.Manager
	logger  *slog.Logger
}

// newServer returns a ready-to-use Server.
func newServer(users UserStore, chats ChatStore, msgs HistoryStore, authMgr *auth.JWTManager, rt *realtime.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		users:   users,
		chats:   chats,
		msgs:    msgs,
		members: realtime.NewMembershipValidator(chats),
		auth:    authMgr,
		rt:      rt,
		logger:  logger,
	}
}

// registerService registers the ChatService on the given gRPC server.
func registerService(s *grpc.Server, srv *Server) {
	chatrpc.RegisterChatServiceServer(s, srv)
}

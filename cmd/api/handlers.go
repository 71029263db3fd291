package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PaulBabatuyi/roomchat/internal/auth"
	"github.com/PaulBabatuyi/roomchat/internal/chatrpc"
	"github.com/PaulBabatuyi/roomchat/internal/data"
	"github.com/PaulBabatuyi/roomchat/internal/normalize"
	"github.com/PaulBabatuyi/roomchat/internal/realtime"

	"go.mongodb.org/mongo-driver/v2/bson"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultListLimit    = 50
	defaultHistoryLimit = 100
	minPasswordLength   = 6
)

// Register handles user registration: hashes password, stores user, returns JWT token
func (s *Server) Register(ctx context.Context, req *chatrpc.RegisterRequest) (*chatrpc.AuthResponse, error) {
	email := normalize.Email(req.GetEmail())
	if email == "" || !strings.Contains(email, "@") {
		return nil, status.Errorf(codes.InvalidArgument, "a valid email is required")
	}
	if len(req.GetPassword()) < minPasswordLength {
		return nil, status.Errorf(codes.InvalidArgument, "password must be at least %d characters", minPasswordLength)
	}

	// Check up front so a duplicate does not pay for a bcrypt hash
	exists, err := s.users.UserExists(ctx, email)
	if err != nil {
		s.logger.Error("check user failed", "error", err)
		return nil, status.Errorf(codes.Internal, "failed to create user")
	}
	if exists {
		return nil, status.Errorf(codes.AlreadyExists, "user already exists")
	}

	hashed, err := auth.HashPassword(req.GetPassword())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to hash password: %v", err)
	}

	user, err := s.users.CreateUser(ctx, email, normalize.Username(req.GetUsername(), email), hashed)
	if errors.Is(err, data.ErrUserExists) {
		return nil, status.Errorf(codes.AlreadyExists, "user already exists")
	}
	if err != nil {
		s.logger.Error("create user failed", "error", err)
		return nil, status.Errorf(codes.Internal, "failed to create user")
	}

	return s.issueToken(user)
}

// Login authenticates a user and returns a JWT token
func (s *Server) Login(ctx context.Context, req *chatrpc.LoginRequest) (*chatrpc.AuthResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, req.GetEmail())
	if err != nil {
		if !errors.Is(err, data.ErrUserNotFound) {
			s.logger.Error("lookup user failed", "error", err)
			return nil, status.Errorf(codes.Internal, "failed to look up user")
		}
		return nil, status.Errorf(codes.NotFound, "user not found")
	}

	if err := auth.CheckPassword(user.Password, req.GetPassword()); err != nil {
		return nil, status.Errorf(codes.PermissionDenied, "invalid credentials")
	}
	return s.issueToken(user)
}

func (s *Server) issueToken(user *data.User) (*chatrpc.AuthResponse, error) {
	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to generate token: %v", err)
	}
	return &chatrpc.AuthResponse{Token: token, UserID: user.ID.Hex(), ExpiresAt: expiresAt}, nil
}

// CreateChat returns the 1:1 chat with the receiver, creating it if needed.
// The receiver is told about a new chat over their live connections.
func (s *Server) CreateChat(ctx context.Context, req *chatrpc.CreateChatRequest) (*chatrpc.ChatResponse, error) {
	userID, err := currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	receiverID, err := bson.ObjectIDFromHex(strings.TrimSpace(req.GetReceiverID()))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid receiver id")
	}
	if receiverID == userID {
		return nil, status.Errorf(codes.InvalidArgument, "cannot start a chat with yourself")
	}
	if _, err := s.users.GetUserByID(ctx, receiverID); err != nil {
		return nil, storeStatus(err, "receiver")
	}

	chat, created, err := s.chats.CreateChat(ctx, userID, receiverID)
	if err != nil {
		s.logger.Error("create chat failed", "error", err)
		return nil, status.Errorf(codes.Internal, "failed to create chat")
	}
	if created && s.rt != nil {
		s.rt.NotifyUsers([]bson.ObjectID{receiverID}, realtime.ChatCreated(chat))
	}
	return &chatrpc.ChatResponse{Chat: chat, Created: created}, nil
}

// CreateGroupChat creates a group administered by the caller.
func (s *Server) CreateGroupChat(ctx context.Context, req *chatrpc.CreateGroupChatRequest) (*chatrpc.ChatResponse, error) {
	userID, err := currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.GetGroupName())
	if name == "" {
		return nil, status.Errorf(codes.InvalidArgument, "group name is required")
	}

	seen := map[bson.ObjectID]bool{userID: true}
	var members []bson.ObjectID
	for _, raw := range req.GetUserIDs() {
		id, err := bson.ObjectIDFromHex(strings.TrimSpace(raw))
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid user id %q", raw)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := s.users.GetUserByID(ctx, id); err != nil {
			return nil, storeStatus(err, "user")
		}
		members = append(members, id)
	}
	if len(members) < 2 {
		return nil, status.Errorf(codes.InvalidArgument, "a group chat needs at least two other users")
	}

	chat, err := s.chats.CreateGroupChat(ctx, userID, members, name)
	if err != nil {
		s.logger.Error("create group chat failed", "error", err)
		return nil, status.Errorf(codes.Internal, "failed to create group chat")
	}
	if s.rt != nil {
		s.rt.NotifyUsers(members, realtime.ChatCreated(chat))
	}
	return &chatrpc.ChatResponse{Chat: chat, Created: true}, nil
}

// DeleteChat removes a chat and closes its room. Group chats can only be
// deleted by their admin; either member may delete a 1:1 chat.
func (s *Server) DeleteChat(ctx context.Context, req *chatrpc.DeleteChatRequest) (*chatrpc.DeleteChatResponse, error) {
	userID, err := currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	chat, err := s.memberChat(ctx, userID, req.GetChatID())
	if err != nil {
		return nil, err
	}
	if chat.IsGroup && (chat.GroupAdmin == nil || *chat.GroupAdmin != userID) {
		return nil, status.Errorf(codes.PermissionDenied, "only the group admin can delete this chat")
	}

	if err := s.chats.DeleteChat(ctx, chat.ID); err != nil {
		return nil, storeStatus(err, "chat")
	}

	evicted := 0
	if s.rt != nil {
		evicted = s.rt.CloseRoom(chat.ID.Hex())
	}
	s.logger.Info("chat deleted", "chat_id", chat.ID.Hex(), "user_id", userID.Hex(), "evicted", evicted)
	return &chatrpc.DeleteChatResponse{Evicted: evicted}, nil
}

// UpdateGroup renames a group and adds or removes members. Only the admin may
// change a group and the admin cannot be removed. Connections of removed
// members leave the room before the call returns.
func (s *Server) UpdateGroup(ctx context.Context, req *chatrpc.UpdateGroupRequest) (*chatrpc.UpdateGroupResponse, error) {
	userID, err := currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	chat, err := s.memberChat(ctx, userID, req.GetChatID())
	if err != nil {
		return nil, err
	}
	if !chat.IsGroup {
		return nil, status.Errorf(codes.InvalidArgument, "only group chats can be updated")
	}
	if chat.GroupAdmin == nil || *chat.GroupAdmin != userID {
		return nil, status.Errorf(codes.PermissionDenied, "only the group admin can update this chat")
	}

	add, err := parseUserIDs(req.GetAddUserIDs())
	if err != nil {
		return nil, err
	}
	remove, err := parseUserIDs(req.GetRemoveUserIDs())
	if err != nil {
		return nil, err
	}

	removing := make(map[bson.ObjectID]bool, len(remove))
	for _, id := range remove {
		if id == userID {
			return nil, status.Errorf(codes.InvalidArgument, "the group admin cannot be removed")
		}
		removing[id] = true
	}

	var members, stayed, added, removed []bson.ObjectID
	inGroup := make(map[bson.ObjectID]bool, len(chat.Users))
	for _, id := range chat.Users {
		if removing[id] {
			removed = append(removed, id)
			continue
		}
		inGroup[id] = true
		members = append(members, id)
		stayed = append(stayed, id)
	}
	for _, id := range add {
		if inGroup[id] || removing[id] {
			continue
		}
		if _, err := s.users.GetUserByID(ctx, id); err != nil {
			return nil, storeStatus(err, "user")
		}
		inGroup[id] = true
		members = append(members, id)
		added = append(added, id)
	}

	name := chat.GroupName
	if n := strings.TrimSpace(req.GetGroupName()); n != "" {
		name = n
	}
	if name == chat.GroupName && len(added) == 0 && len(removed) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "nothing to update")
	}
	if len(members) < 3 {
		return nil, status.Errorf(codes.InvalidArgument, "a group chat needs at least two other users")
	}

	updated, err := s.chats.UpdateGroup(ctx, chat.ID, name, members)
	if err != nil {
		if !errors.Is(err, data.ErrChatNotFound) {
			s.logger.Error("update group failed", "chat_id", chat.ID.Hex(), "error", err)
		}
		return nil, storeStatus(err, "chat")
	}

	evicted := 0
	if s.rt != nil {
		room := chat.ID.Hex()
		evicted = s.rt.EvictUsers(room, removed)
		s.rt.NotifyUsers(added, realtime.ChatCreated(updated))
		s.rt.NotifyUsers(stayed, realtime.ChatUpdated(updated))
	}
	s.logger.Info("group updated",
		"chat_id", chat.ID.Hex(), "added", len(added), "removed", len(removed), "evicted", evicted)
	return &chatrpc.UpdateGroupResponse{Chat: updated, Evicted: evicted}, nil
}

// ListChats streams the caller's chats, most recently updated first.
func (s *Server) ListChats(req *chatrpc.ListChatsRequest, stream chatrpc.ChatService_ListChatsServer) error {
	userID, err := currentUserID(stream.Context())
	if err != nil {
		return err
	}

	limit := int64(req.GetLimit())
	if limit <= 0 {
		limit = defaultListLimit
	}
	chats, err := s.chats.ListUserChats(stream.Context(), userID, limit)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to read chats: %v", err)
	}

	for _, c := range chats {
		if err := stream.Send(c); err != nil {
			return status.Errorf(codes.Internal, "failed to send chat: %v", err)
		}
	}
	return nil
}

// GetHistory streams a chat's messages, oldest first, to one of its members.
func (s *Server) GetHistory(req *chatrpc.GetHistoryRequest, stream chatrpc.ChatService_GetHistoryServer) error {
	userID, err := currentUserID(stream.Context())
	if err != nil {
		return err
	}
	chat, err := s.memberChat(stream.Context(), userID, req.GetChatID())
	if err != nil {
		return err
	}

	limit := int64(req.GetLimit())
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	msgs, err := s.msgs.GetMessageHistory(stream.Context(), chat.ID, limit)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to get history: %v", err)
	}

	for _, m := range msgs {
		if err := stream.Send(m); err != nil {
			return status.Errorf(codes.Internal, "failed to send message: %v", err)
		}
	}
	return nil
}

// Connect runs one realtime session over a bidirectional stream. Client
// envelopes are handled in order; events for this connection, including
// fan-out from other sessions, are written back on the same stream.
func (s *Server) Connect(stream chatrpc.ChatService_ConnectServer) error {
	ctx := stream.Context()
	sender := &streamSender{stream: stream}
	defer sender.detach()

	sess, err := s.rt.Connect(ctx, authorizationToken(ctx), sender)
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	defer sess.Close()

	for {
		env, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return status.Errorf(codes.Internal, "receive error: %v", err)
		}
		if err := sess.HandleEnvelope(ctx, *env); err != nil {
			return nil
		}
	}
}

var errStreamGone = errors.New("stream closed")

// streamSender serializes writes to a Connect stream. grpc streams do not
// allow concurrent SendMsg calls. detach never waits on an in-flight Send: a
// write stuck on flow control is released when the stream's context ends.
type streamSender struct {
	mu     sync.Mutex
	gone   atomic.Bool
	stream chatrpc.ChatService_ConnectServer
}

func (s *streamSender) Send(ev realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone.Load() || s.stream == nil {
		return errStreamGone
	}
	return s.stream.Send(&ev)
}

// detach stops further writes once the handler has returned.
func (s *streamSender) detach() {
	s.gone.Store(true)
}

// memberChat loads chatID and checks that userID belongs to it, with the
// same rules the realtime core applies to join_chat.
func (s *Server) memberChat(ctx context.Context, userID bson.ObjectID, chatID string) (*data.Chat, error) {
	chat, err := s.members.Authorize(ctx, userID, chatID)
	if err != nil {
		if realtime.KindOf(err) == realtime.KindStorage {
			s.logger.Error("load chat failed", "chat_id", chatID, "error", err)
		}
		return nil, membershipStatus(err)
	}
	return chat, nil
}

// membershipStatus maps a realtime membership error to a status error.
func membershipStatus(err error) error {
	switch realtime.KindOf(err) {
	case realtime.KindValidation:
		return status.Errorf(codes.InvalidArgument, "invalid chat id")
	case realtime.KindAuthorization:
		if errors.Is(err, realtime.ErrConversationNotFound) {
			return status.Errorf(codes.NotFound, "chat not found")
		}
		return status.Errorf(codes.PermissionDenied, "not a member of this chat")
	default:
		return status.Errorf(codes.Internal, "failed to load chat")
	}
}

func parseUserIDs(raw []string) ([]bson.ObjectID, error) {
	ids := make([]bson.ObjectID, 0, len(raw))
	for _, r := range raw {
		id, err := bson.ObjectIDFromHex(strings.TrimSpace(r))
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid user id %q", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func currentUserID(ctx context.Context) (bson.ObjectID, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return bson.ObjectID{}, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}
	id, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return bson.ObjectID{}, status.Errorf(codes.Unauthenticated, "invalid subject")
	}
	return id, nil
}

// storeStatus maps storage lookups to status errors; what names the entity.
func storeStatus(err error, what string) error {
	switch {
	case errors.Is(err, data.ErrUserNotFound), errors.Is(err, data.ErrChatNotFound):
		return status.Errorf(codes.NotFound, "%s not found", what)
	default:
		return status.Errorf(codes.Internal, "failed to load %s", what)
	}
}

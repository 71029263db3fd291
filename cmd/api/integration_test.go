package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/PaulBabatuyi/roomchat/internal/auth"
	"github.com/PaulBabatuyi/roomchat/internal/chatrpc"
	"github.com/PaulBabatuyi/roomchat/internal/config"
	"github.com/PaulBabatuyi/roomchat/internal/data"
	"github.com/PaulBabatuyi/roomchat/internal/db"
	"github.com/PaulBabatuyi/roomchat/internal/logging"
	"github.com/PaulBabatuyi/roomchat/internal/metrics"
	"github.com/PaulBabatuyi/roomchat/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func testConfig() *config.Config {
	return &config.Config{
		Storage:  config.StorageConfig{Driver: "memory"},
		Auth:     config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour, RateLimitRPM: 600},
		Realtime: config.RealtimeConfig{EventsPerMinute: 600, EventBurst: 50, MaxContentLength: 4096, StorageTimeout: 5 * time.Second},
	}
}

// startBufconn serves a fully assembled app over an in-memory listener and
// returns a client for it.
func startBufconn(t *testing.T, st *storage) chatrpc.ChatServiceClient {
	t.Helper()
	cfg := testConfig()
	jwtMgr := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	logger := logging.NewWithWriter(io.Discard, "debug", "text")

	a, err := buildApp(cfg, st, jwtMgr, nil, metrics.New(prometheus.NewRegistry()), logger)
	require.NoError(t, err)
	a.presence.Start(context.Background())

	lis := bufconn.Listen(bufSize)
	go func() {
		_ = a.grpc.Serve(lis)
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		a.grpc.Stop()
		a.close()
	})
	return chatrpc.NewChatServiceClient(conn)
}

func withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func envelope(t *testing.T, event string, payload any) *realtime.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &realtime.Envelope{Event: event, Data: raw}
}

// recvEvent reads the next event from a Connect stream.
func recvEvent(t *testing.T, stream grpc.BidiStreamingClient[realtime.Envelope, realtime.Envelope], want string) *realtime.Envelope {
	t.Helper()
	env, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, want, env.Event, "payload: %s", env.Data)
	return env
}

func TestChatFlowOverGRPC(t *testing.T) {
	client := startBufconn(t, memoryStorage(data.NewMemoryStore()))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alice, err := client.Register(ctx, &chatrpc.RegisterRequest{Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	bob, err := client.Register(ctx, &chatrpc.RegisterRequest{Email: "bob@example.com", Password: "secret123", Username: "bobby"})
	require.NoError(t, err)

	// unary calls need a token
	_, err = client.CreateChat(ctx, &chatrpc.CreateChatRequest{ReceiverID: bob.UserID})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	chatResp, err := client.CreateChat(withToken(ctx, alice.Token), &chatrpc.CreateChatRequest{ReceiverID: bob.UserID})
	require.NoError(t, err)
	require.True(t, chatResp.Created)
	room := chatResp.Chat.ID.Hex()

	aliceStream, err := client.Connect(withToken(ctx, alice.Token))
	require.NoError(t, err)
	bobStream, err := client.Connect(withToken(ctx, bob.Token))
	require.NoError(t, err)

	require.NoError(t, aliceStream.Send(envelope(t, realtime.EventJoinChat, room)))
	recvEvent(t, aliceStream, realtime.EventJoinedChat)
	require.NoError(t, bobStream.Send(envelope(t, realtime.EventJoinChat, map[string]string{"conversationId": room})))
	recvEvent(t, bobStream, realtime.EventJoinedChat)

	require.NoError(t, aliceStream.Send(envelope(t, realtime.EventSendMessage, realtime.SendMessage{
		ConversationID: room,
		Content:        "  hi <bob>  ",
	})))
	echo := recvEvent(t, aliceStream, realtime.EventNewMessage)
	delivered := recvEvent(t, bobStream, realtime.EventNewMessage)
	require.JSONEq(t, string(echo.Data), string(delivered.Data))

	var msg data.MessageView
	require.NoError(t, json.Unmarshal(delivered.Data, &msg))
	require.Equal(t, "hi <bob>", msg.Content)
	require.Equal(t, data.MessageText, msg.MessageType)
	require.Equal(t, alice.UserID, msg.Sender.ID.Hex())

	// a rejected event is reported to the sender only and the stream stays open
	require.NoError(t, bobStream.Send(envelope(t, realtime.EventSendMessage, realtime.SendMessage{ConversationID: room})))
	errEnv := recvEvent(t, bobStream, realtime.EventError)
	var payload realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(errEnv.Data, &payload))
	require.Equal(t, "validation", payload.Code)

	require.NoError(t, bobStream.Send(envelope(t, realtime.EventMarkAsRead, realtime.MarkAsRead{
		ConversationID: room,
		MessageIDs:     []string{msg.ID.Hex()},
	})))
	readEnv := recvEvent(t, aliceStream, realtime.EventMessagesRead)
	recvEvent(t, bobStream, realtime.EventMessagesRead)
	var read realtime.ReadUpdate
	require.NoError(t, json.Unmarshal(readEnv.Data, &read))
	require.Equal(t, bob.UserID, read.UserID)
	require.Equal(t, []string{msg.ID.Hex()}, read.MessageIDs)

	chats, err := client.ListChats(withToken(ctx, bob.Token), &chatrpc.ListChatsRequest{})
	require.NoError(t, err)
	summary, err := chats.Recv()
	require.NoError(t, err)
	require.Equal(t, chatResp.Chat.ID, summary.Chat.ID)
	require.NotNil(t, summary.LatestMessage)
	require.Equal(t, msg.ID, summary.LatestMessage.ID)
	_, err = chats.Recv()
	require.ErrorIs(t, err, io.EOF)

	history, err := client.GetHistory(withToken(ctx, bob.Token), &chatrpc.GetHistoryRequest{ChatID: room})
	require.NoError(t, err)
	first, err := history.Recv()
	require.NoError(t, err)
	require.Equal(t, msg.ID, first.ID)
	require.Len(t, first.ReadBy, 2)
	_, err = history.Recv()
	require.ErrorIs(t, err, io.EOF)

	// a 1:1 chat has no group to update
	_, err = client.UpdateGroup(withToken(ctx, alice.Token), &chatrpc.UpdateGroupRequest{ChatID: room, GroupName: "x"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	deleted, err := client.DeleteChat(withToken(ctx, alice.Token), &chatrpc.DeleteChatRequest{ChatID: room})
	require.NoError(t, err)
	require.Equal(t, 2, deleted.Evicted)
	recvEvent(t, aliceStream, realtime.EventChatDeleted)
	recvEvent(t, bobStream, realtime.EventChatDeleted)

	require.NoError(t, aliceStream.CloseSend())
	_, err = aliceStream.Recv()
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, bobStream.CloseSend())
}

func TestConnectRejectsBadToken(t *testing.T) {
	client := startBufconn(t, memoryStorage(data.NewMemoryStore()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := client.Connect(withToken(ctx, "not-a-token"))
	require.NoError(t, err)

	env := recvEvent(t, stream, realtime.EventError)
	var payload realtime.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.Equal(t, "authentication", payload.Code)

	_, err = stream.Recv()
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestRegisterAndLoginMongo(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	dbName := "chat_it_" + time.Now().UTC().Format("20060102150405")
	st, err := openStorage(ctx, config.StorageConfig{Driver: "mongo", MongoURI: uri, Database: dbName})
	require.NoError(t, err)
	defer func() {
		c, err := db.New(context.Background(), uri, dbName)
		if err == nil {
			_ = c.UsersCollection().Database().Drop(context.Background())
			_ = c.Close(context.Background())
		}
		_ = st.close(context.Background())
	}()

	client := startBufconn(t, st)

	email := time.Now().UTC().Format("20060102-150405") + "-it@example.com"
	pwd := "testPass123"

	regResp, err := client.Register(ctx, &chatrpc.RegisterRequest{Email: email, Password: pwd})
	require.NoError(t, err)
	require.NotEmpty(t, regResp.Token)
	require.NotEmpty(t, regResp.UserID)

	loginResp, err := client.Login(ctx, &chatrpc.LoginRequest{Email: email, Password: pwd})
	require.NoError(t, err)
	require.NotEmpty(t, loginResp.Token)
}

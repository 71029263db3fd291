package main

import (
	"context"
	"fmt"

	"github.com/PaulBabatuyi/roomchat/internal/config"
	"github.com/PaulBabatuyi/roomchat/internal/data"
	"github.com/PaulBabatuyi/roomchat/internal/db"
	"github.com/PaulBabatuyi/roomchat/internal/realtime"
)

// mongoCore joins the chat and message stores into the realtime core's
// storage surface.
type mongoCore struct {
	*data.ChatsStore
	*data.MessagesStore
}

// storage holds the stores selected by the configured driver.
type storage struct {
	users    UserStore
	chats    ChatStore
	history  HistoryStore
	core     realtime.Store
	presence realtime.PresenceStore
	close    func(context.Context) error
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (*storage, error) {
	switch cfg.Driver {
	case "memory":
		return memoryStorage(data.NewMemoryStore()), nil
	case "mongo":
		client, err := db.New(ctx, cfg.MongoURI, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to mongo: %w", err)
		}
		if err := client.CreateIndexes(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, fmt.Errorf("create indexes: %w", err)
		}
		users := data.NewUsersStore(client.UsersCollection())
		chats := data.NewChatsStore(client.ChatsCollection(), client.MessagesCollection())
		msgs := data.NewMessagesStore(client.MessagesCollection(), client.UsersCollection(), client.ChatsCollection())
		return &storage{
			users:    users,
			chats:    chats,
			history:  msgs,
			core:     mongoCore{ChatsStore: chats, MessagesStore: msgs},
			presence: users,
			close:    client.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func memoryStorage(m *data.MemoryStore) *storage {
	return &storage{
		users:    m,
		chats:    m,
		history:  m,
		core:     m,
		presence: m,
		close:    func(context.Context) error { return nil },
	}
}

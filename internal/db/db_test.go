package db

import (
	"context"
	"os"
	"testing"
)

// These tests are integration tests and require a running MongoDB instance.
// Set MONGODB_URI in the environment before running them.

func TestNewAndCreateIndexes(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := New(ctx, uri, "chat_db_test")
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	defer func() {
		_ = c.db.Drop(context.Background())
		_ = c.Close(context.Background())
	}()

	// creating indexes twice must be idempotent
	for i := 0; i < 2; i++ {
		if err := c.CreateIndexes(ctx); err != nil {
			t.Fatalf("CreateIndexes #%d failed: %v", i+1, err)
		}
	}
}

func TestNewRejectsUnreachableServer(t *testing.T) {
	if os.Getenv("MONGODB_URI") == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	_, err := New(context.Background(), "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200", "")
	if err == nil {
		t.Fatal("expected ping failure for unreachable server")
	}
}

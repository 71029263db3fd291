package middleware

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type dummy struct{ email string }

func (d dummy) GetEmail() string { return d.email }

func TestLimiterStore_AllowAndCleanup(t *testing.T) {
	// allow 5 events immediately then the 6th should be rejected
	s := NewLimiterStore(5, 5, 100*time.Millisecond)
	defer s.Stop()

	key := "conn:abc"
	for i := 0; i < 5; i++ {
		if !s.Allow(key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}
	if s.Allow(key) {
		t.Fatalf("expected limiter to block after burst consumed")
	}

	// an idle cutoff in the future drops every entry
	s.evictIdle(time.Now().Add(time.Minute))
	if n := s.Len(); n != 0 {
		t.Fatalf("expected idle entries evicted, got %d", n)
	}
	if !s.Allow(key) {
		t.Fatalf("expected fresh limiter after eviction")
	}
}

func TestLimiterStore_Forget(t *testing.T) {
	s := NewLimiterStore(60, 1, time.Minute)
	defer s.Stop()

	if !s.Allow("a") {
		t.Fatal("first event should pass")
	}
	if s.Allow("a") {
		t.Fatal("second event should be limited")
	}
	s.Forget("a")
	if s.Len() != 0 {
		t.Fatalf("expected no tracked keys, got %d", s.Len())
	}
	if !s.Allow("a") {
		t.Fatal("forgotten key should start with a full bucket")
	}
	s.Stop()
	s.Stop()
}

func TestRateLimitUnaryInterceptor(t *testing.T) {
	s := NewLimiterStore(60, 1, time.Minute)
	defer s.Stop()

	const method = "/chat.v1.ChatService/Login"
	ic := RateLimitUnaryInterceptor(s, map[string]bool{method: true})
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: method}

	if _, err := ic(context.Background(), dummy{"A@Example.com"}, info, handler); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// same account, different casing
	_, err := ic(context.Background(), dummy{"a@example.com "}, info, handler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}

	// a different account is independent
	if _, err := ic(context.Background(), dummy{"b@example.com"}, info, handler); err != nil {
		t.Fatalf("other email: %v", err)
	}

	// unlisted methods are never limited
	other := &grpc.UnaryServerInfo{FullMethod: "/chat.v1.ChatService/CreateChat"}
	for i := 0; i < 3; i++ {
		if _, err := ic(context.Background(), dummy{"a@example.com"}, other, handler); err != nil {
			t.Fatalf("unlisted method limited: %v", err)
		}
	}
}

func TestRequestKeyFallsBackToPeer(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4000}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: addr})

	if got := requestKey(ctx, struct{}{}); got != "peer:10.0.0.1:4000" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := requestKey(ctx, dummy{""}); got != "peer:10.0.0.1:4000" {
		t.Fatalf("blank email should fall back to peer, got %q", got)
	}
	if got := requestKey(context.Background(), struct{}{}); got != "unknown" {
		t.Fatalf("unexpected key %q", got)
	}
}

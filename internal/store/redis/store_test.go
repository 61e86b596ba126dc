package redis

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// newTestStore connects to the server named by MIRRORSWITCH_TEST_REDIS or
// skips the test.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("MIRRORSWITCH_TEST_REDIS")
	if addr == "" {
		t.Skip("MIRRORSWITCH_TEST_REDIS not set")
	}
	s, err := New(context.Background(), Options{
		Addr:           addr,
		KeyPrefix:      "mirrorswitch-test:" + uuid.NewString() + ":",
		ConnectTimeout: 2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Load(ctx, "active_remote_url"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := s.Save(ctx, "active_remote_url", "https://cdn-a.example.com"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	v, ok, err := s.Load(ctx, "active_remote_url")
	if err != nil || !ok || v != "https://cdn-a.example.com" {
		t.Fatalf("Load = (%q, %v, %v)", v, ok, err)
	}
	if err := s.Delete(ctx, "active_remote_url"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Load(ctx, "active_remote_url"); ok {
		t.Error("expected key to be gone")
	}
}

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), Options{}, nil); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestNewUnreachable(t *testing.T) {
	_, err := New(context.Background(), Options{
		Addr:           "127.0.0.1:1",
		ConnectTimeout: 300 * time.Millisecond,
		RetryInterval:  50 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected connection error")
	}
}

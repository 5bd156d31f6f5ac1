package redis

import (
	"context"
	"testing"
	"time"
)

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New("http://localhost:6379"); err == nil {
		t.Error("expected error for non-redis scheme")
	}
}

func TestNew_ParsesAddress(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"redis://localhost:6380/2", "localhost:6380"},
		{"redis://:secret@cache.internal:6379", "cache.internal:6379"},
		{"redis://127.0.0.1", "127.0.0.1:6379"},
	}

	for _, tt := range tests {
		c, err := New(tt.url)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.url, err)
		}
		if c.Address() != tt.want {
			t.Errorf("New(%q).Address() = %q, want %q", tt.url, c.Address(), tt.want)
		}
		c.Close()
	}
}

func TestPing_Unreachable(t *testing.T) {
	// Reserved port on loopback, nothing listens there
	c, err := New("redis://127.0.0.1:1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err == nil {
		t.Error("expected ping to fail against an unreachable server")
	}
}

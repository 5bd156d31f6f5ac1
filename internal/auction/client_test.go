package auction

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/config"
)

// testConfig points the auction section at rawURL with fast retries
func testConfig(t *testing.T, rawURL string) *config.Config {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("bad url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("bad port: %v", err)
	}

	cfg := config.Default()
	cfg.Auction.Host = u.Hostname()
	cfg.Auction.Port = port
	cfg.Auction.Timeout = 2 * time.Second
	cfg.Auction.RetryInitialInterval = time.Millisecond
	cfg.Auction.RetryMaxInterval = 5 * time.Millisecond
	return cfg
}

// dropConnection closes the underlying connection without writing a response
func dropConnection(t *testing.T, w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		t.Error("response writer does not support hijacking")
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		t.Errorf("hijack failed: %v", err)
		return
	}
	conn.Close()
}

func TestClient_SendHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/auctions" {
			t.Errorf("expected /auctions, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected application/json, got %s", got)
		}
		if got := r.Header.Get("x-openrtb-version"); got != "2.0" {
			t.Errorf("expected version 2.0, got %s", got)
		}
		if got := r.Header.Get("x-openrtb-verbose"); got != "1" {
			t.Errorf("expected verbose 1, got %s", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"id":"r1"}` {
			t.Errorf("unexpected body %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"r1","seatbid":[]}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	defer client.Close()

	ex, err := client.Do(context.Background(), []byte(`{"id":"r1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.Status != http.StatusOK {
		t.Errorf("expected 200, got %d", ex.Status)
	}
	if !strings.Contains(string(ex.Body), `"r1"`) {
		t.Errorf("unexpected body %s", ex.Body)
	}
	if ex.Elapsed <= 0 {
		t.Error("expected positive elapsed time")
	}
	if client.Restarts() != 0 {
		t.Errorf("expected no restarts, got %d", client.Restarts())
	}
}

func TestClient_NoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	ex, err := client.Do(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.Status != http.StatusNoContent || len(ex.Body) != 0 {
		t.Errorf("expected empty 204, got %d %q", ex.Status, ex.Body)
	}
}

func TestClient_RetriesTransientFault(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var bodies []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		if calls.Add(1) == 1 {
			dropConnection(t, w)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(testConfig(t, server.URL))
	ex, err := client.Do(context.Background(), []byte(`{"id":"same"}`))
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if ex.Status != http.StatusNoContent {
		t.Errorf("expected 204 after retry, got %d", ex.Status)
	}
	if client.Restarts() != 1 {
		t.Errorf("expected 1 restart, got %d", client.Restarts())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != bodies[1] {
		t.Errorf("expected the same body resent, got %v", bodies)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.Copy(io.Discard, r.Body)
		dropConnection(t, w)
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Auction.MaxRetries = 2
	client := NewClient(cfg)

	_, err := client.Do(context.Background(), []byte(`{}`))
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if client.Restarts() != 3 {
		t.Errorf("expected 3 restarts, got %d", client.Restarts())
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client := NewClient(testConfig(t, "http://"+addr))
	_, err = client.Do(context.Background(), []byte(`{}`))
	if !errors.Is(err, ErrConnectionRefused) {
		t.Fatalf("expected ErrConnectionRefused, got %v", err)
	}
	if client.Restarts() != 0 {
		t.Errorf("refused connections must not count as restarts, got %d", client.Restarts())
	}
}

func TestClient_ResponseTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Auction.MaxResponseBytes = 16
	client := NewClient(cfg)

	_, err := client.Do(context.Background(), []byte(`{}`))
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(testConfig(t, server.URL))
	_, err := client.Do(ctx, []byte(`{}`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Fault
	}{
		{"nil", nil, FaultNone},
		{"eof", io.EOF, FaultTransient},
		{"wrapped eof", &url.Error{Op: "Post", URL: "http://x", Err: io.EOF}, FaultTransient},
		{"unexpected eof", io.ErrUnexpectedEOF, FaultTransient},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, FaultTransient},
		{"aborted", os.NewSyscallError("read", syscall.ECONNABORTED), FaultTransient},
		{"broken pipe", &net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}, FaultTransient},
		{"timeout", &url.Error{Op: "Post", URL: "http://x", Err: timeoutError{}}, FaultTransient},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, FaultRefused},
		{"dns", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}}, FaultUnresolved},
		{"other", errors.New("boom"), FaultFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

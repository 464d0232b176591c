package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/repoindex/internal/scheduler"
)

// testSocketPath returns a short unique socket path; sun_path is limited
// to ~104 bytes, which t.TempDir() can exceed on macOS.
func testSocketPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join("/tmp", fmt.Sprintf("repoindex-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}

type fakeHandler struct {
	mu        sync.Mutex
	kinds     []string
	triggered []string
}

func (h *fakeHandler) Status() StatusResult {
	st := StatusResult{Owner: "test-owner", LeasesHeld: 2}
	for _, k := range h.kinds {
		st.Schedulers = append(st.Schedulers, scheduler.ProgressSnapshot{Kind: k})
	}
	return st
}

func (h *fakeHandler) Trigger(kind string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if kind == "" {
		h.triggered = append(h.triggered, h.kinds...)
		return h.kinds, nil
	}
	for _, k := range h.kinds {
		if k == kind {
			h.triggered = append(h.triggered, k)
			return []string{k}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

// startServer runs a server until the test ends and returns a client.
func startServer(t *testing.T, h Handler) (*Server, *Client) {
	t.Helper()
	path := testSocketPath(t)
	srv := NewServer(path, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})

	client := NewClient(Config{SocketPath: path, Timeout: time.Second})
	require.Eventually(t, client.IsRunning, 2*time.Second, 10*time.Millisecond)
	return srv, client
}

func TestServer_StopsAndRemovesSocket(t *testing.T) {
	// Given: a running server
	path := testSocketPath(t)
	srv := NewServer(path, &fakeHandler{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// When: the context is cancelled
	cancel()

	// Then: ListenAndServe returns cleanly and the socket is gone
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestServer_ReplacesStaleSocket(t *testing.T) {
	path := testSocketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	srv := NewServer(path, &fakeHandler{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.ListenAndServe(ctx) }()

	client := NewClient(Config{SocketPath: path, Timeout: time.Second})
	require.Eventually(t, client.IsRunning, 2*time.Second, 10*time.Millisecond)
}

func TestClient_Ping(t *testing.T) {
	_, client := startServer(t, &fakeHandler{})
	require.NoError(t, client.Ping(context.Background()))
}

func TestClient_Status(t *testing.T) {
	_, client := startServer(t, &fakeHandler{kinds: []string{"content", "filename"}})

	st, err := client.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, st.Running)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Equal(t, "test-owner", st.Owner)
	assert.Equal(t, 2, st.LeasesHeld)
	require.Len(t, st.Schedulers, 2)
	assert.Equal(t, "filename", st.Schedulers[1].Kind)
}

func TestClient_Trigger(t *testing.T) {
	h := &fakeHandler{kinds: []string{"content", "filename"}}
	_, client := startServer(t, h)
	ctx := context.Background()

	tests := []struct {
		name    string
		kind    string
		want    []string
		wantErr string
	}{
		{name: "all kinds", kind: "", want: []string{"content", "filename"}},
		{name: "one kind", kind: "filename", want: []string{"filename"}},
		{name: "unknown kind", kind: "wiki", wantErr: fmt.Sprintf("code: %d", ErrCodeUnknownKind)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.Trigger(ctx, tt.kind)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServer_UnknownMethodAndBadJSON(t *testing.T) {
	srv, _ := startServer(t, &fakeHandler{})

	send := func(payload string) Response {
		conn, err := net.Dial("unix", srv.socketPath)
		require.NoError(t, err)
		defer conn.Close()
		_, err = conn.Write([]byte(payload + "\n"))
		require.NoError(t, err)
		var resp Response
		require.NoError(t, json.NewDecoder(conn).Decode(&resp))
		return resp
	}

	resp := send(`{"jsonrpc":"2.0","method":"search","id":"1"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "1", resp.ID)

	resp = send(`{not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParseError, resp.Error.Code)
}

func TestServer_ConcurrentClients(t *testing.T) {
	_, client := startServer(t, &fakeHandler{kinds: []string{"content"}})

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- client.Ping(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestClient_NotRunning(t *testing.T) {
	client := NewClient(Config{SocketPath: testSocketPath(t), Timeout: 100 * time.Millisecond})

	assert.False(t, client.IsRunning())
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}

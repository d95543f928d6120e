package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chaats/internal/app"
	"github.com/nfrund/chaats/internal/config"
	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/events"
	"github.com/nfrund/chaats/internal/identity"
	"github.com/nfrund/chaats/internal/logging"
	"github.com/nfrund/chaats/internal/presence"
	"github.com/nfrund/chaats/internal/pubsub"
)

const profiles = `
profiles:
  - id: 1
    username: alice
    first_name: Alice
  - id: 2
    username: bob
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profiles), 0o600))
	return &config.Config{
		JWTSecret:      "app-test-secret",
		StoreDriver:    config.StoreMemory,
		ProfilesFile:   path,
		SendBufferSize: 16,
		WriteTimeout:   time.Second,
		ReadLimit:      1 << 16,
		FrameRate:      100,
		FrameBurst:     100,
		RegistryShards: 4,
	}
}

func dial(t *testing.T, a *app.App, url string, userID domain.UserID) *websocket.Conn {
	t.Helper()
	token, err := do.MustInvoke[*identity.JWTProvider](a.Injector).Issue(userID, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	require.Equal(t, "authenticated", read(t, c)["authentication_status"])
	return c
}

func read(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestApp_EndToEnd(t *testing.T) {
	req := require.New(t)
	a, err := app.New(testConfig(t), app.WithLogger(logging.Discard()))
	req.NoError(err)
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.Server.Handler())
	t.Cleanup(srv.Close)

	alice := dial(t, a, srv.URL, 1)
	bob := dial(t, a, srv.URL, 2)

	tracker := do.MustInvoke[*presence.Tracker](a.Injector)
	req.Eventually(func() bool {
		return len(tracker.OnlineUsers()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	req.NoError(alice.Write(ctx, websocket.MessageText, []byte(`{"action":"direct_message","receiver_id":2,"content":"hey"}`)))
	req.Equal("message_sent", read(t, alice)["action"])
	dm := read(t, bob)
	req.Equal("direct_message", dm["action"])
	req.Equal("hey", dm["content"])

	req.NoError(bob.Write(ctx, websocket.MessageText, []byte(`{"action":"list_users"}`)))
	users := read(t, bob)["users"].([]any)
	req.Len(users, 2)
	for _, u := range users {
		req.Equal(true, u.(map[string]any)["online"])
	}

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/presence", nil))
	assert.JSONEq(t, `{"online_users":[1,2],"count":2}`, rec.Body.String())

	rec = httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "chaats_sessions_active 2")
	assert.Contains(t, rec.Body.String(), "chaats_messages_stored_total 1")
}

func TestApp_StatusPublishedOnSharedBus(t *testing.T) {
	req := require.New(t)
	a, err := app.New(testConfig(t), app.WithLogger(logging.Discard()))
	req.NoError(err)
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.Server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	statuses := make(chan domain.StatusEvent, 1)
	bus := do.MustInvoke[pubsub.Bus](a.Injector)
	req.NoError(pubsub.Subscribe(ctx, bus, events.UserStatus, func(_ context.Context, ev domain.StatusEvent) error {
		statuses <- ev
		return nil
	}))

	alice := dial(t, a, srv.URL, 1)
	req.NoError(alice.Write(ctx, websocket.MessageText, []byte(`{"action":"user_status","status":"away"}`)))

	select {
	case ev := <-statuses:
		req.Equal(domain.StatusEvent{UserID: 1, Status: domain.StatusAway}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("status not published")
	}
}

func TestApp_WiringFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = "mongo"
	_, err := app.New(cfg, app.WithLogger(logging.Discard()))
	require.ErrorContains(t, err, "unknown store driver")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPAddr = "127.0.0.1:0"
	a, err := app.New(cfg, app.WithLogger(logging.Discard()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, a.Close())
}

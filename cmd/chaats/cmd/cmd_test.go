package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chaats/internal/app"
	"github.com/nfrund/chaats/internal/config"
	"github.com/nfrund/chaats/internal/logging"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "   ", want: ""},
		{in: `{"action":"list_users"}`, want: `{"action":"list_users"}`},
		{in: `{"action":`, wantErr: true},
		{in: "@2 hello there", want: `{"action":"direct_message","content":"hello there","receiver_id":2}`},
		{in: "@bob hi", wantErr: true},
		{in: "history 3", want: `{"action":"message_history","receiver_id":3}`},
		{in: "history x", wantErr: true},
		{in: "hello", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLine(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "chaats v"+version+"\n", out.String())
}

func TestConnectCommand(t *testing.T) {
	const secret = "cli-test-secret"
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  - id: 1\n    username: alice\n"), 0o600))

	a, err := app.New(&config.Config{
		JWTSecret:      secret,
		StoreDriver:    config.StoreMemory,
		ProfilesFile:   path,
		SendBufferSize: 16,
		WriteTimeout:   time.Second,
		FrameRate:      100,
		FrameBurst:     100,
		RegistryShards: 4,
	}, app.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	srv := httptest.NewServer(a.Server.Handler())
	t.Cleanup(srv.Close)

	stdin, input := io.Pipe()
	out := &syncBuffer{}
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs([]string{
		"connect",
		"--url", "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		"--user", "1",
		"--secret", secret,
	})

	done := make(chan error, 1)
	go func() { done <- rootCmd.ExecuteContext(context.Background()) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"authentication_status":"authenticated"`)
	}, 2*time.Second, 10*time.Millisecond)

	_, err = io.WriteString(input, "nonsense\n"+`{"action":"get_profile","user_id":1}`+"\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"username":"alice"`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "error: unrecognised input")

	require.NoError(t, input.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not exit after stdin closed")
	}
}

func TestConnectToken_RequiresUserOrToken(t *testing.T) {
	saved := connectOpts
	t.Cleanup(func() { connectOpts = saved })

	connectOpts.token, connectOpts.user = "", 0
	_, err := connectToken()
	require.Error(t, err)

	connectOpts.token = "given"
	token, err := connectToken()
	require.NoError(t, err)
	assert.Equal(t, "given", token)
}

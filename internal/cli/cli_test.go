package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowboard/hub/internal/model"
	"github.com/flowboard/hub/internal/ws"
	"github.com/flowboard/hub/pkg/protocol"
)

// useTempDB points the commands at a fresh sqlite file.
func useTempDB(t *testing.T) {
	t.Helper()
	t.Setenv("FLOWBOARD_DB_DSN", filepath.Join(t.TempDir(), "hub.db"))
	t.Setenv("FLOWBOARD_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestAdminCommands(t *testing.T) {
	useTempDB(t)

	assert.Equal(t, "user=alice-id name=alice\n", run(t, "user", "create", "--id", "alice-id", "--name", "alice"))
	run(t, "user", "create", "--id", "bob-id")

	out := run(t, "token", "issue", "--user", "alice-id")
	m := regexp.MustCompile(`token=(\S+) user=alice-id`).FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	token := m[1]

	assert.Contains(t, run(t, "member", "add", "--workspace", "ws1", "--user", "alice-id", "--role", "admin"), "role=ADMIN")
	assert.Contains(t, run(t, "member", "add", "--workspace", "ws1", "--user", "bob-id"), "role=MEMBER")

	list := run(t, "member", "list", "--workspace", "ws1")
	assert.Contains(t, list, "alice-id")
	assert.Contains(t, list, "bob-id")

	assert.Equal(t, "removed\n", run(t, "member", "remove", "--workspace", "ws1", "--user", "bob-id"))
	assert.NotContains(t, run(t, "member", "list", "--workspace", "ws1"), "bob-id")

	assert.Equal(t, "purged=0\n", run(t, "token", "purge"))
	assert.Equal(t, "revoked\n", run(t, "token", "revoke", "--token", token))
}

func TestAdminCommandErrors(t *testing.T) {
	useTempDB(t)

	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "issue", "--user", "ghost"})
	assert.ErrorIs(t, cmd.Execute(), model.ErrUserNotFound)

	cmd = NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"user", "create"})
	assert.Error(t, cmd.Execute(), "--id is required")
}

func TestNotifyThroughBackendChannel(t *testing.T) {
	hub := ws.NewHub(nil, nil, "cli-secret", nil, nil)
	alice := ws.NewClient(nil, protocol.ChannelNotification, &model.User{ID: "alice-id", Name: "alice"}, "", 4)
	hub.Notifications().Register("alice-id", alice)

	srv := httptest.NewServer(ws.NewHandler(hub, ws.DefaultConfig(), nil))
	defer srv.Close()

	t.Setenv("FLOWBOARD_RELAY_URL", "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")
	t.Setenv("FLOWBOARD_HUB_RELAY_KEY", "cli-secret")
	t.Setenv("FLOWBOARD_LOG_LEVEL", "error")

	assert.Equal(t, "sent\n", run(t, "notify", "--user", "alice-id", "--message", `{"type":"task_done","message":"Ship it"}`))

	select {
	case msg := <-alice.SendChan():
		assert.JSONEq(t, `{"type":"task_done","message":"Ship it"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestNotificationBody(t *testing.T) {
	raw, ok := notificationBody(`{"type":"x","message":"y"}`).(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"type":"x","message":"y"}`, string(raw))

	assert.Equal(t, "plain text", notificationBody("plain text"))
	assert.Equal(t, "{not json", notificationBody("{not json"))
	assert.Equal(t, `"quoted"`, notificationBody(`"quoted"`))
}

func TestServeStopsOnCancel(t *testing.T) {
	useTempDB(t)
	t.Setenv("FLOWBOARD_SERVER_LISTEN", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	a, err := openApp(ctx, "")
	require.NoError(t, err)
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, "") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

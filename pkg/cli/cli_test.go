package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/mail"
	"github.com/telekom/mailqueue/pkg/redisqueue"
	"github.com/telekom/mailqueue/pkg/version"
)

const baseConfig = `server:
  listenAddress: "127.0.0.1:0"
smtp:
  host: smtp.example.com
  port: 587
  senderAddress: noreply@example.com
queue:
  backoff: 10ms
  stopTimeout: 2s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestGetEnvString(t *testing.T) {
	t.Setenv("MAILQUEUE_TEST_ENV", "custom-value")

	assert.Equal(t, "custom-value", getEnvString("MAILQUEUE_TEST_ENV", "default"))
	assert.Equal(t, "fallback", getEnvString("MAILQUEUE_UNKNOWN_ENV", "fallback"))
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{value: "true", def: false, want: true},
		{value: "YES", def: false, want: true},
		{value: "1", def: false, want: true},
		{value: "false", def: true, want: false},
		{value: "No", def: true, want: false},
		{value: "0", def: true, want: false},
		{value: "sometimes", def: true, want: true},
		{value: "sometimes", def: false, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("MAILQUEUE_TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, getEnvBool("MAILQUEUE_TEST_BOOL", tt.def))
		})
	}

	assert.True(t, getEnvBool("MAILQUEUE_TEST_BOOL_MISSING", true))
}

func TestDefaultOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("MAILQUEUE_DEBUG", "")
		os.Unsetenv("MAILQUEUE_DEBUG")
		t.Setenv("MAILQUEUE_CONFIG_PATH", "")
		os.Unsetenv("MAILQUEUE_CONFIG_PATH")
		t.Setenv("MAILQUEUE_LISTEN_ADDRESS", "")
		os.Unsetenv("MAILQUEUE_LISTEN_ADDRESS")

		opts := DefaultOptions()
		assert.False(t, opts.Debug)
		assert.Equal(t, "./config.yaml", opts.ConfigPath)
		assert.Empty(t, opts.ListenAddress)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("MAILQUEUE_DEBUG", "true")
		t.Setenv("MAILQUEUE_CONFIG_PATH", "/etc/mailqueue/config.yaml")
		t.Setenv("MAILQUEUE_LISTEN_ADDRESS", ":9090")

		opts := DefaultOptions()
		assert.True(t, opts.Debug)
		assert.Equal(t, "/etc/mailqueue/config.yaml", opts.ConfigPath)
		assert.Equal(t, ":9090", opts.ListenAddress)
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		out, err := execute(t, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "mailqueue "+version.Version)
	})

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "version", "-o", "json")
		require.NoError(t, err)

		var info version.BuildInfo
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.Equal(t, version.Version, info.Version)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := execute(t, "version", "-o", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "version: "+version.Version)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := execute(t, "version", "-o", "xml")
		require.Error(t, err)
	})
}

func TestCheckConfigCommand(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, baseConfig)
		out, err := execute(t, "check-config", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "is valid")
		assert.Contains(t, out, "smtp.example.com:587")
		assert.Contains(t, out, "memory")
	})

	t.Run("invalid", func(t *testing.T) {
		path := writeConfig(t, "smtp:\n  port: 25\n")
		_, err := execute(t, "check-config", "--config", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp.host")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "check-config", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("unreadable dkim key", func(t *testing.T) {
		path := writeConfig(t, baseConfig+"dkim:\n  selector: mail\n  domain: example.com\n  privateKeyPath: /nonexistent/key.pem\n")
		_, err := execute(t, "check-config", "--config", path)
		require.Error(t, err)
	})
}

func TestNewApp(t *testing.T) {
	t.Run("memory backend", func(t *testing.T) {
		a, err := newApp(context.Background(), Options{ConfigPath: writeConfig(t, baseConfig)}, zap.NewNop())
		require.NoError(t, err)
		defer a.release()

		assert.IsType(t, &mail.MemoryQueue{}, a.queue)
		assert.Nil(t, a.redis)
		assert.Nil(t, a.sink)
		assert.Equal(t, mail.StateIdle, a.service.State())
	})

	t.Run("redis backend", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := `smtp:
  host: smtp.example.com
queue:
  backend: redis
redis:
  addr: ` + mr.Addr() + "\n"
		a, err := newApp(context.Background(), Options{ConfigPath: writeConfig(t, cfg)}, zap.NewNop())
		require.NoError(t, err)
		defer a.release()

		assert.IsType(t, &redisqueue.Queue{}, a.queue)
		assert.NotNil(t, a.redis)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		cfg := "smtp:\n  host: smtp.example.com\nqueue:\n  backend: redis\nredis:\n  addr: " + addr + "\n"
		_, err := newApp(context.Background(), Options{ConfigPath: writeConfig(t, cfg)}, zap.NewNop())
		require.Error(t, err)
	})

	t.Run("log dead-letter sink", func(t *testing.T) {
		cfg := baseConfig + "deadLetter:\n  kind: log\n"
		a, err := newApp(context.Background(), Options{ConfigPath: writeConfig(t, cfg)}, zap.NewNop())
		require.NoError(t, err)
		defer a.release()
		require.NotNil(t, a.sink)
		assert.Equal(t, "log", a.sink.Name())
	})

	t.Run("tracing enabled", func(t *testing.T) {
		cfg := baseConfig + "tracing:\n  enabled: true\n  exporter: none\n"
		a, err := newApp(context.Background(), Options{ConfigPath: writeConfig(t, cfg)}, zap.NewNop())
		require.NoError(t, err)
		require.NotNil(t, a.shutdownTracing)
		a.release()
		assert.Nil(t, a.shutdownTracing)
	})

	t.Run("listen address override", func(t *testing.T) {
		a, err := newApp(context.Background(), Options{ConfigPath: writeConfig(t, baseConfig), ListenAddress: "127.0.0.1:18080"}, zap.NewNop())
		require.NoError(t, err)
		defer a.release()
		assert.Equal(t, "127.0.0.1:18080", a.store.Get().Server.ListenAddress)
	})
}

func TestAppRun(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		a, err := newApp(context.Background(), Options{ConfigPath: writeConfig(t, baseConfig)}, zap.NewNop())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- a.run(ctx) }()

		require.Eventually(t, func() bool { return a.service.State() == mail.StateRunning }, 2*time.Second, 10*time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("run did not return after cancellation")
		}
		assert.Equal(t, mail.StateStopped, a.service.State())

		_, err = a.service.Enqueue(context.Background(), mustMessage(t))
		assert.ErrorIs(t, err, mail.ErrQueueClosed)
	})

	t.Run("returns listen errors", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer l.Close()

		a, err := newApp(context.Background(), Options{ConfigPath: writeConfig(t, baseConfig), ListenAddress: l.Addr().String()}, zap.NewNop())
		require.NoError(t, err)

		err = a.run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "listen on")
	})
}

func mustMessage(t *testing.T) mail.Message {
	t.Helper()
	msg, err := mail.NewMessage("", []string{"a@example.com"}, "subject", "body", false)
	require.NoError(t, err)
	return msg
}

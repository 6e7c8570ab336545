package bootstrap

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playground/internal/serverconfig"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Port:             "0",
		DataDir:          t.TempDir(),
		ContextsFile:     "contexts.json",
		ConfigFile:       "server-config.json",
		BackstopInterval: 0,
		AdminSecret:      "s3cret",
		LLM:              LLMConfig{Provider: "mock", Timeout: time.Second},
		LogFormat:        "text",
		HistorySize:      10,
		LogOutput:        io.Discard,
	}
}

func TestBuildWritesDefaultServerConfig(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	data, err := os.ReadFile(cfg.ServerConfigPath())
	require.NoError(t, err)
	decoded, fallbacks, err := serverconfig.Decode(data)
	require.NoError(t, err)
	assert.Empty(t, fallbacks)
	assert.Equal(t, serverconfig.Default(), decoded)
	assert.Equal(t, slog.LevelInfo, app.Logger.Level())
	assert.Equal(t, []string{"mock"}, app.LLM.Providers())
}

func TestBuildAppliesPersistedLogLevel(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.ServerConfigPath(), []byte(`{"logging": {"level": "error"}}`), 0o600))
	var logs bytes.Buffer
	cfg.LogOutput = &logs

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	assert.Equal(t, slog.LevelError, app.Logger.Level())
	assert.Contains(t, logs.String(), "Log level changed from INFO to ERROR")
}

func TestBuildRegistersOpenAIWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM = LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test", BaseURL: "http://127.0.0.1:1"}
	var logs bytes.Buffer
	cfg.LogOutput = &logs

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	assert.ElementsMatch(t, []string{"mock", "openai"}, app.LLM.Providers())
	assert.Contains(t, logs.String(), "Registered openai provider (model gpt-4o-mini)")
}

func TestBuildFailsOnCorruptContexts(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.ContextsPath(), []byte(`{not json`), 0o600))

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open context store")
}

func TestAppHandlerServesRoutes(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	for _, path := range []string{"/health", "/api/config", "/api/contexts", "/metrics"} {
		rec := httptest.NewRecorder()
		app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServeFollowsLogLevelAndFlushesOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	baseURL := "http://" + listener.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, listener) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(baseURL+"/api/contexts", "application/json",
		strings.NewReader(`{"ownerId":"u1","type":"chat","initialData":{"n":1}}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	next := serverconfig.Default()
	next.Logging.Level = serverconfig.LevelDebug
	require.NoError(t, app.Settings.Save(context.Background(), next))
	assert.Eventually(t, func() bool {
		return app.Logger.Level() == slog.LevelDebug
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}

	data, err := os.ReadFile(filepath.Join(cfg.DataDir, "contexts.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ownerId": "u1"`)
}

func TestRunFailsWhenPortTaken(t *testing.T) {
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer listener.Close()

	cfg := testConfig(t)
	cfg.Port = strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)

	err = Run(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}

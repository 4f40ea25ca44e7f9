package stickyapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/stickyapp/tools/loadgen/internal/client"
	"github.com/example/stickyapp/tools/loadgen/internal/config"
	"github.com/example/stickyapp/tools/loadgen/internal/generator"
)

func TestUser_Tasks(t *testing.T) {
	u := NewUser(UserConfig{EncryptWeight: 10, MeanWeight: 1})

	tasks := u.Tasks()
	require.Len(t, tasks, 2)
	weights := map[string]int{}
	for _, task := range tasks {
		weights[task.Name] = task.Weight
		assert.NotNil(t, task.Run)
	}
	assert.Equal(t, map[string]int{TaskEncrypt: 10, TaskMean: 1}, weights)
	assert.NotEmpty(t, u.ID())
}

func TestUser_Lifecycle(t *testing.T) {
	var mu sync.Mutex
	var sent []Command
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == SessionsPath {
			w.Header().Set(HeaderSessionID, "enc42")
			w.Header().Set(HeaderSessionLocation, "10.0.0.7")
			writeReply(w, `{"status":true,"status_message":"Session initialized","value":0.0}`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var cmd Command
		_ = UnwrapRequest(body, &cmd)
		mu.Lock()
		sent = append(sent, cmd)
		mu.Unlock()
		writeReply(w, fmt.Sprintf(`{"status":true,"status_message":"ok","value":%v}`, cmd.Value))
	}))
	defer ts.Close()

	c, err := client.NewClient(config.TargetConfig{BaseURL: ts.URL}, client.ProxyConfig{})
	require.NoError(t, err)

	values, err := generator.NewSeededValueGenerator(10, 90, 7)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	u := NewUser(UserConfig{
		Session: SessionConfig{
			Transport: c,
			Headers:   c.NewHeaders(),
			Logger:    zap.New(core),
			PodPort:   8080,
			Encrypted: true,
			Params:    DefaultEncryptionParams(),
		},
		Values:        values,
		EncryptWeight: 10,
		MeanWeight:    1,
	})

	ctx := context.Background()
	u.OnStart(ctx)
	assert.Equal(t, "enc42", u.Session().ID())

	for _, task := range u.Tasks() {
		task.Run(ctx)
	}
	u.OnStop(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 3)
	assert.Equal(t, ActionEncrypt, sent[0].Action)
	assert.GreaterOrEqual(t, sent[0].Value, 10.0)
	assert.Less(t, sent[0].Value, 90.0)
	assert.Equal(t, Command{Action: ActionMean, Value: 0.0}, sent[1])
	assert.Equal(t, Command{Action: ActionShutdown, Value: 0.0}, sent[2])

	starting := logs.FilterMessage("User is starting").All()
	require.Len(t, starting, 1)
	assert.Equal(t, "", starting[0].ContextMap()["sessionid"])
	assert.Equal(t, "", starting[0].ContextMap()["sessionlocation"])

	for _, msg := range []string{"User sent messages", "User received messages"} {
		lines := logs.FilterMessage(msg).All()
		require.Len(t, lines, 1, msg)
		fields := lines[0].ContextMap()
		assert.Equal(t, int64(4), fields["count"], msg)
		assert.Equal(t, "enc42", fields["sessionid"], msg)
		assert.Equal(t, "10.0.0.7", fields["sessionlocation"], msg)
	}

	for _, entry := range logs.All() {
		assert.Equal(t, "HeStickyAppRust", entry.LoggerName)
		assert.Equal(t, u.ID(), entry.ContextMap()["user"])
	}
}

func TestUser_SetupFailureDoesNotStopUser(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, err := client.NewClient(config.TargetConfig{BaseURL: ts.URL}, client.ProxyConfig{})
	require.NoError(t, err)

	u := NewUser(UserConfig{
		Session:       SessionConfig{Transport: c, Headers: c.NewHeaders()},
		EncryptWeight: 10,
		MeanWeight:    1,
	})

	ctx := context.Background()
	u.OnStart(ctx)
	assert.Empty(t, u.Session().ID())

	for _, task := range u.Tasks() {
		task.Run(ctx)
	}
	u.OnStop(ctx)
	assert.Equal(t, int64(4), u.Session().MessagesSent())
}

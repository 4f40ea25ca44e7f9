package stickyapp

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/stickyapp/tools/loadgen/internal/generator"
	"github.com/example/stickyapp/tools/loadgen/internal/runner"
)

// Task names registered by User.
const (
	TaskEncrypt = "encrypt"
	TaskMean    = "mean"
)

// UserConfig configures a simulated user.
type UserConfig struct {
	Session       SessionConfig
	Values        *generator.ValueGenerator
	EncryptWeight int
	MeanWeight    int
}

// User is one simulated stickyapp client: it opens a session on start,
// issues weighted encrypt and mean commands, and shuts the session down on
// stop.
type User struct {
	id      string
	session *Session
	values  *generator.ValueGenerator
	weights map[string]int
}

// NewUser creates a user with its own session and header set.
func NewUser(cfg UserConfig) *User {
	id := generator.NewUserID()
	logger := cfg.Session.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("HeStickyAppRust").With(zap.String("user", id))
	cfg.Session.Logger = logger

	values := cfg.Values
	if values == nil {
		values, _ = generator.NewValueGenerator(10, 90)
	}

	return &User{
		id:      id,
		session: NewSession(cfg.Session),
		values:  values,
		weights: map[string]int{TaskEncrypt: cfg.EncryptWeight, TaskMean: cfg.MeanWeight},
	}
}

// ID returns the user's id.
func (u *User) ID() string { return u.id }

// Session returns the user's session.
func (u *User) Session() *Session { return u.session }

// OnStart opens the session. A failed setup is already logged by the
// session and does not stop the user.
func (u *User) OnStart(ctx context.Context) {
	u.session.logger.Info("User is starting")
	_ = u.session.Setup(ctx)
}

// OnStop shuts the session down and logs the counters.
func (u *User) OnStop(ctx context.Context) {
	_ = u.session.Teardown(ctx)
}

// Tasks returns the weighted encrypt and mean tasks.
func (u *User) Tasks() []runner.Task {
	return []runner.Task{
		{
			Name:   TaskEncrypt,
			Weight: u.weights[TaskEncrypt],
			Run: func(ctx context.Context) {
				u.session.Encrypt(ctx, u.values.Next())
			},
		},
		{
			Name:   TaskMean,
			Weight: u.weights[TaskMean],
			Run: func(ctx context.Context) {
				u.session.Mean(ctx)
			},
		},
	}
}

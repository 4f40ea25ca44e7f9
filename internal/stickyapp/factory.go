package stickyapp

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/example/stickyapp/tools/loadgen/internal/client"
	"github.com/example/stickyapp/tools/loadgen/internal/config"
	"github.com/example/stickyapp/tools/loadgen/internal/generator"
	"github.com/example/stickyapp/tools/loadgen/internal/metrics"
	"github.com/example/stickyapp/tools/loadgen/internal/runner"
)

// FactoryDeps are the shared collaborators every user is built with.
type FactoryDeps struct {
	Client   *client.Client
	Logger   *zap.Logger
	Recorder metrics.Recorder
	Tracker  metrics.SessionTracker
}

// NewUserFactory returns a runner.UserFactory building users from cfg.
// Each user gets its own header set, value generator and session.
func NewUserFactory(cfg *config.Config, deps FactoryDeps) runner.UserFactory {
	params := ParamsFromConfig(cfg.Encryption)
	return func(index int) (runner.User, error) {
		values, err := generator.NewValueGenerator(cfg.EncryptValues.Min, cfg.EncryptValues.Max)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", index, err)
		}
		return NewUser(UserConfig{
			Session: SessionConfig{
				Transport: deps.Client,
				Headers:   deps.Client.NewHeaders(),
				Logger:    deps.Logger,
				Recorder:  deps.Recorder,
				Tracker:   deps.Tracker,
				PodPort:   cfg.Target.PodPort,
				Encrypted: cfg.Session.IsEncrypted(),
				Params:    params,
			},
			Values:        values,
			EncryptWeight: cfg.Tasks.EncryptWeight(),
			MeanWeight:    cfg.Tasks.MeanWeight(),
		}), nil
	}
}

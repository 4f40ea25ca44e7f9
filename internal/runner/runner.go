// Package runner spawns simulated users and drives their weighted tasks
// for the duration of a load test.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/stickyapp/tools/loadgen/internal/config"
	"github.com/example/stickyapp/tools/loadgen/internal/loadctrl"
	"github.com/example/stickyapp/tools/loadgen/internal/metrics"
	"github.com/example/stickyapp/tools/loadgen/internal/selector"
)

// ErrAlreadyRunning is returned when Run is called on a running Runner.
var ErrAlreadyRunning = errors.New("runner: already running")

// Task is one weighted unit of user behaviour.
type Task struct {
	Name   string
	Weight int
	Run    func(ctx context.Context)
}

// User is a simulated client. OnStart runs once before any task, OnStop
// once after the last one. A user's calls are strictly sequential.
type User interface {
	OnStart(ctx context.Context)
	OnStop(ctx context.Context)
	Tasks() []Task
}

// UserFactory creates the user with the given spawn index.
type UserFactory func(index int) (User, error)

// SnapshotObserver receives periodic metric snapshots.
type SnapshotObserver interface {
	UpdateFromSnapshot(snapshot metrics.Snapshot)
}

// Options configures a Runner.
type Options struct {
	// Users is the number of users to spawn.
	Users int
	// SpawnRate is how many users start per second.
	SpawnRate float64
	// Duration bounds the run. Zero runs until ctx is cancelled.
	Duration time.Duration
	// StopTimeout bounds each user's OnStop.
	StopTimeout time.Duration
	// Wait is the pause after each task.
	Wait loadctrl.WaitTime
	// ReportInterval is how often progress is reported.
	ReportInterval time.Duration
	// OnlySummary suppresses progress lines.
	OnlySummary bool
	// HandleSignals stops the run on SIGINT or SIGTERM.
	HandleSignals bool

	Logger    *zap.Logger
	Collector *metrics.Collector
	// Console prints the banner, progress and final report. Nil is silent.
	Console   *metrics.Console
	Banner    metrics.BannerInfo
	Tracker   metrics.SessionTracker
	Observers []SnapshotObserver
}

// OptionsFromConfig fills the run shape from a configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Users:          cfg.Users,
		SpawnRate:      cfg.SpawnRate,
		Duration:       cfg.Duration,
		StopTimeout:    cfg.StopTimeout,
		Wait:           loadctrl.Between(cfg.Wait.Min, cfg.Wait.Max),
		ReportInterval: cfg.Output.ReportInterval,
		OnlySummary:    cfg.Output.OnlySummary,
		HandleSignals:  true,
		Banner: metrics.BannerInfo{
			Name:        cfg.Name,
			Target:      cfg.Target.BaseURL,
			VirtualHost: cfg.Target.HostHeader(),
			Users:       cfg.Users,
			SpawnRate:   cfg.SpawnRate,
			Duration:    cfg.Duration,
			Tasks: map[string]int{
				"encrypt": cfg.Tasks.EncryptWeight(),
				"mean":    cfg.Tasks.MeanWeight(),
			},
		},
	}
}

// Runner is the main load test runner that orchestrates users.
type Runner struct {
	opts    Options
	factory UserFactory
	spawner *loadctrl.SpawnLimiter
	logger  *zap.Logger

	// State
	running     atomic.Bool
	activeUsers atomic.Int64
	spawned     atomic.Int64
	wg          sync.WaitGroup
}

// New creates a new load test runner.
func New(opts Options, factory UserFactory) (*Runner, error) {
	if factory == nil {
		return nil, errors.New("runner: user factory is required")
	}
	if opts.Users < 0 {
		return nil, fmt.Errorf("runner: invalid user count %d", opts.Users)
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 30 * time.Second
	}
	if opts.Wait == nil {
		opts.Wait = loadctrl.Between(time.Second, 3*time.Second)
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Collector == nil {
		opts.Collector = metrics.NewCollector(metrics.DefaultCollectorConfig())
	}
	if opts.Tracker == nil {
		opts.Tracker = metrics.NopTracker{}
	}

	return &Runner{
		opts:    opts,
		factory: factory,
		spawner: loadctrl.NewSpawnLimiter(opts.SpawnRate),
		logger:  opts.Logger.Named("runner"),
	}, nil
}

// ActiveUsers returns the number of users currently running.
func (r *Runner) ActiveUsers() int {
	return int(r.activeUsers.Load())
}

// SpawnedUsers returns the number of users started so far.
func (r *Runner) SpawnedUsers() int {
	return int(r.spawned.Load())
}

// Run executes the load test and returns the final metrics snapshot. It
// returns once every spawned user has finished OnStop.
func (r *Runner) Run(ctx context.Context) (metrics.Snapshot, error) {
	if r.running.Swap(true) {
		return metrics.Snapshot{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	var cancel context.CancelFunc
	if r.opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.opts.Duration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Handle interrupt signals
	var sigCh chan os.Signal
	if r.opts.HandleSignals {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	if r.opts.Console != nil {
		r.opts.Console.PrintBanner(r.opts.Banner)
	}

	r.opts.Collector.Start()
	r.logger.Info("starting load test",
		zap.Int("users", r.opts.Users),
		zap.Float64("spawn_rate", r.opts.SpawnRate),
		zap.Duration("duration", r.opts.Duration),
	)

	r.wg.Add(1)
	go r.spawnUsers(ctx)

	var reporterWG sync.WaitGroup
	reporterWG.Add(1)
	go func() {
		defer reporterWG.Done()
		r.runProgressReporter(ctx)
	}()

	// Wait for completion or interrupt
	select {
	case <-ctx.Done():
		r.logger.Info("test duration reached")
	case sig := <-sigCh:
		r.logger.Info("received signal, stopping", zap.String("signal", sig.String()))
		cancel()
	}

	r.wg.Wait()
	reporterWG.Wait()
	r.opts.Collector.Stop()

	snapshot := r.opts.Collector.Snapshot()
	r.publish(snapshot)
	if r.opts.Console != nil {
		r.opts.Console.PrintFinalReport(snapshot)
	}
	r.logger.Info("load test finished",
		zap.Int("users_spawned", r.SpawnedUsers()),
		zap.Int64("requests", snapshot.TotalRequests),
		zap.Int64("failures", snapshot.FailedRequests),
	)

	return snapshot, nil
}

// spawnUsers starts users at the configured rate until all are running
// or the run ends.
func (r *Runner) spawnUsers(ctx context.Context) {
	defer r.wg.Done()

	for i := 0; i < r.opts.Users; i++ {
		if err := r.spawner.Acquire(ctx); err != nil {
			return
		}
		r.wg.Add(1)
		go r.runUser(ctx, i)
	}
	r.logger.Debug("all users spawned", zap.Int("users", r.opts.Users))
}

// runUser drives one user: OnStart, weighted tasks with a pause after
// each, then OnStop under its own deadline once the run ends.
func (r *Runner) runUser(ctx context.Context, index int) {
	defer r.wg.Done()

	user, err := r.factory(index)
	if err != nil {
		r.logger.Error("creating user", zap.Int("index", index), zap.Error(err))
		return
	}

	r.spawned.Add(1)
	r.activeUsers.Add(1)
	r.opts.Tracker.UserStarted()
	defer func() {
		r.activeUsers.Add(-1)
		r.opts.Tracker.UserStopped()
	}()

	user.OnStart(ctx)

	tasks := selector.NewWeightedSelector[Task]()
	for _, t := range user.Tasks() {
		if err := tasks.Register(t.Name, t.Weight, t); err != nil {
			r.logger.Warn("skipping task", zap.String("task", t.Name), zap.Error(err))
		}
	}

	for ctx.Err() == nil {
		_, task, err := tasks.Select()
		if err != nil {
			r.logger.Error("user has no runnable tasks", zap.Int("index", index), zap.Error(err))
			<-ctx.Done()
			break
		}
		r.runTask(ctx, task)
		if !loadctrl.Sleep(ctx, r.opts.Wait.Next()) {
			break
		}
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.StopTimeout)
	defer cancel()
	user.OnStop(stopCtx)
}

// runTask runs one task, containing any panic to that task.
func (r *Runner) runTask(ctx context.Context, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task panicked", zap.String("task", task.Name), zap.Any("panic", rec))
		}
	}()
	task.Run(ctx)
}

// runProgressReporter reports progress periodically.
func (r *Runner) runProgressReporter(ctx context.Context) {
	ticker := time.NewTicker(r.opts.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := r.opts.Collector.Snapshot()
			r.publish(snapshot)
			if !r.opts.OnlySummary && r.opts.Console != nil {
				r.opts.Console.PrintProgress(snapshot, r.ActiveUsers())
			}
		}
	}
}

func (r *Runner) publish(snapshot metrics.Snapshot) {
	for _, o := range r.opts.Observers {
		if o != nil {
			o.UpdateFromSnapshot(snapshot)
		}
	}
}

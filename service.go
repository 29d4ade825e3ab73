package hitl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/afs/url"
	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/metrics"
	"github.com/viant/hitl/policy"
	"github.com/viant/hitl/service/audit"
	abadger "github.com/viant/hitl/service/audit/badger"
	"github.com/viant/hitl/service/checkpoint"
	"github.com/viant/hitl/service/dao/sqlite"
	"github.com/viant/hitl/service/event"
	"github.com/viant/hitl/service/recovery"
	"github.com/viant/hitl/service/session"
)

// Service wires the governance components together: the risk evaluator, the
// checkpoint engine, the session manager and the recovery supervisor share
// one set of stores and one event bus.
type Service struct {
	config         *Config
	logger         *slog.Logger
	now            clock.Func
	registerer     prometheus.Registerer
	metricsEnabled bool
	metrics        *metrics.Metrics

	repo     checkpoint.Repository
	audit    audit.Store
	failures recovery.Store

	events     *event.Service
	evaluator  *policy.Evaluator
	engine     *checkpoint.Engine
	sessions   *session.Manager
	supervisor *recovery.Supervisor
	sweeper    *checkpoint.Sweeper

	databases map[string]*sqlite.DB
	closers   []func() error
	initErrs  []error
	closeOnce sync.Once
}

// New creates a Service from config; a nil config uses DefaultConfig.
func New(ctx context.Context, config *Config, opts ...Option) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ret := &Service{
		config:    config,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		databases: map[string]*sqlite.DB{},
	}
	if config.Tracing.Enabled {
		opts = append([]Option{WithTracing(config.Tracing.Service, config.Tracing.Version, config.Tracing.OutputFile)}, opts...)
	}
	ret.metricsEnabled = config.Metrics.Enabled
	for _, opt := range opts {
		opt(ret)
	}
	if len(ret.initErrs) > 0 {
		return nil, errors.Join(ret.initErrs...)
	}
	if err := ret.init(ctx); err != nil {
		_ = ret.Close()
		return nil, err
	}
	return ret, nil
}

func (s *Service) init(ctx context.Context) error {
	if s.metricsEnabled {
		s.metrics = metrics.New(s.registerer)
	}
	if err := s.ensureStores(ctx); err != nil {
		return err
	}
	s.events = event.New(event.WithLogger(s.logger), event.WithClock(s.now))
	s.closers = append(s.closers, s.events.Close)

	s.evaluator = policy.NewEvaluator(policy.WithDefaultPolicy(s.config.Default.Policy()))
	engineOpts := []checkpoint.Option{
		checkpoint.WithAuditStore(s.audit),
		checkpoint.WithLogger(s.logger),
		checkpoint.WithClock(s.now),
		checkpoint.WithEventQueue(s.events.Queue()),
		checkpoint.WithMetrics(s.metrics),
		checkpoint.WithTTL(millis(s.config.Default.CheckpointTTLMs)),
	}
	sessionOpts := []session.Option{
		session.WithLogger(s.logger),
		session.WithMetrics(s.metrics),
	}
	if ms := s.config.Default.DefaultSessionTimeoutMs; ms > 0 {
		sessionOpts = append(sessionOpts, session.WithDefaultTimeout(millis(ms)))
	}
	supervisorOpts := []recovery.Option{
		recovery.WithStore(s.failures),
		recovery.WithLogger(s.logger),
		recovery.WithClock(s.now),
		recovery.WithMetrics(s.metrics),
		recovery.WithEventQueue(s.events.Queue()),
		recovery.WithMaxConcurrent(s.config.Recovery.MaxConcurrent),
		recovery.WithDefaults(s.config.Recovery.MaxRetries, millis(s.config.Recovery.TimeoutMs), millis(s.config.Recovery.BaseDelayMs)),
		recovery.WithModuleConfig("", s.config.Default.Recovery()),
	}
	for moduleID, module := range s.config.Modules {
		if module == nil {
			continue
		}
		effective := s.config.Module(moduleID)
		s.evaluator.SetModulePolicy(moduleID, effective.Policy())
		engineOpts = append(engineOpts, checkpoint.WithModuleTTL(moduleID, millis(effective.CheckpointTTLMs)))
		if effective.DefaultSessionTimeoutMs > 0 {
			sessionOpts = append(sessionOpts, session.WithModuleTimeout(moduleID, millis(effective.DefaultSessionTimeoutMs)))
		}
		supervisorOpts = append(supervisorOpts, recovery.WithModuleConfig(moduleID, effective.Recovery()))
	}

	s.engine = checkpoint.New(s.repo, engineOpts...)
	s.sessions = session.New(s.engine, sessionOpts...)
	s.closers = append(s.closers, s.sessions.Close)
	s.supervisor = recovery.New(append(supervisorOpts, recovery.WithEngine(s.engine))...)
	if s.config.SweepIntervalMs > 0 {
		s.sweeper = checkpoint.NewSweeper(s.engine, millis(s.config.SweepIntervalMs), s.sessions.Owns)
	}
	return nil
}

// ensureStores opens the configured backends for stores not supplied by
// options. The sqlite and fs drivers keep failure records next to the
// checkpoints.
func (s *Service) ensureStores(ctx context.Context) error {
	storage := s.config.Storage
	switch storage.Driver {
	case DriverSQLite:
		db, err := s.sqlite(ctx, storage.URL)
		if err != nil {
			return err
		}
		if s.repo == nil {
			s.repo = db.Checkpoints()
		}
		if s.failures == nil {
			s.failures = db.Failures()
		}
	case DriverFS:
		if s.repo == nil {
			repo, err := checkpoint.NewFSRepository(ctx, url.Join(storage.URL, "checkpoints"), s.logger)
			if err != nil {
				return err
			}
			s.repo = repo
		}
		if s.failures == nil {
			failures, err := recovery.NewFSStore(ctx, url.Join(storage.URL, "failures"), s.logger)
			if err != nil {
				return err
			}
			s.failures = failures
		}
	}
	if s.repo == nil {
		s.repo = checkpoint.NewMemoryRepository()
	}
	if s.failures == nil {
		s.failures = recovery.NewMemoryStore()
	}
	if s.audit != nil {
		return nil
	}
	auditConfig := s.config.Audit
	switch auditConfig.Driver {
	case DriverFS:
		store, err := audit.NewFS(ctx, auditConfig.URL, s.logger)
		if err != nil {
			return err
		}
		s.audit = store
	case DriverBadger:
		store, err := abadger.Open(abadger.Config{Path: auditConfig.URL, Logger: s.logger})
		if err != nil {
			return err
		}
		s.closers = append(s.closers, store.Close)
		s.audit = store
	case DriverSQLite:
		if store, ok := s.repo.(audit.Store); ok && storage.Driver == DriverSQLite && storage.URL == auditConfig.URL {
			s.audit = store
			break
		}
		db, err := s.sqlite(ctx, auditConfig.URL)
		if err != nil {
			return err
		}
		s.audit = db.Checkpoints()
	case "":
		switch storage.Driver {
		case DriverFS:
			store, err := audit.NewFS(ctx, url.Join(storage.URL, "audit"), s.logger)
			if err != nil {
				return err
			}
			s.audit = store
		default:
			// the engine uses the repository when it is an audit store
			if store, ok := s.repo.(audit.Store); ok {
				s.audit = store
			}
		}
	}
	if s.audit == nil {
		s.audit = audit.NewMemory()
	}
	return nil
}

// sqlite opens a database once per path.
func (s *Service) sqlite(ctx context.Context, path string) (*sqlite.DB, error) {
	if db, ok := s.databases[path]; ok {
		return db, nil
	}
	db, err := sqlite.Open(ctx, path, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	s.databases[path] = db
	s.closers = append(s.closers, db.Close)
	return db, nil
}

// Start runs background work: the expiry sweeper when configured.
func (s *Service) Start(ctx context.Context) {
	if s.sweeper != nil {
		s.sweeper.Start(ctx)
	}
}

// Close stops background work and releases the stores, newest first.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.sweeper != nil {
			s.sweeper.Stop()
		}
		if s.supervisor != nil {
			s.supervisor.Wait()
		}
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Config returns the service configuration.
func (s *Service) Config() *Config { return s.config }

// Logger returns the service logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Evaluator returns the risk evaluator.
func (s *Service) Evaluator() *policy.Evaluator { return s.evaluator }

// Engine returns the checkpoint engine.
func (s *Service) Engine() *checkpoint.Engine { return s.engine }

// Sessions returns the session manager.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Supervisor returns the failure recovery supervisor.
func (s *Service) Supervisor() *recovery.Supervisor { return s.supervisor }

// Events returns the event bus carrying checkpoint and failure events.
func (s *Service) Events() *event.Service { return s.events }

// Sweeper returns the expiry sweeper, nil unless Config.SweepIntervalMs is set.
func (s *Service) Sweeper() *checkpoint.Sweeper { return s.sweeper }

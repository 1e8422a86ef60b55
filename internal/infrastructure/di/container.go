package di

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	_ "github.com/mattn/go-sqlite3"

	"github.com/YoshitsuguKoike/remloop/internal/app"
	appconfig "github.com/YoshitsuguKoike/remloop/internal/app/config"
	"github.com/YoshitsuguKoike/remloop/internal/application/service"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
	"github.com/YoshitsuguKoike/remloop/internal/infrastructure/external/github"
	"github.com/YoshitsuguKoike/remloop/internal/infrastructure/notify"
	sqliterepo "github.com/YoshitsuguKoike/remloop/internal/infrastructure/persistence/sqlite"
)

// Container wires repositories and services together.
// Manual dependency injection; construction order follows the layers.
type Container struct {
	db *sql.DB

	stateRepo repository.StateRepository
	lockRepo  repository.LockRepository
	jobRepo   repository.JobRepository
	queueRepo repository.QueueRepository
	prRepo    repository.PullRequestRepository

	lockService   service.LockService
	stateService  *service.StateService
	labelService  *service.LabelService
	cancelService *service.CancellationService
	breaker       *service.CircuitBreaker
	coordinator   *service.Coordinator
	recovery      *service.RecoveryService
	sweep         *service.SweepService

	config appconfig.Config
}

// NewContainer creates and initializes the DI container
func NewContainer(cfg appconfig.Config) (*Container, error) {
	c := &Container{config: cfg}

	if err := c.initializeInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}
	c.initializeApplication()
	return c, nil
}

func (c *Container) initializeInfrastructure() error {
	dbPath := c.config.DBPath()
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	c.db = db

	migrator := sqliterepo.NewMigrator(db)
	if err := migrator.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	c.stateRepo = sqliterepo.NewStateRepository(db)
	c.lockRepo = sqliterepo.NewLockRepository(db)
	c.jobRepo = sqliterepo.NewJobRepository(db)
	c.queueRepo = sqliterepo.NewQueueRepository(db)

	// Without a token the label store falls back to the local table,
	// which keeps single-binary setups and tests hermetic.
	if c.config.GitHubToken() != "" {
		c.prRepo = github.NewClient(c.config.GitHubToken(), c.config.GitHubOwner(), c.config.GitHubRepo())
		app.GetLogger().Info("label store: github %s/%s", c.config.GitHubOwner(), c.config.GitHubRepo())
	} else {
		c.prRepo = sqliterepo.NewPullRequestRepository(db)
		app.GetLogger().Info("label store: local sqlite")
	}

	return nil
}

func (c *Container) initializeApplication() {
	c.lockService = service.NewLockService(c.lockRepo, service.LockServiceConfig{
		Duration:      c.config.LockDuration(),
		RenewInterval: c.config.LockRenewInterval(),
	})

	escalator := notify.NewFileEscalator(afero.NewOsFs(), c.config.EscalationsDir())
	c.stateService = service.NewStateService(c.stateRepo, escalator, c.config.CompressionThreshold())

	c.labelService = service.NewLabelService(c.prRepo, c.config.LabelRetries())

	c.cancelService = service.NewCancellationService(
		c.lockService,
		c.stateService,
		c.jobRepo,
		service.CancellationConfig{
			GracePeriod:    c.config.GracePeriod(),
			PollInterval:   c.config.GracePeriod() / 10,
			ForceAttempts:  c.config.ForceAttempts(),
			ForceBackoff:   service.DefaultCancellationConfig().ForceBackoff,
			DeletionVerify: c.config.DeletionVerify(),
		},
	)

	c.breaker = service.NewCircuitBreaker(c.config.BreakerThreshold(), c.config.BreakerCooldown())

	c.coordinator = service.NewCoordinator(
		c.cancelService,
		c.labelService,
		c.queueRepo,
		c.breaker,
		service.CoordinatorConfig{
			ReadyLabel:      c.config.ReadyLabel(),
			InProgressLabel: c.config.InProgressLabel(),
		},
	)

	c.recovery = service.NewRecoveryService(
		c.coordinator,
		c.stateService,
		c.lockService,
		service.RecoveryConfig{
			Interval:       c.config.RecoveryInterval(),
			StuckThreshold: c.config.StuckThreshold(),
		},
	)

	c.sweep = service.NewSweepService(c.stateService, service.SweepConfig{
		Interval:  c.config.SweepInterval(),
		Retention: c.config.Retention(),
	})
}

// Getters

func (c *Container) GetStateService() *service.StateService { return c.stateService }

func (c *Container) GetLockService() service.LockService { return c.lockService }

func (c *Container) GetLabelService() *service.LabelService { return c.labelService }

func (c *Container) GetCoordinator() *service.Coordinator { return c.coordinator }

func (c *Container) GetRecoveryService() *service.RecoveryService { return c.recovery }

func (c *Container) GetStateRepository() repository.StateRepository { return c.stateRepo }

func (c *Container) GetJobRepository() repository.JobRepository { return c.jobRepo }

func (c *Container) GetPullRequestRepository() repository.PullRequestRepository { return c.prRepo }

// Replay resubmits cancellation requests left in the durable queue by a
// previous process.
func (c *Container) Replay(ctx context.Context) (int, error) {
	return c.coordinator.ReplayPending(ctx)
}

// SweepOnce runs one retention sweep pass
func (c *Container) SweepOnce(ctx context.Context) (int, error) {
	return c.stateService.SweepExpired(ctx, c.config.Retention())
}

// Start starts the background reconciliation and sweep loops
func (c *Container) Start(ctx context.Context) error {
	c.recovery.Start(ctx)
	c.sweep.Start(ctx)
	return nil
}

// Close stops background work and releases all resources.
// In-flight cancellations are drained before the database closes.
func (c *Container) Close() error {
	if c.sweep != nil {
		c.sweep.Stop()
	}
	if c.recovery != nil {
		c.recovery.Stop()
	}
	if c.coordinator != nil {
		c.coordinator.Stop()
	}
	if c.lockService != nil {
		if err := c.lockService.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to stop lock service: %v\n", err)
		}
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

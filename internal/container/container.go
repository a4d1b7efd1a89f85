// Package container provides dependency injection for txrules.
// It centralizes the creation and wiring of all application dependencies,
// making them explicit and testable.
package container

import (
	"errors"
	"fmt"
	"time"

	"fjacquet/txrules/internal/applog"
	"fjacquet/txrules/internal/authoring"
	"fjacquet/txrules/internal/common"
	"fjacquet/txrules/internal/config"
	"fjacquet/txrules/internal/engine"
	"fjacquet/txrules/internal/learning"
	"fjacquet/txrules/internal/logging"
	"fjacquet/txrules/internal/report"
	"fjacquet/txrules/internal/settings"
	"fjacquet/txrules/internal/store"
	"fjacquet/txrules/internal/store/sqlite"
)

// Container holds all application dependencies and provides methods to access them.
//
// Container is immutable after creation: all fields are private and can only
// be accessed through getter methods.
type Container struct {
	logger logging.Logger
	config *config.Config
	repo   store.Repository

	recorder  *applog.Recorder
	engine    *engine.Engine
	gate      *settings.Gate
	advisor   *learning.Advisor
	authoring *authoring.Service
	importer  *common.Importer
	reports   *report.ReportGenerator
}

// NewContainer opens the sqlite database named in cfg and wires every
// component on top of it.
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	// Create logger first as it's needed by other components
	logger := logging.NewLogrusAdapter(cfg.Log.Level, cfg.Log.Format)

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	c, err := NewContainerWithRepository(cfg, db, logger)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return c, nil
}

// NewContainerWithRepository wires every component on top of repo. It is
// used by tests and by callers that manage their own store.
func NewContainerWithRepository(cfg *config.Config, repo store.Repository, logger logging.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if repo == nil {
		return nil, fmt.Errorf("repository cannot be nil")
	}

	gate, err := settings.NewGate(repo, logger,
		time.Duration(cfg.Cache.SettingsTTLSeconds)*time.Second, cfg.Cache.MaxCost)
	if err != nil {
		return nil, err
	}

	recorder := applog.NewRecorder(repo, logger)
	eng := engine.New(repo, recorder, logger, engine.Options{
		Workers:             cfg.Engine.Workers,
		SequentialThreshold: cfg.Engine.SequentialThreshold,
	})
	advisor := learning.NewAdvisor(gate, repo, repo, logger, learning.Config{
		CategoryPriority:    cfg.Learning.CategoryPriority,
		BeneficiaryPriority: cfg.Learning.BeneficiaryPriority,
		MaxKeywords:         cfg.Learning.MaxKeywords,
		MinKeywordLength:    cfg.Learning.MinKeywordLength,
	})
	importer := common.NewImporter(repo, repo, eng, logger,
		common.NewFormat(cfg.CSV.Delimiter, cfg.CSV.DateFormat))

	logger.Debug("Container initialized",
		logging.F(logging.FieldWorkers, cfg.Engine.Workers),
		logging.F("database", cfg.Database.Path))

	return &Container{
		logger:    logger,
		config:    cfg,
		repo:      repo,
		recorder:  recorder,
		engine:    eng,
		gate:      gate,
		advisor:   advisor,
		authoring: authoring.NewService(repo, repo, logger),
		importer:  importer,
		reports:   report.NewReportGenerator(logger),
	}, nil
}

// GetLogger returns the container's logger instance.
func (c *Container) GetLogger() logging.Logger {
	return c.logger
}

// GetConfig returns the container's configuration instance.
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetRepository returns the persistence collaborator.
func (c *Container) GetRepository() store.Repository {
	return c.repo
}

// GetEngine returns the rule engine.
func (c *Container) GetEngine() *engine.Engine {
	return c.engine
}

// GetRecorder returns the application logger.
func (c *Container) GetRecorder() *applog.Recorder {
	return c.recorder
}

// GetSettingsGate returns the cached settings gate.
func (c *Container) GetSettingsGate() *settings.Gate {
	return c.gate
}

// GetAdvisor returns the auto-learning advisor.
func (c *Container) GetAdvisor() *learning.Advisor {
	return c.advisor
}

// GetAuthoring returns the rule authoring service.
func (c *Container) GetAuthoring() *authoring.Service {
	return c.authoring
}

// GetImporter returns the CSV transaction importer.
func (c *Container) GetImporter() *common.Importer {
	return c.importer
}

// GetReportGenerator returns the result renderer.
func (c *Container) GetReportGenerator() *report.ReportGenerator {
	return c.reports
}

// Close releases the settings cache and the store.
func (c *Container) Close() error {
	c.gate.Close()
	if err := c.repo.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	c.logger.Debug("Container closed")
	return nil
}

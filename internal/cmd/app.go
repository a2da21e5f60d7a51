package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harrison/taskpilot/internal/adaptive"
	"github.com/harrison/taskpilot/internal/config"
	"github.com/harrison/taskpilot/internal/fallback"
	"github.com/harrison/taskpilot/internal/log"
	logruslog "github.com/harrison/taskpilot/internal/log/logrus"
	"github.com/harrison/taskpilot/internal/store/sqlite"
	"github.com/harrison/taskpilot/internal/taskmanager"
	"github.com/harrison/taskpilot/internal/validation"
)

// alertLogName is the alert log file inside the fallback data directory.
const alertLogName = "alerts.log"

// app is the set of components a command works with.
type app struct {
	cfg        *config.Config
	logger     log.Logger
	store      *sqlite.Store
	manager    *taskmanager.Manager
	validator  *validation.Validator
	controller *adaptive.Controller
	monitor    *fallback.Monitor
	alerts     *fallback.AlertLog

	// recording is set by commands that add fallback records; only those
	// flush them back on Close.
	recording bool
}

// loadConfig resolves the home directory, reads the config file and applies
// the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	home, _ := flags.GetString("home")
	if home == "" {
		h, err := config.GetHome()
		if err != nil {
			return nil, err
		}
		home = h
	}

	path, _ := flags.GetString("config")
	if path == "" {
		path = config.ConfigPath(home)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg.MergeWithFlags(
		changedString(cmd, "log-level"),
		changedString(cmd, "log-format"),
		changedString(cmd, "db"),
		changedString(cmd, "data-dir"),
		changedInt(cmd, "max-attempts"),
	)
	cfg.ResolvePaths(home)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func changedString(cmd *cobra.Command, name string) *string {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}
	v := f.Value.String()
	return &v
}

func changedInt(cmd *cobra.Command, name string) *int {
	f := cmd.Flags().Lookup(name)
	if f == nil || !f.Changed {
		return nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return nil
	}
	return &v
}

func newLogger(cmd *cobra.Command, cfg *config.Config) log.Logger {
	return logruslog.New(logruslog.Options{
		Out:    cmd.ErrOrStderr(),
		Level:  cfg.LogLevel,
		Format: logruslog.Format(cfg.LogFormat),
	})
}

// newValidation builds the validator and the adaptive controller from the
// optional table overrides.
func newValidation(cfg *config.Config, logger log.Logger) (*validation.Validator, *adaptive.Controller, error) {
	rules := validation.DefaultRules()
	if cfg.Validation.RulesFile != "" {
		r, err := validation.LoadRules(cfg.Validation.RulesFile)
		if err != nil {
			return nil, nil, err
		}
		rules = r
	}
	validator := validation.New(validation.Config{Rules: rules, FileSystem: validation.OSFileSystem{}})

	var patterns *adaptive.Patterns
	if cfg.Validation.PatternsFile != "" {
		p, err := adaptive.LoadPatterns(cfg.Validation.PatternsFile)
		if err != nil {
			return nil, nil, err
		}
		patterns = p
	}
	controller, err := adaptive.NewController(adaptive.Config{
		Patterns:    patterns,
		FileSystem:  validation.OSFileSystem{},
		MaxAttempts: cfg.Validation.MaxAttempts,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create adaptive controller: %w", err)
	}
	return validator, controller, nil
}

// newMonitor builds the fallback monitor over the configured data directory
// and restores its records.
func newMonitor(cfg *config.Config, logger log.Logger) (*fallback.Monitor, *fallback.AlertLog, error) {
	alerts := fallback.NewAlertLog(filepath.Join(cfg.Fallback.DataDir, alertLogName))
	monitor, err := fallback.New(fallback.Config{
		Threshold:            cfg.Fallback.Threshold,
		MaxPlanRecords:       cfg.Fallback.MaxPlanRecords,
		MaxValidationRecords: cfg.Fallback.MaxValidationRecords,
		AlertCooldown:        cfg.Fallback.AlertCooldown,
		Alerts:               alerts,
		Documents:            fallback.NewJSONStore(cfg.Fallback.DataDir),
		Logger:               logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create fallback monitor: %w", err)
	}
	if err := monitor.Load(); err != nil {
		return nil, nil, fmt.Errorf("could not load fallback records: %w", err)
	}
	return monitor, alerts, nil
}

// newApp wires every component. Close must be called when done.
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg)

	st, err := sqlite.Open(ctx, cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("could not open task store: %w", err)
	}

	manager, err := taskmanager.New(taskmanager.Config{
		Store:          st,
		Logger:         logger,
		HealthInterval: cfg.TaskManager.HealthInterval,
		StallThreshold: cfg.TaskManager.StallThreshold,
		Retention:      cfg.TaskManager.Retention,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("could not create task manager: %w", err)
	}
	if err := manager.Restore(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("could not restore tasks: %w", err)
	}

	validator, controller, err := newValidation(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	monitor, alerts, err := newMonitor(cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		manager:    manager,
		validator:  validator,
		controller: controller,
		monitor:    monitor,
		alerts:     alerts,
	}, nil
}

// Close flushes the monitor records when recording and closes the store.
func (a *app) Close() error {
	var flushErr error
	if a.recording {
		flushErr = a.monitor.Flush()
	}
	return errors.Join(flushErr, a.store.Close())
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"sermonflow/internal/audit"
	"sermonflow/internal/config"
	"sermonflow/internal/logging"
	"sermonflow/internal/services"
	"sermonflow/internal/skills"
	"sermonflow/internal/store"
	"sermonflow/internal/workers"
	"sermonflow/internal/workflow"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool
	actorFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

// engineEnv is the set of components a command works against. It is built
// per invocation over a fresh store handle.
type engineEnv struct {
	cfg     *config.Config
	store   *store.Store
	workers *workers.Registry
	audit   *audit.Log
	manager *workflow.Manager
}

func newCommandContext(configFlag *string, jsonFlag *bool, actorFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
		actorFlag:  actorFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) actor() string {
	if c.actorFlag != nil {
		if actor := strings.TrimSpace(*c.actorFlag); actor != "" {
			return actor
		}
	}
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "cli"
}

// commandLogger writes warnings and errors to stderr and the shared log file.
func (c *commandContext) commandLogger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:       "warn",
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
		FilePath:    cfg.LogPath(),
	})
}

func (c *commandContext) withEngine(cmd *cobra.Command, fn func(ctx context.Context, env *engineEnv) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.commandLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer st.Close()

	skillReg := skills.NewRegistry(logger)
	if cfg.Skills.CatalogPath != "" {
		if err := skillReg.LoadCatalog(cfg.Skills.CatalogPath); err != nil {
			return fmt.Errorf("load skill catalog: %w", err)
		}
	}
	workerReg := workers.New(st, logger)
	auditLog := audit.New(st, logger)
	env := &engineEnv{
		cfg:     cfg,
		store:   st,
		workers: workerReg,
		audit:   auditLog,
		manager: workflow.NewManager(cfg, st, workflow.Dependencies{
			Skills:  skillReg,
			Workers: workerReg,
			Audit:   auditLog,
		}, logger),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = services.WithActor(ctx, c.actor())
	return fn(ctx, env)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

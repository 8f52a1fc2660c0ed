package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"classroom-capture/pkg/api"
	"classroom-capture/pkg/app"
	"classroom-capture/pkg/config"
	"classroom-capture/pkg/events"
	"classroom-capture/pkg/logging"
	"classroom-capture/pkg/models"
	"classroom-capture/pkg/storage"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
			cfg.LogLevel = strings.ToLower(strings.TrimSpace(*c.logLevelFlag))
		}
		logging.Init(cfg.LogLevel, cfg.LogFormat)
		c.config = cfg
	})
	return c.config, c.configErr
}

// runtime is everything a client command needs, opened against the
// configured backend.
type runtime struct {
	cfg  *config.Config
	ctrl *app.Controller
	bus  *events.Bus
	disk storage.DiskStore
}

func (c *commandContext) openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client, err := api.NewClient(cfg.Backend.BaseURL, api.Options{
		RequestTimeout: cfg.Backend.RequestTimeout,
		UploadTimeout:  cfg.Backend.UploadTimeout,
	})
	if err != nil {
		return nil, err
	}
	disk, err := storage.NewDiskStore(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	bus := events.NewBus()
	return &runtime{
		cfg:  cfg,
		ctrl: app.New(ctx, cfg, client, disk, bus),
		bus:  bus,
		disk: disk,
	}, nil
}

func (r *runtime) Close() {
	r.ctrl.Cancel()
	r.bus.Close()
	r.disk.Close()
}

// connect checks the backend once and fails fast when it does not answer.
func (r *runtime) connect(ctx context.Context) error {
	if s := r.ctrl.Health.Poll(ctx); s.Status != models.BackendAvailable {
		return fmt.Errorf("backend %s is not reachable: %s", r.cfg.Backend.BaseURL, s.LastError)
	}
	return nil
}

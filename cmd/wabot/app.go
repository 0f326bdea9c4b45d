package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/jubayershuvo/wa-bot-sub000/core/bootstrap"
	corecmd "github.com/jubayershuvo/wa-bot-sub000/core/cmd"
	coreconfig "github.com/jubayershuvo/wa-bot-sub000/core/config"
	coredatabase "github.com/jubayershuvo/wa-bot-sub000/core/database"
	"github.com/jubayershuvo/wa-bot-sub000/core/ratelimit"
	"github.com/jubayershuvo/wa-bot-sub000/core/session"
	"github.com/jubayershuvo/wa-bot-sub000/core/whatsapp"
	"github.com/jubayershuvo/wa-bot-sub000/core/whatsapp/router"
)

// appConfig extends the engine core configuration with the app's own
// database settings.
type appConfig struct {
	coreconfig.Config `yaml:",inline"`
	Database          coredatabase.Config `yaml:"database"`
}

// CoreConfig implements corecmd.ConfigCarrier.
func (c *appConfig) CoreConfig() *coreconfig.Config { return &c.Config }

func loadConfig(path string) (corecmd.ConfigCarrier, error) {
	var cfg appConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// app holds the wired runtime pieces until the runner asks for RunOptions.
type app struct {
	cfg     *appConfig
	db      *sqlx.DB
	engine  *whatsapp.Engine
	sweeper *whatsapp.Sweeper
}

func buildApp(carrier corecmd.ConfigCarrier) (corecmd.ServerApp, error) {
	cfg, ok := carrier.(*appConfig)
	if !ok {
		return nil, fmt.Errorf("unexpected config type %T", carrier)
	}

	// No database host means the app runs with the in-memory store; the
	// conversation state then does not survive a restart.
	usePostgres := strings.TrimSpace(cfg.Database.Host) != ""

	res, err := bootstrap.Run(bootstrap.Options{
		Config:       &cfg.Config,
		Database:     cfg.Database,
		SkipDatabase: !usePostgres,
	})
	if err != nil {
		return nil, err
	}

	var store session.Store
	if usePostgres {
		store = session.NewPostgresStore(res.DB, cfg.SessionTTL())
	} else {
		store = session.NewMemoryStore(cfg.SessionTTL())
	}

	limiter := ratelimit.New(ratelimit.Options{
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateWindow(),
	})

	sender := whatsapp.NewClient(whatsapp.ClientOptions{
		BaseURL:       cfg.WhatsApp.APIBaseURL,
		Token:         cfg.WhatsApp.Token,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.RetryBaseDelay(),
	})

	engine, err := whatsapp.NewEngine(whatsapp.EngineOptions{
		Store:   store,
		Limiter: limiter,
		Sender:  sender,
	})
	if err != nil {
		return nil, err
	}

	flows := newOrderFlows(engine)
	r := router.New()
	r.Override("cancel", engine.Cancel)
	r.Override("home", flows.Home)
	r.Override("menu", flows.Home)
	r.Commands(flows.Commands)
	r.State(stateOrderItem, flows.OrderItem)
	r.State(stateOrderQty, flows.OrderQty)
	r.State(stateOrderConfirm, flows.OrderConfirm)
	r.Prefix("order:", flows.OrderPick)
	r.Kind(whatsapp.KindMedia, flows.Media)
	r.Fallback(flows.Fallback)
	engine.Mount(r)

	sweeper := session.NewSweeper(session.SweeperOptions{
		Store:    store,
		Notifier: engine,
		TTL:      cfg.SessionTTL(),
		Interval: cfg.SweepInterval(),
	})

	return &app{cfg: cfg, db: res.DB, engine: engine, sweeper: sweeper}, nil
}

// ServerRunOptions implements corecmd.ServerApp.
func (a *app) ServerRunOptions() (whatsapp.RunOptions, error) {
	return whatsapp.RunOptions{
		Config:  &a.cfg.Config,
		Engine:  a.engine,
		Sweeper: a.sweeper,
		OnStop: func(_ context.Context, _ whatsapp.Runtime) error {
			if a.db != nil {
				return a.db.Close()
			}
			return nil
		},
	}, nil
}

package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	coreconfig "github.com/jubayershuvo/wa-bot-sub000/core/config"
	"github.com/jubayershuvo/wa-bot-sub000/core/logger"
	"github.com/jubayershuvo/wa-bot-sub000/core/session"
	"log/slog"
)

// RunOptions controls the behaviour of RunServer.
type RunOptions struct {
	Config *coreconfig.Config
	Engine *Engine

	DispatcherOptions DispatcherOptions
	Dispatcher        *Dispatcher

	Sweeper *Sweeper
	Decode  DecodeFunc

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Sweeper aliases the session sweeper so callers wiring the server only
// import this package.
type Sweeper = session.Sweeper

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Dispatcher *Dispatcher
	Engine     *Engine
}

// RunServer runs the webhook listener, dispatcher and sweeper until the
// provided context is done, then shuts down in reverse order: stop
// accepting requests, drain queued events, stop the sweeper.
func RunServer(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("whatsapp: nil config provided")
	}
	if opts.Engine == nil {
		return fmt.Errorf("whatsapp: nil engine provided")
	}

	cfg := opts.Config

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispOpts := opts.DispatcherOptions
		if dispOpts.QueueSize <= 0 {
			dispOpts.QueueSize = cfg.Dispatch.QueueSize
		}
		if dispOpts.Workers <= 0 {
			dispOpts.Workers = cfg.Dispatch.Workers
		}
		dispatcher = NewDispatcher(dispOpts)
	}

	webhook, err := NewWebhook(WebhookOptions{
		VerifyToken: cfg.WhatsApp.VerifyToken,
		Decode:      opts.Decode,
		Dispatcher:  dispatcher,
		Process:     opts.Engine.Handle,
	})
	if err != nil {
		dispatcher.Close()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, webhook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := net.JoinHostPort(cfg.Server.Listen, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rt := Runtime{Dispatcher: dispatcher, Engine: opts.Engine}

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			dispatcher.Close()
			return err
		}
	}

	if opts.Sweeper != nil {
		if err := opts.Sweeper.Start(ctx); err != nil {
			dispatcher.Close()
			return fmt.Errorf("whatsapp: sweeper start: %w", err)
		}
	}

	logger.Info(ctx, "wa", "server.listen",
		slog.String("status", "ok"),
		slog.String("addr", addr),
		slog.String("path", cfg.Server.Path),
	)

	runDone := make(chan error, 1)
	go func() {
		runDone <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "wa", "server.shutdown.fail",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
		cancel()
		<-runDone
		runErr = ctx.Err()
	case err := <-runDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	// Drain before stopping the sweeper: queued events may still touch
	// sessions the sweeper would otherwise race on.
	dispatcher.Close()
	if opts.Sweeper != nil {
		opts.Sweeper.Stop()
	}

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.Background(), rt)
	}

	if stopErr != nil {
		return stopErr
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	}
	return nil
}

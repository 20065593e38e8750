package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"docqueue/internal/api"
	"docqueue/internal/handlers/shell"
	"docqueue/internal/handlers/webhook"
	"docqueue/internal/queue"
	"docqueue/internal/scheduler"
	"docqueue/internal/worker"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		workQueue  string
		handler    string
		webhookURL string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, optionally consuming one queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(workQueue, handler, webhookURL, debug)
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP bind address")
	cmd.Flags().Int("workers", 8, "number of worker goroutines")
	cmd.Flags().Duration("poll", 250*time.Millisecond, "poll interval for queue")
	cmd.Flags().StringVar(&workQueue, "work-queue", "", "queue consumed by the built-in worker pool")
	cmd.Flags().StringVar(&handler, "handler", "shell", "worker handler: shell or webhook")
	cmd.Flags().StringVar(&webhookURL, "webhook-url", "", "target URL for the webhook handler")
	cmd.Flags().BoolVar(&debug, "debug", false, "expose pprof under /debug/pprof")
	return cmd
}

func (a *app) serve(workQueue, handlerName, webhookURL string, debug bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	queues := queue.NewManager(st, a.cfg.Queues())

	var sched *scheduler.Service
	if a.cfg.PurgeSchedule != "" {
		if sched, err = scheduler.NewService(queues, a.cfg.PurgeSchedule, time.Minute); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	poolDone := make(chan struct{})
	if workQueue != "" {
		h, err := pickHandler(handlerName, webhookURL)
		if err != nil {
			return err
		}
		q, err := queues.Get(ctx, workQueue)
		if err != nil {
			return err
		}
		pool := worker.NewPool(q, h, a.cfg.Workers, a.cfg.Poll, a.cfg.Visibility)
		go func() {
			defer close(poolDone)
			pool.Run(ctx)
		}()
		log.Info().Str("queue", workQueue).Str("handler", handlerName).Int("workers", a.cfg.Workers).Msg("worker pool started")
	} else {
		close(poolDone)
	}

	srv := &http.Server{Addr: a.cfg.Addr, Handler: api.NewServerWithDebug(queues, debug)}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.cfg.Addr).Str("store", a.cfg.Store).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case <-c:
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	}
	log.Info().Msg("shutting down")
	cancel()
	<-poolDone
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	return srv.Shutdown(ctxTimeout)
}

func pickHandler(name, webhookURL string) (worker.Handler, error) {
	switch name {
	case "shell":
		return shell.Shell{}, nil
	case "webhook":
		if webhookURL == "" {
			return nil, fmt.Errorf("--webhook-url is required for the webhook handler")
		}
		return webhook.New(webhookURL, 30*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown handler %q", name)
	}
}

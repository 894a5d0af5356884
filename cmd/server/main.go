package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/time/rate"

	"github.com/astromechza/quillqay/pkg/api"
	"github.com/astromechza/quillqay/pkg/config"
	"github.com/astromechza/quillqay/pkg/logging"
	"github.com/astromechza/quillqay/pkg/realtime"
	"github.com/astromechza/quillqay/pkg/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "", "the address to listen on, overrides "+config.Prefix+"_ADDR")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	logging.Setup(level)
	if *addrVar != "" {
		cfg.Addr = *addrVar
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("Opening database")
	openCtx, openCancel := context.WithTimeout(ctx, 10*time.Second)
	st, err := store.Open(openCtx, cfg.DatabaseURL, store.Options{MaxConns: cfg.MaxConns})
	openCancel()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer st.Close()
	if cfg.Migrate {
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}

	sessionOpts := realtime.DefaultSessionOptions()
	sessionOpts.Relay = cfg.RelayInbound
	sessionOpts.RelayRate = rate.Limit(cfg.RelayRate)
	hub := realtime.NewHub(cfg.HubCapacity)
	s := api.NewServer(st, hub, api.Options{NotifyOnSave: cfg.NotifyOnSave, Session: sessionOpts})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	wg := new(sync.WaitGroup)
	listenErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case err := <-listenErr:
		return fmt.Errorf("server listen failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "err", err)
		_ = httpServer.Close()
	}
	cancel()
	s.Close()
	wg.Wait()
	slog.Info("Stopped")
	return nil
}

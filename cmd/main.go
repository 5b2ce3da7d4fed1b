package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/zlog"

	"guestlist/cmd/buildCFG"
	"guestlist/internal/admission"
	"guestlist/internal/api/api"
	rabbitReader "guestlist/internal/consumerWorker"
	"guestlist/internal/mailer"
	"guestlist/internal/notify"
	"guestlist/internal/rabbit"
	"guestlist/internal/repo"
	"guestlist/internal/service"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "GUESTLIST"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)
	tracingCfg := buildCFG.BuildTracingConfig(cfg)

	shutdownTracing, err := buildCFG.SetupTracing(context.Background(), tracingCfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	store, storageCfg, err := buildCFG.OpenStore(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	if pg, ok := store.(*repo.Postgres); ok {
		if err := pg.MigrateUp(storageCfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
	}

	sender := mailer.New(buildCFG.BuildSMTPConfig(cfg), &log)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var (
		notifier notify.Notifier
		reader   *rabbitReader.Reader
		direct   *notify.Direct
	)
	if rabbitCfg, ok := buildCFG.BuildRabbitConfig(cfg, &log); ok {
		rmq, err := rabbit.NewRabbit(rabbitCfg)
		if err != nil {
			log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rmq.Close()

		notifier = notify.NewQueue(rmq, &log)
		reader = rabbitReader.NewReader(rmq, rmq, sender, &log)
		reader.Start(workerCtx)
	} else {
		direct = notify.NewDirect(sender, &log)
		notifier = direct
	}

	engine := admission.New(store, buildCFG.BuildAdmissionConfig(cfg, &log), &log, notifier)
	serviceInstance := service.NewService(engine, &log)
	app := api.NewRouters(&api.Routers{
		Service:       serviceInstance,
		AdminAccounts: buildCFG.BuildAdminConfig(cfg, &log).Accounts,
		CORSOrigins:   serverCfg.CORSOrigins,
		Mode:          serverCfg.Mode,
		ServiceName:   tracingCfg.ServiceName,
	})

	srv := &http.Server{
		Addr:              ":" + serverCfg.Port,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Err(err).Msg("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error shutting down server")
	}

	cancelWorkers()
	if reader != nil {
		reader.Stop()
	}
	if direct != nil {
		direct.Wait()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush traces")
	}
	log.Info().Msg("Shutdown complete")
}

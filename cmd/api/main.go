package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoSim-25-26J-441/adsec-backend/config"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/bootstrap"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/cronjob"
	"github.com/GoSim-25-26J-441/adsec-backend/internal/logging"
)

const serviceName = "adsec-backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.App.Environment, cfg.App.LogLevel)
	bootstrap.SetGinMode(cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// runs outlive request contexts but stop on shutdown
	root, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	app, err := bootstrap.NewApp(root, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()
	logger := logging.NewLogger(ctx)

	sweeper := cronjob.NewScheduler(root, app.Assessments, app.Runs)
	if resumed, err := sweeper.ResumeStale(ctx); err != nil {
		logger.LogError("startup.resume", err)
	} else if len(resumed) > 0 {
		logger.LogInfof("startup.resume", "resumed %d interrupted analyses", len(resumed))
	}
	if err := sweeper.Start(cfg.Analysis.ResumeCron); err != nil {
		logger.LogError("startup.cron", err)
	}

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName: serviceName,
		Version:     cfg.App.Version,
		CORSOrigins: cfg.Server.CORSOrigins,
		App:         app,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.LogInfof("startup", "%s %s listening on :%s", serviceName, cfg.App.Version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.LogInfof("shutdown", "shutting down")

	shctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sweeper.Stop()
	if err := srv.Shutdown(shctx); err != nil {
		logger.LogError("shutdown.http", err)
	}
	cancelRuns()
	if err := app.Runs.Shutdown(shctx); err != nil {
		logger.LogError("shutdown.runs", err)
	}
}

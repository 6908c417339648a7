package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-tracker/pkg/etc"
	"github.com/aquasecurity/vuln-tracker/pkg/ext"
	"github.com/aquasecurity/vuln-tracker/pkg/http/api"
	v1 "github.com/aquasecurity/vuln-tracker/pkg/http/api/v1"
	"github.com/aquasecurity/vuln-tracker/pkg/metrics"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence/backend"
	"github.com/aquasecurity/vuln-tracker/pkg/report"
	"github.com/aquasecurity/vuln-tracker/pkg/tracker"
)

var (
	// Default wise GoReleaser sets three ldflags:
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log.SetOutput(os.Stdout)
	log.SetLevel(etc.GetLogLevel())
	log.SetReportCaller(false)
	log.SetFormatter(&log.JSONFormatter{})

	info := etc.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	}

	if err := run(info); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(info etc.BuildInfo) error {
	log.WithFields(log.Fields{
		"version":  info.Version,
		"commit":   info.Commit,
		"built_at": info.Date,
	}).Info("Starting vuln-tracker")

	config, err := etc.GetConfig()
	if err != nil {
		return xerrors.Errorf("getting config: %w", err)
	}
	if err = etc.Check(config); err != nil {
		return xerrors.Errorf("checking config: %w", err)
	}

	ctx := context.Background()
	store, closeStore, err := backend.Open(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	source := report.NewFileSource(config.Reports.Dir, ext.DefaultAmbassador)
	apiHandler := v1.NewAPIHandler(info, tracker.NewTracker(source, store))
	apiServer, err := api.NewServer(config.API, apiHandler)
	if err != nil {
		return xerrors.Errorf("creating API server: %w", err)
	}

	var metricsServer *metrics.Server
	if config.Metrics.Enabled {
		metricsServer = metrics.NewServer(config.Metrics)
	}

	shutdownComplete := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		captured := <-sigint
		log.WithField("signal", captured.String()).Debug("Trapped os signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		apiServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			metricsServer.Shutdown(shutdownCtx)
		}

		close(shutdownComplete)
	}()

	if metricsServer != nil {
		metricsServer.ListenAndServe()
	}
	apiServer.ListenAndServe()

	<-shutdownComplete
	return nil
}

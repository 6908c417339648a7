package main

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/aquasecurity/vuln-tracker/pkg/cli"
	"github.com/aquasecurity/vuln-tracker/pkg/etc"
	"github.com/aquasecurity/vuln-tracker/pkg/ext"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence/backend"
	"github.com/aquasecurity/vuln-tracker/pkg/report"
	"github.com/aquasecurity/vuln-tracker/pkg/tracker"
)

var (
	version = "dev"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetLevel(etc.GetLogLevel())

	config, err := etc.GetConfig()
	if err != nil {
		log.Fatalf("Error: getting config: %v", err)
	}
	if err = etc.Check(config); err != nil {
		log.Fatalf("Error: checking config: %v", err)
	}

	store, closeStore, err := backend.Open(context.Background(), config)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ac := cli.AppConfig{
		Tracker: tracker.NewTracker(report.NewFileSource(config.Reports.Dir, ext.DefaultAmbassador), store),
	}

	err = ac.NewApp(version).Run(os.Args)
	closeStore()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

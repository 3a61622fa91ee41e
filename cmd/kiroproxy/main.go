// Command kiroproxy starts the Anthropic-to-Kiro translation proxy
// (SPEC_FULL.md §4.O), grounded on the teacher's cmd/server/main.go flag
// parsing and internal/api/server.go's Start/Stop graceful-shutdown shape,
// minus the OAuth-login subcommands and tray/installer machinery that have
// no equivalent in this proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiroproxy/kiroproxy/internal/api"
	"github.com/kiroproxy/kiroproxy/internal/config"
	"github.com/kiroproxy/kiroproxy/internal/credential"
	"github.com/kiroproxy/kiroproxy/internal/dispatcher"
	"github.com/kiroproxy/kiroproxy/internal/flow"
	"github.com/kiroproxy/kiroproxy/internal/httptransport"
	"github.com/kiroproxy/kiroproxy/internal/logging"
	"github.com/kiroproxy/kiroproxy/internal/notifier"
	"github.com/kiroproxy/kiroproxy/internal/oauth"
	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.yaml", "path to the kiroproxy YAML configuration file")
	flag.Parse()

	fmt.Printf("kiroproxy %s (%s)\n", version, commit)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("kiroproxy: failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFile)

	fileStore := credential.NewFileStore(cfg.CredentialsFile)
	creds, err := fileStore.LoadAll()
	if err != nil {
		log.WithError(err).Fatal("kiroproxy: failed to load credentials")
	}

	store := credential.NewStore(cfg.FailureThreshold, cfg.LoadBalance == config.LoadBalanceRoundRobin)
	store.Snapshot(creds)

	if cfg.Notifier != nil && cfg.Notifier.WebhookURL != "" {
		store.SetNotifier(notifier.NewWebhook(cfg.Notifier.WebhookURL, nil))
	}

	pool := httptransport.NewPool()
	refresher := oauth.NewRefresher(pool.ClientFor, cfg.TokenSkew())
	disp := &dispatcher.Dispatcher{
		Store:     store,
		Refresher: refresher,
		ClientFor: pool.ClientFor,
		UserAgent: fmt.Sprintf("kiroproxy/%s", version),
	}

	rec := flow.NewRecorder(cfg.FlowHistorySize, "")

	srv := api.NewServer(cfg, store, disp, rec)
	httpServer := &http.Server{Addr: cfg.Listen, Handler: srv.Engine()}

	go func() {
		log.WithField("addr", cfg.Listen).Info("kiroproxy: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("kiroproxy: server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("kiroproxy: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("kiroproxy: graceful shutdown failed")
	}

	if err := fileStore.PersistAll(store.All()); err != nil {
		log.WithError(err).Error("kiroproxy: failed to persist credentials on shutdown")
	}
}

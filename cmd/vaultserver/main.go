package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/guardiavault/vault-recovery-backend/claims"
	"github.com/guardiavault/vault-recovery-backend/cmd/flags"
	"github.com/guardiavault/vault-recovery-backend/fragstore"
	"github.com/guardiavault/vault-recovery-backend/httpserver"
	"github.com/guardiavault/vault-recovery-backend/interfaces"
	"github.com/guardiavault/vault-recovery-backend/notify"
	"github.com/guardiavault/vault-recovery-backend/orchestrator"
	"github.com/guardiavault/vault-recovery-backend/registry"
	"github.com/guardiavault/vault-recovery-backend/storage"
)

func main() {
	app := &cli.App{
		Name:   "vaultserver",
		Usage:  "Serve the guardian vault recovery API",
		Flags:  flags.CommonFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	factory := storage.NewFactory(logger)
	store, err := factory.StoreFor(cCtx.String(flags.StoreFlag.Name))
	if err != nil {
		logger.Error("Failed to open store", "err", err)
		return err
	}
	archives := factory.ArchivesFor(cCtx.StringSlice(flags.ArchiveFlag.Name))

	var notifier interfaces.Notifier
	if endpoint := cCtx.String(flags.NotifyWebhookFlag.Name); endpoint != "" {
		notifier = notify.NewWebhookNotifier(endpoint, logger)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	var publisher interfaces.EventPublisher
	if endpoint := cCtx.String(flags.EventWebhookFlag.Name); endpoint != "" {
		publisher = notify.NewWebhookPublisher(endpoint, logger)
	} else {
		publisher = notify.NewLogPublisher(logger)
	}

	clock := interfaces.RealClock{}
	guardians := registry.New(store, clock, notifier, logger, cCtx.Duration(flags.InviteWindowFlag.Name))
	claimSvc := claims.NewService(store, clock, guardians, publisher, logger)
	fragments := fragstore.NewManager(store, archives, clock, logger)
	orc := orchestrator.New(store, clock, guardians, claimSvc, fragments, notifier, publisher, logger)

	handler := httpserver.NewHandler(orc, guardians, claimSvc, logger)
	srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
	if err != nil {
		logger.Error("Failed to create HTTP server", "err", err)
		return err
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go orc.RunSweeper(sweepCtx, cCtx.Duration(flags.SweepIntervalFlag.Name))

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	srv.RunInBackground()
	<-exit

	stopSweeper()
	srv.Shutdown()

	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close store", "err", err)
		}
	}
	return nil
}

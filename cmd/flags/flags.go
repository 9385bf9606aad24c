// Package flags defines the shared CLI flags and configuration helpers for
// the vault recovery binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/guardiavault/vault-recovery-backend/common"
	"github.com/guardiavault/vault-recovery-backend/httpserver"
)

func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var StoreFlag = &cli.StringFlag{
	Name:  "store",
	Value: "sqlite://vault-recovery.db",
	Usage: "store URI: mem:// or sqlite://path",
}

var ArchiveFlag = &cli.StringSliceFlag{
	Name:  "archive",
	Usage: "fragment archive URI (file://, s3://, vault://, ipfs://); repeatable",
}

var SweepIntervalFlag = &cli.DurationFlag{
	Name:  "sweep-interval",
	Value: time.Minute,
	Usage: "interval between liveness and claim sweeps",
}

var NotifyWebhookFlag = &cli.StringFlag{
	Name:  "notify-webhook",
	Usage: "webhook endpoint for guardian notifications (logs when unset)",
}

var EventWebhookFlag = &cli.StringFlag{
	Name:  "event-webhook",
	Usage: "webhook endpoint for lifecycle events (logs when unset)",
}

var InviteWindowFlag = &cli.DurationFlag{
	Name:  "invite-window",
	Value: 7 * 24 * time.Hour,
	Usage: "how long guardian invitation tokens stay valid",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var CommonFlags = []cli.Flag{
	ListenAddrFlag,
	MetricsAddrFlag,
	StoreFlag,
	ArchiveFlag,
	SweepIntervalFlag,
	NotifyWebhookFlag,
	EventWebhookFlag,
	InviteWindowFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
}

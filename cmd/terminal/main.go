// Command terminal is the process entrypoint: it loads configuration and
// the local identity keyfile, starts the command/event bridge and the
// Prometheus exporter, and runs the engine's command loop until an OS
// signal arrives.
//
// Grounded on the teacher's cmd/main.go wiring order (load env -> dial
// client -> run loop), extended with the bridge/metrics/engine startup
// sequence the expanded spec's ambient stack calls for.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JustAMamont/evm-terminal/configs"
	"github.com/JustAMamont/evm-terminal/internal/bridge"
	"github.com/JustAMamont/evm-terminal/internal/diag"
	"github.com/JustAMamont/evm-terminal/internal/engine"
	"github.com/JustAMamont/evm-terminal/internal/keyfile"
	"github.com/JustAMamont/evm-terminal/internal/metrics"
	"github.com/JustAMamont/evm-terminal/internal/xlog"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yml", "path to operational config yaml")
	networksDir := flag.String("networks-dir", "networks", "directory of per-network json configs")
	keyfilePath := flag.String("keyfile", "identity.key", "path to the encrypted identity keyfile")
	keyfilePassword := flag.String("keyfile-password", os.Getenv("TERMINAL_KEYFILE_PASSWORD"), "password protecting the identity keyfile")
	flag.Parse()

	cfg, err := configs.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := xlog.InitSentry(cfg.Sentry.DSN); err != nil {
		log.Fatalf("init sentry: %v", err)
	}

	id, err := keyfile.LoadOrGenerate(*keyfilePath, *keyfilePassword)
	if err != nil {
		log.Fatalf("load identity keyfile: %v", err)
	}
	pubPEM, _ := id.PublicKeyPEM()

	br := bridge.New(64, 256)
	logger := xlog.New(br)
	logger.Info("identity public key:\n%s", pubPEM)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := br.Serve(ctx, cfg.Bridge.ListenAddr); err != nil && ctx.Err() == nil {
			logger.Error(err, "bridge server exited")
		}
	}()

	go func() {
		if err := metrics.Serve(cfg.Metrics.ListenAddr); err != nil {
			logger.Error(err, "metrics server exited")
		}
	}()

	go diag.Run(ctx, logger, 0)

	eng := engine.New(cfg, br, logger, *networksDir)
	logger.Info("engine starting, bridge on %s, metrics on %s", cfg.Bridge.ListenAddr, cfg.Metrics.ListenAddr)
	eng.Run(ctx)

	logger.Info("engine stopped")
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/edgelink/internal/config"
	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/server"
	"github.com/danmuck/edgelink/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := observability.InitLogger("linkctl")
	configPath := flag.String("config", "cmd/linkctl/config.toml", "link config path")
	flag.Parse()

	cfg, err := config.LoadLinkConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load link config")
	}
	logger.Info().Str("path", *configPath).Str("address", cfg.Address).Msg("loaded link config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("linkctl stopped")
		os.Exit(1)
	}
	logger.Info().Msg("linkctl stopped")
}

func run(ctx context.Context, cfg config.LinkConfig, logger zerolog.Logger) error {
	sc, err := cfg.SessionConfig()
	if err != nil {
		return err
	}
	var hello []byte
	if cfg.Hello != nil {
		if hello, err = cfg.Hello.Encode(); err != nil {
			return err
		}
	}

	tcfg := transport.DefaultConfig(cfg.Address)
	tcfg.Session = sc
	tlog := logger.With().Str("component", "transport").Logger()
	tcfg.Logger = &tlog
	tr, err := transport.New(tcfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	status := server.New(cfg.Name, tr, cfg.CorsOrigins, logger.With().Str("component", "status").Logger())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return status.Serve(gctx, cfg.StatusAddr)
	})
	g.Go(func() error {
		return pump(gctx, tr, hello, logger, status.Feed().Publish)
	})
	return g.Wait()
}

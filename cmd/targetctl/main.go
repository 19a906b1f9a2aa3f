package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/target"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := observability.InitLogger("targetctl")
	configPath := flag.String("config", "cmd/targetctl/config.toml", "target config path")
	flag.Parse()

	cfg, err := loadSettings(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load target config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("targetctl stopped")
		os.Exit(1)
	}
	logger.Info().Msg("targetctl stopped")
}

func run(ctx context.Context, cfg settings, logger zerolog.Logger) error {
	cfg.Target.Logger = &logger
	srv, err := target.Listen(cfg.Target)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(gctx); err != nil && !errors.Is(err, target.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer srv.Close()
		for {
			select {
			case <-gctx.Done():
				return nil
			case f, ok := <-srv.Received():
				if !ok {
					return nil
				}
				logger.Debug().
					Uint8("ticket", frame.Ticket(f)).
					Uint8("message_id", frame.MessageID(f)).
					Int("payload_len", len(frame.Payload(f))).
					Msg("command frame")
			}
		}
	})
	if cfg.PublishInterval > 0 {
		g.Go(func() error {
			return publish(gctx, srv, cfg, logger)
		})
	}
	return g.Wait()
}

// publish emits one event frame per interval, cycling the ticket byte.
func publish(ctx context.Context, srv *target.Server, cfg settings, logger zerolog.Logger) error {
	ticker := time.NewTicker(cfg.PublishInterval)
	defer ticker.Stop()

	var ticket uint8
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		f, err := frame.Encode(ticket, cfg.PublishMessageID, cfg.PublishPayload)
		if err != nil {
			return err
		}
		n := srv.Publish(f)
		logger.Debug().Uint8("ticket", ticket).Int("sessions", n).Msg("event published")
		ticket++
	}
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/edgelink/internal/protocol/frame"
	"github.com/danmuck/edgelink/internal/transport"
	"github.com/rs/zerolog"
)

var errLinkDown = errors.New("linkctl: link down")

// pump connects tr, optionally queues hello, then drains incoming frames on
// every transport event until ctx ends or the link goes down.
func pump(ctx context.Context, tr *transport.Transport, hello []byte, logger zerolog.Logger, onFrame func([]byte)) error {
	if hello != nil {
		tr.BeginSend(hello)
	}
	tr.BeginConnect()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tr.TransportEvent():
		}

		for _, p := range tr.GetIncomingPackets() {
			if transport.IsDisconnectSentinel(p) {
				return fmt.Errorf("%w: %s", errLinkDown, tr.DisconnectMessage())
			}
			logger.Debug().
				Uint8("ticket", frame.Ticket(p)).
				Uint8("message_id", frame.MessageID(p)).
				Int("payload_len", len(frame.Payload(p))).
				Msg("frame received")
			if onFrame != nil {
				onFrame(p)
			}
		}

		if err := tr.Exception(); err != nil {
			switch tr.State() {
			case transport.StateConnecting:
				continue
			case transport.StateConnected:
				if tr.Connected() {
					logger.Warn().Err(err).Msg("link fault, still connected")
					continue
				}
			}
			return fmt.Errorf("%w: %w", errLinkDown, err)
		}
	}
}

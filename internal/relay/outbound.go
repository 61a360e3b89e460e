package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/hub"
	"github.com/nfrund/relay/internal/metrics"
)

// Outbound drains a hub subscription and writes each event to the client.
type Outbound struct {
	Sub          *hub.Subscription
	Writer       FrameWriter
	WriteTimeout time.Duration
	Metrics      *metrics.RelayMetrics
	Logger       *slog.Logger
}

// Run writes events until the hub closes or ctx is cancelled, both of which
// return nil. Lag is counted and skipped. A failed write returns
// *TransportError.
func (p *Outbound) Run(ctx context.Context) error {
	for {
		ev, err := p.Sub.Next(ctx)
		if err != nil {
			var lag *hub.LagError
			switch {
			case errors.As(err, &lag):
				p.Metrics.LagSignals.Inc()
				p.Logger.Debug("Subscriber lagged", "missed", lag.Missed)
				continue
			case errors.Is(err, hub.ErrClosed), ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}

		data, err := events.Encode(ev)
		if err != nil {
			return fmt.Errorf("encode outbound event: %w", err)
		}

		writeCtx, cancel := context.WithTimeout(ctx, p.WriteTimeout)
		err = p.Writer.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &TransportError{Op: "write", Err: err}
		}
	}
}

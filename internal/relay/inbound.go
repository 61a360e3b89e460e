package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/nfrund/relay/internal/config"
	"github.com/nfrund/relay/internal/events"
	"github.com/nfrund/relay/internal/hub"
	"github.com/nfrund/relay/internal/metrics"
)

// Inbound reads frames from a client, decodes them and publishes the events
// to the hub.
type Inbound struct {
	Reader  FrameReader
	Hub     *hub.Hub
	Policy  string
	Metrics *metrics.RelayMetrics
	Logger  *slog.Logger
}

// Run reads until the stream ends. A graceful close returns nil. Under the
// close policy a bad frame returns its *events.DecodeError; under the skip
// policy it is logged and dropped. Socket failures return *TransportError.
// hub.ErrClosed is returned once the hub shuts down.
func (p *Inbound) Run(ctx context.Context) error {
	for {
		typ, data, err := p.Reader.Read(ctx)
		if err != nil {
			if isGracefulClose(err) {
				p.Logger.Debug("Client stream ended")
				return nil
			}
			return &TransportError{Op: "read", Err: err}
		}

		ev, err := decodeFrame(typ, data)
		if err != nil {
			p.Metrics.DecodeErrors.Inc()
			if p.Policy == config.DecodePolicySkip {
				p.Logger.Warn("Dropping undecodable frame", "error", err, "size", len(data))
				continue
			}
			return err
		}

		p.Metrics.EventsReceived.Inc()
		p.Logger.Info("Received message", "type", ev.EventType(), "event", ev)

		if err := p.Hub.Publish(ev); err != nil && !errors.Is(err, hub.ErrNoSubscribers) {
			return err
		}
	}
}

func decodeFrame(typ websocket.MessageType, data []byte) (events.ChatEvent, error) {
	if typ != websocket.MessageText {
		return nil, &events.DecodeError{Raw: data, Err: ErrBinaryFrame}
	}
	return events.Decode(data)
}

func isGracefulClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, io.EOF)
}

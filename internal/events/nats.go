package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/metrics"
)

// MsgPublisher is the part of *nats.Conn the relay needs.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// ConnectNATS dials the NATS server with reconnection enabled.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn("nats disconnected", logging.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("nats reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logging.Info("nats connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// Relay forwards broadcaster events to NATS subjects "<prefix>.<type>".
type Relay struct {
	broadcaster *Broadcaster
	publisher   MsgPublisher
	prefix      string
}

// NewRelay creates a relay. It does nothing until Run is called.
func NewRelay(b *Broadcaster, p MsgPublisher, prefix string) *Relay {
	return &Relay{broadcaster: b, publisher: p, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (r *Relay) Subject(eventType string) string {
	return r.prefix + "." + eventType
}

// Run relays events until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ch := r.broadcaster.Subscribe()
	defer r.broadcaster.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			r.publish(event)
		}
	}
}

func (r *Relay) publish(event Event) {
	data, err := MarshalEvent(event)
	if err != nil {
		metrics.RecordEventPublished(false)
		return
	}
	msg := nats.NewMsg(r.Subject(event.Type))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID)

	if err := r.publisher.PublishMsg(msg); err != nil {
		metrics.RecordEventPublished(false)
		logging.Warn("relay navigation event",
			logging.String("type", event.Type),
			logging.Err(err),
		)
		return
	}
	metrics.RecordEventPublished(true)
}

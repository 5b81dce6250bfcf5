package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fleetpulse/fleetpulse/internal/logging"
)

const subjectPrefix = "fleet.events."

type envelope struct {
	Instance string          `json:"instance"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// Bridge fans events out across server instances through NATS. Each
// instance publishes locally broadcast events and replays events from
// its peers into the local hub. The instance ID filters out echoes of
// our own publishes.
type Bridge struct {
	hub      *Hub
	conn     *nats.Conn
	sub      *nats.Subscription
	instance string
	logger   *logging.Logger
}

type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func NewBridge(cfg NATSConfig, hub *Hub, instanceID string, logger *logging.Logger) (*Bridge, error) {
	if cfg.Name == "" {
		cfg.Name = "fleetpulse"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	b := &Bridge{hub: hub, conn: conn, instance: instanceID, logger: logger}

	sub, err := conn.Subscribe(subjectPrefix+">", b.handleRemote)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to event subjects: %w", err)
	}
	b.sub = sub
	return b, nil
}

// Broadcast delivers locally and publishes to peers. A NATS publish
// failure never blocks local delivery.
func (b *Bridge) Broadcast(ev Event) {
	b.hub.Broadcast(ev)

	data, err := json.Marshal(ev.Data)
	if err != nil {
		b.logger.Warn("marshal realtime event", logging.Error(err))
		return
	}
	payload, err := json.Marshal(envelope{Instance: b.instance, Event: ev.Name, Data: data})
	if err != nil {
		b.logger.Warn("marshal realtime envelope", logging.Error(err))
		return
	}
	if err := b.conn.Publish(subjectPrefix+ev.Name, payload); err != nil {
		b.logger.Warn("publish realtime event", logging.Error(err))
	}
}

func (b *Bridge) handleRemote(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		b.logger.Warn("decode remote realtime event", logging.Error(err))
		return
	}
	if env.Instance == b.instance {
		return
	}
	b.hub.Broadcast(Event{Name: env.Event, Data: env.Data})
}

func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	b.conn.Close()
}

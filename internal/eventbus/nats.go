package eventbus

import (
	"sync"
	"time"

	"github.com/jonyboev-wq/calendarv2/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSBus mirrors the in-process bus across nodes through NATS core
// pub/sub. Local delivery always goes through the embedded events.Bus;
// the NATS leg only carries events to and from other nodes.
type NATSBus struct {
	conn   *nats.Conn
	logger zerolog.Logger
	local  *events.Bus
	nodeID string

	mu     sync.Mutex
	remote map[events.EventType]*nats.Subscription
	counts map[events.EventType]int
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus creates a NATS-backed event bus. If the connection fails the
// bus still works, but events stay node-local.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	if nodeID == "" {
		nodeID = generateNodeID()
	}

	bus := &NATSBus{
		logger: logger,
		local:  events.NewBus(),
		nodeID: nodeID,
		remote: make(map[events.EventType]*nats.Subscription),
		counts: make(map[events.EventType]int),
	}

	opts := []nats.Option{
		nats.Name("calendarv2-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS connection lost, reconnecting")
			}
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info().Msg("reconnected to NATS")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, events stay node-local")
		return bus, nil
	}

	bus.conn = conn
	logger.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("NATS event bus initialized")

	return bus, nil
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := nb.local.Subscribe(eventType)

	nb.mu.Lock()
	defer nb.mu.Unlock()

	nb.counts[eventType]++
	if nb.conn == nil || nb.remote[eventType] != nil {
		return sub
	}

	natsSub, err := nb.conn.Subscribe(subjectFor(eventType), nb.handleRemote)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("NATS subscribe failed")
		return sub
	}
	nb.remote[eventType] = natsSub

	return sub
}

// handleRemote injects events published by other nodes into the local bus.
func (nb *NATSBus) handleRemote(msg *nats.Msg) {
	decoded, err := unmarshalEnvelope(msg.Data)
	if err != nil {
		nb.logger.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode NATS message")
		return
	}

	// Our own publishes come back on the subject as well.
	if decoded.NodeID == nb.nodeID {
		return
	}

	nb.local.Publish(decoded.EventType, decoded.Payload)
}

// Publish sends an event payload to local subscribers and to other nodes.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}

	data, err := marshalEnvelope(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to encode NATS message")
		return
	}
	if err := nb.conn.Publish(subjectFor(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
	}
}

// Unsubscribe removes a subscriber and drops the NATS subscription once the
// last local subscriber for the event type is gone.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)

	nb.mu.Lock()
	defer nb.mu.Unlock()

	if nb.counts[eventType] > 0 {
		nb.counts[eventType]--
	}
	if nb.counts[eventType] > 0 {
		return
	}

	if natsSub := nb.remote[eventType]; natsSub != nil {
		if err := natsSub.Unsubscribe(); err != nil {
			nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("NATS unsubscribe failed")
		}
		delete(nb.remote, eventType)
	}
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}

	nb.logger.Info().Msg("closing NATS event bus")
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return err
	}
	return nil
}

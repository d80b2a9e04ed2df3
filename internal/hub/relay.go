package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/wheelroom/wheelroom/internal/store/memstore"
)

// RelayConfig holds JetStream settings for cross-instance replication.
type RelayConfig struct {
	URL           string
	StreamName    string
	Subject       string
	ConsumerName  string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultRelayConfig returns the default relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		URL:           nats.DefaultURL,
		StreamName:    "WHEELROOM_SYNC",
		Subject:       "wheelroom.sync",
		ConsumerName:  "", // per-instance ephemeral consumer
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// relayEnvelope is one replicated mutation. Origin filters out a hub's own
// published mutations when they echo back.
type relayEnvelope struct {
	Origin string          `json:"origin"`
	Op     string          `json:"op"`
	Path   string          `json:"path"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Relay replicates tree mutations between hub instances through JetStream,
// so several hubs can serve the same rooms.
type Relay struct {
	store      *memstore.Store
	config     RelayConfig
	instanceID string

	nc *nats.Conn
	js jetstream.JetStream
}

// NewRelay connects to NATS and ensures the sync stream exists.
func NewRelay(ctx context.Context, st *memstore.Store, config RelayConfig) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{config.Subject},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure sync stream: %w", err)
	}

	return &Relay{
		store:      st,
		config:     config,
		instanceID: uuid.New().String()[:8],
		nc:         nc,
		js:         js,
	}, nil
}

// Publish replicates a locally originated mutation. Failures are logged;
// local state is already applied and must not roll back.
func (r *Relay) Publish(m memstore.Mutation) {
	env := relayEnvelope{
		Origin: r.instanceID,
		Op:     m.Op,
		Path:   m.Path,
		Value:  m.Value,
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("marshal relay envelope")
		return
	}
	if _, err := r.js.PublishAsync(r.config.Subject, data); err != nil {
		log.Error().Err(err).Str("path", m.Path).Msg("publish mutation")
	}
}

// Start consumes replicated mutations until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	stream, err := r.js.Stream(ctx, r.config.StreamName)
	if err != nil {
		return fmt.Errorf("get sync stream: %w", err)
	}

	name := r.config.ConsumerName
	if name == "" {
		name = "wheelroom-hub-" + r.instanceID
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          name,
		FilterSubject: r.config.Subject,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("create sync consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := r.apply(msg.Data()); err != nil {
			log.Error().Err(err).Msg("apply replicated mutation")
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("start sync consumer: %w", err)
	}
	defer cc.Stop()

	log.Info().Str("instance", r.instanceID).Str("stream", r.config.StreamName).Msg("relay consuming")
	<-ctx.Done()
	return nil
}

func (r *Relay) apply(data []byte) error {
	var env relayEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("unmarshal relay envelope: %w", err)
	}
	if env.Origin == r.instanceID {
		return nil
	}
	return r.store.ApplyRemote(memstore.Mutation{
		Op:    env.Op,
		Path:  env.Path,
		Value: env.Value,
	})
}

// Stop closes the NATS connection.
func (r *Relay) Stop() {
	if r.nc != nil {
		r.nc.Close()
	}
}

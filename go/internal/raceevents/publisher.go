package raceevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	streamName    = "RACE_EVENTS"
	subjectPrefix = "race.events."

	maxReconnects = 10
	reconnectWait = 2 * time.Second
)

// Publisher fans race lifecycle events out over NATS JetStream so
// overlays, leaderboards and recorders can consume them without touching
// the session server.
type Publisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials NATS, sets up JetStream and makes sure the race event
// stream exists.
func Connect(ctx context.Context, natsURL string) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "FlowSync race lifecycle events",
		Subjects:    []string{subjectPrefix + ">"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure race event stream: %w", err)
	}

	return &Publisher{nc: nc, js: js}, nil
}

// Publish serializes the payload and publishes it under the race event
// subject prefix.
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subjectPrefix+subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	log.Debug().Str("subject", subject).Msg("race event published")
	return nil
}

// Close tears the NATS connection down.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

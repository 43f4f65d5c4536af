package natsclient

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// StreamSystemEvents is the durable stream carrying raw system activity
	// envelopes (process, file, registry, network, image-load) published by
	// the host-side event producer for the recorder's natsfeed consumer.
	StreamSystemEvents = "SYSTEM_EVENTS"
	// SubjectSystemEvents captures every raw system activity envelope.
	SubjectSystemEvents = "SYSTEM_EVENTS.>"
)

var systemEventsSubjects = []string{SubjectSystemEvents}

// ProvisionSystemEventsStream idempotently ensures the SYSTEM_EVENTS
// JetStream stream exists, for the recorder's natsfeed consumer. It creates
// the stream on first run and is a no-op if the stream already exists.
func (c *Client) ProvisionSystemEventsStream() error {
	return c.provisionStream(StreamSystemEvents, systemEventsSubjects)
}

func (c *Client) provisionStream(name string, subjects []string) error {
	info, err := c.JS.StreamInfo(name)
	if err == nil {
		// Stream exists — its subjects are left as they are, not compared.
		_ = info
		c.Log.Info("NATS stream already exists", zap.String("stream", name))
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	// Stream does not exist — create it.
	cfg := &nats.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
	}

	if _, err := c.JS.AddStream(cfg); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	c.Log.Info("NATS stream provisioned",
		zap.String("stream", name),
		zap.Strings("subjects", subjects),
	)
	return nil
}

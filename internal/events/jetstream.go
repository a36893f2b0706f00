package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamName is the JetStream stream holding job events.
const StreamName = "CHAT_JOBS"

// JetStreamPublisher publishes events to a JetStream stream.
type JetStreamPublisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
	log  zerolog.Logger
}

// Connect dials url, ensures the stream exists and returns a publisher.
func Connect(ctx context.Context, url string, log zerolog.Logger) (*JetStreamPublisher, error) {
	if url == "" {
		return nil, errors.New("events: nats url is empty")
	}
	nc, err := nats.Connect(url,
		nats.Name("assessment-chat"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStream(ctx, js); err != nil {
		nc.Close()
		return nil, err
	}
	return &JetStreamPublisher{conn: nc, js: js, log: log}, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream) error {
	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}
	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".*.job.*"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Generation and webhook job lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	return nil
}

// Publish sends ev and waits for the stream ack.
func (p *JetStreamPublisher) Publish(ctx context.Context, ev JobEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	subject := Subject(ev.ConversationID, ev.Status)
	if _, err := p.js.Publish(ctx, subject, body, jetstream.WithMsgID(ev.JobID+"."+ev.Status)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection.
func (p *JetStreamPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("nats drain failed")
	}
}

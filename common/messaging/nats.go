package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LexiconIndonesia/ocr-worker-service/common/config"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("not connected to NATS")

// NatsClient represents a NATS client
type NatsClient struct {
	conn        *nats.Conn
	js          jetstream.JetStream
	config      config.Config
	subscribers map[string]*nats.Subscription
	mu          sync.Mutex
}

// NewNatsClient creates a new NATS client
func NewNatsClient(config config.Config) (*NatsClient, error) {

	client := &NatsClient{
		config:      config,
		subscribers: make(map[string]*nats.Subscription),
	}

	// Connect to NATS
	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

// connect connects to the NATS server
func (c *NatsClient) connect() error {
	var err error

	opts := []nats.Option{
		nats.Name("ocr-worker-service"),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("server", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			event := log.Error().Err(err)
			if sub != nil {
				event = event.Str("subject", sub.Subject)
			}
			event.Msg("Error handling NATS message")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}

	// Add auth if provided
	if c.config.Nats.Username != "" && c.config.Nats.Password != "" {
		opts = append(opts, nats.UserInfo(c.config.Nats.Username, c.config.Nats.Password))
	}

	c.conn, err = nats.Connect(c.config.Nats.URL(), opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if c.config.Nats.JetStreamEnabled {
		js, err := jetstream.New(c.conn)
		if err != nil {
			return fmt.Errorf("failed to create JetStream context: %w", err)
		}
		c.js = js
	}

	log.Info().Str("server", c.conn.ConnectedUrl()).Msg("Connected to NATS")
	return nil
}

// Close drains the connection, unsubscribing gracefully
func (c *NatsClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return c.conn.Drain()
	}
	return nil
}

// Publish publishes a message to a subject
func (c *NatsClient) Publish(subject string, data []byte) error {
	if c.conn == nil || !c.conn.IsConnected() {
		return ErrNotConnected
	}

	return c.conn.Publish(subject, data)
}

// PublishAsync publishes a message to a JetStream subject and logs the ack
// in the background
func (c *NatsClient) PublishAsync(subject string, data []byte) (jetstream.PubAckFuture, error) {
	if c.js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}

	ack, err := c.js.PublishAsync(subject, data)
	if err != nil {
		return nil, fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}

	go func() {
		select {
		case pubAck := <-ack.Ok():
			if pubAck != nil {
				log.Debug().Str("subject", subject).
					Str("stream", pubAck.Stream).
					Uint64("seq", pubAck.Sequence).
					Msg("Message acknowledged")
			}
		case err := <-ack.Err():
			if err != nil {
				log.Error().Err(err).
					Str("subject", subject).
					Msg("Error publishing message")
			}
		case <-time.After(5 * time.Second):
			log.Warn().Str("subject", subject).
				Msg("Timeout waiting for message acknowledgement")
		}
	}()

	return ack, nil
}

// Request sends a request and waits for a response until ctx is done
func (c *NatsClient) Request(ctx context.Context, subject string, data []byte) (*nats.Msg, error) {
	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	return c.conn.RequestWithContext(ctx, subject, data)
}

// Subscribe subscribes to a subject
func (c *NatsClient) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.subscribers[subject] = sub
	log.Debug().Str("subject", subject).Msg("Subscribed to NATS subject")
	return sub, nil
}

// QueueSubscribe subscribes to a subject with a queue group
func (c *NatsClient) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := c.conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to queue subscribe to %s: %w", subject, err)
	}

	c.subscribers[subject+":"+queue] = sub
	log.Info().Str("subject", subject).Str("queue", queue).Msg("Subscribed to NATS queue")
	return sub, nil
}

// Unsubscribe removes the subscription registered for subject
func (c *NatsClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subscribers[subject]
	if !ok {
		return nil
	}
	delete(c.subscribers, subject)
	return sub.Unsubscribe()
}

// CreateStream creates or updates a JetStream stream
func (c *NatsClient) CreateStream(ctx context.Context, config jetstream.StreamConfig) (jetstream.Stream, error) {
	if c.js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	log.Info().
		Str("name", info.Config.Name).
		Strs("subjects", info.Config.Subjects).
		Msg("Created JetStream stream")

	return stream, nil
}

// GetStream gets a JetStream stream
func (c *NatsClient) GetStream(ctx context.Context, streamName string) (jetstream.Stream, error) {
	if c.js == nil {
		return nil, fmt.Errorf("JetStream not initialized")
	}

	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	return stream, nil
}

// JetStreamEnabled reports whether the client has a JetStream context
func (c *NatsClient) JetStreamEnabled() bool {
	return c.js != nil
}

// GetConn returns the NATS connection
func (c *NatsClient) GetConn() *nats.Conn {
	return c.conn
}

// SetupNatsClient initializes the NATS client
func SetupNatsClient(cfg config.Config) (*NatsClient, error) {

	client, err := NewNatsClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating NATS client: %w", err)
	}

	return client, nil
}

// Package natsbus carries vault frames over NATS. External callers send
// frames with request/reply, trusted tools send internal requests on a
// separate subject, and new approval requests are announced on a third.
// Access to the internal subject is controlled by NATS permissions.
package natsbus

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/config"
	"github.com/mesmerverse/maci-keyvault/internal/protocol"
	"github.com/mesmerverse/maci-keyvault/internal/router"
)

// Client wraps a NATS connection
type Client struct {
	conn   *nats.Conn
	config config.NATSConfig
	subs   []*nats.Subscription
}

// Connect opens a NATS connection named name
func Connect(cfg config.NATSConfig, name string) (*Client, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Millisecond),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}

	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err == nil {
			opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
		} else {
			log.Warn().Str("path", cfg.CredentialsFile).Msg("NATS credentials file not found, connecting without it")
		}
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Client{conn: conn, config: cfg}, nil
}

// Subscribe registers handler for subject
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.subs = append(c.subs, sub)
	log.Debug().Str("subject", subject).Msg("Subscribed to NATS")
	return nil
}

// Publish publishes a message to a subject
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Request sends a request and waits for the response or for ctx to end
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// RequestFrame sends an external frame and decodes the reply
func (c *Client) RequestFrame(ctx context.Context, subject string, codec protocol.Codec, f protocol.Frame) (protocol.Frame, error) {
	data, err := codec.Marshal(f)
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("failed to encode frame: %w", err)
	}

	resp, err := c.Request(ctx, subject, data)
	if err != nil {
		return protocol.Frame{}, err
	}

	var reply protocol.Frame
	if err := codec.Unmarshal(resp, &reply); err != nil {
		return protocol.Frame{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	return reply, nil
}

// RequestInternal sends an internal request and decodes the result
func (c *Client) RequestInternal(ctx context.Context, subject string, codec protocol.Codec, req router.InternalRequest) (protocol.Result, error) {
	data, err := codec.Marshal(req)
	if err != nil {
		return protocol.Result{}, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.Request(ctx, subject, data)
	if err != nil {
		return protocol.Result{}, err
	}

	var res protocol.Result
	if err := codec.Unmarshal(resp, &res); err != nil {
		return protocol.Result{}, fmt.Errorf("failed to decode result: %w", err)
	}
	return res, nil
}

// Close unsubscribes and closes the connection
func (c *Client) Close() {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("subject", sub.Subject).Msg("Unsubscribe failed")
		}
	}
	c.conn.Close()
}

// IsConnected returns true if connected to NATS
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Status returns the connection status
func (c *Client) Status() string {
	switch c.conn.Status() {
	case nats.CONNECTED:
		return "connected"
	case nats.CONNECTING:
		return "connecting"
	case nats.RECONNECTING:
		return "reconnecting"
	case nats.DISCONNECTED:
		return "disconnected"
	case nats.CLOSED:
		return "closed"
	default:
		return "unknown"
	}
}

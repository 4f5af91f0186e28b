// Package realtime subscribes to the backend's push channel and hands each
// event to a handler, typically messaging.Orchestrator.ApplyEvent.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/4xmen/kelasyar/internal/api"
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/internal/session"
	"github.com/4xmen/kelasyar/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	handshakeWait  = 10 * time.Second
	maxMessageSize = 1 << 20
)

type Handler func(models.Event)

type TokenSource interface {
	Token() string
}

type Client struct {
	url        string
	creds      TokenSource
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	onConnect  func()
}

type Option func(*Client)

// WithBackoff sets the reconnect delay range. The delay doubles after every
// failed attempt and resets once a connection is up.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		if min > 0 {
			c.minBackoff = min
		}
		if max >= c.minBackoff {
			c.maxBackoff = max
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// OnConnect is called each time a connection is established. Callers use it
// to reload state that may have been missed while disconnected.
func OnConnect(fn func()) Option {
	return func(c *Client) { c.onConnect = fn }
}

func New(wsURL string, creds TokenSource, opts ...Option) *Client {
	c := &Client{
		url:        wsURL,
		creds:      creds,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeWait},
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run keeps a subscription open until ctx is done, reconnecting after
// failures. It returns nil when ctx ends, session.ErrSignedOut without a
// token, and api.ErrUnauthorized when the backend rejects the token.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	backoff := c.minBackoff
	for {
		token := c.creds.Token()
		if token == "" {
			return session.ErrSignedOut
		}

		conn, err := c.dial(ctx, token)
		switch {
		case err == nil:
			backoff = c.minBackoff
			if c.onConnect != nil {
				c.onConnect()
			}
			err = c.read(ctx, conn, handle)
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn().Err(err).Msg("push connection lost")
		case errors.Is(err, api.ErrUnauthorized):
			return err
		case ctx.Err() != nil:
			return nil
		default:
			logger.Warn().Err(err).Dur("retry_in", backoff).Msg("push connection failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("invalid push url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized {
				return nil, &api.Error{Status: resp.StatusCode, Message: "push channel rejected token"}
			}
		}
		return nil, err
	}
	logger.Debug().Str("url", c.url).Msg("push connected")
	return conn, nil
}

// read delivers events until the connection fails or ctx ends.
func (c *Client) read(ctx context.Context, conn *websocket.Conn, handle Handler) error {
	var once sync.Once
	closeConn := func() { once.Do(func() { conn.Close() }) }
	defer closeConn()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		closeConn()
	})
	defer stop()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Debug().Err(err).Msg("ignoring malformed push event")
			continue
		}
		handle(ev)
	}
}

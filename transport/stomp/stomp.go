// Package stomp carries STOMP 1.2 frames over a WebSocket connection, the way
// the order backend's broker endpoint expects.
package stomp

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	apperrors "order-monitor/errors"
	"order-monitor/transport"
)

// Subprotocol is the WebSocket subprotocol for STOMP 1.2.
const Subprotocol = "v12.stomp"

type Options struct {
	URL       string
	Host      string
	Login     string
	Passcode  string
	HeartBeat time.Duration
	// Buffer is the capacity of the shared message channel.
	Buffer int
}

type Transport struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Transport {
	if opts.Host == "" {
		opts.Host = "/"
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{opts: opts, logger: logger}
}

func (t *Transport) Name() string { return "stomp" }

// Dial opens the WebSocket and performs the STOMP handshake.
func (t *Transport) Dial(ctx context.Context) (transport.Conn, error) {
	origin, err := originFor(t.opts.URL)
	if err != nil {
		return nil, apperrors.Transport("invalid websocket url", err)
	}
	wsCfg, err := websocket.NewConfig(t.opts.URL, origin)
	if err != nil {
		return nil, apperrors.Transport("invalid websocket url", err)
	}
	wsCfg.Protocol = []string{Subprotocol}

	ws, err := wsCfg.DialContext(ctx)
	if err != nil {
		return nil, apperrors.Transport("websocket dial", err)
	}
	ws.PayloadType = websocket.TextFrame

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(t.opts.Host),
		stomp.ConnOpt.HeartBeat(t.opts.HeartBeat, t.opts.HeartBeat),
		stomp.ConnOpt.AcceptVersion(stomp.V12),
	}
	if t.opts.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(t.opts.Login, t.opts.Passcode))
	}

	// the handshake itself has no context; closing the socket unblocks it
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	sc, err := stomp.Connect(ws, opts...)
	if !stop() {
		if sc != nil {
			_ = sc.MustDisconnect()
		}
		return nil, apperrors.Transport("stomp handshake", ctx.Err())
	}
	if err != nil {
		_ = ws.Close()
		return nil, apperrors.Transport("stomp handshake", err)
	}

	t.logger.Info("stomp session established",
		zap.String("url", t.opts.URL),
		zap.String("server", sc.Server()),
		zap.String("version", string(sc.Version())),
	)
	return newConn(ws, sc, t.opts.Buffer, t.logger), nil
}

func originFor(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path, u.RawQuery = "", ""
	return u.String(), nil
}

// conn fans every subscription into one channel.
type conn struct {
	ws     *websocket.Conn
	sc     *stomp.Conn
	msgs   chan transport.Message
	done   chan struct{}
	logger *zap.Logger

	wg   sync.WaitGroup
	once sync.Once
	mu   sync.Mutex
	err  error
}

func newConn(ws *websocket.Conn, sc *stomp.Conn, buffer int, logger *zap.Logger) *conn {
	return &conn{
		ws:     ws,
		sc:     sc,
		msgs:   make(chan transport.Message, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *conn) Subscribe(topic string) error {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.wg.Add(1)
	c.mu.Unlock()

	sub, err := c.sc.Subscribe(topic, stomp.AckAuto)
	if err != nil {
		c.wg.Done()
		return apperrors.Transport("subscribe "+topic, err)
	}
	go c.forward(topic, sub)
	return nil
}

func (c *conn) forward(topic string, sub *stomp.Subscription) {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case m, ok := <-sub.C:
			if !ok {
				c.fail(apperrors.Transport("subscription ended", fmt.Errorf("%s closed", topic)))
				return
			}
			if m.Err != nil {
				// heartbeat loss and broker ERROR frames both arrive here
				c.fail(apperrors.Transport("stomp session failed", m.Err))
				return
			}
			dest := m.Destination
			if dest == "" {
				dest = topic
			}
			select {
			case c.msgs <- transport.Message{Topic: dest, Payload: m.Body}:
			case <-c.done:
				return
			}
		}
	}
}

func (c *conn) Messages() <-chan transport.Message { return c.msgs }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *conn) Close() error {
	c.fail(transport.ErrClosed)
	return nil
}

func (c *conn) fail(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)

		// no DISCONNECT receipt wait: Close runs on the dispatch goroutine
		if dErr := c.sc.MustDisconnect(); dErr != nil {
			c.logger.Debug("stomp disconnect", zap.Error(dErr))
		}
		_ = c.ws.Close()

		go func() {
			c.wg.Wait()
			close(c.msgs)
		}()
	})
}

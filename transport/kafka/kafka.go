// Package kafka consumes the backend's broadcasts mirrored onto Kafka, one
// Kafka topic per STOMP destination.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	apperrors "order-monitor/errors"
	"order-monitor/transport"
)

type Options struct {
	Brokers []string
	GroupID string
	// DialTimeout bounds the broker reachability check in Dial.
	DialTimeout time.Duration
}

type Transport struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Transport {
	if opts.GroupID == "" {
		opts.GroupID = "order-monitor"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{opts: opts, logger: logger}
}

func (t *Transport) Name() string { return "kafka" }

// TopicFor maps a STOMP destination such as "/topic/hoa-don-list" onto its
// Kafka topic "hoa-don-list".
func TopicFor(destination string) string {
	if i := strings.LastIndex(destination, "/"); i >= 0 {
		return destination[i+1:]
	}
	return destination
}

// Dial checks that at least one broker answers. The group reader itself is
// created once the subscriptions are known.
func (t *Transport) Dial(ctx context.Context) (transport.Conn, error) {
	if len(t.opts.Brokers) == 0 {
		return nil, apperrors.Transport("kafka dial", errors.New("no brokers configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.DialTimeout)
	defer cancel()

	var errs []error
	for _, broker := range t.opts.Brokers {
		c, err := kafkago.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		_ = c.Close()
		t.logger.Info("kafka broker reachable", zap.String("broker", broker))
		return newConn(t.opts, t.logger), nil
	}
	return nil, apperrors.Transport("kafka dial", errors.Join(errs...))
}

type conn struct {
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	topics []string
	reader *kafkago.Reader
	err    error
	closed bool

	msgs   chan transport.Message
	start  sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(opts Options, logger *zap.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		opts:   opts,
		logger: logger,
		msgs:   make(chan transport.Message, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe must be called before Messages; later subscriptions would need a
// new consumer group session.
func (c *conn) Subscribe(destination string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	if c.reader != nil {
		return apperrors.Transport("kafka subscribe", fmt.Errorf("reader already running, cannot add %s", destination))
	}
	topic := TopicFor(destination)
	if topic == "" {
		return apperrors.Transport("kafka subscribe", fmt.Errorf("empty topic for %q", destination))
	}
	c.topics = append(c.topics, topic)
	return nil
}

func (c *conn) Messages() <-chan transport.Message {
	c.start.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || len(c.topics) == 0 {
			c.err = apperrors.Transport("kafka", errors.New("no subscriptions"))
			close(c.msgs)
			return
		}
		c.reader = kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     c.opts.Brokers,
			GroupID:     c.opts.GroupID,
			GroupTopics: c.topics,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     time.Second,
			StartOffset: kafkago.LastOffset,
		})
		c.logger.Info("kafka reader started", zap.Strings("topics", c.topics), zap.String("group_id", c.opts.GroupID))
		go c.read(c.reader)
	})
	return c.msgs
}

func (c *conn) read(r *kafkago.Reader) {
	defer close(c.msgs)
	for {
		m, err := r.ReadMessage(c.ctx)
		if err != nil {
			c.setErr(err)
			return
		}
		select {
		case c.msgs <- transport.Message{Topic: m.Topic, Payload: m.Value}:
		case <-c.ctx.Done():
			c.setErr(c.ctx.Err())
			return
		}
	}
}

func (c *conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if c.closed || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		c.err = transport.ErrClosed
		return
	}
	c.err = apperrors.Transport("kafka read", err)
}

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	r := c.reader
	c.mu.Unlock()

	c.cancel()
	if r != nil {
		return r.Close()
	}
	return nil
}

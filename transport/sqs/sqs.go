// Package sqs consumes the backend's broadcasts fanned out through SNS into
// an SQS queue. The topic is recovered from the SNS envelope.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "order-monitor/errors"
	aws_pkg "order-monitor/pkg/aws"
	"order-monitor/transport"
)

type Options struct {
	QueueURL  string
	QueueName string
	// WaitSeconds is the long-poll duration per receive.
	WaitSeconds int32
	// MaxFailures is how many consecutive receive errors end the stream.
	MaxFailures int
	// FailureBackoff separates failed receives.
	FailureBackoff time.Duration
}

type Transport struct {
	api    aws_pkg.SQSAPI
	opts   Options
	logger *zap.Logger
}

func New(api aws_pkg.SQSAPI, opts Options, logger *zap.Logger) *Transport {
	if opts.WaitSeconds <= 0 {
		opts.WaitSeconds = 20
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	if opts.FailureBackoff <= 0 {
		opts.FailureBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{api: api, opts: opts, logger: logger}
}

func (t *Transport) Name() string { return "sqs" }

// Dial resolves the queue URL; resolving it is the reachability check.
func (t *Transport) Dial(ctx context.Context) (transport.Conn, error) {
	queueURL := t.opts.QueueURL
	if queueURL == "" {
		u, err := aws_pkg.GetQueueURL(ctx, t.api, t.opts.QueueName)
		if err != nil {
			return nil, apperrors.Transport("sqs dial", err)
		}
		queueURL = u
	}
	t.logger.Info("sqs queue resolved", zap.String("queue", queueURL))
	return newConn(aws_pkg.NewSQSConsumerWithAPI(t.api, queueURL), t.opts, t.logger), nil
}

// snsEnvelope unwraps the SNS → SQS message wrapper
type snsEnvelope struct {
	Type              string `json:"Type"`
	TopicArn          string `json:"TopicArn"`
	Message           string `json:"Message"`
	MessageAttributes map[string]struct {
		Type  string `json:"Type"`
		Value string `json:"Value"`
	} `json:"MessageAttributes"`
}

// DecodeBody turns one SQS body into a Message. SNS notifications take their
// topic from a "destination" attribute or the TopicArn suffix; anything else
// must be a transport.Envelope.
func DecodeBody(body string) (transport.Message, error) {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err == nil && env.TopicArn != "" {
		topic := env.TopicArn[strings.LastIndex(env.TopicArn, ":")+1:]
		if attr, ok := env.MessageAttributes["destination"]; ok && attr.Value != "" {
			topic = attr.Value
		}
		return transport.Message{Topic: topic, Payload: []byte(env.Message)}, nil
	}
	return transport.DecodeEnvelope([]byte(body))
}

type conn struct {
	consumer *aws_pkg.SQSConsumer
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	topics map[string]bool
	err    error
	closed bool

	msgs   chan transport.Message
	start  sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(consumer *aws_pkg.SQSConsumer, opts Options, logger *zap.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		consumer: consumer,
		opts:     opts,
		logger:   logger,
		topics:   make(map[string]bool),
		msgs:     make(chan transport.Message, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func topicKey(topic string) string {
	if i := strings.LastIndexAny(topic, "/:."); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// Subscribe adds topic to the accepted set; messages on other topics are
// acknowledged and skipped.
func (c *conn) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.topics[topicKey(topic)] = true
	return nil
}

func (c *conn) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topicKey(topic)]
}

func (c *conn) Messages() <-chan transport.Message {
	c.start.Do(func() { go c.poll() })
	return c.msgs
}

func (c *conn) poll() {
	defer close(c.msgs)
	failures := 0
	for {
		if c.ctx.Err() != nil {
			c.setErr(transport.ErrClosed)
			return
		}
		batch, err := c.consumer.Receive(c.ctx, c.opts.WaitSeconds)
		if err != nil {
			if c.ctx.Err() != nil {
				c.setErr(transport.ErrClosed)
				return
			}
			failures++
			c.logger.Warn("SQS receive error", zap.Error(err), zap.Int("failures", failures))
			if failures >= c.opts.MaxFailures {
				c.setErr(apperrors.Transport("sqs receive", err))
				return
			}
			select {
			case <-time.After(c.opts.FailureBackoff):
			case <-c.ctx.Done():
			}
			continue
		}
		failures = 0

		for _, raw := range batch {
			if raw.Body == nil {
				continue
			}
			msg, err := DecodeBody(*raw.Body)
			switch {
			case err != nil:
				c.logger.Warn("undecodable SQS body", zap.Error(err))
			case !c.subscribed(msg.Topic):
				c.logger.Debug("skipping unsubscribed topic", zap.String("topic", msg.Topic))
			default:
				select {
				case c.msgs <- msg:
				case <-c.ctx.Done():
					c.setErr(transport.ErrClosed)
					return
				}
			}
			// acknowledged whether handed off or skipped
			if err := c.consumer.Delete(c.ctx, raw.ReceiptHandle); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("failed to delete SQS message", zap.Error(err))
			}
		}
	}
}

func (c *conn) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return nil
}

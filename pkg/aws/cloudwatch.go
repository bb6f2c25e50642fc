package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// CloudWatchLogsAPI is the part of the CloudWatch Logs client used here.
type CloudWatchLogsAPI interface {
	CreateLogGroup(ctx context.Context, in *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, in *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchLogsClient buffers encoded log entries and ships them to one log
// stream in batches. It is a zapcore.WriteSyncer: Sync sends whatever is
// buffered.
type CloudWatchLogsClient struct {
	client CloudWatchLogsAPI
	group  string
	stream string

	mu      sync.Mutex
	pending []types.InputLogEvent
	bytes   int
	oldest  time.Time
}

const (
	// DefaultLogGroup receives monitor logs unless CLOUDWATCH_LOG_GROUP is set.
	DefaultLogGroup = "/order-monitor"

	logBatchEvents = 100
	logBatchBytes  = 512 << 10
	logBatchAge    = 5 * time.Second
	logRetention   = 14
)

// NewCloudWatchLogsClient creates the log group and a fresh stream named
// after instance.
func NewCloudWatchLogsClient(ctx context.Context, instance string) (*CloudWatchLogsClient, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	group := os.Getenv("CLOUDWATCH_LOG_GROUP")
	if group == "" {
		group = DefaultLogGroup
	}
	return NewCloudWatchLogsClientWithAPI(ctx, cloudwatchlogs.NewFromConfig(cfg), group, instance)
}

func NewCloudWatchLogsClientWithAPI(ctx context.Context, api CloudWatchLogsAPI, group, instance string) (*CloudWatchLogsClient, error) {
	c := &CloudWatchLogsClient{
		client: api,
		group:  group,
		stream: fmt.Sprintf("%s-%d", instance, time.Now().Unix()),
	}
	if err := c.ensureGroup(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare log group %s: %w", group, err)
	}
	if _, err := api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(c.group),
		LogStreamName: aws.String(c.stream),
	}); err != nil {
		return nil, fmt.Errorf("failed to create log stream %s: %w", c.stream, err)
	}
	return c, nil
}

func (c *CloudWatchLogsClient) ensureGroup(ctx context.Context) error {
	_, err := c.client.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(c.group)})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return err
	}
	_, err = c.client.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(c.group),
		RetentionInDays: aws.Int32(logRetention),
	})
	return err
}

func (c *CloudWatchLogsClient) StreamName() string { return c.stream }

// Write buffers one encoded entry and ships the batch once it is full or its
// oldest entry is older than a few seconds. Shipping failures go to stderr
// and never fail the caller's log call.
func (c *CloudWatchLogsClient) Write(p []byte) (int, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		c.oldest = now
	}
	c.pending = append(c.pending, types.InputLogEvent{
		Message:   aws.String(string(p)),
		Timestamp: aws.Int64(now.UnixMilli()),
	})
	c.bytes += len(p)

	if len(c.pending) >= logBatchEvents || c.bytes >= logBatchBytes || now.Sub(c.oldest) >= logBatchAge {
		c.flushLocked()
	}
	return len(p), nil
}

// Sync ships everything buffered.
func (c *CloudWatchLogsClient) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *CloudWatchLogsClient) flushLocked() error {
	if len(c.pending) == 0 {
		return nil
	}
	batch := c.pending
	c.pending, c.bytes = nil, 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(c.group),
		LogStreamName: aws.String(c.stream),
		LogEvents:     batch,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "CloudWatch Logs: dropped %d entries: %v\n", len(batch), err)
		return fmt.Errorf("failed to put log events: %w", err)
	}
	return nil
}

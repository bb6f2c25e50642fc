package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI is the part of the CloudWatch client used here.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsClient wraps AWS CloudWatch Metrics operations. A disabled client
// accepts every call and sends nothing.
type MetricsClient struct {
	client    CloudWatchAPI
	namespace string
	enabled   bool
}

// DefaultNamespace groups all monitor metrics.
const DefaultNamespace = "OrderMonitor"

// NewMetricsClient creates a CloudWatch Metrics client.
func NewMetricsClient(ctx context.Context, namespace string, enabled bool) (*MetricsClient, error) {
	if !enabled {
		return NewMetricsClientWithAPI(nil, namespace, false), nil
	}
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewMetricsClientWithAPI(cloudwatch.NewFromConfig(cfg), namespace, true), nil
}

func NewMetricsClientWithAPI(api CloudWatchAPI, namespace string, enabled bool) *MetricsClient {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &MetricsClient{client: api, namespace: namespace, enabled: enabled && api != nil}
}

// PutMetric sends a single metric data point to CloudWatch
func (m *MetricsClient) PutMetric(ctx context.Context, metricName string, value float64, unit types.StandardUnit, dimensions map[string]string) error {
	if m == nil || !m.enabled {
		return nil
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []types.MetricDatum{Datum(metricName, value, unit, dimensions)},
	})
	if err != nil {
		return fmt.Errorf("failed to put metric: %w", err)
	}
	return nil
}

// PutMetricBatch sends multiple metric data points, 20 per request.
func (m *MetricsClient) PutMetricBatch(ctx context.Context, metrics []types.MetricDatum) error {
	if m == nil || !m.enabled || len(metrics) == 0 {
		return nil
	}

	const batchSize = 20
	for i := 0; i < len(metrics); i += batchSize {
		end := min(i+batchSize, len(metrics))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: metrics[i:end],
		})
		if err != nil {
			return fmt.Errorf("failed to put metric batch: %w", err)
		}
	}
	return nil
}

// RecordCount records n occurrences of a counter metric.
func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, n int64, dimensions map[string]string) error {
	return m.PutMetric(ctx, metricName, float64(n), types.StandardUnitCount, dimensions)
}

func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled
}

// Datum builds one data point with dimensions in a stable order.
func Datum(metricName string, value float64, unit types.StandardUnit, dimensions map[string]string) types.MetricDatum {
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dims := make([]types.Dimension, 0, len(keys))
	for _, k := range keys {
		dims = append(dims, types.Dimension{Name: aws.String(k), Value: aws.String(dimensions[k])})
	}
	return types.MetricDatum{
		MetricName: aws.String(metricName),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: dims,
	}
}

// Metric names
const (
	// HTTP metrics
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPLatency  = "HTTPLatency"
	MetricHTTP4xx      = "HTTP4xxErrors"
	MetricHTTP5xx      = "HTTP5xxErrors"

	// Pipeline metrics
	MetricMessagesDecoded   = "MessagesDecoded"
	MetricMessagesDropped   = "MessagesDropped"
	MetricReconnectAttempts = "ReconnectAttempts"
	MetricConnected         = "Connected"
	MetricEventsRejected    = "EventsRejected"

	// State metrics
	MetricOrdersTracked   = "OrdersTracked"
	MetricPendingCustomer = "PendingCustomers"
	MetricRevenue         = "CompletedRevenue"
)

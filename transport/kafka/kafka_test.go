package kafka_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "order-monitor/errors"
	"order-monitor/transport/kafka"
)

func TestTopicFor(t *testing.T) {
	assert.Equal(t, "hoa-don-list", kafka.TopicFor("/topic/hoa-don-list"))
	assert.Equal(t, "gio-hang-update", kafka.TopicFor("gio-hang-update"))
}

func TestDial_NoBrokers(t *testing.T) {
	_, err := kafka.New(kafka.Options{}, zap.NewNop()).Dial(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindTransport))
}

func TestDial_UnreachableBroker(t *testing.T) {
	tr := kafka.New(kafka.Options{Brokers: []string{"127.0.0.1:1"}, DialTimeout: time.Second}, nil)
	assert.Equal(t, "kafka", tr.Name())

	_, err := tr.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-monitor/services"
)

func TestLoop_RunsClosuresInOrder(t *testing.T) {
	l := services.NewLoop(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	for i := 1; i <= 3; i++ {
		l.Post(func() { got = append(got, i) })
	}
	require.NoError(t, l.Do(ctx, func() { got = append(got, 4) }))

	assert.Equal(t, []int{1, 2, 3, 4}, got)
}

func TestLoop_StoppedLoopRejectsWork(t *testing.T) {
	l := services.NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()
	<-l.Done()

	ran := false
	l.Post(func() { ran = true })
	l.Post(func() { ran = true })
	err := l.Do(context.Background(), func() { ran = true })

	assert.ErrorIs(t, err, services.ErrLoopStopped)
	assert.False(t, ran)
}

func TestLoop_DoHonoursContext(t *testing.T) {
	l := services.NewLoop(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// nothing runs the loop, so the closure is queued but never finishes
	err := l.Do(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/reviewscore/internal/model"
)

func newTestConsumer(backoff []time.Duration, timeout time.Duration) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		ctx:            ctx,
		cancel:         cancel,
		retryBackoff:   backoff,
		processTimeout: timeout,
	}
}

func testEvent() *model.VoteTransitionEvent {
	return &model.VoteTransitionEvent{
		EventID:       "evt-retry",
		ReviewID:      100,
		ReviewOwnerID: 1,
		NewRatingType: model.RatingFair,
	}
}

// 分区数多于worker时轮转分配，每个分区恰好归属一个worker，不能有分区无人消费
func TestAssignPartitionsCoversAll(t *testing.T) {
	partitions := make([]int, 16)
	for i := range partitions {
		partitions[i] = i
	}

	groups := assignPartitions(partitions, 8)
	require.Len(t, groups, 8)

	seen := make(map[int]int)
	for _, group := range groups {
		assert.Len(t, group, 2)
		for _, p := range group {
			seen[p]++
		}
	}
	for _, p := range partitions {
		assert.Equal(t, 1, seen[p], "分区 %d 应恰好分配给一个worker", p)
	}
}

// 分区数少于worker时收缩worker数量，单分区只有一个消费者
func TestAssignPartitionsFewerThanWorkers(t *testing.T) {
	groups := assignPartitions([]int{0, 1, 2}, 8)
	require.Len(t, groups, 3)
	for _, group := range groups {
		assert.Len(t, group, 1)
	}

	assert.Empty(t, assignPartitions(nil, 8))
}

// 被包装的取消错误也要被识别为停止信号
func TestShuttingDownDetectsWrappedCancel(t *testing.T) {
	c := newTestConsumer(nil, 0)

	assert.True(t, c.shuttingDown(fmt.Errorf("读取消息失败: %w", context.Canceled)))
	assert.False(t, c.shuttingDown(errors.New("broker不可用")))

	c.cancel()
	assert.True(t, c.shuttingDown(errors.New("broker不可用")))
}

// 重试耗尽后消息停靠而不是丢弃，尝试次数 = 首次 + 退避表长度
func TestProcessWithRetryExhaustsAndParks(t *testing.T) {
	backoff := []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	c := newTestConsumer(backoff, 0)

	attempts := 0
	handler := func(event *model.VoteTransitionEvent) error {
		attempts++
		return errors.New("存储不可用")
	}

	var parkedID, parkedReason string
	parker := func(event *model.VoteTransitionEvent, raw []byte, reason string) {
		parkedID = event.EventID
		parkedReason = reason
	}

	c.processWithRetry(0, testEvent(), []byte(`{}`), handler, parker)

	assert.Equal(t, len(backoff)+1, attempts)
	assert.Equal(t, "evt-retry", parkedID)
	assert.Contains(t, parkedReason, "存储不可用")
}

// 瞬时失败在重试中恢复，不停靠
func TestProcessWithRetryRecovers(t *testing.T) {
	c := newTestConsumer([]time.Duration{time.Millisecond, time.Millisecond}, 0)

	attempts := 0
	handler := func(event *model.VoteTransitionEvent) error {
		attempts++
		if attempts < 2 {
			return errors.New("锁冲突")
		}
		return nil
	}

	parked := false
	parker := func(event *model.VoteTransitionEvent, raw []byte, reason string) {
		parked = true
	}

	c.processWithRetry(0, testEvent(), []byte(`{}`), handler, parker)

	assert.Equal(t, 2, attempts)
	assert.False(t, parked)
}

// 超时按失败处理，触发重试策略
func TestAttemptWithTimeout(t *testing.T) {
	c := newTestConsumer(nil, 20*time.Millisecond)

	err := c.attemptWithTimeout(testEvent(), func(event *model.VoteTransitionEvent) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "超时")

	err = c.attemptWithTimeout(testEvent(), func(event *model.VoteTransitionEvent) error {
		return nil
	})
	assert.NoError(t, err)
}

// 停止信号中断重试等待
func TestProcessWithRetryStops(t *testing.T) {
	c := newTestConsumer([]time.Duration{time.Hour}, 0)

	attempts := 0
	handler := func(event *model.VoteTransitionEvent) error {
		attempts++
		return errors.New("存储不可用")
	}

	done := make(chan struct{})
	go func() {
		c.processWithRetry(0, testEvent(), []byte(`{}`), handler, nil)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	c.cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("取消后重试循环未退出")
	}
	assert.Equal(t, 1, attempts)
}

package recalc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvdashuaibi/reviewscore/internal/model"
)

// fakeStore 内存重算存储：重算是覆盖语义，重复执行结果不变
type fakeStore struct {
	results map[int64]*model.RecalcResult
	calls   map[int64]int
	failIDs map[int64]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		results: make(map[int64]*model.RecalcResult),
		calls:   make(map[int64]int),
		failIDs: make(map[int64]bool),
	}
}

func (s *fakeStore) Recalculate(reviewID int64) (*model.RecalcResult, error) {
	s.calls[reviewID]++
	if s.failIDs[reviewID] {
		return nil, errors.New("存储不可用")
	}
	result, ok := s.results[reviewID]
	if !ok {
		return nil, model.ErrReviewNotFound
	}
	// 第二次重算后漂移必然为0：上一次已经用重算值覆盖
	if s.calls[reviewID] > 1 {
		fixed := *result
		fixed.Drift = 0
		return &fixed, nil
	}
	return result, nil
}

func (s *fakeStore) ListReleasedReviewIDs(afterID int64, limit int) ([]int64, error) {
	var ids []int64
	for id := range s.results {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	for id := range s.failIDs {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	// 简单排序，数据量小
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type fakeInvalidator struct {
	reviews []int64
	users   []int64
}

func (c *fakeInvalidator) DeleteReviewCache(reviewID int64) error {
	c.reviews = append(c.reviews, reviewID)
	return nil
}

func (c *fakeInvalidator) DeleteUserReputationCache(userID int64) error {
	c.users = append(c.users, userID)
	return nil
}

// 重算返回覆盖后的结果并失效相关缓存
func TestRecalculate(t *testing.T) {
	store := newFakeStore()
	store.results[100] = &model.RecalcResult{
		ReviewID:    100,
		OwnerUserID: 1,
		FairVotes:   3,
		UnfairVotes: 1,
		OwnerScore:  2,
		Drift:       1, // 增量路径少算了1，重算纠正
	}
	cache := &fakeInvalidator{}
	svc := NewRecalcService(store, cache, nil, nil, false)

	result, err := svc.Recalculate(100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.OwnerScore)
	assert.Equal(t, int64(1), result.Drift)
	assert.Contains(t, cache.reviews, int64(100))
	assert.Contains(t, cache.users, int64(1))
}

// 重算是不动点：再算一次结果相同且无漂移
func TestRecalculateFixedPoint(t *testing.T) {
	store := newFakeStore()
	store.results[100] = &model.RecalcResult{
		ReviewID: 100, OwnerUserID: 1, FairVotes: 2, UnfairVotes: 2, OwnerScore: 0, Drift: -3,
	}
	svc := NewRecalcService(store, &fakeInvalidator{}, nil, nil, false)

	first, err := svc.Recalculate(100)
	require.NoError(t, err)

	second, err := svc.Recalculate(100)
	require.NoError(t, err)
	assert.Equal(t, first.OwnerScore, second.OwnerScore)
	assert.Equal(t, int64(0), second.Drift)
}

func TestRecalculateNotFound(t *testing.T) {
	svc := NewRecalcService(newFakeStore(), &fakeInvalidator{}, nil, nil, false)

	_, err := svc.Recalculate(999)
	assert.ErrorIs(t, err, model.ErrReviewNotFound)
}

// fakeLeaderLock 可控的分布式锁，记录获取与释放
type fakeLeaderLock struct {
	mu       sync.Mutex
	grant    bool
	acquired []string
	released []string
}

func (l *fakeLeaderLock) AcquireLock(lockName string, timeout time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.grant {
		return false, nil
	}
	l.acquired = append(l.acquired, lockName)
	return true, nil
}

func (l *fakeLeaderLock) RefreshLock(lockName string, timeout time.Duration) (bool, error) {
	return true, nil
}

func (l *fakeLeaderLock) ReleaseLock(lockName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, lockName)
	return nil
}

func (l *fakeLeaderLock) ReleaseAllLocks() {}

func (l *fakeLeaderLock) Close() error { return nil }

// 接管走leader锁而不是巡检锁，成功后锁保持持有
func TestLeaderTakeoverHoldsLock(t *testing.T) {
	leaderLock := &fakeLeaderLock{grant: true}
	svc := NewRecalcService(newFakeStore(), &fakeInvalidator{}, nil, leaderLock, false)
	defer svc.StopSweeper()

	go svc.maintainLeaderLock(time.Millisecond)

	require.Eventually(t, func() bool { return svc.isLeader.Load() },
		time.Second, time.Millisecond)

	leaderLock.mu.Lock()
	defer leaderLock.mu.Unlock()
	assert.Equal(t, []string{LeaderLockName}, leaderLock.acquired)
	assert.Empty(t, leaderLock.released, "接管后必须持有leader锁，释放会让其他实例也成为leader")
}

// leader锁被其他实例持有时保持follower身份
func TestFollowerStaysWhenLeaderLockHeld(t *testing.T) {
	leaderLock := &fakeLeaderLock{grant: false}
	svc := NewRecalcService(newFakeStore(), &fakeInvalidator{}, nil, leaderLock, false)
	defer svc.StopSweeper()

	go svc.maintainLeaderLock(time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, svc.isLeader.Load())
}

// leader标志被接管协程写、巡检协程读，原子访问保证并发安全
func TestLeaderFlagConcurrentAccess(t *testing.T) {
	svc := NewRecalcService(newFakeStore(), &fakeInvalidator{}, nil, &fakeLeaderLock{grant: true}, false)
	defer svc.StopSweeper()

	go svc.maintainLeaderLock(time.Microsecond)

	deadline := time.After(50 * time.Millisecond)
	for {
		select {
		case <-deadline:
			require.True(t, svc.isLeader.Load())
			return
		default:
			svc.isLeader.Load()
		}
	}
}

// 巡检遍历全部评论，单条失败不中断整轮
func TestSweep(t *testing.T) {
	store := newFakeStore()
	store.results[100] = &model.RecalcResult{ReviewID: 100, OwnerUserID: 1}
	store.results[101] = &model.RecalcResult{ReviewID: 101, OwnerUserID: 1}
	store.results[103] = &model.RecalcResult{ReviewID: 103, OwnerUserID: 2}
	store.failIDs[102] = true

	svc := NewRecalcService(store, &fakeInvalidator{}, nil, nil, true)
	svc.Sweep()

	assert.Equal(t, 1, store.calls[100])
	assert.Equal(t, 1, store.calls[101])
	assert.Equal(t, 1, store.calls[102], "失败的评论也应被尝试")
	assert.Equal(t, 1, store.calls[103], "单条失败不应中断巡检")
}

package recalc

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/lvdashuaibi/reviewscore/config"
	"github.com/lvdashuaibi/reviewscore/internal/lock"
	"github.com/lvdashuaibi/reviewscore/internal/model"
)

const (
	SweepLockName = "recalc:sweeper:lock"

	// LeaderLockName 巡检leader选举的etcd锁，持有者靠租约续约保住leader身份，
	// 原leader失效后租约过期、锁键被清除，其他实例才能接管
	LeaderLockName = "reviewscore:sweeper:leader:lock"
)

// Store 重算需要的持久化操作，由MySQL仓库实现
type Store interface {
	Recalculate(reviewID int64) (*model.RecalcResult, error)
	ListReleasedReviewIDs(afterID int64, limit int) ([]int64, error)
}

// CacheInvalidator 重算后失效相关缓存
type CacheInvalidator interface {
	DeleteReviewCache(reviewID int64) error
	DeleteUserReputationCache(userID int64) error
}

// RecalcService 全量重算服务：按需重算单条评论，或周期性巡检全部已发布评论
// 重算是覆盖语义，幂等，可随时执行，用于纠正增量路径的漂移
type RecalcService struct {
	store       Store
	cache       CacheInvalidator
	sweepLock   lock.Lock
	leaderLock  lock.Lock
	sweepTicker *time.Ticker
	stopChan    chan struct{}
	batchSize   int

	// isLeader被接管协程写、巡检协程读，必须原子访问
	isLeader atomic.Bool
}

func NewRecalcService(store Store, cache CacheInvalidator, sweepLock, leaderLock lock.Lock, isLeader bool) *RecalcService {
	batchSize := config.AppConfig.Recalc.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	s := &RecalcService{
		store:      store,
		cache:      cache,
		sweepLock:  sweepLock,
		leaderLock: leaderLock,
		stopChan:   make(chan struct{}),
		batchSize:  batchSize,
	}
	s.isLeader.Store(isLeader)
	return s
}

// Recalculate 按需重算一条评论及其作者的沟通分
func (s *RecalcService) Recalculate(reviewID int64) (*model.RecalcResult, error) {
	result, err := s.store.Recalculate(reviewID)
	if err != nil {
		return nil, fmt.Errorf("重算评论 %d 失败: %w", reviewID, err)
	}

	// 漂移说明增量路径曾经丢失或滞后，重算值已覆盖，只记录不吞掉
	if result.Drift != 0 {
		log.Printf("重算发现漂移: 评论=%d, 作者=%d, 漂移=%d, 已用重算值 %d 覆盖",
			result.ReviewID, result.OwnerUserID, result.Drift, result.OwnerScore)
	}

	if err := s.cache.DeleteReviewCache(result.ReviewID); err != nil {
		log.Printf("删除评论 %d 缓存失败: %v", result.ReviewID, err)
	}
	if err := s.cache.DeleteUserReputationCache(result.OwnerUserID); err != nil {
		log.Printf("删除用户 %d 沟通分缓存失败: %v", result.OwnerUserID, err)
	}

	return result, nil
}

// StartSweeper 启动周期性巡检
func (s *RecalcService) StartSweeper() {
	interval := config.AppConfig.Recalc.SweepInterval
	if interval <= 0 {
		log.Println("未配置巡检间隔，巡检重算关闭")
		return
	}

	s.sweepTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.sweepTicker.C:
				// 只有leader实例才尝试竞争锁并执行巡检
				if s.isLeader.Load() {
					s.trySweep()
				}
			case <-s.stopChan:
				s.sweepTicker.Stop()
				log.Println("巡检重算已停止")
				return
			}
		}
	}()

	// 启动另一个协程维持leader状态，原leader失效后其他实例可以接管
	if s.leaderLock != nil {
		go s.maintainLeaderLock(interval / 2)
	}

	log.Printf("巡检重算已启动，间隔: %v, leader模式: %v", interval, s.isLeader.Load())
}

// maintainLeaderLock 周期性竞争leader锁，实现leader接管
// 接管成功后锁保持持有，leader身份靠锁的续约维持
func (s *RecalcService) maintainLeaderLock(checkInterval time.Duration) {
	if checkInterval <= 0 {
		checkInterval = time.Minute
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.isLeader.Load() {
				continue
			}
			acquired, err := s.leaderLock.AcquireLock(LeaderLockName, config.AppConfig.Recalc.LockTimeout)
			if err != nil {
				log.Printf("尝试接管巡检leader锁失败: %v", err)
				continue
			}
			if acquired {
				log.Println("接管巡检leader成功")
				s.isLeader.Store(true)
			}
		case <-s.stopChan:
			return
		}
	}
}

// StopSweeper 停止巡检
func (s *RecalcService) StopSweeper() {
	close(s.stopChan)
}

// trySweep 获取巡检锁后执行一轮全量巡检
func (s *RecalcService) trySweep() {
	acquired, err := s.sweepLock.AcquireLock(SweepLockName, config.AppConfig.Recalc.LockTimeout)
	if err != nil {
		log.Printf("获取巡检锁失败: %v", err)
		return
	}
	if !acquired {
		log.Println("未能获取巡检锁，跳过本轮巡检")
		return
	}
	defer func() {
		if err := s.sweepLock.ReleaseLock(SweepLockName); err != nil {
			log.Printf("释放巡检锁失败: %v", err)
		}
	}()

	s.Sweep()
}

// Sweep 分批遍历所有已发布评论并逐条重算
func (s *RecalcService) Sweep() {
	var afterID int64
	var total, drifted int

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		ids, err := s.store.ListReleasedReviewIDs(afterID, s.batchSize)
		if err != nil {
			log.Printf("巡检查询评论列表失败: %v", err)
			return
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			result, err := s.Recalculate(id)
			if err != nil {
				log.Printf("巡检重算评论 %d 失败: %v", id, err)
				continue
			}
			total++
			if result.Drift != 0 {
				drifted++
			}
		}

		afterID = ids[len(ids)-1]
		if len(ids) < s.batchSize {
			break
		}
	}

	log.Printf("本轮巡检完成: 重算%d条评论, 发现%d条漂移", total, drifted)
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lvdashuaibi/reviewscore/config"
	"github.com/lvdashuaibi/reviewscore/internal/model"
)

const (
	// Redis键前缀
	UserReputationKey = "user:reputation:"
	ReviewKey         = "review:score:"
	EventProcessedKey = "event:processed:"

	cacheTTL = time.Hour
)

type RedisRepository struct {
	client       *redis.Client
	ctx          context.Context
	dedupeWindow time.Duration
}

func NewRedisRepository() (*RedisRepository, error) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:         config.AppConfig.Redis.DataAddress,
		Password:     config.AppConfig.Redis.Password,
		DB:           config.AppConfig.Redis.DB,
		PoolSize:     config.AppConfig.Redis.PoolSize,
		MaxRetries:   config.AppConfig.Redis.MaxRetries,
		DialTimeout:  config.AppConfig.Redis.Timeout,
		ReadTimeout:  config.AppConfig.Redis.Timeout,
		WriteTimeout: config.AppConfig.Redis.Timeout,
	})

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis数据节点连接测试失败: %w", err)
	}

	return &RedisRepository{
		client:       client,
		ctx:          ctx,
		dedupeWindow: config.AppConfig.Redis.DedupeWindow,
	}, nil
}

// GetUserReputation 从缓存获取用户沟通分
func (r *RedisRepository) GetUserReputation(userID int64) (*model.UserReputation, bool, error) {
	key := fmt.Sprintf("%s%d", UserReputationKey, userID)
	data, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, fmt.Errorf("获取用户沟通分缓存失败: %w", err)
	}

	var reputation model.UserReputation
	if err := json.Unmarshal([]byte(data), &reputation); err != nil {
		return nil, false, fmt.Errorf("解析用户沟通分缓存失败: %w", err)
	}

	return &reputation, true, nil
}

// SetUserReputation 设置用户沟通分缓存
func (r *RedisRepository) SetUserReputation(reputation *model.UserReputation) error {
	key := fmt.Sprintf("%s%d", UserReputationKey, reputation.UserID)
	data, err := json.Marshal(reputation)
	if err != nil {
		return fmt.Errorf("序列化用户沟通分失败: %w", err)
	}

	if err := r.client.Set(r.ctx, key, data, cacheTTL).Err(); err != nil {
		return fmt.Errorf("设置用户沟通分缓存失败: %w", err)
	}

	return nil
}

// DeleteUserReputationCache 删除用户沟通分缓存
func (r *RedisRepository) DeleteUserReputationCache(userID int64) error {
	key := fmt.Sprintf("%s%d", UserReputationKey, userID)
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("删除用户沟通分缓存失败: %w", err)
	}
	return nil
}

// GetReview 从缓存获取评论
func (r *RedisRepository) GetReview(reviewID int64) (*model.Review, bool, error) {
	key := fmt.Sprintf("%s%d", ReviewKey, reviewID)
	data, err := r.client.Get(r.ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("获取评论缓存失败: %w", err)
	}

	var review model.Review
	if err := json.Unmarshal([]byte(data), &review); err != nil {
		return nil, false, fmt.Errorf("解析评论缓存失败: %w", err)
	}

	return &review, true, nil
}

// SetReview 设置评论缓存
func (r *RedisRepository) SetReview(review *model.Review) error {
	key := fmt.Sprintf("%s%d", ReviewKey, review.ID)
	data, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("序列化评论失败: %w", err)
	}

	if err := r.client.Set(r.ctx, key, data, cacheTTL).Err(); err != nil {
		return fmt.Errorf("设置评论缓存失败: %w", err)
	}

	return nil
}

// DeleteReviewCache 删除评论缓存
func (r *RedisRepository) DeleteReviewCache(reviewID int64) error {
	key := fmt.Sprintf("%s%d", ReviewKey, reviewID)
	if err := r.client.Del(r.ctx, key).Err(); err != nil {
		return fmt.Errorf("删除评论缓存失败: %w", err)
	}
	return nil
}

// IsEventProcessed 快路径去重：判断eventId是否在去重窗口内处理过
// Redis只是加速，权威去重靠MySQL的processed_events唯一键
func (r *RedisRepository) IsEventProcessed(eventID string) (bool, error) {
	key := EventProcessedKey + eventID
	n, err := r.client.Exists(r.ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("查询事件去重标记失败: %w", err)
	}
	return n > 0, nil
}

// MarkEventProcessed 在去重窗口内标记事件已处理
func (r *RedisRepository) MarkEventProcessed(eventID string) error {
	key := EventProcessedKey + eventID
	if err := r.client.SetNX(r.ctx, key, 1, r.dedupeWindow).Err(); err != nil {
		return fmt.Errorf("标记事件已处理失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

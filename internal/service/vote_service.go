package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lvdashuaibi/reviewscore/internal/model"
	"github.com/lvdashuaibi/reviewscore/internal/score"
)

// Ledger 投票台账和分值的持久化操作，由MySQL仓库实现
type Ledger interface {
	CastVote(voterUserID, reviewID int64, rating model.RatingType) (*model.VoteResult, error)
	ApplyScoreDelta(eventID string, ownerUserID int64, delta int) error
	ParkEvent(eventID string, payload []byte, reason string) error
	GetReview(reviewID int64) (*model.Review, error)
	GetUserReputation(userID int64) (*model.UserReputation, error)
}

// ScoreCache 读缓存和事件去重快路径，由Redis仓库实现
type ScoreCache interface {
	GetReview(reviewID int64) (*model.Review, bool, error)
	SetReview(review *model.Review) error
	DeleteReviewCache(reviewID int64) error
	GetUserReputation(userID int64) (*model.UserReputation, bool, error)
	SetUserReputation(reputation *model.UserReputation) error
	DeleteUserReputationCache(userID int64) error
	IsEventProcessed(eventID string) (bool, error)
	MarkEventProcessed(eventID string) error
}

// EventProducer 投票变更事件通道，由Kafka生产者实现
type EventProducer interface {
	SendVoteEvent(event *model.VoteTransitionEvent) error
}

type VoteService struct {
	ledger   Ledger
	cache    ScoreCache
	producer EventProducer
	weights  score.Weights
}

func NewVoteService(ledger Ledger, cache ScoreCache, producer EventProducer) *VoteService {
	return &VoteService{
		ledger:   ledger,
		cache:    cache,
		producer: producer,
		weights:  score.FromConfig(),
	}
}

// CastVote 投票主路径：同步落台账，异步发事件更新作者沟通分
// 投票人在响应返回时就能读到自己的投票；作者分值最终一致
func (s *VoteService) CastVote(voterUserID, reviewID int64, ratingType string) (*model.VoteResult, error) {
	rating, err := model.ParseRatingType(ratingType)
	if err != nil {
		return nil, err
	}

	result, err := s.ledger.CastVote(voterUserID, reviewID, rating)
	if err != nil {
		return nil, err
	}

	// 同类型重复投票：无变更，不发事件
	if result.NoOp {
		return result, nil
	}

	if err := s.cache.DeleteReviewCache(reviewID); err != nil {
		log.Printf("删除评论 %d 缓存失败: %v", reviewID, err)
	}

	event := &model.VoteTransitionEvent{
		EventID:            uuid.NewString(),
		ReviewID:           result.ReviewID,
		ReviewOwnerID:      result.OwnerUserID,
		PreviousRatingType: result.Previous,
		NewRatingType:      result.New,
		VotedAt:            time.Now(),
	}

	if err := s.producer.SendVoteEvent(event); err != nil {
		log.Printf("发送投票变更事件到Kafka失败: %v，降级为同步更新沟通分", err)
		// 走同一条幂等路径同步应用增量，保证台账和分值不脱节
		if err := s.applyEvent(event); err != nil {
			return nil, fmt.Errorf("同步更新沟通分失败: %w", err)
		}
	}

	return result, nil
}

// ProcessVoteEvent 消费者处理投票变更事件（可安全重放）
func (s *VoteService) ProcessVoteEvent(event *model.VoteTransitionEvent) error {
	// 快路径去重，Redis不可用时直接走MySQL的权威去重
	seen, err := s.cache.IsEventProcessed(event.EventID)
	if err != nil {
		log.Printf("查询事件 %s 去重标记失败: %v", event.EventID, err)
	} else if seen {
		return nil
	}

	return s.applyEvent(event)
}

// applyEvent 计算增量并幂等落库，同步降级路径和消费者共用
func (s *VoteService) applyEvent(event *model.VoteTransitionEvent) error {
	delta := s.weights.Delta(event.PreviousRatingType, event.NewRatingType)

	err := s.ledger.ApplyScoreDelta(event.EventID, event.ReviewOwnerID, delta)
	if err != nil && !errors.Is(err, model.ErrEventProcessed) {
		return fmt.Errorf("应用事件 %s 增量失败: %w", event.EventID, err)
	}
	if errors.Is(err, model.ErrEventProcessed) {
		log.Printf("事件 %s 已处理过，跳过", event.EventID)
	}

	if err := s.cache.MarkEventProcessed(event.EventID); err != nil {
		log.Printf("标记事件 %s 已处理失败: %v", event.EventID, err)
	}
	if err := s.cache.DeleteUserReputationCache(event.ReviewOwnerID); err != nil {
		log.Printf("删除用户 %d 沟通分缓存失败: %v", event.ReviewOwnerID, err)
	}

	return nil
}

// ParkEvent 重试耗尽的事件停靠，供消费者回调
func (s *VoteService) ParkEvent(event *model.VoteTransitionEvent, raw []byte, reason string) {
	if err := s.ledger.ParkEvent(event.EventID, raw, reason); err != nil {
		log.Printf("停靠事件 %s 失败: %v", event.EventID, err)
	}
}

// GetReview 查询评论，先走缓存
func (s *VoteService) GetReview(reviewID int64) (*model.Review, error) {
	review, found, err := s.cache.GetReview(reviewID)
	if err != nil {
		log.Printf("获取评论 %d 缓存失败: %v", reviewID, err)
	}
	if found && review != nil {
		return review, nil
	}

	review, err = s.ledger.GetReview(reviewID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetReview(review); err != nil {
		log.Printf("更新评论 %d 缓存失败: %v", reviewID, err)
	}

	return review, nil
}

// GetUserReputation 查询用户沟通分，先走缓存
func (s *VoteService) GetUserReputation(userID int64) (*model.UserReputation, error) {
	reputation, found, err := s.cache.GetUserReputation(userID)
	if err != nil {
		log.Printf("获取用户 %d 沟通分缓存失败: %v", userID, err)
	}
	if found && reputation != nil {
		return reputation, nil
	}

	reputation, err = s.ledger.GetUserReputation(userID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetUserReputation(reputation); err != nil {
		log.Printf("更新用户 %d 沟通分缓存失败: %v", userID, err)
	}

	return reputation, nil
}

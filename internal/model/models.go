package model

import (
	"errors"
	"time"
)

// RatingType 评价投票类型
type RatingType string

const (
	RatingFair   RatingType = "fair"
	RatingUnfair RatingType = "unfair"
)

// ParseRatingType 解析投票类型，大小写不敏感的解析交给调用方
func ParseRatingType(s string) (RatingType, error) {
	switch RatingType(s) {
	case RatingFair:
		return RatingFair, nil
	case RatingUnfair:
		return RatingUnfair, nil
	default:
		return "", ErrInvalidRatingType
	}
}

// ReviewStatus 评论状态
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewReleased ReviewStatus = "released"
	ReviewDeleted  ReviewStatus = "deleted"
)

// ReviewType 评论类型：标签评分或自由文本
type ReviewType string

const (
	ReviewTypeTag    ReviewType = "tag"
	ReviewTypeNormal ReviewType = "normal"
)

// 调用方可见的业务错误，API层用errors.Is映射到HTTP状态码
var (
	ErrReviewNotFound    = errors.New("评论不存在")
	ErrReviewNotReleased = errors.New("评论未发布，不允许投票")
	ErrSelfVote          = errors.New("不允许给自己的评论投票")
	ErrInvalidRatingType = errors.New("无效的投票类型")

	// ErrEventProcessed 表示事件已处理过，重复投递直接跳过
	ErrEventProcessed = errors.New("事件已处理")
)

// Review 评论模型
type Review struct {
	ID                 int64          `json:"id"`
	OwnerUserID        int64          `json:"ownerUserId"`
	Status             ReviewStatus   `json:"status"`
	Type               ReviewType     `json:"type"`
	Rating             int            `json:"rating"`
	FairVotes          int            `json:"fairVotes"`
	UnfairVotes        int            `json:"unfairVotes"`
	CommunicationScore int64          `json:"communicationScore"`
	Content            *ReviewContent `json:"content,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// Vote 投票台账记录，(voterUserId, reviewId)唯一
type Vote struct {
	VoterUserID int64      `json:"voterUserId"`
	ReviewID    int64      `json:"reviewId"`
	RatingType  RatingType `json:"ratingType"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// UserReputation 用户沟通分累计值，只由异步更新器和重算任务写入
type UserReputation struct {
	UserID             int64     `json:"userId"`
	CommunicationScore int64     `json:"communicationScore"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// VoteTransitionEvent Kafka投票变更事件
// 事件自带前后投票状态，回放时不需要回查台账，eventId用于幂等去重
type VoteTransitionEvent struct {
	EventID            string      `json:"eventId"`
	ReviewID           int64       `json:"reviewId"`
	ReviewOwnerID      int64       `json:"reviewOwnerId"`
	PreviousRatingType *RatingType `json:"previousRatingType"`
	NewRatingType      RatingType  `json:"newRatingType"`
	VotedAt            time.Time   `json:"votedAt"`
}

// VoteResult 投票落库结果，携带生成事件所需的全部信息
type VoteResult struct {
	ReviewID    int64       `json:"reviewId"`
	OwnerUserID int64       `json:"ownerUserId"`
	Previous    *RatingType `json:"previous"`
	New         RatingType  `json:"new"`
	FairVotes   int         `json:"fairVotes"`
	UnfairVotes int         `json:"unfairVotes"`

	// NoOp 表示重复投了相同类型，台账未变更，不发事件
	NoOp bool `json:"noOp"`
}

// RecalcResult 重算结果
type RecalcResult struct {
	ReviewID    int64 `json:"reviewId"`
	OwnerUserID int64 `json:"ownerUserId"`
	FairVotes   int   `json:"fairVotes"`
	UnfairVotes int   `json:"unfairVotes"`
	OwnerScore  int64 `json:"ownerScore"`

	// Drift 重算值与增量累计值的差，非零说明增量路径曾经丢失或滞后
	Drift int64 `json:"drift"`
}

// RateRequest 投票请求体
type RateRequest struct {
	RatingType string `json:"ratingType"`
}

// RecalcResponse 重算接口响应
type RecalcResponse struct {
	Success bool `json:"success"`
}

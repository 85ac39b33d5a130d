package score

import (
	"github.com/lvdashuaibi/reviewscore/config"
	"github.com/lvdashuaibi/reviewscore/internal/model"
)

// Weights 单票的分值权重，默认都是1
// 权重只是策略参数：重算和增量路径共用同一组权重即可收敛
type Weights struct {
	Fair   int
	Unfair int
}

// DefaultWeights 返回默认权重
func DefaultWeights() Weights {
	return Weights{Fair: 1, Unfair: 1}
}

// FromConfig 从配置读取权重
func FromConfig() Weights {
	w := Weights{
		Fair:   config.AppConfig.Score.FairWeight,
		Unfair: config.AppConfig.Score.UnfairWeight,
	}
	if w.Fair <= 0 {
		w.Fair = 1
	}
	if w.Unfair <= 0 {
		w.Unfair = 1
	}
	return w
}

// Delta 计算一次投票变更对评论作者沟通分的增量
// previous为nil表示首次投票；previous与next相同时返回0
func (w Weights) Delta(previous *model.RatingType, next model.RatingType) int {
	if previous != nil && *previous == next {
		return 0
	}

	var delta int
	if previous != nil {
		// 先撤销旧票的影响
		switch *previous {
		case model.RatingFair:
			delta -= w.Fair
		case model.RatingUnfair:
			delta += w.Unfair
		}
	}

	switch next {
	case model.RatingFair:
		delta += w.Fair
	case model.RatingUnfair:
		delta -= w.Unfair
	}

	return delta
}

package score

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lvdashuaibi/reviewscore/internal/model"
)

func ratingPtr(r model.RatingType) *model.RatingType {
	return &r
}

// 默认权重下的完整真值表
func TestDeltaTruthTable(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name     string
		previous *model.RatingType
		next     model.RatingType
		want     int
	}{
		{"首次投fair", nil, model.RatingFair, 1},
		{"首次投unfair", nil, model.RatingUnfair, -1},
		{"fair改unfair", ratingPtr(model.RatingFair), model.RatingUnfair, -2},
		{"unfair改fair", ratingPtr(model.RatingUnfair), model.RatingFair, 2},
		{"重复投fair", ratingPtr(model.RatingFair), model.RatingFair, 0},
		{"重复投unfair", ratingPtr(model.RatingUnfair), model.RatingUnfair, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Delta(tt.previous, tt.next))
		})
	}
}

// 非默认权重下撤销+应用的组合依然自洽
func TestDeltaCustomWeights(t *testing.T) {
	w := Weights{Fair: 3, Unfair: 2}

	assert.Equal(t, 3, w.Delta(nil, model.RatingFair))
	assert.Equal(t, -2, w.Delta(nil, model.RatingUnfair))
	assert.Equal(t, -5, w.Delta(ratingPtr(model.RatingFair), model.RatingUnfair))
	assert.Equal(t, 5, w.Delta(ratingPtr(model.RatingUnfair), model.RatingFair))
	assert.Equal(t, 0, w.Delta(ratingPtr(model.RatingFair), model.RatingFair))
}

// 一次改票等价于撤销旧票再投新票
func TestDeltaFlipEqualsUndoPlusApply(t *testing.T) {
	w := Weights{Fair: 4, Unfair: 7}

	undo := -w.Delta(nil, model.RatingFair)
	apply := w.Delta(nil, model.RatingUnfair)
	assert.Equal(t, undo+apply, w.Delta(ratingPtr(model.RatingFair), model.RatingUnfair))
}

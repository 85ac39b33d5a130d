package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReviewContentTag(t *testing.T) {
	raw := []byte(`{"tagRatings":[{"tagId":3,"rating":8},{"tagId":5,"rating":6}]}`)

	content, err := DecodeReviewContent(ReviewTypeTag, raw)
	require.NoError(t, err)
	assert.Equal(t, ReviewTypeTag, content.Type)
	require.Len(t, content.TagRatings, 2)
	assert.Equal(t, int64(3), content.TagRatings[0].TagID)
	assert.Equal(t, 8, content.TagRatings[0].Rating)
	assert.Empty(t, content.Text)
}

func TestDecodeReviewContentNormal(t *testing.T) {
	raw := []byte(`{"text":"剧情紧凑，配乐出色"}`)

	content, err := DecodeReviewContent(ReviewTypeNormal, raw)
	require.NoError(t, err)
	assert.Equal(t, ReviewTypeNormal, content.Type)
	assert.Equal(t, "剧情紧凑，配乐出色", content.Text)
	assert.Empty(t, content.TagRatings)
}

func TestDecodeReviewContentShapeMismatch(t *testing.T) {
	// tag类型但载荷是文本形态
	_, err := DecodeReviewContent(ReviewTypeTag, []byte(`{"text":"不是标签评分"}`))
	assert.Error(t, err)

	// normal类型但载荷是标签形态
	_, err = DecodeReviewContent(ReviewTypeNormal, []byte(`{"tagRatings":[{"tagId":1,"rating":5}]}`))
	assert.Error(t, err)

	_, err = DecodeReviewContent(ReviewTypeTag, nil)
	assert.Error(t, err)

	_, err = DecodeReviewContent(ReviewType("unknown"), []byte(`{}`))
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	content := &ReviewContent{Type: ReviewTypeTag, TagRatings: []TagRating{{TagID: 9, Rating: 10}}}

	raw, err := EncodeReviewContent(content)
	require.NoError(t, err)

	decoded, err := DecodeReviewContent(ReviewTypeTag, raw)
	require.NoError(t, err)
	assert.Equal(t, content, decoded)
}

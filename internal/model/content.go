package model

import (
	"encoding/json"
	"fmt"
)

// TagRating 标签评分项
type TagRating struct {
	TagID  int64 `json:"tagId"`
	Rating int   `json:"rating"`
}

// ReviewContent 评论内容，按评论类型取两种形态之一：
// tag类型为标签评分列表，normal类型为自由文本
type ReviewContent struct {
	Type       ReviewType  `json:"type"`
	TagRatings []TagRating `json:"tagRatings,omitempty"`
	Text       string      `json:"text,omitempty"`
}

// 存储层的内容载荷，按类型显式解码，不做无类型的透传
type tagPayload struct {
	TagRatings []TagRating `json:"tagRatings"`
}

type textPayload struct {
	Text string `json:"text"`
}

// DecodeReviewContent 把存储的JSON载荷解码为对应形态的内容
func DecodeReviewContent(reviewType ReviewType, raw []byte) (*ReviewContent, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("评论内容为空")
	}

	switch reviewType {
	case ReviewTypeTag:
		var p tagPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("解析标签评分内容失败: %w", err)
		}
		if len(p.TagRatings) == 0 {
			return nil, fmt.Errorf("标签评分内容缺少tagRatings")
		}
		return &ReviewContent{Type: ReviewTypeTag, TagRatings: p.TagRatings}, nil

	case ReviewTypeNormal:
		var p textPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("解析文本内容失败: %w", err)
		}
		if p.Text == "" {
			return nil, fmt.Errorf("文本内容缺少text")
		}
		return &ReviewContent{Type: ReviewTypeNormal, Text: p.Text}, nil

	default:
		return nil, fmt.Errorf("未知的评论类型: %s", reviewType)
	}
}

// EncodeReviewContent 把内容编码为存储层JSON载荷
func EncodeReviewContent(content *ReviewContent) ([]byte, error) {
	switch content.Type {
	case ReviewTypeTag:
		return json.Marshal(tagPayload{TagRatings: content.TagRatings})
	case ReviewTypeNormal:
		return json.Marshal(textPayload{Text: content.Text})
	default:
		return nil, fmt.Errorf("未知的评论类型: %s", content.Type)
	}
}

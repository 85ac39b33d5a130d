package graph

import (
	"context"
	"net/http"
	"strconv"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/lvdashuaibi/reviewscore/internal/model"
	"github.com/lvdashuaibi/reviewscore/internal/service"
)

// GraphQLServer 只读查询面：评论票数和用户沟通分
// 写路径（投票、重算）走REST接口
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

// GraphQL Schema定义
const schemaString = `
type Review {
  id: ID!
  ownerUserId: ID!
  status: String!
  type: String!
  rating: Int!
  fairVotes: Int!
  unfairVotes: Int!
  communicationScore: Int!
  updatedAt: String!
}

type UserReputation {
  userId: ID!
  communicationScore: Int!
  updatedAt: String!
}

type Query {
  # 查询评论票数和缓存分值
  getReview(reviewId: ID!): Review!

  # 查询用户沟通分
  getUserReputation(userId: ID!): UserReputation!
}

schema {
  query: Query
}
`

// NewGraphQLServer 创建新的GraphQL服务器
func NewGraphQLServer(voteService *service.VoteService) *GraphQLServer {
	resolver := NewResolver(voteService)

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	handler := &relay.Handler{Schema: schema}

	return &GraphQLServer{
		schema:   schema,
		handler:  handler,
		resolver: resolver,
	}
}

// Handler 返回GraphQL的HTTP处理器，由REST服务器挂载
func (s *GraphQLServer) Handler() http.Handler {
	return s.handler
}

// PlaygroundHandler 返回Playground页面处理器
func (s *GraphQLServer) PlaygroundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(playgroundHTML))
	}
}

// Resolver GraphQL解析器
type Resolver struct {
	voteService *service.VoteService
}

// NewResolver 创建新的解析器
func NewResolver(voteService *service.VoteService) *Resolver {
	return &Resolver{voteService: voteService}
}

// GetReview 查询评论
func (r *Resolver) GetReview(ctx context.Context, args struct{ ReviewID graphql.ID }) (*ReviewResolver, error) {
	reviewID, err := strconv.ParseInt(string(args.ReviewID), 10, 64)
	if err != nil {
		return nil, model.ErrReviewNotFound
	}

	review, err := r.voteService.GetReview(reviewID)
	if err != nil {
		return nil, err
	}

	return &ReviewResolver{review: review}, nil
}

// GetUserReputation 查询用户沟通分
func (r *Resolver) GetUserReputation(ctx context.Context, args struct{ UserID graphql.ID }) (*UserReputationResolver, error) {
	userID, err := strconv.ParseInt(string(args.UserID), 10, 64)
	if err != nil {
		return nil, model.ErrReviewNotFound
	}

	reputation, err := r.voteService.GetUserReputation(userID)
	if err != nil {
		return nil, err
	}

	return &UserReputationResolver{reputation: reputation}, nil
}

// ReviewResolver 评论解析器
type ReviewResolver struct {
	review *model.Review
}

func (r *ReviewResolver) ID() graphql.ID {
	return graphql.ID(strconv.FormatInt(r.review.ID, 10))
}

func (r *ReviewResolver) OwnerUserID() graphql.ID {
	return graphql.ID(strconv.FormatInt(r.review.OwnerUserID, 10))
}

func (r *ReviewResolver) Status() string {
	return string(r.review.Status)
}

func (r *ReviewResolver) Type() string {
	return string(r.review.Type)
}

func (r *ReviewResolver) Rating() int32 {
	return int32(r.review.Rating)
}

func (r *ReviewResolver) FairVotes() int32 {
	return int32(r.review.FairVotes)
}

func (r *ReviewResolver) UnfairVotes() int32 {
	return int32(r.review.UnfairVotes)
}

func (r *ReviewResolver) CommunicationScore() int32 {
	return int32(r.review.CommunicationScore)
}

func (r *ReviewResolver) UpdatedAt() string {
	return r.review.UpdatedAt.Format(time.RFC3339)
}

// UserReputationResolver 用户沟通分解析器
type UserReputationResolver struct {
	reputation *model.UserReputation
}

func (r *UserReputationResolver) UserID() graphql.ID {
	return graphql.ID(strconv.FormatInt(r.reputation.UserID, 10))
}

func (r *UserReputationResolver) CommunicationScore() int32 {
	return int32(r.reputation.CommunicationScore)
}

func (r *UserReputationResolver) UpdatedAt() string {
	return r.reputation.UpdatedAt.Format(time.RFC3339)
}

// playgroundHTML GraphQL Playground HTML
const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Review Score GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root">
    <style>
      body {
        background-color: rgb(23, 42, 58);
        font-family: Open Sans, sans-serif;
        height: 90vh;
      }
      #root {
        height: 100%;
        width: 100%;
        display: flex;
        align-items: center;
        justify-content: center;
      }
      .loading {
        font-size: 32px;
        font-weight: 200;
        color: rgba(255, 255, 255, .6);
        margin-left: 20px;
      }
      img {
        width: 78px;
        height: 78px;
      }
      .title {
        font-weight: 400;
      }
    </style>
    <img src='https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/logo.png' alt=''>
    <div class="loading">
      <span class="title">Review Score GraphQL Playground</span>
    </div>
  </div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '/graphql'
      })
    })</script>
</body>
</html>
`

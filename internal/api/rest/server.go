package rest

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/reviewscore/config"
	"github.com/lvdashuaibi/reviewscore/internal/api/graph"
	"github.com/lvdashuaibi/reviewscore/internal/model"
	"github.com/lvdashuaibi/reviewscore/internal/recalc"
	"github.com/lvdashuaibi/reviewscore/internal/service"
)

// Server REST写路径：投票和按需重算
// 鉴权在外部网关完成，这里只消费网关注入的X-User-ID头
type Server struct {
	engine        *gin.Engine
	voteService   *service.VoteService
	recalcService *recalc.RecalcService
}

func NewServer(voteService *service.VoteService, recalcService *recalc.RecalcService, graphqlServer *graph.GraphQLServer) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:        engine,
		voteService:   voteService,
		recalcService: recalcService,
	}

	engine.POST("/review/:reviewID/rate", s.handleRate)
	engine.POST("/review/:reviewID/recalculate-score", s.handleRecalculate)

	// GraphQL只读查询面和Playground
	engine.POST(config.AppConfig.GraphQL.Path, gin.WrapH(graphqlServer.Handler()))
	engine.GET("/playground", gin.WrapF(graphqlServer.PlaygroundHandler()))

	return s
}

// Start 启动HTTP服务器
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("REST服务已启动，地址: http://localhost%s, GraphQL端点: %s",
		addr, config.AppConfig.GraphQL.Path)
	return s.engine.Run(addr)
}

// handleRate 投票/改票
// 204 成功或无变更；409 给自己投票；404 评论不存在或未发布；400 参数错误
func (s *Server) handleRate(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("reviewID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的评论ID"})
		return
	}

	voterUserID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || voterUserID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少有效的用户标识"})
		return
	}

	var req model.RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求体"})
		return
	}

	_, err = s.voteService.CastVote(voterUserID, reviewID, req.RatingType)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidRatingType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, model.ErrSelfVote):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, model.ErrReviewNotFound), errors.Is(err, model.ErrReviewNotReleased):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			log.Printf("投票失败: voter=%d, review=%d, err=%v", voterUserID, reviewID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "投票失败"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// handleRecalculate 按需重算，任何时刻调用都安全
func (s *Server) handleRecalculate(c *gin.Context) {
	reviewID, err := strconv.ParseInt(c.Param("reviewID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的评论ID"})
		return
	}

	if _, err := s.recalcService.Recalculate(reviewID); err != nil {
		log.Printf("按需重算失败: review=%d, err=%v", reviewID, err)
		c.JSON(http.StatusOK, model.RecalcResponse{Success: false})
		return
	}

	c.JSON(http.StatusOK, model.RecalcResponse{Success: true})
}

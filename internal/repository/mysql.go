package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/lvdashuaibi/reviewscore/config"
	"github.com/lvdashuaibi/reviewscore/internal/model"
	"github.com/lvdashuaibi/reviewscore/internal/score"
)

const mysqlErrDuplicateEntry = 1062

type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
	weights  score.Weights
}

func NewMySQLRepository() (*MySQLRepository, error) {
	masterDB, err := sql.Open("mysql", config.AppConfig.MySQL.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	masterDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB, err := sql.Open("mysql", config.AppConfig.MySQL.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	slaveDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		log.Printf("从数据库连接测试失败: %v，将使用主数据库代替", err)
		slaveDB = masterDB
	}

	return &MySQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
		weights:  score.FromConfig(),
	}, nil
}

// isDuplicateEntry 判断是否为唯一键冲突
func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry
}

// CastVote 落库一次投票：校验评论状态后对(voter, review)做upsert，
// 票数计数器在同一事务内调整，评论行的FOR UPDATE锁保证并发投票不丢更新
func (r *MySQLRepository) CastVote(voterUserID, reviewID int64, rating model.RatingType) (*model.VoteResult, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("开始事务失败: %w", err)
	}

	// 锁定评论行
	var ownerUserID int64
	var status model.ReviewStatus
	var fairVotes, unfairVotes int
	query := "SELECT owner_user_id, status, fair_votes, unfair_votes FROM reviews WHERE id = ? FOR UPDATE"
	err = tx.QueryRow(query, reviewID).Scan(&ownerUserID, &status, &fairVotes, &unfairVotes)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, model.ErrReviewNotFound
		}
		return nil, fmt.Errorf("查询评论失败: %w", err)
	}

	if ownerUserID == voterUserID {
		tx.Rollback()
		return nil, model.ErrSelfVote
	}
	if status != model.ReviewReleased {
		tx.Rollback()
		return nil, model.ErrReviewNotReleased
	}

	// 查询该投票人已有的投票
	var previousStr string
	hasPrevious := true
	query = "SELECT rating_type FROM review_votes WHERE voter_user_id = ? AND review_id = ? FOR UPDATE"
	err = tx.QueryRow(query, voterUserID, reviewID).Scan(&previousStr)
	if err != nil {
		if err != sql.ErrNoRows {
			tx.Rollback()
			return nil, fmt.Errorf("查询已有投票失败: %w", err)
		}
		hasPrevious = false
	}

	result := &model.VoteResult{
		ReviewID:    reviewID,
		OwnerUserID: ownerUserID,
		New:         rating,
	}

	if hasPrevious {
		previous := model.RatingType(previousStr)
		result.Previous = &previous

		// 同类型重复投票：台账不变，不发事件
		if previous == rating {
			tx.Rollback()
			result.NoOp = true
			result.FairVotes = fairVotes
			result.UnfairVotes = unfairVotes
			return result, nil
		}

		updateQuery := "UPDATE review_votes SET rating_type = ?, updated_at = NOW() WHERE voter_user_id = ? AND review_id = ?"
		if _, err := tx.Exec(updateQuery, string(rating), voterUserID, reviewID); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("更新投票记录失败: %w", err)
		}

		// 改票：旧票计数减一，新票计数加一
		switch previous {
		case model.RatingFair:
			fairVotes--
		case model.RatingUnfair:
			unfairVotes--
		}
	} else {
		insertQuery := "INSERT INTO review_votes (voter_user_id, review_id, rating_type) VALUES (?, ?, ?)"
		if _, err := tx.Exec(insertQuery, voterUserID, reviewID, string(rating)); err != nil {
			tx.Rollback()
			if isDuplicateEntry(err) {
				// 并发首投撞上唯一键，按冲突重试处理
				return nil, fmt.Errorf("并发投票冲突: %w", err)
			}
			return nil, fmt.Errorf("插入投票记录失败: %w", err)
		}
	}

	switch rating {
	case model.RatingFair:
		fairVotes++
	case model.RatingUnfair:
		unfairVotes++
	}

	reviewScore := int64(fairVotes*r.weights.Fair - unfairVotes*r.weights.Unfair)
	updateReview := "UPDATE reviews SET fair_votes = ?, unfair_votes = ?, communication_score = ? WHERE id = ?"
	if _, err := tx.Exec(updateReview, fairVotes, unfairVotes, reviewScore, reviewID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("更新评论票数失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	result.FairVotes = fairVotes
	result.UnfairVotes = unfairVotes
	return result, nil
}

// ApplyScoreDelta 幂等地把分值增量应用到评论作者的沟通分上
// processed_events的唯一键是幂等屏障：同一eventId的第二次插入会失败，
// 增量不会被重复应用；增量本身用单条UPSERT语句原子累加
func (r *MySQLRepository) ApplyScoreDelta(eventID string, ownerUserID int64, delta int) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO processed_events (event_id) VALUES (?)", eventID); err != nil {
		tx.Rollback()
		if isDuplicateEntry(err) {
			return model.ErrEventProcessed
		}
		return fmt.Errorf("记录事件去重失败: %w", err)
	}

	upsert := `INSERT INTO user_reputation (user_id, communication_score)
			 VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE
			 communication_score = communication_score + VALUES(communication_score)`
	if _, err := tx.Exec(upsert, ownerUserID, delta); err != nil {
		tx.Rollback()
		return fmt.Errorf("累加用户沟通分失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// Recalculate 从台账全量重算一条评论的票数，并整体覆盖作者的沟通分
// 全程是覆盖而不是增量，天然幂等，可以和在线投票并发执行
func (r *MySQLRepository) Recalculate(reviewID int64) (*model.RecalcResult, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("开始事务失败: %w", err)
	}

	var ownerUserID int64
	var status model.ReviewStatus
	query := "SELECT owner_user_id, status FROM reviews WHERE id = ? FOR UPDATE"
	if err := tx.QueryRow(query, reviewID).Scan(&ownerUserID, &status); err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, model.ErrReviewNotFound
		}
		return nil, fmt.Errorf("查询评论失败: %w", err)
	}

	// 从台账重新统计票数
	var fairVotes, unfairVotes int
	countQuery := `SELECT
				 COALESCE(SUM(rating_type = 'fair'), 0),
				 COALESCE(SUM(rating_type = 'unfair'), 0)
				 FROM review_votes WHERE review_id = ?`
	if err := tx.QueryRow(countQuery, reviewID).Scan(&fairVotes, &unfairVotes); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("统计台账票数失败: %w", err)
	}

	reviewScore := int64(fairVotes*r.weights.Fair - unfairVotes*r.weights.Unfair)
	updateReview := "UPDATE reviews SET fair_votes = ?, unfair_votes = ?, communication_score = ? WHERE id = ?"
	if _, err := tx.Exec(updateReview, fairVotes, unfairVotes, reviewScore, reviewID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("覆盖评论票数失败: %w", err)
	}

	// 作者沟通分 = 该作者所有未删除评论的分值之和
	// 汇总是快照读：快照中已计入的投票，其事件若在本次覆盖提交之后才被
	// ApplyScoreDelta应用，会被短暂重复计入，由下一轮巡检覆盖收敛
	var ownerScore int64
	sumQuery := `SELECT COALESCE(SUM(fair_votes * ? - unfair_votes * ?), 0)
			 FROM reviews WHERE owner_user_id = ? AND status <> 'deleted'`
	if err := tx.QueryRow(sumQuery, r.weights.Fair, r.weights.Unfair, ownerUserID).Scan(&ownerScore); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("汇总作者沟通分失败: %w", err)
	}

	// 读取旧值用于上报漂移
	var oldScore int64
	err = tx.QueryRow("SELECT communication_score FROM user_reputation WHERE user_id = ? FOR UPDATE", ownerUserID).Scan(&oldScore)
	if err != nil && err != sql.ErrNoRows {
		tx.Rollback()
		return nil, fmt.Errorf("查询用户沟通分失败: %w", err)
	}

	overwrite := `INSERT INTO user_reputation (user_id, communication_score)
			 VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE
			 communication_score = VALUES(communication_score)`
	if _, err := tx.Exec(overwrite, ownerUserID, ownerScore); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("覆盖用户沟通分失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交事务失败: %w", err)
	}

	return &model.RecalcResult{
		ReviewID:    reviewID,
		OwnerUserID: ownerUserID,
		FairVotes:   fairVotes,
		UnfairVotes: unfairVotes,
		OwnerScore:  ownerScore,
		Drift:       ownerScore - oldScore,
	}, nil
}

// ParkEvent 重试耗尽的事件落入停靠表，等待人工处理，不丢弃
func (r *MySQLRepository) ParkEvent(eventID string, payload []byte, reason string) error {
	query := "INSERT INTO parked_events (event_id, payload, reason) VALUES (?, ?, ?)"
	if _, err := r.masterDB.Exec(query, eventID, payload, reason); err != nil {
		if isDuplicateEntry(err) {
			return nil
		}
		return fmt.Errorf("停靠事件失败: %w", err)
	}
	return nil
}

// GetReview 查询评论
func (r *MySQLRepository) GetReview(reviewID int64) (*model.Review, error) {
	query := `SELECT id, owner_user_id, status, type, rating, fair_votes, unfair_votes,
			 communication_score, content, created_at, updated_at
			 FROM reviews WHERE id = ?`

	var review model.Review
	var rawContent []byte
	err := r.slaveDB.QueryRow(query, reviewID).Scan(
		&review.ID,
		&review.OwnerUserID,
		&review.Status,
		&review.Type,
		&review.Rating,
		&review.FairVotes,
		&review.UnfairVotes,
		&review.CommunicationScore,
		&rawContent,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrReviewNotFound
		}
		return nil, fmt.Errorf("查询评论失败: %w", err)
	}

	if len(rawContent) > 0 {
		content, err := model.DecodeReviewContent(review.Type, rawContent)
		if err != nil {
			return nil, fmt.Errorf("解码评论 %d 内容失败: %w", reviewID, err)
		}
		review.Content = content
	}

	return &review, nil
}

// GetUserReputation 查询用户沟通分，没有记录时返回零分
func (r *MySQLRepository) GetUserReputation(userID int64) (*model.UserReputation, error) {
	query := "SELECT user_id, communication_score, updated_at FROM user_reputation WHERE user_id = ?"

	var reputation model.UserReputation
	err := r.slaveDB.QueryRow(query, userID).Scan(
		&reputation.UserID,
		&reputation.CommunicationScore,
		&reputation.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return &model.UserReputation{UserID: userID, UpdatedAt: time.Now()}, nil
		}
		return nil, fmt.Errorf("查询用户沟通分失败: %w", err)
	}

	return &reputation, nil
}

// ListReleasedReviewIDs 分批列出已发布评论ID，供后台巡检重算使用
func (r *MySQLRepository) ListReleasedReviewIDs(afterID int64, limit int) ([]int64, error) {
	query := "SELECT id FROM reviews WHERE status = 'released' AND id > ? ORDER BY id LIMIT ?"
	rows, err := r.slaveDB.Query(query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询已发布评论列表失败: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("扫描评论ID失败: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代评论ID失败: %w", err)
	}

	return ids, nil
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}

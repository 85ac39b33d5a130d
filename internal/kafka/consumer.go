package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lvdashuaibi/reviewscore/config"
	"github.com/lvdashuaibi/reviewscore/internal/model"
)

// 多分区worker轮询单个分区的读取时限
const partitionPollTimeout = time.Second

type Consumer struct {
	readers        []*kafka.Reader
	workerReaders  [][]*kafka.Reader
	ctx            context.Context
	cancel         context.CancelFunc
	numWorkers     int
	wg             sync.WaitGroup
	retryBackoff   []time.Duration
	processTimeout time.Duration
}

// MessageHandler 处理一条投票变更事件，返回错误触发重试
type MessageHandler func(event *model.VoteTransitionEvent) error

// ParkFunc 重试耗尽后停靠消息，等待人工处理
type ParkFunc func(event *model.VoteTransitionEvent, raw []byte, reason string)

func NewConsumer() (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	numWorkers := config.AppConfig.Consumer.Workers
	if numWorkers <= 0 {
		numWorkers = 8
	}

	// 获取Kafka主题的分区数量
	conn, err := kafka.DialLeader(ctx, "tcp", config.AppConfig.Kafka.Brokers[0], config.AppConfig.Kafka.Topic, 0)
	if err != nil {
		cancel()
		return nil, err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		cancel()
		return nil, err
	}

	// 统计主题的分区数量
	var topicPartitions []int
	for _, p := range partitions {
		if p.Topic == config.AppConfig.Kafka.Topic {
			topicPartitions = append(topicPartitions, p.ID)
		}
	}

	log.Printf("检测到Kafka主题 %s 有 %d 个分区", config.AppConfig.Kafka.Topic, len(topicPartitions))

	// 每个分区固定一个Reader，按轮转分配给worker。分区数多于worker时，
	// 单个worker顺序轮询名下的多个分区；单分区始终只有一个worker读，
	// 同一作者的事件不会被并发处理，也没有分区会无人消费
	groups := assignPartitions(topicPartitions, numWorkers)
	if len(groups) > 0 && len(groups) < numWorkers {
		log.Printf("分区数量(%d)小于期望的worker数量(%d), 将使用%d个worker消费",
			len(topicPartitions), numWorkers, len(groups))
	}

	var readers []*kafka.Reader
	workerReaders := make([][]*kafka.Reader, 0, len(groups))
	for workerID, group := range groups {
		workerSet := make([]*kafka.Reader, 0, len(group))
		for _, partition := range group {
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:   config.AppConfig.Kafka.Brokers,
				Topic:     config.AppConfig.Kafka.Topic,
				Partition: partition,
				MinBytes:  10e3, // 10KB
				MaxBytes:  10e6, // 10MB
			})
			readers = append(readers, reader)
			workerSet = append(workerSet, reader)
		}
		workerReaders = append(workerReaders, workerSet)
		log.Printf("消费者worker #%d 将处理分区: %v", workerID, group)
	}

	// 分区信息不可用时退化为消费者组模式
	if len(readers) == 0 {
		log.Printf("未检测到分区，将使用消费者组模式")
		groupReader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  config.AppConfig.Kafka.Brokers,
			Topic:    config.AppConfig.Kafka.Topic,
			GroupID:  config.AppConfig.Kafka.GroupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		})
		readers = append(readers, groupReader)
		workerReaders = [][]*kafka.Reader{{groupReader}}
	}

	return &Consumer{
		readers:        readers,
		workerReaders:  workerReaders,
		ctx:            ctx,
		cancel:         cancel,
		numWorkers:     len(workerReaders),
		retryBackoff:   config.AppConfig.Consumer.RetryBackoff,
		processTimeout: config.AppConfig.Consumer.ProcessTimeout,
	}, nil
}

// assignPartitions 把全部分区按轮转分配到各worker，每个分区恰好归属一个worker
func assignPartitions(partitions []int, workers int) [][]int {
	if workers > len(partitions) {
		workers = len(partitions)
	}
	if workers <= 0 {
		return nil
	}

	groups := make([][]int, workers)
	for i, partition := range partitions {
		groups[i%workers] = append(groups[i%workers], partition)
	}
	return groups
}

// StartConsuming 启动所有worker开始消费
func (c *Consumer) StartConsuming(handler MessageHandler, parker ParkFunc) {
	for i, readers := range c.workerReaders {
		if len(readers) == 0 {
			continue
		}

		c.wg.Add(1)
		go func(workerID int, rs []*kafka.Reader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, rs, handler, parker)
		}(i, readers)
	}

	log.Printf("已启动 %d 个Kafka消费者worker", len(c.workerReaders))
}

// consumeMessages 单个worker的消费循环，名下多个分区时限时轮询
func (c *Consumer) consumeMessages(workerID int, readers []*kafka.Reader, handler MessageHandler, parker ParkFunc) {
	log.Printf("消费者worker #%d 已启动，负责 %d 个分区", workerID, len(readers))

	for {
		for _, reader := range readers {
			select {
			case <-c.ctx.Done():
				log.Printf("消费者worker #%d 收到停止信号", workerID)
				return
			default:
			}

			readCtx := c.ctx
			var cancel context.CancelFunc
			if len(readers) > 1 {
				readCtx, cancel = context.WithTimeout(c.ctx, partitionPollTimeout)
			}

			m, err := reader.ReadMessage(readCtx)
			if cancel != nil {
				cancel()
			}
			if err != nil {
				if c.shuttingDown(err) {
					log.Printf("消费者worker #%d 收到停止信号", workerID)
					return
				}
				if errors.Is(err, context.DeadlineExceeded) {
					// 本分区暂无消息，轮到下一个分区
					continue
				}
				log.Printf("消费者worker #%d 读取消息失败: %v", workerID, err)
				time.Sleep(time.Second)
				continue
			}

			var event model.VoteTransitionEvent
			if err := json.Unmarshal(m.Value, &event); err != nil {
				log.Printf("消费者worker #%d 解析消息失败: %v", workerID, err)
				continue
			}

			c.processWithRetry(workerID, &event, m.Value, handler, parker)
		}
	}
}

// shuttingDown 判断读取错误是否来自停止信号，kafka-go可能把取消错误包装后返回
func (c *Consumer) shuttingDown(err error) bool {
	return errors.Is(err, context.Canceled) || c.ctx.Err() != nil
}

// processWithRetry 按配置的退避时间表重试，耗尽后停靠消息而不是丢弃
func (c *Consumer) processWithRetry(workerID int, event *model.VoteTransitionEvent, raw []byte, handler MessageHandler, parker ParkFunc) {
	var lastErr error

	// 首次尝试 + 每个退避间隔后各重试一次
	for attempt := 0; attempt <= len(c.retryBackoff); attempt++ {
		if attempt > 0 {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.retryBackoff[attempt-1]):
			}
		}

		lastErr = c.attemptWithTimeout(event, handler)
		if lastErr == nil {
			return
		}

		log.Printf("消费者worker #%d 处理事件 %s 第%d次失败: %v",
			workerID, event.EventID, attempt+1, lastErr)
	}

	log.Printf("消费者worker #%d 事件 %s 重试耗尽，停靠待人工处理", workerID, event.EventID)
	if parker != nil {
		parker(event, raw, lastErr.Error())
	}
}

// attemptWithTimeout 带单条消息超时的一次处理尝试
func (c *Consumer) attemptWithTimeout(event *model.VoteTransitionEvent, handler MessageHandler) error {
	if c.processTimeout <= 0 {
		return handler(event)
	}

	done := make(chan error, 1)
	go func() {
		done <- handler(event)
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(c.processTimeout):
		return fmt.Errorf("处理事件 %s 超时", event.EventID)
	}
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	log.Println("正在停止所有Kafka消费者worker...")
	c.cancel()

	// 等待所有worker结束
	c.wg.Wait()

	// 关闭所有reader
	for i, reader := range c.readers {
		if reader != nil {
			if err := reader.Close(); err != nil {
				log.Printf("关闭消费者 #%d 失败: %v", i, err)
			}
		}
	}

	log.Println("所有Kafka消费者worker已停止")
	return nil
}

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lvdashuaibi/reviewscore/config"
	"github.com/lvdashuaibi/reviewscore/internal/api/graph"
	"github.com/lvdashuaibi/reviewscore/internal/api/rest"
	intkafka "github.com/lvdashuaibi/reviewscore/internal/kafka"
	"github.com/lvdashuaibi/reviewscore/internal/lock"
	"github.com/lvdashuaibi/reviewscore/internal/recalc"
	"github.com/lvdashuaibi/reviewscore/internal/repository"
	"github.com/lvdashuaibi/reviewscore/internal/service"
)

const (
	LockAcquireTimeout = 30 * time.Second
)

var (
	configPath = flag.String("config", "config/config.yaml", "配置文件路径")
	instanceID = flag.Int("instance", 1, "实例ID，用于区分多个实例")
)

func main() {
	// 解析命令行参数
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("配置加载成功，当前实例ID: %d", *instanceID)

	// 创建数据库连接
	mysqlRepo, err := repository.NewMySQLRepository()
	if err != nil {
		log.Fatalf("初始化MySQL仓库失败: %v", err)
	}
	defer mysqlRepo.Close()
	log.Printf("MySQL仓库初始化成功")

	// 创建Redis连接
	redisRepo, err := repository.NewRedisRepository()
	if err != nil {
		log.Fatalf("初始化Redis仓库失败: %v", err)
	}
	defer redisRepo.Close()
	log.Printf("Redis仓库初始化成功")

	// 创建ETCD分布式锁，用于巡检重算的leader选举
	etcdLock, err := lock.NewETCDLock()
	if err != nil {
		log.Fatalf("初始化ETCD分布式锁失败: %v", err)
	}
	defer etcdLock.Close()
	log.Printf("ETCD分布式锁初始化成功")

	// 竞争巡检leader锁
	lockAcquired, err := etcdLock.AcquireLock(recalc.LeaderLockName, LockAcquireTimeout)
	if err != nil {
		log.Printf("获取巡检leader锁失败: %v，将以普通节点模式启动", err)
	}

	var isSweepLeader bool
	if lockAcquired {
		log.Printf("实例 %d 获取巡检leader锁成功，将作为巡检leader启动", *instanceID)
		isSweepLeader = true
		defer etcdLock.ReleaseLock(recalc.LeaderLockName)
	} else {
		log.Printf("实例 %d 未获取到巡检leader锁，以普通节点模式启动", *instanceID)
	}

	// 创建Redis多节点锁，用于单次巡检的互斥
	redLock, err := lock.NewRedLock()
	if err != nil {
		log.Fatalf("初始化Redis分布式锁失败: %v", err)
	}
	defer redLock.Close()

	// 创建Kafka生产者
	producer, err := intkafka.NewProducer()
	if err != nil {
		log.Fatalf("初始化Kafka生产者失败: %v", err)
	}
	defer producer.Close()
	log.Printf("Kafka生产者初始化成功")

	// 创建Kafka消费者
	consumer, err := intkafka.NewConsumer()
	if err != nil {
		log.Fatalf("初始化Kafka消费者失败: %v", err)
	}
	defer consumer.Stop()
	log.Printf("Kafka消费者初始化成功")

	// 创建投票服务
	voteService := service.NewVoteService(mysqlRepo, redisRepo, producer)
	log.Printf("投票服务初始化成功")

	// 创建重算服务并启动巡检（只有leader实例才会真正执行巡检）
	recalcService := recalc.NewRecalcService(mysqlRepo, redisRepo, redLock, etcdLock, isSweepLeader)
	recalcService.StartSweeper()
	defer recalcService.StopSweeper()

	// 启动Kafka消费者，重试耗尽的事件停靠待人工处理
	consumer.StartConsuming(voteService.ProcessVoteEvent, voteService.ParkEvent)
	log.Printf("Kafka消费者已启动")

	// 创建API服务
	graphqlServer := graph.NewGraphQLServer(voteService)
	restServer := rest.NewServer(voteService, recalcService, graphqlServer)

	// 计算端口，支持多实例
	serverPort := cfg.Server.Port + *instanceID - 1

	// 启动HTTP服务器(异步)
	go func() {
		if err := restServer.Start(serverPort); err != nil {
			log.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	log.Printf("Review Score 系统 (实例 %d) 已启动，服务地址: http://localhost:%d", *instanceID, serverPort)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")
}

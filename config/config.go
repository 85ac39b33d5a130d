package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Recalc   RecalcConfig   `mapstructure:"recalc"`
	Score    ScoreConfig    `mapstructure:"score"`
	ETCD     ETCDConfig     `mapstructure:"etcd"`
	GraphQL  GraphQLConfig  `mapstructure:"graphql"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Master       string `mapstructure:"master"`
	Slave        string `mapstructure:"slave"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	// 数据存储Redis
	DataAddress string        `mapstructure:"data_address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// 事件去重窗口，窗口内重复的eventId在Redis层直接跳过
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`

	// Redlock使用的Redis节点
	LockAddresses []string `mapstructure:"lock_addresses"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type ConsumerConfig struct {
	// 单实例并发处理消息的worker数量上限
	Workers int `mapstructure:"workers"`

	// 重试退避时间表，耗尽后消息写入parked_events表等待人工处理
	RetryBackoff []time.Duration `mapstructure:"retry_backoff"`

	// 单条消息处理超时
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
}

type RecalcConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	LockRetryCount int           `mapstructure:"lock_retry_count"`
}

type ScoreConfig struct {
	FairWeight   int `mapstructure:"fair_weight"`
	UnfairWeight int `mapstructure:"unfair_weight"`
}

type ETCDConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
}

type GraphQLConfig struct {
	Path string `mapstructure:"path"`
}

var AppConfig Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()

	viper.SetDefault("score.fair_weight", 1)
	viper.SetDefault("score.unfair_weight", 1)
	viper.SetDefault("consumer.workers", 8)
	viper.SetDefault("consumer.retry_backoff",
		[]time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond, 800 * time.Millisecond, time.Second})
	viper.SetDefault("consumer.process_timeout", 5*time.Second)
	viper.SetDefault("redis.dedupe_window", time.Hour)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &AppConfig, nil
}

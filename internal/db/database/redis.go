package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

/*
  RedisConfig Redis 连接配置
  功能：管理 Redis 连接参数
*/
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	/* 连接池配置 */
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries" json:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

/*
  DefaultRedisConfig 返回默认 Redis 配置
  功能：提供开箱即用的 Redis 连接参数
*/
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 3,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

/*
  RedisClient Redis 客户端封装
  功能：为控制面提供 Redis 操作的统一封装——
  会话影子缓存（JSON 序列化）、限流滑动窗口（ZSet 管道）、
  批量取值（MGET）和跨实例失效广播（发布/订阅）
*/
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

/*
  NewRedisClient 创建 Redis 客户端
  功能：根据配置初始化 Redis 连接，地址为空时返回 nil（Redis 为可选组件，
  不可用时限流降级为本地计数、会话走纯数据库路径）
*/
func NewRedisClient(cfg *RedisConfig) (*RedisClient, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx := context.Background()

	/* 测试连接 */
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis 连接失败 [%s]: %w", cfg.Addr, err)
	}

	log.Printf("✓ Redis 连接成功 [%s]", cfg.Addr)

	return &RedisClient{
		client: client,
		ctx:    ctx,
	}, nil
}

/*
  Client 获取底层 Redis 客户端
  功能：直接访问 go-redis 原始客户端进行高级操作
*/
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

/* ===== 缓存操作（JSON 序列化） ===== */

/*
  Set 设置缓存
  功能：将值 JSON 序列化后写入 Redis，支持设置过期时间
*/
func (r *RedisClient) Set(key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存值失败 [%s]: %w", key, err)
	}
	return r.client.Set(r.ctx, key, data, expiration).Err()
}

/*
  Get 获取缓存
  功能：读取键值并 JSON 反序列化到 dest，键不存在时返回 redis.Nil
*/
func (r *RedisClient) Get(key string, dest interface{}) error {
	data, err := r.client.Get(r.ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

/* IsNil 判断错误是否为键不存在 */
func IsNil(err error) bool {
	return err == redis.Nil
}

/*
  Del 删除缓存
  功能：从 Redis 中删除指定的键
*/
func (r *RedisClient) Del(keys ...string) error {
	return r.client.Del(r.ctx, keys...).Err()
}

/*
  Exists 检查键是否存在
*/
func (r *RedisClient) Exists(key string) (bool, error) {
	n, err := r.client.Exists(r.ctx, key).Result()
	return n > 0, err
}

/*
  SetNX 设置键值对（仅在键不存在时）
  功能：原子性地设置键值对，用于多实例间的初始化竞争（如令牌密钥生成）
*/
func (r *RedisClient) SetNX(key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("序列化缓存值失败 [%s]: %w", key, err)
	}
	return r.client.SetNX(r.ctx, key, data, expiration).Result()
}

/*
  Expire 设置过期时间
  功能：为已存在的键设置过期时间
*/
func (r *RedisClient) Expire(key string, expiration time.Duration) error {
	return r.client.Expire(r.ctx, key, expiration).Err()
}

/*
  MGet 批量获取缓存
  功能：单次往返取回多个键的 JSON 值，未命中的键对应位置为 nil。
  会话活动数据按会话 ID 批量取回时使用，保证寻批开销为 O(1) 次往返。
*/
func (r *RedisClient) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	result := make([][]byte, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			result[i] = []byte(s)
		}
	}
	return result, nil
}

/* ===== 限流滑动窗口 ===== */

/*
  SlidingWindowCount 滑动窗口计数
  功能：对 key 对应的有序集合原子执行：
    1. 删除窗口外（score < now-window）的旧条目
    2. 以当前时间为 score 插入本次请求（member 为 UUID，避免同毫秒碰撞）
    3. 统计窗口内条目数
    4. 刷新键的过期时间（窗口时长 + 余量，空闲键自动回收）
  四条命令通过 TxPipeline 以单次往返提交（MULTI/EXEC），并发调用同一键
  不会丢失更新。返回包含本次请求在内的窗口计数。
*/
func (r *RedisClient) SlidingWindowCount(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	windowStart := now.Add(-window)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.New().String(),
	})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("滑动窗口管道执行失败 [%s]: %w", key, err)
	}

	return countCmd.Val(), nil
}

/* ===== 发布/订阅 ===== */

/*
  Publish 发布消息
  功能：将消息 JSON 序列化后发送到指定频道，用于跨实例广播会话失效事件
*/
func (r *RedisClient) Publish(channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化消息失败 [%s]: %w", channel, err)
	}
	return r.client.Publish(r.ctx, channel, data).Err()
}

/*
  Subscribe 订阅频道
  功能：订阅一个或多个频道，返回消息管道
*/
func (r *RedisClient) Subscribe(channels ...string) *redis.PubSub {
	return r.client.Subscribe(r.ctx, channels...)
}

/*
  Close 关闭 Redis 连接
*/
func (r *RedisClient) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

/*
  IsAvailable 检查 Redis 是否可用
  功能：通过 Ping 命令检测 Redis 连接状态
*/
func (r *RedisClient) IsAvailable() bool {
	if r == nil || r.client == nil {
		return false
	}
	return r.client.Ping(r.ctx).Err() == nil
}

package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"flowdeck/internal/db"
	"flowdeck/internal/pkg/logger"

	"go.uber.org/zap"
)

const (
	// 会话签名密钥在 Redis 中的键名
	SessionSecretRedisKey = "system:session:secret"
	// 密钥同步间隔（24小时）
	SessionSecretSyncInterval = 24 * time.Hour
	// 密钥长度（64字节 = 512位）
	SessionSecretLength = 64
)

/*
SecretManager 会话签名密钥管理器
功能：加载或生成令牌签名密钥。多实例部署时首个实例生成的
密钥通过 Redis SETNX 发布，其余实例读取同一密钥，保证任一
实例签发的令牌在所有实例上都可验证。配置中显式指定密钥时
直接使用，跳过 Redis 协调。
*/
type SecretManager struct {
	db            *db.Manager
	configured    string
	currentSecret string
	mu            sync.RWMutex
	stopChan      chan struct{}
	stopOnce      sync.Once
}

/*
NewSecretManager 创建密钥管理器
*/
func NewSecretManager(dbManager *db.Manager, configured string) *SecretManager {
	return &SecretManager{
		db:         dbManager,
		configured: configured,
		stopChan:   make(chan struct{}),
	}
}

/*
Start 启动密钥管理器
功能：初始化密钥并启动多实例同步循环
*/
func (m *SecretManager) Start() error {
	if m.configured != "" {
		m.setSecret(m.configured)
		return nil
	}

	secret, err := m.loadOrGenerateSecret()
	if err != nil {
		return fmt.Errorf("初始化会话密钥失败: %w", err)
	}
	m.setSecret(secret)

	go m.syncLoop()
	return nil
}

/* Stop 停止密钥管理器 */
func (m *SecretManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

/* GetSecret 获取当前签名密钥 */
func (m *SecretManager) GetSecret() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentSecret
}

func (m *SecretManager) setSecret(secret string) {
	m.mu.Lock()
	m.currentSecret = secret
	m.mu.Unlock()
}

/*
loadOrGenerateSecret 加载或生成签名密钥
功能：Redis 可用时用 SETNX 抢占式写入，并发启动的多个实例
只有一个生成成功，其余读取同一份；Redis 不可用时退化为
仅内存密钥（单实例模式）。
*/
func (m *SecretManager) loadOrGenerateSecret() (string, error) {
	if !m.db.HasCache() {
		logger.Warn("Redis 不可用，会话密钥仅存于内存（多实例部署将无法互验令牌）")
		return generateSecret()
	}

	var secret string
	err := m.db.Redis.Get(SessionSecretRedisKey, &secret)
	if err == nil && secret != "" {
		logger.Info("✓ 从 Redis 加载会话密钥")
		return secret, nil
	}

	secret, err = generateSecret()
	if err != nil {
		return "", err
	}

	// 永久保存，SETNX 保证并发启动时只写入一次
	won, err := m.db.Redis.SetNX(SessionSecretRedisKey, secret, 0)
	if err != nil {
		logger.Warn("保存会话密钥到 Redis 失败（将仅使用内存密钥）", zap.Error(err))
		return secret, nil
	}
	if !won {
		/* 其它实例抢先写入，以 Redis 中的为准 */
		if err := m.db.Redis.Get(SessionSecretRedisKey, &secret); err != nil {
			return "", fmt.Errorf("读取会话密钥失败: %w", err)
		}
		logger.Info("✓ 从 Redis 加载会话密钥（其它实例已生成）")
		return secret, nil
	}

	logger.Info("✓ 已生成新会话密钥并发布到 Redis")
	return secret, nil
}

/* generateSecret 生成随机签名密钥 */
func generateSecret() (string, error) {
	bytes := make([]byte, SessionSecretLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("生成随机密钥失败: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

/*
syncLoop 后台密钥同步循环
功能：定期对齐 Redis 中的密钥（多实例一致性）。不自动轮换——
轮换会使所有已签发的令牌立即失效，应由管理员手动触发。
*/
func (m *SecretManager) syncLoop() {
	ticker := time.NewTicker(SessionSecretSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !m.db.HasCache() {
				continue
			}
			var redisSecret string
			if err := m.db.Redis.Get(SessionSecretRedisKey, &redisSecret); err == nil && redisSecret != "" {
				if redisSecret != m.GetSecret() {
					m.setSecret(redisSecret)
					logger.Info("会话密钥已从 Redis 同步（多实例一致性）")
				}
			}
		case <-m.stopChan:
			return
		}
	}
}

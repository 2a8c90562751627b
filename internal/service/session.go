package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowdeck/internal/config"
	"flowdeck/internal/db/cache"
	"flowdeck/internal/db/dao"
	"flowdeck/internal/db/database"
	"flowdeck/internal/db/models"
	"flowdeck/internal/pkg/logger"
	"flowdeck/internal/pkg/metrics"
	"flowdeck/internal/resilience"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

/* RevocationChannel 会话失效广播频道 */
const RevocationChannel = "flowdeck:sessions:revoked"

const (
	sessionKeyPrefix  = "fd:session:"
	activityKeyPrefix = "fd:activity:"
)

/* ErrCacheMiss 缓存未命中 */
var ErrCacheMiss = errors.New("缓存未命中")

/*
sessionCache 会话缓存接口
功能：SessionService 对分布式缓存的最小依赖面。
生产实现为 Redis 封装的适配器；测试注入内存假实现，
可验证批量查找确实只发起一次 MGet。
*/
type sessionCache interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Get(key string, dest interface{}) error /* 未命中返回 ErrCacheMiss */
	Del(keys ...string) error
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	Publish(channel string, message interface{}) error
}

/* redisSessionCache Redis 适配器 */
type redisSessionCache struct {
	redis *database.RedisClient
}

func (c *redisSessionCache) Set(key string, value interface{}, ttl time.Duration) error {
	return c.redis.Set(key, value, ttl)
}

func (c *redisSessionCache) Get(key string, dest interface{}) error {
	err := c.redis.Get(key, dest)
	if database.IsNil(err) {
		return ErrCacheMiss
	}
	return err
}

func (c *redisSessionCache) Del(keys ...string) error {
	return c.redis.Del(keys...)
}

func (c *redisSessionCache) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	return c.redis.MGet(ctx, keys...)
}

func (c *redisSessionCache) Publish(channel string, message interface{}) error {
	return c.redis.Publish(channel, message)
}

/*
ClientContext 创建/验证会话时的客户端上下文
功能：指纹计算的输入。启用指纹校验时，令牌被绑定到 UA+IP，
换客户端重放被盗令牌会在验证时被拒绝。
*/
type ClientContext struct {
	IP        string
	UserAgent string
}

/*
SessionInfo 用户会话摘要
功能：GetUserSessions 的返回条目，活动字段来自缓存批量查找，
缓存中没有时为零值（活动数据是尽力而为的）
*/
type SessionInfo struct {
	ID            string     `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	IPAddress     string     `json:"ip_address,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
	ActivityCount int64      `json:"activity_count,omitempty"`
}

/* l1Entry 进程内已验证会话备忘条目 */
type l1Entry struct {
	session  *models.Session
	cachedAt time.Time
}

/*
SessionService 会话服务
功能：会话的创建、验证、失效与跨实例传播。

分层存储：
  - 数据库行是唯一权威副本，所有写操作落库
  - Redis 影子副本 TTL 受限，验证时的快路径，失效时删除
  - 进程内 L1 备忘（秒级 TTL）吸收同一请求风暴内的重复验证，
    失效广播到达时主动清除

验证失败（签名无效、过期、指纹不匹配、记录缺失）一律返回
(nil, nil)，不区分失败原因；指纹不匹配额外记审计日志。
*/
type SessionService struct {
	dao    *dao.DAO
	cache  sessionCache /* Redis 不可用时为 nil，走纯数据库路径 */
	redis  *database.RedisClient
	cfg    config.SessionConfig
	secret []byte
	logger *zap.Logger

	/* 进程内 L1 备忘 */
	l1    map[string]l1Entry
	l1TTL time.Duration
	l1Mu  sync.RWMutex

	/* 失效事件回调（可选），用于管理端事件流 */
	OnRevocation func(event cache.RevocationEvent)

	stopChan chan struct{}
	stopOnce sync.Once
}

/*
NewSessionService 创建会话服务
功能：redis 为 nil 时缓存与广播路径全部跳过（单实例降级模式）
*/
func NewSessionService(d *dao.DAO, redis *database.RedisClient, cfg config.SessionConfig, secret string) *SessionService {
	s := &SessionService{
		dao:      d,
		redis:    redis,
		cfg:      cfg,
		secret:   []byte(secret),
		logger:   zap.L().Named("session-service"),
		l1:       make(map[string]l1Entry),
		l1TTL:    5 * time.Second,
		stopChan: make(chan struct{}),
	}
	if redis != nil {
		s.cache = &redisSessionCache{redis: redis}
	}
	return s
}

/* ==================== 创建 ==================== */

/*
CreateSession 创建会话
功能：签发 HS256 令牌（jti = 会话 ID，可选 fp 指纹声明），
持久化权威记录，写入 TTL 受限的缓存影子副本。
同一用户多次登录产生互相独立的会话与令牌。
*/
func (s *SessionService) CreateSession(user *models.User, clientCtx *ClientContext) (string, *models.Session, error) {
	sessionID := uuid.New().String()
	now := time.Now()
	expiresAt := now.Add(time.Duration(s.cfg.Expiration) * time.Hour)

	fingerprint := ""
	if s.cfg.FingerprintEnabled && clientCtx != nil {
		fingerprint = s.computeFingerprint(clientCtx)
	}

	claims := jwt.MapClaims{
		"jti": sessionID,
		"sub": user.ID,
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}
	if fingerprint != "" {
		claims["fp"] = fingerprint
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("签名会话令牌失败: %w", err)
	}

	session := &models.Session{
		UserID:      user.ID,
		TokenHash:   hashToken(token),
		ExpiresAt:   expiresAt,
		Fingerprint: fingerprint,
		UserEmail:   user.Email,
		UserName:    user.Name,
		UserRole:    user.Role,
	}
	session.ID = sessionID
	if clientCtx != nil {
		session.IPAddress = clientCtx.IP
		session.UserAgent = clientCtx.UserAgent
	}

	/* 权威副本落库，失败即创建失败 */
	if err := s.dao.CreateSession(session); err != nil {
		return "", nil, err
	}

	/* 缓存影子副本：尽力而为，失败只降级不报错 */
	s.writeShadow(session)

	return token, session, nil
}

/* ==================== 验证 ==================== */

/*
VerifySession 验证会话令牌
功能：签名/有效期校验 → 指纹校验 → L1 备忘 → 缓存快路径 →
数据库慢路径（带 database-quick 重试预设，命中后回填缓存）。
任何一步失败都返回 (nil, nil)，对外统一表现为「未认证」。
*/
func (s *SessionService) VerifySession(ctx context.Context, token string, clientCtx *ClientContext) (*models.Session, error) {
	sessionID, fingerprint, ok := s.parseToken(token)
	if !ok {
		return nil, nil
	}

	/* 指纹校验：令牌携带指纹声明时，用当前请求上下文重新计算比对。
	   不匹配按安全事件记审计日志，但对调用方不区分失败原因。 */
	if s.cfg.FingerprintEnabled && fingerprint != "" {
		expected := ""
		if clientCtx != nil {
			expected = s.computeFingerprint(clientCtx)
		}
		if !hmac.Equal([]byte(fingerprint), []byte(expected)) {
			fields := []zap.Field{zap.String("session_id", sessionID)}
			if clientCtx != nil {
				fields = append(fields, zap.String("ip", clientCtx.IP), zap.String("user_agent", clientCtx.UserAgent))
			}
			logger.Audit().Warn("会话指纹不匹配，疑似令牌被盗用", fields...)
			return nil, nil
		}
	}

	tokenHash := hashToken(token)

	/* L1 备忘：吸收同一实例上的高频重复验证 */
	if session := s.l1Get(sessionID, tokenHash); session != nil {
		return session, nil
	}

	/* 缓存快路径 */
	if s.cache != nil {
		var shadow cache.SessionShadow
		err := s.cache.Get(sessionKeyPrefix+sessionID, &shadow)
		switch {
		case err == nil:
			metrics.SessionCacheLookups.WithLabelValues("hit").Inc()
			if shadow.TokenHash == tokenHash && time.Now().Before(shadow.ExpiresAt) {
				session := shadowToModel(&shadow)
				s.l1Put(sessionID, session)
				return session, nil
			}
			/* 影子副本对不上或已过期：继续走慢路径确认 */
		case errors.Is(err, ErrCacheMiss):
			metrics.SessionCacheLookups.WithLabelValues("miss").Inc()
		default:
			/* 缓存基础设施故障：吞掉并走慢路径，不影响请求 */
			s.logger.Warn("会话缓存读取失败，回落到数据库", zap.Error(err))
		}
	} else {
		metrics.SessionCacheLookups.WithLabelValues("bypass").Inc()
	}

	/* 数据库慢路径：面向用户的快速预设，冷启动抖动时短暂重试 */
	session, err := resilience.WithRetry(ctx, resilience.DatabaseQuick, func(ctx context.Context) (*models.Session, error) {
		return s.dao.GetSessionByID(sessionID)
	})
	if err != nil {
		s.logger.Error("查询会话记录失败", zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil
	}
	if session == nil || session.TokenHash != tokenHash || session.IsExpired() {
		return nil, nil
	}

	/* 慢路径命中：回填缓存 */
	s.writeShadow(session)
	s.l1Put(sessionID, session)

	return session, nil
}

/* ==================== 失效 ==================== */

/*
InvalidateSession 使单个会话失效
功能：删除缓存影子与数据库记录，并广播失效事件，
其它实例收到后主动丢弃本地备忘
*/
func (s *SessionService) InvalidateSession(token string) error {
	sessionID, _, ok := s.parseToken(token)
	if !ok {
		/* 令牌已无法解析（过期/伪造），视为已失效 */
		return nil
	}
	return s.invalidateByID(sessionID, "", "logout")
}

/*
InvalidateAllUserSessions 使用户的全部会话失效
功能：逐个删除缓存影子并广播，随后批量删除数据库记录。
返回失效的会话数。
*/
func (s *SessionService) InvalidateAllUserSessions(userID string) (int64, error) {
	sessions, err := s.dao.ListUserSessions(userID)
	if err != nil {
		return 0, err
	}

	for i := range sessions {
		s.dropShadow(sessions[i].ID)
		s.publishRevocation(sessions[i].ID, userID, "user-wide")
	}

	count, err := s.dao.DeleteUserSessions(userID)
	if err != nil {
		return 0, err
	}
	return count, nil
}

/*
ForceLogoutUser 强制登出用户
功能：使用户全部会话失效，并记录安全审计日志
*/
func (s *SessionService) ForceLogoutUser(userID, reason string) (int64, error) {
	count, err := s.InvalidateAllUserSessions(userID)
	if err != nil {
		return 0, err
	}

	logger.Audit().Warn("用户被强制登出",
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Int64("sessions", count))

	return count, nil
}

/*
RevokeSessionByID 按会话 ID 撤销单个会话
功能：供会话管理端点使用（用户撤销自己的某个设备会话），
调用方负责归属校验
*/
func (s *SessionService) RevokeSessionByID(sessionID, userID, reason string) error {
	return s.invalidateByID(sessionID, userID, reason)
}

/* invalidateByID 按会话 ID 执行失效 */
func (s *SessionService) invalidateByID(sessionID, userID, reason string) error {
	s.dropShadow(sessionID)

	if err := s.dao.DeleteSession(sessionID); err != nil {
		return err
	}

	s.publishRevocation(sessionID, userID, reason)
	return nil
}

/* dropShadow 删除缓存影子与本地备忘 */
func (s *SessionService) dropShadow(sessionID string) {
	if s.cache != nil {
		if err := s.cache.Del(sessionKeyPrefix + sessionID); err != nil {
			s.logger.Warn("删除会话缓存失败", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	s.l1Drop(sessionID)
}

/* publishRevocation 广播失效事件（缓存不可用时跳过） */
func (s *SessionService) publishRevocation(sessionID, userID, reason string) {
	if s.cache == nil {
		return
	}
	event := cache.RevocationEvent{
		SessionID: sessionID,
		UserID:    userID,
		Reason:    reason,
		At:        time.Now(),
	}
	if err := s.cache.Publish(RevocationChannel, event); err != nil {
		s.logger.Warn("广播会话失效事件失败", zap.String("session_id", sessionID), zap.Error(err))
	}
}

/* ==================== 查询 ==================== */

/*
GetUserSessions 列出用户会话并补充活动数据
功能：数据库取会话行后，所有会话 ID 的活动记录通过一次 MGET
批量取回——无论会话数是 0、1 还是 N，缓存往返都是 O(1) 次。
*/
func (s *SessionService) GetUserSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	sessions, err := s.dao.ListUserSessions(userID)
	if err != nil {
		return nil, err
	}

	infos := make([]SessionInfo, len(sessions))
	for i := range sessions {
		infos[i] = SessionInfo{
			ID:        sessions[i].ID,
			CreatedAt: sessions[i].CreatedAt,
			ExpiresAt: sessions[i].ExpiresAt,
			IPAddress: sessions[i].IPAddress,
			UserAgent: sessions[i].UserAgent,
		}
	}

	if s.cache == nil {
		return infos, nil
	}

	/* 单次批量取回全部活动记录 */
	keys := make([]string, len(sessions))
	for i := range sessions {
		keys[i] = activityKeyPrefix + sessions[i].ID
	}
	values, err := s.cache.MGet(ctx, keys...)
	if err != nil {
		/* 活动数据是附加信息，取不到不影响会话列表 */
		s.logger.Warn("批量获取会话活动失败", zap.Error(err))
		return infos, nil
	}

	for i, data := range values {
		if i >= len(infos) || data == nil {
			continue
		}
		var activity cache.SessionActivity
		if err := json.Unmarshal(data, &activity); err != nil {
			continue
		}
		last := activity.LastActivity
		infos[i].LastActivity = &last
		infos[i].ActivityCount = activity.ActivityCount
	}

	return infos, nil
}

/*
ActiveSessionCount 统计用户当前未过期的会话数
*/
func (s *SessionService) ActiveSessionCount(userID string) (int64, error) {
	return s.dao.CountUserSessions(userID)
}

/*
TrackSessionActivity 记录会话活动
功能：尽力而为的 TTL 计数更新——每次触发累加 activity_count
并覆盖时间/网络字段。任何失败都被吞掉，绝不阻塞请求。
*/
func (s *SessionService) TrackSessionActivity(token, ip, userAgent string) {
	if s.cache == nil {
		return
	}
	sessionID, _, ok := s.parseToken(token)
	if !ok {
		return
	}

	key := activityKeyPrefix + sessionID
	var activity cache.SessionActivity
	if err := s.cache.Get(key, &activity); err != nil && !errors.Is(err, ErrCacheMiss) {
		s.logger.Debug("读取会话活动失败", zap.Error(err))
		return
	}

	activity.SessionID = sessionID
	activity.LastActivity = time.Now()
	activity.IPAddress = ip
	activity.UserAgent = userAgent
	activity.ActivityCount++

	ttl := time.Duration(s.cfg.ActivityTTL) * time.Second
	if err := s.cache.Set(key, &activity, ttl); err != nil {
		s.logger.Debug("写入会话活动失败", zap.Error(err))
	}
}

/* ==================== 失效广播订阅 ==================== */

/*
StartInvalidationListener 订阅会话失效广播
功能：收到其它实例发布的失效事件时丢弃本地 L1 备忘，
保证撤销在所有实例上及时生效。Redis 不可用时为空操作。
*/
func (s *SessionService) StartInvalidationListener() {
	if s.redis == nil {
		return
	}

	pubsub := s.redis.Subscribe(RevocationChannel)
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event cache.RevocationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					s.logger.Warn("解析会话失效事件失败", zap.Error(err))
					continue
				}
				s.l1Drop(event.SessionID)
				s.logger.Debug("收到会话失效广播", zap.String("session_id", event.SessionID))
				if s.OnRevocation != nil {
					s.OnRevocation(event)
				}
			case <-s.stopChan:
				return
			}
		}
	}()
}

/* Stop 停止失效广播订阅 */
func (s *SessionService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

/* ==================== 内部工具 ==================== */

/*
parseToken 解析并校验会话令牌
功能：HS256 签名与有效期校验，返回 (会话ID, 指纹声明, 是否有效)
*/
func (s *SessionService) parseToken(token string) (string, string, bool) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("不支持的签名方法: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", false
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", false
	}

	sessionID, _ := claims["jti"].(string)
	if sessionID == "" {
		return "", "", false
	}
	fingerprint, _ := claims["fp"].(string)

	return sessionID, fingerprint, true
}

/*
computeFingerprint 计算客户端指纹
功能：HMAC-SHA256(UA|IP, 服务端密钥)，令牌与客户端特征绑定
*/
func (s *SessionService) computeFingerprint(clientCtx *ClientContext) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(clientCtx.UserAgent))
	mac.Write([]byte("|"))
	mac.Write([]byte(clientCtx.IP))
	return hex.EncodeToString(mac.Sum(nil))
}

/* hashToken 计算令牌的 SHA-256 十六进制摘要，原始令牌不落库 */
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

/* writeShadow 写入缓存影子副本（TTL 不超过会话剩余有效期） */
func (s *SessionService) writeShadow(session *models.Session) {
	if s.cache == nil {
		return
	}

	ttl := time.Duration(s.cfg.CacheTTL) * time.Second
	if remaining := time.Until(session.ExpiresAt); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	shadow := cache.SessionShadow{
		ID:          session.ID,
		UserID:      session.UserID,
		TokenHash:   session.TokenHash,
		Fingerprint: session.Fingerprint,
		ExpiresAt:   session.ExpiresAt,
		UserEmail:   session.UserEmail,
		UserName:    session.UserName,
		UserRole:    string(session.UserRole),
	}
	if err := s.cache.Set(sessionKeyPrefix+session.ID, &shadow, ttl); err != nil {
		s.logger.Warn("写入会话缓存失败", zap.String("session_id", session.ID), zap.Error(err))
	}
}

/* shadowToModel 影子副本转换为会话模型 */
func shadowToModel(shadow *cache.SessionShadow) *models.Session {
	session := &models.Session{
		UserID:      shadow.UserID,
		TokenHash:   shadow.TokenHash,
		Fingerprint: shadow.Fingerprint,
		ExpiresAt:   shadow.ExpiresAt,
		UserEmail:   shadow.UserEmail,
		UserName:    shadow.UserName,
		UserRole:    models.UserRole(shadow.UserRole),
	}
	session.ID = shadow.ID
	return session
}

/* ===== L1 备忘 ===== */

/* l1Get 读取 L1 备忘，过期或令牌哈希不匹配时未命中 */
func (s *SessionService) l1Get(sessionID, tokenHash string) *models.Session {
	s.l1Mu.RLock()
	entry, ok := s.l1[sessionID]
	s.l1Mu.RUnlock()

	if !ok || time.Since(entry.cachedAt) >= s.l1TTL {
		return nil
	}
	if entry.session.TokenHash != tokenHash || entry.session.IsExpired() {
		return nil
	}
	return entry.session
}

/* l1Put 写入 L1 备忘 */
func (s *SessionService) l1Put(sessionID string, session *models.Session) {
	s.l1Mu.Lock()
	s.l1[sessionID] = l1Entry{session: session, cachedAt: time.Now()}
	s.l1Mu.Unlock()
}

/* l1Drop 丢弃 L1 备忘条目 */
func (s *SessionService) l1Drop(sessionID string) {
	s.l1Mu.Lock()
	delete(s.l1, sessionID)
	s.l1Mu.Unlock()
}

/* SweepMemo 清除过期的 L1 备忘条目（清理服务定期调用） */
func (s *SessionService) SweepMemo() {
	s.l1Mu.Lock()
	defer s.l1Mu.Unlock()
	for id, entry := range s.l1 {
		if time.Since(entry.cachedAt) >= s.l1TTL || entry.session.IsExpired() {
			delete(s.l1, id)
		}
	}
}

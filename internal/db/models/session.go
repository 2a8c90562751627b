package models

import (
	"time"
)

/*
Session 持久化会话记录
功能：会话的权威副本（source of truth）。Redis 中的影子副本仅是
TTL 受限的缓存，写操作永远落在这张表上。

存储策略：
  - 令牌哈希（SHA-256）建唯一索引，原始令牌不落库，泄库时无法重放
  - 用户快照字段冗余存储，验证会话时无需再查 users 表
  - 指纹为可选字段，开启指纹校验时保存创建时计算的 HMAC
  - 不嵌入 BaseModel：会话撤销与过期清理必须物理删除行，
    软删除会让唯一索引与清理任务都失去意义
*/
type Session struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UserID    string    `gorm:"type:varchar(36);index;not null" json:"user_id"`
	TokenHash string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`

	/* 客户端指纹（HMAC-SHA256(UA+IP, 密钥)），未启用指纹校验时为空 */
	Fingerprint string `gorm:"type:varchar(64)" json:"-"`

	/* 创建时的用户快照 */
	UserEmail string   `gorm:"type:varchar(128)" json:"user_email"`
	UserName  string   `gorm:"type:varchar(128)" json:"user_name"`
	UserRole  UserRole `gorm:"type:varchar(16)" json:"user_role"`

	/* 创建时的网络信息（活动记录在 Redis 中，这里只存首次值） */
	IPAddress string `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent string `gorm:"type:varchar(512)" json:"user_agent"`
}

func (Session) TableName() string {
	return "sessions"
}

/* IsExpired 判断会话是否已过期 */
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

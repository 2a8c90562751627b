package cache

import "time"

/*
	cache 包本地 DTO 类型定义
	这些类型用于 Redis 缓存序列化/反序列化，
	是持久化模型在缓存中的影子形态。
*/

/* SessionShadow 会话影子副本（存储在Redis，TTL 受限，可能过期） */
type SessionShadow struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TokenHash   string    `json:"token_hash"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`

	/* 创建时的用户快照 */
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
	UserRole  string `json:"user_role"`
}

/* SessionActivity 会话活动记录（存储在Redis，尽力而为，丢失可容忍） */
type SessionActivity struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	LastActivity  time.Time `json:"last_activity"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
	ActivityCount int64     `json:"activity_count"`
}

/* RevocationEvent 会话失效广播事件（发布到共享频道） */
type RevocationEvent struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

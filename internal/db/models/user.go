package models

import (
	"time"
)

/*
UserRole 用户角色枚举
功能：定义系统支持的用户角色类型
*/
type UserRole string

const (
	RoleAdmin UserRole = "admin"
	RoleUser  UserRole = "user"
	RoleGuest UserRole = "guest"
)

/*
User 用户模型
功能：存储用户基本信息、认证凭据和账户状态
*/
type User struct {
	BaseModel
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"type:varchar(256);not null" json:"-"`
	Name      string    `gorm:"type:varchar(128)" json:"name"`
	Role      UserRole  `gorm:"type:varchar(16);default:'user';not null" json:"role"`
	Enabled   bool      `gorm:"default:true;not null" json:"enabled"`
	LastLogin time.Time `gorm:"" json:"last_login"`

	/* 关联 */
	Sessions []Session `gorm:"foreignKey:UserID" json:"sessions,omitempty"`
}

func (User) TableName() string {
	return "users"
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

/*
  BaseModel 业务实体的基础结构
  功能：统一主键、时间戳与软删除。会话记录不嵌入该结构——
  撤销的会话必须物理删除（见 Session），软删除会让清理任务失去意义
*/
type BaseModel struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

/*
  BeforeCreate GORM 钩子：创建前自动生成 UUID
*/
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

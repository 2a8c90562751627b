package dao

import (
	"errors"
	"fmt"
	"time"

	"flowdeck/internal/db/models"

	"gorm.io/gorm"
)

/* ==================== 会话 ==================== */

/*
CreateSession 创建会话记录
*/
func (d *DAO) CreateSession(session *models.Session) error {
	if err := d.DB.Create(session).Error; err != nil {
		return fmt.Errorf("创建会话失败: %w", err)
	}
	return nil
}

/*
GetSessionByID 根据 ID 获取会话
功能：不存在时返回 (nil, nil)，调用方据此判断会话缺失
*/
func (d *DAO) GetSessionByID(id string) (*models.Session, error) {
	var session models.Session
	err := d.DB.Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return &session, nil
}

/*
ListUserSessions 列出用户的全部未过期会话
*/
func (d *DAO) ListUserSessions(userID string) ([]models.Session, error) {
	var sessions []models.Session
	err := d.DB.Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("查询用户会话失败: %w", err)
	}
	return sessions, nil
}

/*
CountUserSessions 统计用户的未过期会话数
*/
func (d *DAO) CountUserSessions(userID string) (int64, error) {
	var count int64
	err := d.DB.Model(&models.Session{}).
		Where("user_id = ? AND expires_at > ?", userID, time.Now()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计用户会话失败: %w", err)
	}
	return count, nil
}

/*
DeleteSession 删除会话记录
*/
func (d *DAO) DeleteSession(id string) error {
	if err := d.DB.Where("id = ?", id).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	return nil
}

/*
DeleteUserSessions 删除用户的全部会话记录
功能：返回删除的行数，供强制登出审计使用
*/
func (d *DAO) DeleteUserSessions(userID string) (int64, error) {
	result := d.DB.Where("user_id = ?", userID).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除用户会话失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

/*
DeleteExpiredSessions 批量删除已过期会话
功能：清理服务定期调用，返回删除的行数
*/
func (d *DAO) DeleteExpiredSessions() (int64, error) {
	result := d.DB.Where("expires_at <= ?", time.Now()).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理过期会话失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

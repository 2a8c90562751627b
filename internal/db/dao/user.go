package dao

import (
	"errors"
	"fmt"
	"time"

	"flowdeck/internal/db/models"

	"gorm.io/gorm"
)

/* ==================== 用户 ==================== */

/*
CreateUser 创建用户
*/
func (d *DAO) CreateUser(user *models.User) error {
	if err := d.DB.Create(user).Error; err != nil {
		return fmt.Errorf("创建用户失败: %w", err)
	}
	return nil
}

/*
GetUserByID 根据 ID 获取用户
*/
func (d *DAO) GetUserByID(id string) (*models.User, error) {
	var user models.User
	err := d.DB.Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return &user, nil
}

/*
GetUserByUsername 根据用户名获取用户
*/
func (d *DAO) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	err := d.DB.Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return &user, nil
}

/*
TouchUserLogin 更新用户最后登录时间
*/
func (d *DAO) TouchUserLogin(id string) error {
	return d.DB.Model(&models.User{}).
		Where("id = ?", id).
		Update("last_login", time.Now()).Error
}

/*
CountUsers 统计用户总数
功能：首次启动时判断是否需要创建默认管理员
*/
func (d *DAO) CountUsers() (int64, error) {
	var count int64
	if err := d.DB.Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计用户失败: %w", err)
	}
	return count, nil
}

package service

import (
	"fmt"

	"flowdeck/internal/db/dao"
	"flowdeck/internal/db/models"
	"flowdeck/internal/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

/* HashPassword bcrypt 哈希密码 */
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("密码哈希失败: %w", err)
	}
	return string(hashed), nil
}

/*
UserService 用户服务
功能：认证与用户管理。密码使用 bcrypt 哈希存储。
*/
type UserService struct {
	dao    *dao.DAO
	logger *zap.Logger
}

/*
NewUserService 创建用户服务
*/
func NewUserService(d *dao.DAO) *UserService {
	return &UserService{
		dao:    d,
		logger: zap.L().Named("user-service"),
	}
}

/*
Authenticate 用户名密码认证
功能：认证失败（用户不存在/密码错误/账号禁用）返回统一错误，
不区分失败原因；成功后更新最后登录时间。
*/
func (s *UserService) Authenticate(username, password string) (*models.User, error) {
	user, err := s.dao.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("用户名或密码错误")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		logger.Audit().Warn("密码认证失败", zap.String("username", username))
		return nil, fmt.Errorf("用户名或密码错误")
	}

	if !user.Enabled {
		logger.Audit().Warn("已禁用账号尝试登录", zap.String("username", username))
		return nil, fmt.Errorf("用户名或密码错误")
	}

	if err := s.dao.TouchUserLogin(user.ID); err != nil {
		s.logger.Warn("更新最后登录时间失败", zap.String("user_id", user.ID), zap.Error(err))
	}

	return user, nil
}

/*
CreateUser 创建用户
*/
func (s *UserService) CreateUser(username, email, password, name string, role models.UserRole) (*models.User, error) {
	existing, err := s.dao.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("用户名已存在: %s", username)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("密码哈希失败: %w", err)
	}

	user := &models.User{
		Username: username,
		Email:    email,
		Password: string(hashed),
		Name:     name,
		Role:     role,
		Enabled:  true,
	}
	if err := s.dao.CreateUser(user); err != nil {
		return nil, err
	}

	s.logger.Info("用户已创建", zap.String("username", username), zap.String("role", string(role)))
	return user, nil
}

/*
GetUser 按 ID 获取用户
*/
func (s *UserService) GetUser(id string) (*models.User, error) {
	return s.dao.GetUserByID(id)
}

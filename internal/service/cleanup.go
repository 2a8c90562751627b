package service

import (
	"sync"
	"time"

	"flowdeck/internal/db/dao"

	"go.uber.org/zap"
)

/*
CleanupService 会话清理服务
功能：定期删除已过期的会话记录，并顺带清扫会话服务的
进程内备忘。过期会话在验证路径上本来就会被拒绝，
清理只是回收存储，不影响正确性。
*/
type CleanupService struct {
	dao      *dao.DAO
	sessions *SessionService
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

/*
NewCleanupService 创建清理服务
*/
func NewCleanupService(d *dao.DAO, sessions *SessionService) *CleanupService {
	return &CleanupService{
		dao:      d,
		sessions: sessions,
		interval: 10 * time.Minute,
		logger:   zap.L().Named("cleanup-service"),
		stopChan: make(chan struct{}),
	}
}

/*
Start 启动定期清理
*/
func (s *CleanupService) Start() {
	go s.run()
	s.logger.Info("会话清理服务已启动", zap.Duration("interval", s.interval))
}

/*
Stop 停止清理服务
*/
func (s *CleanupService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.logger.Info("会话清理服务已停止")
}

func (s *CleanupService) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopChan:
			return
		}
	}
}

/*
RunOnce 执行一轮清理
功能：删除过期会话行并清扫 L1 备忘，返回删除的行数
*/
func (s *CleanupService) RunOnce() int64 {
	count, err := s.dao.DeleteExpiredSessions()
	if err != nil {
		s.logger.Error("清理过期会话失败", zap.Error(err))
		return 0
	}
	if count > 0 {
		s.logger.Info("已清理过期会话", zap.Int64("count", count))
	}

	if s.sessions != nil {
		s.sessions.SweepMemo()
	}

	return count
}

package types

import (
	"flowdeck/internal/config"
	"flowdeck/internal/db"
	"flowdeck/internal/db/dao"
	"flowdeck/internal/resilience"
	"flowdeck/internal/service"
)

/*
App 应用实例
功能：全局应用上下文，包含配置、数据库管理器、GORM 数据访问层
与核心服务。服务在启动阶段装配完成后注入，handler 只读使用。
*/
type App struct {
	Config *config.Config
	DB     *db.Manager
	DAO    *dao.DAO

	Users    *service.UserService
	Sessions *service.SessionService
	Limiter  *service.RateLimiter
	Breakers *resilience.Breakers
	Secrets  *service.SecretManager
}

/*
NewApp 创建新的应用实例
*/
func NewApp(cfg *config.Config, dbManager *db.Manager) *App {
	return &App{
		Config: cfg,
		DB:     dbManager,
		DAO:    dao.New(dbManager.GormDB),
	}
}

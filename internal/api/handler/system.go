package handler

import (
	"time"

	"flowdeck/internal/api/response"
	"flowdeck/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var startTime = time.Now()

/*
SystemHandler 系统状态处理器
功能：健康检查与弹性组件（熔断器、限流）的管理端可观测接口
*/
type SystemHandler struct {
	app    *types.App
	logger *zap.Logger
}

/*
NewSystemHandler 创建系统状态处理器
*/
func NewSystemHandler(app *types.App) *SystemHandler {
	return &SystemHandler{
		app:    app,
		logger: zap.L().Named("system-handler"),
	}
}

/*
Health 健康检查
功能：报告数据库与缓存可用性。缓存不可用只降级不报障——
服务在纯数据库模式下仍然可用。
路由：GET /api/v1/health
*/
func (h *SystemHandler) Health(c *gin.Context) {
	dbOK := true
	if sqlDB, err := h.app.DB.GormDB.DB(); err != nil || sqlDB.Ping() != nil {
		dbOK = false
	}

	cacheOK := h.app.DB.HasCache() && h.app.DB.Redis.IsAvailable()

	status := "ok"
	if !dbOK {
		status = "degraded"
	}

	response.GinSuccess(c, gin.H{
		"status":   status,
		"database": dbOK,
		"cache":    cacheOK,
		"uptime":   time.Since(startTime).Round(time.Second).String(),
	})
}

/*
ListBreakers 查看全部熔断器状态
路由：GET /api/v1/admin/breakers
*/
func (h *SystemHandler) ListBreakers(c *gin.Context) {
	response.GinSuccess(c, gin.H{
		"breakers": h.app.Breakers.Snapshot(),
	})
}

/*
ResetBreaker 手动复位熔断器
功能：清除指定键的熔断状态，回到关闭态。下游确认恢复后
管理员可主动复位，不必等待超时窗口。
路由：POST /api/v1/admin/breakers/:key/reset
*/
func (h *SystemHandler) ResetBreaker(c *gin.Context) {
	key := c.Param("key")

	h.app.Breakers.Reset(key)
	h.logger.Info("熔断器已手动复位", zap.String("key", key))

	response.GinSuccessWithMessage(c, "熔断器已复位", gin.H{"key": key})
}

/*
RateLimitStatus 查看限流配置
功能：返回当前生效的限流预设，便于管理端核对配置
路由：GET /api/v1/admin/rate-limit
*/
func (h *SystemHandler) RateLimitStatus(c *gin.Context) {
	response.GinSuccess(c, gin.H{
		"enabled":      h.app.Config.RateLimit.Enabled,
		"admin_bypass": h.app.Config.RateLimit.AdminBypass,
		"presets":      h.app.Config.RateLimit.Presets,
	})
}

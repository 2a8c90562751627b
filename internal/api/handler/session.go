package handler

import (
	"flowdeck/internal/api/middleware"
	"flowdeck/internal/api/response"
	"flowdeck/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

/*
SessionHandler 会话管理处理器
功能：用户查看/撤销自己的会话，管理员强制登出用户
*/
type SessionHandler struct {
	app    *types.App
	logger *zap.Logger
}

/*
NewSessionHandler 创建会话管理处理器
*/
func NewSessionHandler(app *types.App) *SessionHandler {
	return &SessionHandler{
		app:    app,
		logger: zap.L().Named("session-handler"),
	}
}

/*
ListMySessions 列出当前用户的活跃会话
功能：会话列表附带最近活动数据（最后活动时间、活动次数、
来源 IP/UA），活动数据来自缓存批量查找，缺失时省略。
路由：GET /api/v1/sessions
*/
func (h *SessionHandler) ListMySessions(c *gin.Context) {
	userID := middleware.GetUserID(c)

	infos, err := h.app.Sessions.GetUserSessions(c.Request.Context(), userID)
	if err != nil {
		response.GinInternalError(c, "查询会话列表失败", err)
		return
	}

	response.GinSuccess(c, gin.H{
		"sessions": infos,
		"current":  middleware.GetSessionID(c),
	})
}

/*
RevokeMySession 撤销当前用户的某个会话
功能：用户登出自己的其它设备。只能撤销归属于自己的会话。
路由：DELETE /api/v1/sessions/:id
*/
func (h *SessionHandler) RevokeMySession(c *gin.Context) {
	userID := middleware.GetUserID(c)
	sessionID := c.Param("id")

	session, err := h.app.DAO.GetSessionByID(sessionID)
	if err != nil {
		response.GinInternalError(c, "查询会话失败", err)
		return
	}
	if session == nil || session.UserID != userID {
		/* 不存在与无权访问返回相同结果，不泄漏他人会话 ID 是否有效 */
		response.GinNotFound(c, "会话不存在")
		return
	}

	if err := h.app.Sessions.RevokeSessionByID(sessionID, userID, "device-logout"); err != nil {
		response.GinInternalError(c, "撤销会话失败", err)
		return
	}

	response.GinSuccessWithMessage(c, "会话已撤销", nil)
}

/*
ForceLogoutRequest 强制登出请求
*/
type ForceLogoutRequest struct {
	Reason string `json:"reason" binding:"max=256"`
}

/*
ForceLogout 管理员强制登出用户
功能：使目标用户的全部会话立即失效，失效广播到所有实例，
操作记入安全审计日志
路由：POST /api/v1/admin/users/:id/force-logout
*/
func (h *SessionHandler) ForceLogout(c *gin.Context) {
	targetID := c.Param("id")

	var req ForceLogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.GinBadRequest(c, "请求参数无效: "+err.Error())
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "admin-forced"
	}

	user, err := h.app.Users.GetUser(targetID)
	if err != nil {
		response.GinInternalError(c, "查询用户失败", err)
		return
	}
	if user == nil {
		response.GinNotFound(c, "用户不存在")
		return
	}

	count, err := h.app.Sessions.ForceLogoutUser(targetID, reason)
	if err != nil {
		response.GinInternalError(c, "强制登出失败", err)
		return
	}

	h.logger.Info("管理员强制登出用户",
		zap.String("operator", middleware.GetUserID(c)),
		zap.String("target", targetID),
		zap.Int64("sessions", count))

	response.GinSuccessWithMessage(c, "已强制登出", gin.H{
		"revoked_sessions": count,
	})
}

/*
ListUserSessions 管理员查看任意用户的会话
路由：GET /api/v1/admin/users/:id/sessions
*/
func (h *SessionHandler) ListUserSessions(c *gin.Context) {
	targetID := c.Param("id")

	infos, err := h.app.Sessions.GetUserSessions(c.Request.Context(), targetID)
	if err != nil {
		response.GinInternalError(c, "查询会话列表失败", err)
		return
	}

	response.GinSuccess(c, gin.H{"sessions": infos})
}

package handler

import (
	"flowdeck/internal/api/middleware"
	"flowdeck/internal/api/response"
	"flowdeck/internal/service"
	"flowdeck/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

/*
AuthHandler 认证处理器
功能：登录、登出与当前用户信息
*/
type AuthHandler struct {
	app    *types.App
	logger *zap.Logger
}

/*
NewAuthHandler 创建认证处理器
*/
func NewAuthHandler(app *types.App) *AuthHandler {
	return &AuthHandler{
		app:    app,
		logger: zap.L().Named("auth-handler"),
	}
}

/*
LoginRequest 登录请求
*/
type LoginRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

/*
Login 用户登录
功能：用户名密码认证 → 创建会话（令牌绑定客户端指纹） → 返回令牌。
同一用户可重复登录，每次登录得到互相独立的会话。
路由：POST /api/v1/auth/login
*/
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.GinBadRequest(c, "请求参数无效: "+err.Error())
		return
	}

	user, err := h.app.Users.Authenticate(req.Username, req.Password)
	if err != nil {
		h.logger.Warn("登录失败",
			zap.String("username", req.Username),
			zap.String("client_ip", middleware.ResolveClientIP(c)))
		response.GinUnauthorized(c, "用户名或密码错误")
		return
	}

	clientCtx := &service.ClientContext{
		IP:        middleware.ResolveClientIP(c),
		UserAgent: c.GetHeader("User-Agent"),
	}
	token, session, err := h.app.Sessions.CreateSession(user, clientCtx)
	if err != nil {
		response.GinInternalError(c, "创建会话失败", err)
		return
	}

	response.GinSuccessWithMessage(c, "登录成功", gin.H{
		"token":      token,
		"user_id":    user.ID,
		"username":   user.Username,
		"role":       string(user.Role),
		"expires_at": session.ExpiresAt.Unix(),
	})
}

/*
Logout 用户登出
功能：使当前会话立即失效，失效在所有实例上生效
路由：POST /api/v1/auth/logout
*/
func (h *AuthHandler) Logout(c *gin.Context) {
	token, _ := c.Get("session_token")
	tokenStr, _ := token.(string)

	if err := h.app.Sessions.InvalidateSession(tokenStr); err != nil {
		response.GinInternalError(c, "登出失败", err)
		return
	}

	response.GinSuccessWithMessage(c, "已登出", nil)
}

/*
Me 获取当前用户信息
路由：GET /api/v1/auth/me
*/
func (h *AuthHandler) Me(c *gin.Context) {
	userID := middleware.GetUserID(c)

	user, err := h.app.Users.GetUser(userID)
	if err != nil {
		response.GinInternalError(c, "查询用户失败", err)
		return
	}
	if user == nil {
		response.GinNotFound(c, "用户不存在")
		return
	}

	response.GinSuccess(c, gin.H{
		"user_id":    user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"name":       user.Name,
		"role":       string(user.Role),
		"last_login": user.LastLogin,
	})
}

package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

/*
Response 统一 API 响应结构
功能：所有 JSON 端点共享的响应外壳
*/
type Response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

/* GinSuccess 成功响应 */
func GinSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Code:    http.StatusOK,
		Data:    data,
	})
}

/* GinSuccessWithMessage 带提示消息的成功响应 */
func GinSuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Code:    http.StatusOK,
		Message: message,
		Data:    data,
	})
}

/* GinBadRequest 400 响应 */
func GinBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Code:    http.StatusBadRequest,
		Message: message,
	})
}

/* GinUnauthorized 401 响应 */
func GinUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Code:    http.StatusUnauthorized,
		Message: message,
	})
}

/* GinForbidden 403 响应 */
func GinForbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Code:    http.StatusForbidden,
		Message: message,
	})
}

/* GinNotFound 404 响应 */
func GinNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Code:    http.StatusNotFound,
		Message: message,
	})
}

/* GinTooManyRequests 429 响应 */
func GinTooManyRequests(c *gin.Context, message string) {
	c.JSON(http.StatusTooManyRequests, Response{
		Success: false,
		Code:    http.StatusTooManyRequests,
		Message: message,
	})
}

/*
GinInternalError 500 响应
功能：错误详情只进日志，不回传给客户端，避免泄漏内部实现
*/
func GinInternalError(c *gin.Context, message string, err error) {
	if err != nil {
		zap.L().Error(message,
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Code:    http.StatusInternalServerError,
		Message: message,
	})
}

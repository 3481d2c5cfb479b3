package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jobifycvut/jobify-bot/internal/repository"
	"github.com/jobifycvut/jobify-bot/internal/service/completion"
	"github.com/jobifycvut/jobify-bot/internal/service/dispatcher"
	"github.com/jobifycvut/jobify-bot/internal/service/session"
)

// ========== API 响应格式 ==========

// SuccessResponse 成功响应
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Success 成功响应 (200)
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// Accepted 已受理响应 (202)
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Data: data})
}

// BadRequest 400 错误响应
func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Msg: msg})
}

// Unauthorized 401 错误响应
func Unauthorized(c *gin.Context, msg string) {
	c.JSON(http.StatusUnauthorized, ErrorResponse{Code: 401, Msg: msg})
}

// NotFound 404 错误响应
func NotFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Code: 404, Msg: msg})
}

// TooManyRequests 429 错误响应
func TooManyRequests(c *gin.Context, msg string) {
	c.JSON(http.StatusTooManyRequests, ErrorResponse{Code: 429, Msg: msg})
}

// InternalServerError 500 错误响应
func InternalServerError(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Msg: msg})
}

// ServiceUnavailable 503 错误响应
func ServiceUnavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: 503, Msg: msg})
}

// Error 根据错误类型返回相应的错误响应
func Error(c *gin.Context, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, dispatcher.ErrOverloaded),
		errors.Is(err, session.ErrSessionUnavailable):
		TooManyRequests(c, "engine is busy, retry later")
	case errors.Is(err, repository.ErrSessionNotFound):
		NotFound(c, "session not found")
	case errors.Is(err, repository.ErrStorageUnavailable),
		errors.Is(err, completion.ErrProviderUnavailable):
		ServiceUnavailable(c, "service temporarily unavailable")
	default:
		// 内部错误文本不跨边界
		InternalServerError(c, "internal error")
	}
}

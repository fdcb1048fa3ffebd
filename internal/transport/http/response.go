package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构，code 与 HTTP 状态码一致
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

const (
	CodeSuccess   = http.StatusOK
	CodeCreated   = http.StatusCreated
	CodeNoContent = http.StatusNoContent

	CodeBadRequest = http.StatusBadRequest
	CodeNotFound   = http.StatusNotFound
	CodeConflict   = http.StatusConflict

	CodeInternalError      = http.StatusInternalServerError
	CodeBadGateway         = http.StatusBadGateway         // 分析服务异常
	CodeServiceUnavailable = http.StatusServiceUnavailable // 存储关闭或分析服务未配置
)

func write(c *gin.Context, code int, msg string, data interface{}) {
	c.JSON(code, Response{Code: code, Msg: msg, Data: data})
}

// Success 200
func Success(c *gin.Context, data interface{}) {
	write(c, CodeSuccess, "成功", data)
}

// Created 201，创建收件箱时使用
func Created(c *gin.Context, data interface{}) {
	write(c, CodeCreated, "创建成功", data)
}

// NoContent 204，删除收件箱时使用（无论收件箱是否存在）
func NoContent(c *gin.Context) {
	c.Status(CodeNoContent)
}

// BadRequest 400
func BadRequest(c *gin.Context, msg string) {
	write(c, CodeBadRequest, msg, nil)
}

// NotFound 404，收件箱或邮件不存在
func NotFound(c *gin.Context, msg string) {
	write(c, CodeNotFound, msg, nil)
}

// Conflict 409，邮件已经分析过
func Conflict(c *gin.Context, msg string) {
	write(c, CodeConflict, msg, nil)
}

// InternalError 500
func InternalError(c *gin.Context, msg string) {
	write(c, CodeInternalError, msg, nil)
}

// Error 按给定状态码写出错误
func Error(c *gin.Context, code int, msg string) {
	write(c, code, msg, nil)
}

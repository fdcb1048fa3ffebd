package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"testinbox/backend/internal/enrichment"
	"testinbox/backend/internal/service"
	"testinbox/backend/internal/storage"
)

type errorMapping struct {
	status int
	msg    string
}

// 错误映射表（业务错误 -> 状态码与中文消息）
var errorMessages = map[error]errorMapping{
	storage.ErrInboxNotFound:   {CodeNotFound, MsgInboxNotFound},
	storage.ErrMessageNotFound: {CodeNotFound, MsgMessageNotFound},
	storage.ErrAlreadyEnriched: {CodeConflict, "邮件已分析过"},
	storage.ErrStoreClosed:     {CodeServiceUnavailable, "服务正在关闭"},

	service.ErrEmptyEnrichment:  {CodeBadRequest, "分析结果不能为空"},
	service.ErrAddressExhausted: {CodeServiceUnavailable, "暂时无法生成可用地址，请重试"},

	enrichment.ErrNotConfigured:   {CodeServiceUnavailable, "未配置分析服务"},
	enrichment.ErrInvalidResponse: {CodeBadGateway, "分析服务返回了无效结果"},
	enrichment.ErrUpstream:        {CodeBadGateway, "分析服务调用失败"},
}

// lookupError 查找错误对应的状态码与消息，支持被包装的错误
func lookupError(err error) (errorMapping, bool) {
	for target, m := range errorMessages {
		if errors.Is(err, target) {
			return m, true
		}
	}
	return errorMapping{}, false
}

// respondError 按错误类型写出响应，未知错误返回 500 并附带 fallback 消息。
func respondError(c *gin.Context, err error, fallback string) {
	m, ok := lookupError(err)
	if !ok {
		_ = c.Error(err)
		InternalError(c, fallback)
		return
	}

	switch m.status {
	case CodeNotFound:
		NotFound(c, m.msg)
	case CodeConflict:
		Conflict(c, m.msg)
	case CodeBadRequest:
		BadRequest(c, m.msg)
	default:
		Error(c, m.status, m.msg)
	}
}

// 通用错误消息
const (
	MsgInvalidJSON     = "JSON格式错误"
	MsgAddressRequired = "邮箱地址不能为空"

	MsgInboxCreateFailed = "创建收件箱失败"
	MsgInboxNotFound     = "收件箱不存在"
	MsgInboxDeleteFailed = "删除收件箱失败"

	MsgMessageNotFound  = "邮件不存在"
	MsgEnrichmentFailed = "写入分析结果失败"
	MsgAnalyzeFailed    = "分析邮件失败"
)

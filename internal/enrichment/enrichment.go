// Package enrichment 定义邮件内容分析服务的边界。
//
// 分析服务从邮件中提取一次性验证码、验证链接、摘要和垃圾邮件判断。
// 核心投递流程不依赖它，结果通过 MessageService 写回存储。
package enrichment

import (
	"context"
	"errors"

	"testinbox/backend/internal/domain"
)

var (
	// ErrNotConfigured 未配置分析服务
	ErrNotConfigured = errors.New("enrichment service not configured")
	// ErrInvalidResponse 分析服务返回了无法解析的结果
	ErrInvalidResponse = errors.New("invalid enrichment response")
	// ErrUpstream 分析服务返回非 2xx 状态
	ErrUpstream = errors.New("enrichment service error")
)

// Enricher 分析单封邮件
type Enricher interface {
	Enrich(ctx context.Context, message *domain.Message) (*domain.Enrichment, error)
}

// Disabled 是未配置分析服务时使用的 Enricher
type Disabled struct{}

// Enrich 总是返回 ErrNotConfigured
func (Disabled) Enrich(context.Context, *domain.Message) (*domain.Enrichment, error) {
	return nil, ErrNotConfigured
}

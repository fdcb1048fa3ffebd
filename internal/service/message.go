package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"testinbox/backend/internal/domain"
	"testinbox/backend/internal/enrichment"
	"testinbox/backend/internal/monitoring"
	"testinbox/backend/internal/pool"
	"testinbox/backend/internal/storage"
)

// ErrEmptyEnrichment 分析结果不包含任何字段
var ErrEmptyEnrichment = errors.New("enrichment has no fields")

// 分析结果，用于指标标签
const (
	enrichApplied = "applied"
	enrichFailed  = "failed"
	enrichSkipped = "skipped"
)

// MessageService 提供邮件查询以及分析结果的写入。
type MessageService struct {
	store    storage.MessageRepository
	enricher enrichment.Enricher
	pool     *pool.WorkerPool
	auto     bool
	metrics  *monitoring.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewMessageService 创建邮件服务。enricher 为 nil 时分析接口返回 ErrNotConfigured；
// auto 为 true 且 workers 非空时，新邮件会在后台自动分析。
func NewMessageService(
	store storage.MessageRepository,
	enricher enrichment.Enricher,
	workers *pool.WorkerPool,
	auto bool,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *MessageService {
	if enricher == nil {
		enricher = enrichment.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{
		store:    store,
		enricher: enricher,
		pool:     workers,
		auto:     auto && workers != nil,
		metrics:  metrics,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListFor 返回发往 address 的邮件，最新的在前。未知地址返回空列表。
func (s *MessageService) ListFor(address string) []domain.Message {
	return s.store.ListMessagesFor(address)
}

// Get 根据 ID 获取邮件。
func (s *MessageService) Get(id string) (*domain.Message, error) {
	return s.store.GetMessage(id)
}

// ApplyEnrichment 写入外部提供的分析结果。每封邮件只能成功写入一次。
func (s *MessageService) ApplyEnrichment(id string, e domain.Enrichment) (*domain.Message, error) {
	if e.IsEmpty() {
		return nil, ErrEmptyEnrichment
	}
	message, err := s.store.SetEnrichment(id, e, s.now())
	if err != nil {
		return nil, err
	}
	s.metrics.RecordEnrichment(enrichApplied)
	s.log.Info("enrichment applied", zap.String("message_id", id))
	return message, nil
}

// Analyze 调用配置的分析服务并写入结果。失败时邮件保持不变，可以重试。
func (s *MessageService) Analyze(ctx context.Context, id string) (*domain.Message, error) {
	message, err := s.store.GetMessage(id)
	if err != nil {
		return nil, err
	}
	if message.Enriched() {
		return nil, storage.ErrAlreadyEnriched
	}

	start := time.Now()
	result, err := s.enricher.Enrich(ctx, message)
	s.metrics.RecordEmailProcessingTime("enrichment", time.Since(start))
	if err != nil {
		if !errors.Is(err, enrichment.ErrNotConfigured) {
			s.metrics.RecordEnrichment(enrichFailed)
		}
		return nil, fmt.Errorf("analyze message %s: %w", id, err)
	}
	if result == nil || result.IsEmpty() {
		s.metrics.RecordEnrichment(enrichFailed)
		return nil, fmt.Errorf("analyze message %s: %w", id, enrichment.ErrInvalidResponse)
	}

	return s.ApplyEnrichment(id, *result)
}

// NotifyNewMail 为路由到收件箱的新邮件提交后台分析任务。
func (s *MessageService) NotifyNewMail(message *domain.Message, inbox *domain.Inbox) {
	if !s.auto || inbox == nil {
		return
	}
	id := message.ID
	ok := s.pool.TrySubmit(func(ctx context.Context) {
		if _, err := s.Analyze(ctx, id); err != nil {
			if errors.Is(err, storage.ErrAlreadyEnriched) || errors.Is(err, storage.ErrMessageNotFound) {
				return
			}
			s.log.Warn("auto enrichment failed",
				zap.String("message_id", id),
				zap.Error(err))
		}
	})
	if !ok {
		s.metrics.RecordEnrichment(enrichSkipped)
		s.log.Warn("enrichment queue full, skipping", zap.String("message_id", id))
	}
}

package service

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"testinbox/backend/internal/domain"
	"testinbox/backend/internal/monitoring"
	"testinbox/backend/internal/storage"
)

// ErrNoRecipient 邮件没有可路由的收件人
var ErrNoRecipient = errors.New("no recipient")

// 投递结果，用于指标标签
const (
	OutcomeRouted = "routed"
	OutcomeOrphan = "orphan"
)

// Notifier 接收新邮件通知。实现方不得阻塞调用方。
type Notifier interface {
	NotifyNewMail(message *domain.Message, inbox *domain.Inbox)
}

// DeliveryInput 解析完成后待投递的邮件。
type DeliveryInput struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
	Size    int
}

// DeliveryService 把解析后的邮件写入存储，并在提交后通知订阅方。
type DeliveryService struct {
	store     storage.MessageRepository
	metrics   *monitoring.Metrics
	log       *zap.Logger
	notifiers []Notifier
}

// NewDeliveryService 创建投递服务。
func NewDeliveryService(store storage.MessageRepository, metrics *monitoring.Metrics, logger *zap.Logger, notifiers ...Notifier) *DeliveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryService{
		store:     store,
		metrics:   metrics,
		log:       logger,
		notifiers: notifiers,
	}
}

// AddNotifier 追加通知方。只能在开始接收邮件前调用。
func (s *DeliveryService) AddNotifier(n Notifier) {
	if n != nil {
		s.notifiers = append(s.notifiers, n)
	}
}

// Deliver 保存一封邮件。接收时间由存储在提交时填写。
//
// 收件人匹配活跃收件箱时返回该收件箱快照；否则邮件作为孤儿保留，返回的收件箱为 nil。
func (s *DeliveryService) Deliver(input DeliveryInput) (*domain.Message, *domain.Inbox, error) {
	to := strings.TrimSpace(input.To)
	if to == "" {
		s.metrics.RecordMessageRejected("no_recipient")
		return nil, nil, ErrNoRecipient
	}

	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		subject = domain.DefaultSubject
	}
	from := strings.TrimSpace(input.From)
	if from == "" {
		from = "Unknown"
	}

	message := &domain.Message{
		ID:       uuid.NewString(),
		From:     from,
		To:       to,
		Subject:  subject,
		TextBody: input.Text,
		HTMLBody: input.HTML,
	}

	inbox, err := s.store.AddMessage(message)
	if err != nil {
		s.metrics.RecordError("store", "delivery")
		return nil, nil, err
	}

	outcome := OutcomeRouted
	fields := []zap.Field{
		zap.String("message_id", message.ID),
		zap.String("to", message.To),
		zap.Int("size", input.Size),
	}
	if inbox == nil {
		outcome = OutcomeOrphan
		s.log.Info("message stored without matching inbox", fields...)
	} else {
		s.log.Info("message delivered", append(fields, zap.String("inbox_id", inbox.ID))...)
	}
	s.metrics.RecordMessageReceived(outcome, input.Size)

	for _, n := range s.notifiers {
		n.NotifyNewMail(message, inbox)
	}
	return message, inbox, nil
}

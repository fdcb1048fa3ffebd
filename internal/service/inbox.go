package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"testinbox/backend/internal/config"
	"testinbox/backend/internal/domain"
	"testinbox/backend/internal/monitoring"
	"testinbox/backend/internal/storage"
)

// maxCreateAttempts 生成地址冲突时的最大重试次数
const maxCreateAttempts = 8

// ErrAddressExhausted 多次重试后仍未生成可用地址
var ErrAddressExhausted = errors.New("could not allocate a unique address")

// InboxService 管理收件箱的生命周期：创建、删除、查询与过期清理。
type InboxService struct {
	store   storage.Store
	cfg     config.MailboxConfig
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewInboxService 创建收件箱服务。
func NewInboxService(store storage.Store, cfg config.MailboxConfig, metrics *monitoring.Metrics, logger *zap.Logger) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Domain = strings.ToLower(strings.TrimSpace(cfg.Domain))
	return &InboxService{
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Domain 返回生成地址使用的域名。
func (s *InboxService) Domain() string {
	return s.cfg.Domain
}

// Create 在配置的域名下生成一个新的收件箱。
//
// 本地部分为 前缀 + 9 位随机字符；与活跃收件箱或未清理的孤儿邮件冲突时重新生成。
func (s *InboxService) Create() (*domain.Inbox, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		localPart := s.cfg.LocalPartPrefix + generateRandomLocalPart()
		inbox := &domain.Inbox{
			ID:        uuid.NewString(),
			Address:   fmt.Sprintf("%s@%s", localPart, s.cfg.Domain),
			LocalPart: localPart,
			Domain:    s.cfg.Domain,
			CreatedAt: s.now(),
		}

		err := s.store.AddInbox(inbox)
		if errors.Is(err, storage.ErrAddressTaken) {
			s.log.Debug("generated address already in use, retrying",
				zap.String("address", inbox.Address),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		s.metrics.RecordInboxCreated()
		s.log.Info("inbox created",
			zap.String("inbox_id", inbox.ID),
			zap.String("address", inbox.Address))
		return inbox, nil
	}
	return nil, ErrAddressExhausted
}

// Get 根据 ID 获取收件箱。
func (s *InboxService) Get(id string) (*domain.Inbox, error) {
	return s.store.GetInbox(id)
}

// GetByAddress 根据地址获取收件箱（大小写不敏感）。
func (s *InboxService) GetByAddress(address string) (*domain.Inbox, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, storage.ErrInboxNotFound
	}
	return s.store.FindInboxByAddress(address)
}

// List 按创建顺序返回全部收件箱。
func (s *InboxService) List() []domain.Inbox {
	return s.store.ListInboxes()
}

// Delete 删除收件箱及其全部邮件。未知 ID 是空操作，返回 false。
func (s *InboxService) Delete(id string) (bool, error) {
	removed, err := s.store.RemoveInbox(id)
	if err != nil {
		return false, err
	}
	if removed {
		s.metrics.RecordInboxDeleted()
		s.log.Info("inbox deleted", zap.String("inbox_id", id))
	}
	return removed, nil
}

// Cleanup 清理过期收件箱与孤儿邮件，并刷新存储指标。
func (s *InboxService) Cleanup() storage.PurgeResult {
	result := s.store.PurgeExpired(s.now(), s.cfg.TTL, s.cfg.OrphanTTL)

	stats := s.store.Stats()
	s.metrics.RecordPurge(result.Inboxes, result.Orphans)
	s.metrics.UpdateStoreGauges(stats.Inboxes, stats.Messages)

	if result.Inboxes > 0 || result.Orphans > 0 {
		s.log.Info("expired data purged",
			zap.Int("inboxes", result.Inboxes),
			zap.Int("messages", result.Messages),
			zap.Int("orphans", result.Orphans))
	}
	return result
}

// generateRandomLocalPart 生成 9 位随机字符。
func generateRandomLocalPart() string {
	base := strings.ReplaceAll(uuid.NewString(), "-", "")
	return base[:domain.LocalPartRandomLength]
}

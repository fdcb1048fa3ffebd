package storage

import (
	"errors"
	"time"

	"testinbox/backend/internal/domain"
)

var (
	// ErrInboxNotFound 收件箱不存在
	ErrInboxNotFound = errors.New("inbox not found")
	// ErrMessageNotFound 邮件不存在
	ErrMessageNotFound = errors.New("message not found")
	// ErrAddressTaken 地址已被活跃收件箱或尚未清理的孤儿邮件占用
	ErrAddressTaken = errors.New("address already in use")
	// ErrAlreadyEnriched 邮件已写入过分析结果
	ErrAlreadyEnriched = errors.New("message already enriched")
	// ErrMissingRecipient 邮件缺少收件人
	ErrMissingRecipient = errors.New("message has no recipient")
	// ErrStoreClosed 存储已关闭
	ErrStoreClosed = errors.New("store closed")
)

// InboxRepository 定义收件箱数据存取操作。
type InboxRepository interface {
	AddInbox(inbox *domain.Inbox) error
	RemoveInbox(id string) (bool, error) // 未知 ID 返回 false, nil
	GetInbox(id string) (*domain.Inbox, error)
	FindInboxByAddress(address string) (*domain.Inbox, error)
	ListInboxes() []domain.Inbox // 按创建顺序
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// AddMessage 保存邮件并在同一把锁内为匹配的收件箱计数加一。
	// 返回所属收件箱快照；没有匹配的收件箱时返回 nil（孤儿邮件）。
	// ReceivedAt 为零值时在锁内填写当前时间。
	AddMessage(message *domain.Message) (*domain.Inbox, error)
	ListMessagesFor(address string) []domain.Message // 最新的在前
	GetMessage(id string) (*domain.Message, error)
	SetEnrichment(id string, enrichment domain.Enrichment, at time.Time) (*domain.Message, error)
}

// PurgeResult 一次过期清理的结果。
type PurgeResult struct {
	Inboxes  int `json:"inboxes"`
	Messages int `json:"messages"`
	Orphans  int `json:"orphans"`
}

// Stats 存储统计信息。
type Stats struct {
	Inboxes        int `json:"inboxes"`
	Messages       int `json:"messages"`
	OrphanMessages int `json:"orphanMessages"`
}

// Store 定义完整的存储接口。
type Store interface {
	InboxRepository
	MessageRepository

	// PurgeExpired 删除创建时间早于 now-inboxTTL 的收件箱（级联删除邮件）
	// 以及接收时间早于 now-orphanTTL 的孤儿邮件。TTL 为 0 表示不过期。
	PurgeExpired(now time.Time, inboxTTL, orphanTTL time.Duration) PurgeResult
	Stats() Stats

	// 工具方法
	Close() error
	Health() error
}

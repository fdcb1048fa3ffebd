package memory

import (
	"sync"
	"time"

	"testinbox/backend/internal/domain"
	"testinbox/backend/internal/storage"
)

var (
	ErrInboxNotFound   = storage.ErrInboxNotFound
	ErrMessageNotFound = storage.ErrMessageNotFound
	ErrAddressTaken    = storage.ErrAddressTaken
)

var _ storage.Store = (*Store)(nil)

// Store 使用内存保存收件箱与邮件数据。
//
// 所有读写由同一把 RWMutex 串行化：写操作独占，快照读取持有读锁。
// 邮件按规范化后的收件地址分组保存，与是否存在对应收件箱无关，
// 因此收件箱删除后未匹配的邮件（孤儿邮件）仍会保留，直到被 PurgeExpired 清理。
type Store struct {
	mu sync.RWMutex

	inboxes   map[string]*domain.Inbox
	order     []string          // 收件箱创建顺序
	byAddress map[string]string // 规范化地址 -> inboxID

	messages    map[string]*domain.Message   // messageID -> message
	byRecipient map[string][]*domain.Message // 规范化收件地址 -> 邮件（按到达顺序）

	closed bool
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		inboxes:     make(map[string]*domain.Inbox),
		byAddress:   make(map[string]string),
		messages:    make(map[string]*domain.Message),
		byRecipient: make(map[string][]*domain.Message),
	}
}

// AddInbox 保存新收件箱。地址被活跃收件箱或孤儿邮件占用时返回 ErrAddressTaken。
func (s *Store) AddInbox(inbox *domain.Inbox) error {
	key := domain.NormalizeAddress(inbox.Address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStoreClosed
	}
	if _, ok := s.byAddress[key]; ok {
		return ErrAddressTaken
	}
	if len(s.byRecipient[key]) > 0 {
		return ErrAddressTaken
	}

	stored := *inbox
	stored.MessageCount = 0
	s.inboxes[stored.ID] = &stored
	s.byAddress[key] = stored.ID
	s.order = append(s.order, stored.ID)
	inbox.MessageCount = 0
	return nil
}

// RemoveInbox 删除收件箱及其全部邮件。未知 ID 不视为错误。
func (s *Store) RemoveInbox(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, storage.ErrStoreClosed
	}
	if _, ok := s.inboxes[id]; !ok {
		return false, nil
	}
	s.removeInboxLocked(id)
	return true, nil
}

// removeInboxLocked 级联删除，返回删除的邮件数。调用方需持有写锁。
func (s *Store) removeInboxLocked(id string) int {
	inbox, ok := s.inboxes[id]
	if !ok {
		return 0
	}
	key := domain.NormalizeAddress(inbox.Address)

	removed := s.dropRecipientLocked(key)
	delete(s.byAddress, key)
	delete(s.inboxes, id)

	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return removed
}

func (s *Store) dropRecipientLocked(key string) int {
	msgs := s.byRecipient[key]
	for _, msg := range msgs {
		delete(s.messages, msg.ID)
	}
	delete(s.byRecipient, key)
	return len(msgs)
}

// GetInbox 根据 ID 获取收件箱。
func (s *Store) GetInbox(id string) (*domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inbox, ok := s.inboxes[id]
	if !ok {
		return nil, ErrInboxNotFound
	}
	snapshot := *inbox
	return &snapshot, nil
}

// FindInboxByAddress 根据完整地址（大小写不敏感）获取收件箱。
func (s *Store) FindInboxByAddress(address string) (*domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[domain.NormalizeAddress(address)]
	if !ok {
		return nil, ErrInboxNotFound
	}
	snapshot := *s.inboxes[id]
	return &snapshot, nil
}

// ListInboxes 按创建顺序返回全部收件箱的快照。
func (s *Store) ListInboxes() []domain.Inbox {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Inbox, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, *s.inboxes[id])
	}
	return result
}

// AddMessage 保存邮件，匹配到收件箱时在同一临界区内递增其计数。
// ReceivedAt 为零值时由存储填写。
func (s *Store) AddMessage(message *domain.Message) (*domain.Inbox, error) {
	key := domain.NormalizeAddress(message.To)
	if key == "" {
		return nil, storage.ErrMissingRecipient
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrStoreClosed
	}

	// 在锁内盖时间戳，保证插入顺序与接收时间一致
	if message.ReceivedAt.IsZero() {
		message.ReceivedAt = time.Now().UTC()
	}
	stored := copyMessage(message)
	s.messages[stored.ID] = stored
	s.byRecipient[key] = append(s.byRecipient[key], stored)

	id, ok := s.byAddress[key]
	if !ok {
		return nil, nil
	}
	inbox := s.inboxes[id]
	inbox.MessageCount++
	snapshot := *inbox
	return &snapshot, nil
}

// ListMessagesFor 返回发往指定地址的全部邮件，最新的在前。
// 未知地址返回空切片。
func (s *Store) ListMessagesFor(address string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.byRecipient[domain.NormalizeAddress(address)]
	result := make([]domain.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		result = append(result, *copyMessage(msgs[i]))
	}
	return result
}

// GetMessage 获取单封邮件。
func (s *Store) GetMessage(id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return copyMessage(msg), nil
}

// SetEnrichment 写入分析结果。每封邮件只能成功写入一次。
func (s *Store) SetEnrichment(id string, enrichment domain.Enrichment, at time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if msg.Enriched() {
		return nil, storage.ErrAlreadyEnriched
	}
	enrichment.Apply(msg, at)
	return copyMessage(msg), nil
}

// PurgeExpired 清理过期收件箱与孤儿邮件。
func (s *Store) PurgeExpired(now time.Time, inboxTTL, orphanTTL time.Duration) storage.PurgeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result storage.PurgeResult

	if inboxTTL > 0 {
		cutoff := now.Add(-inboxTTL)
		// 先收集再删除，removeInboxLocked 会修改 order
		expired := make([]string, 0)
		for _, id := range s.order {
			if s.inboxes[id].CreatedAt.Before(cutoff) {
				expired = append(expired, id)
			}
		}
		for _, id := range expired {
			result.Messages += s.removeInboxLocked(id)
			result.Inboxes++
		}
	}

	if orphanTTL > 0 {
		cutoff := now.Add(-orphanTTL)
		for key, msgs := range s.byRecipient {
			if _, ok := s.byAddress[key]; ok {
				continue
			}
			kept := msgs[:0]
			for _, msg := range msgs {
				if msg.ReceivedAt.Before(cutoff) {
					delete(s.messages, msg.ID)
					result.Orphans++
					continue
				}
				kept = append(kept, msg)
			}
			if len(kept) == 0 {
				delete(s.byRecipient, key)
			} else {
				s.byRecipient[key] = kept
			}
		}
	}

	return result
}

// Stats 返回当前存储统计。
func (s *Store) Stats() storage.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := storage.Stats{
		Inboxes:  len(s.inboxes),
		Messages: len(s.messages),
	}
	for key, msgs := range s.byRecipient {
		if _, ok := s.byAddress[key]; !ok {
			stats.OrphanMessages += len(msgs)
		}
	}
	return stats
}

// Close 关闭存储，之后的写操作返回 ErrStoreClosed。
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Health 检查存储是否可用。
func (s *Store) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrStoreClosed
	}
	return nil
}

func copyMessage(msg *domain.Message) *domain.Message {
	clone := *msg
	if msg.ExtractedOTP != nil {
		v := *msg.ExtractedOTP
		clone.ExtractedOTP = &v
	}
	if msg.ExtractedLink != nil {
		v := *msg.ExtractedLink
		clone.ExtractedLink = &v
	}
	if msg.Summary != nil {
		v := *msg.Summary
		clone.Summary = &v
	}
	if msg.IsSpam != nil {
		v := *msg.IsSpam
		clone.IsSpam = &v
	}
	if msg.EnrichedAt != nil {
		v := *msg.EnrichedAt
		clone.EnrichedAt = &v
	}
	return &clone
}

package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"testinbox/backend/internal/domain"
)

// EventMessageReceived 新邮件事件类型
const EventMessageReceived = "message.received"

// publishTimeout 单次 PUBLISH 的超时，事件发布不能拖慢投递
const publishTimeout = 2 * time.Second

// pubClient 是 Publisher 依赖的最小 Redis 接口
type pubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// Event 发布到 Redis 频道的事件
type Event struct {
	Type       string    `json:"type"`
	Address    string    `json:"address"`
	InboxID    string    `json:"inboxId,omitempty"`
	MessageID  string    `json:"messageId"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Publisher 把新邮件事件发布到 Redis，供外部测试工具订阅
type Publisher struct {
	client  pubClient
	channel string
	log     *zap.Logger
}

// NewPublisher 创建事件发布器
func NewPublisher(client *Client, channel string, logger *zap.Logger) *Publisher {
	return newPublisher(client.rdb, channel, logger)
}

func newPublisher(client pubClient, channel string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, channel: channel, log: logger}
}

// NotifyNewMail 发布新邮件事件。发布失败只记录日志，不影响投递。
func (p *Publisher) NotifyNewMail(message *domain.Message, inbox *domain.Inbox) {
	event := Event{
		Type:       EventMessageReceived,
		Address:    domain.NormalizeAddress(message.To),
		MessageID:  message.ID,
		From:       message.From,
		Subject:    message.Subject,
		ReceivedAt: message.ReceivedAt,
	}
	if inbox != nil {
		event.InboxID = inbox.ID
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("failed to marshal event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.Warn("failed to publish event",
			zap.String("channel", p.channel),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

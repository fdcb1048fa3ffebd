package domain

import "time"

// Inbox 表示一个一次性测试收件箱。
//
// Address 在所有活跃收件箱中唯一，创建后不可变；MessageCount 只增不减，
// 与存储中收件人（大小写不敏感）匹配该地址的邮件数量保持一致。
type Inbox struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	LocalPart    string    `json:"localPart"`
	Domain       string    `json:"domain"`
	CreatedAt    time.Time `json:"createdAt"`
	MessageCount int       `json:"messageCount"`
}

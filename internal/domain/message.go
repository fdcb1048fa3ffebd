package domain

import "time"

// DefaultSubject 邮件缺少 Subject 头时使用的占位主题。
const DefaultSubject = "(No Subject)"

// Message 表示一封已解析并入库的邮件。
//
// 除 Extracted*/Summary/IsSpam/EnrichedAt 这几个由外部分析服务回写的字段外，
// 其余字段在入库后不可变。
type Message struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	TextBody   string    `json:"body"`
	HTMLBody   string    `json:"html"`
	ReceivedAt time.Time `json:"receivedAt"`

	// 内容分析结果（可选）
	ExtractedOTP  *string    `json:"extractedOtp,omitempty"`
	ExtractedLink *string    `json:"extractedLink,omitempty"`
	Summary       *string    `json:"summary,omitempty"`
	IsSpam        *bool      `json:"isSpam,omitempty"`
	EnrichedAt    *time.Time `json:"enrichedAt,omitempty"`
}

// Enriched 报告邮件是否已经写入过分析结果。
func (m *Message) Enriched() bool {
	return m.EnrichedAt != nil
}

// Enrichment 是外部分析服务对单封邮件给出的结果。
type Enrichment struct {
	OTP     *string `json:"otp,omitempty"`
	Link    *string `json:"link,omitempty"`
	Summary *string `json:"summary,omitempty"`
	IsSpam  *bool   `json:"isSpam,omitempty"`
}

// IsEmpty 报告分析结果是否不含任何字段。
func (e Enrichment) IsEmpty() bool {
	return e.OTP == nil && e.Link == nil && e.Summary == nil && e.IsSpam == nil
}

// Apply 将分析结果合并到邮件上，只覆盖结果中出现的字段。
func (e Enrichment) Apply(m *Message, at time.Time) {
	if e.OTP != nil {
		otp := *e.OTP
		m.ExtractedOTP = &otp
	}
	if e.Link != nil {
		link := *e.Link
		m.ExtractedLink = &link
	}
	if e.Summary != nil {
		summary := *e.Summary
		m.Summary = &summary
	}
	if e.IsSpam != nil {
		spam := *e.IsSpam
		m.IsSpam = &spam
	}
	m.EnrichedAt = &at
}

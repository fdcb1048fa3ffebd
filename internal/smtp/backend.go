package smtp

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"testinbox/backend/internal/config"
	"testinbox/backend/internal/domain"
	"testinbox/backend/internal/logger"
	"testinbox/backend/internal/monitoring"
	"testinbox/backend/internal/service"
)

// Deliverer 接收解析完成的邮件。
type Deliverer interface {
	Deliver(input service.DeliveryInput) (*domain.Message, *domain.Inbox, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的测试服务器：任何收件人都被接受，没有匹配收件箱的邮件
// 作为孤儿保留一段时间。服务器不做中继，AUTH 只是为了兼容要求认证的客户端，
// 任何凭据都会通过。
type Backend struct {
	delivery  Deliverer
	validator *domain.EmailValidator
	metrics   *monitoring.Metrics
	log       *zap.Logger
	maxBytes  int64
}

// NewBackend 创建 SMTP Backend。maxBytes 为 0 时不限制邮件大小。
func NewBackend(delivery Deliverer, maxBytes int64, metrics *monitoring.Metrics, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		delivery:  delivery,
		validator: domain.NewEmailValidator(),
		metrics:   metrics,
		log:       logger,
		maxBytes:  maxBytes,
	}
}

// NewServer 按配置创建 go-smtp 服务器。
func NewServer(b *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	s := gosmtp.NewServer(b)
	s.Addr = cfg.BindAddr
	s.Domain = cfg.Hostname
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients
	s.AllowInsecureAuth = true
	s.ErrorLog = logger.NewStdLog(b.log, "smtp")
	return s
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	return &session{
		backend: b,
		log:     b.log.With(zap.String("remote", remote)),
	}, nil
}

type session struct {
	backend    *Backend
	log        *zap.Logger
	from       string
	recipients []string
}

// AuthMechanisms 声明支持 PLAIN 认证。
func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

// Auth 接受任意凭据。
func (s *session) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		s.log.Debug("auth accepted", zap.String("username", username))
		return nil
	}), nil
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = strings.TrimSpace(from)
	return nil
}

// Rcpt 处理 RCPT 命令。第一个收件人用于路由，其余的只记录日志。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := domain.NormalizeAddress(to)
	if err := s.backend.validator.ValidateEmail(addr); err != nil {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}
	if len(s.recipients) > 0 {
		s.log.Info("additional recipient accepted but not routed", zap.String("to", addr))
	}
	s.recipients = append(s.recipients, strings.Trim(strings.TrimSpace(to), "<>"))
	return nil
}

// Data 读取并解析邮件内容，然后交给投递服务。
func (s *session) Data(r io.Reader) error {
	start := time.Now()

	if s.backend.maxBytes > 0 {
		r = io.LimitReader(r, s.backend.maxBytes+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		s.log.Warn("failed to read message data", zap.Error(err))
		return err
	}
	if s.backend.maxBytes > 0 && int64(len(raw)) > s.backend.maxBytes {
		s.backend.metrics.RecordMessageRejected("too_large")
		return gosmtp.ErrDataTooLarge
	}

	parsed, err := ParseEmail(raw)
	s.backend.metrics.RecordEmailProcessingTime("parse", time.Since(start))
	if err != nil {
		s.backend.metrics.RecordMessageRejected("malformed")
		s.log.Warn("failed to parse message", zap.Error(err), zap.Int("size", len(raw)))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 6, 0},
			Message:      "message could not be parsed",
		}
	}

	to := s.primaryRecipient()
	if to == "" {
		to = parsed.To
	}
	if to == "" {
		s.backend.metrics.RecordMessageRejected("no_recipient")
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "no recipient",
		}
	}

	from := parsed.From
	if from == "" {
		from = s.from
	}

	msg, _, err := s.backend.delivery.Deliver(service.DeliveryInput{
		From:    from,
		To:      to,
		Subject: parsed.Subject,
		Text:    parsed.Text,
		HTML:    parsed.HTML,
		Size:    len(raw),
	})
	s.backend.metrics.RecordEmailProcessingTime("total", time.Since(start))
	if err != nil {
		if errors.Is(err, service.ErrNoRecipient) {
			return &gosmtp.SMTPError{
				Code:         554,
				EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
				Message:      "no recipient",
			}
		}
		s.log.Error("failed to deliver message", zap.Error(err), zap.String("to", to))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary delivery failure",
		}
	}

	s.log.Debug("message accepted",
		zap.String("message_id", msg.ID),
		zap.String("from", from),
		zap.String("to", to))
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

func (s *session) primaryRecipient() string {
	if len(s.recipients) == 0 {
		return ""
	}
	return s.recipients[0]
}


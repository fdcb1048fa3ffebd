package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度(@前面)
	MaxDomainLength    = 253 // 域名最大长度
)

var (
	// 本地部分前缀（生成的地址为 前缀+随机串）
	localPrefixRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

	// 域名验证（支持子域名，允许 localhost 这类单标签域名）
	domainRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

// EmailValidator 邮箱验证器
type EmailValidator struct{}

// NewEmailValidator 创建邮箱验证器
func NewEmailValidator() *EmailValidator {
	return &EmailValidator{}
}

// ValidateEmail 验证邮箱地址格式。
//
// 与创建账号时不同，这里只做收件地址需要的基础校验：本地部分非空、不超长，
// 域名合法。
func (v *EmailValidator) ValidateEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return ErrInvalidEmail
	}
	if at > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}

	return v.ValidateDomain(email[at+1:])
}

// ValidateLocalPrefix 验证生成地址使用的本地部分前缀
func (v *EmailValidator) ValidateLocalPrefix(prefix string) error {
	if prefix == "" {
		return nil
	}
	// 前缀之后还要拼接随机串
	if len(prefix) > MaxLocalPartLength-LocalPartRandomLength {
		return ErrLocalPartTooLong
	}
	if !localPrefixRegex.MatchString(prefix) {
		return ErrInvalidLocalPart
	}
	return nil
}

// ValidateDomain 验证域名
func (v *EmailValidator) ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}

	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}

	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}

	return nil
}

// LocalPartRandomLength 生成地址中随机部分的长度
const LocalPartRandomLength = 9

// NormalizeAddress 规范化地址用于比较：去掉空白、尖括号并转为小写。
// 地址展示时保留原始大小写，只有匹配时使用规范化结果。
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	return strings.ToLower(strings.TrimSpace(address))
}

// SplitAddress 将地址拆分为本地部分和域名
func SplitAddress(address string) (localPart, domain string, err error) {
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", ErrInvalidEmail
	}
	return address[:at], address[at+1:], nil
}

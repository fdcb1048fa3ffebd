package smtp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/unicode/norm"

	"testinbox/backend/internal/domain"
)

// ErrMalformedMessage 表示邮件无法解析。所有解析错误都包装此错误。
var ErrMalformedMessage = errors.New("malformed message")

// wordDecoder 解码 RFC 2047 编码的头部，非 UTF-8 字符集交给 go-message 转换。
var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

var addressParser = &mail.AddressParser{WordDecoder: wordDecoder}

// ParsedEmail 表示解析后的邮件内容。
type ParsedEmail struct {
	Subject string
	From    string // "Name <addr>" 或 "addr"，缺失时为空
	To      string // To 头中的第一个地址
	Text    string
	HTML    string // 没有 HTML 部分时由纯文本生成
}

// ParseEmail 解析原始邮件，提取头部、纯文本和 HTML 正文。
//
// 多部分邮件按任意嵌套深度查找，第一个 text/plain 与第一个 text/html 部分生效，
// 附件部分被跳过。解析失败返回包装 ErrMalformedMessage 的错误，不会 panic。
func ParseEmail(rawEmail []byte) (*ParsedEmail, error) {
	if len(bytes.TrimSpace(rawEmail)) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}

	msg, err := mail.ReadMessage(bytes.NewReader(rawEmail))
	if err != nil {
		return nil, fmt.Errorf("%w: read headers: %v", ErrMalformedMessage, err)
	}

	subject := strings.TrimSpace(decodeHeader(msg.Header.Get("Subject")))
	if subject == "" {
		subject = domain.DefaultSubject
	}

	parsed := &ParsedEmail{
		Subject: subject,
		From:    formatFrom(msg.Header.Get("From")),
		To:      firstAddress(msg.Header.Get("To")),
	}

	mediaType, params := parseContentType(msg.Header.Get("Content-Type"))

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("%w: multipart message without boundary", ErrMalformedMessage)
		}

		mr := multipart.NewReader(msg.Body, boundary)
		if err := parseMultipart(mr, parsed); err != nil {
			return nil, fmt.Errorf("%w: parse multipart: %v", ErrMalformedMessage, err)
		}
	} else {
		body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			return nil, fmt.Errorf("%w: decode body: %v", ErrMalformedMessage, err)
		}

		if mediaType == "text/html" {
			parsed.HTML = body
		} else {
			parsed.Text = body
		}
	}

	if parsed.HTML == "" {
		parsed.HTML = textToHTML(parsed.Text)
	}

	return parsed, nil
}

// parseMultipart 递归解析多部分邮件。
func parseMultipart(mr *multipart.Reader, parsed *ParsedEmail) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		mediaType, params := parseContentType(part.Header.Get("Content-Type"))

		if isAttachment(part.Header.Get("Content-Disposition")) {
			// 附件内容不保存，但仍需读完以检测截断
			if _, err := io.Copy(io.Discard, part); err != nil {
				return err
			}
			continue
		}

		// 处理嵌套的 multipart
		if strings.HasPrefix(mediaType, "multipart/") {
			boundary := params["boundary"]
			if boundary == "" {
				return errors.New("nested multipart without boundary")
			}
			if err := parseMultipart(multipart.NewReader(part, boundary), parsed); err != nil {
				return err
			}
			continue
		}

		wantText := mediaType == "text/plain" && parsed.Text == ""
		wantHTML := mediaType == "text/html" && parsed.HTML == ""
		if !wantText && !wantHTML {
			if _, err := io.Copy(io.Discard, part); err != nil {
				return err
			}
			continue
		}

		// multipart.Part 会透明解码 quoted-printable 并删除该头部
		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			return err
		}

		if wantHTML {
			parsed.HTML = body
		} else {
			parsed.Text = body
		}
	}
}

// decodeBody 根据传输编码与字符集解码正文，结果为 NFC 规范化的 UTF-8。
func decodeBody(reader io.Reader, transferEncoding string, cs string) (string, error) {
	transferEncoding = strings.ToLower(strings.TrimSpace(transferEncoding))

	var decoded io.Reader = reader

	switch transferEncoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, newBase64Cleaner(reader))
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	default:
		// 7bit、8bit、binary 以及未知编码按原样读取
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}

	text := convertCharset(body, cs)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return norm.NFC.String(text), nil
}

// convertCharset 转换为 UTF-8。未知字符集退回原始字节，非法序列替换为 U+FFFD。
func convertCharset(body []byte, cs string) string {
	cs = strings.ToLower(strings.TrimSpace(cs))
	if cs != "" && cs != "utf-8" && cs != "utf8" && cs != "us-ascii" {
		if r, err := charset.Reader(cs, bytes.NewReader(body)); err == nil {
			if converted, err := io.ReadAll(r); err == nil {
				body = converted
			}
		}
	}

	if utf8.Valid(body) {
		return string(body)
	}
	return strings.ToValidUTF8(string(body), "\uFFFD")
}

func parseContentType(value string) (string, map[string]string) {
	if strings.TrimSpace(value) == "" {
		return "text/plain", map[string]string{}
	}
	mediaType, params, err := mime.ParseMediaType(value)
	switch {
	case err == nil:
	case errors.Is(err, mime.ErrInvalidMediaParameter) && mediaType != "":
		// 标准库遇到非法参数时丢弃全部参数，这里逐个保留能解析的参数
		params = lenientMediaParams(mediaType, value)
	default:
		// 无法解析的 Content-Type 当作纯文本处理
		return "text/plain", map[string]string{}
	}
	return strings.ToLower(mediaType), params
}

func lenientMediaParams(mediaType, value string) map[string]string {
	params := map[string]string{}
	segments := strings.Split(value, ";")
	for _, seg := range segments[1:] {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		_, p, err := mime.ParseMediaType(mediaType + ";" + seg)
		if err != nil {
			continue
		}
		for k, v := range p {
			params[k] = v
		}
	}
	return params
}

func isAttachment(disposition string) bool {
	if disposition == "" {
		return false
	}
	dispType, _, err := mime.ParseMediaType(disposition)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(disposition)), "attachment")
	}
	return strings.EqualFold(dispType, "attachment")
}

func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		decoded = value
	}
	if !utf8.ValidString(decoded) {
		decoded = strings.ToValidUTF8(decoded, "\uFFFD")
	}
	return norm.NFC.String(decoded)
}

// formatFrom 将 From 头格式化为 "Name <addr>"，无法解析时返回解码后的原文。
func formatFrom(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	addr, err := addressParser.Parse(value)
	if err != nil {
		return decodeHeader(value)
	}
	if addr.Name == "" {
		return addr.Address
	}
	return norm.NFC.String(addr.Name) + " <" + addr.Address + ">"
}

// firstAddress 返回地址列表中的第一个邮箱地址。
func firstAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	list, err := addressParser.ParseList(value)
	if err == nil && len(list) > 0 {
		return list[0].Address
	}
	// 退回到原文中第一个看起来像地址的片段
	for _, field := range strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '<' || r == '>' || r == '"'
	}) {
		if strings.Contains(field, "@") {
			return field
		}
	}
	return ""
}

// base64Cleaner 去掉 base64 正文中的换行与空白，其余非法字符交给解码器报错。
type base64Cleaner struct {
	r io.Reader
}

func newBase64Cleaner(r io.Reader) io.Reader {
	return &base64Cleaner{r: r}
}

func (c *base64Cleaner) Read(p []byte) (int, error) {
	for {
		n, err := c.r.Read(p)
		kept := 0
		for _, b := range p[:n] {
			switch b {
			case '\r', '\n', ' ', '\t':
				continue
			}
			p[kept] = b
			kept++
		}
		if kept > 0 || err != nil {
			return kept, err
		}
	}
}

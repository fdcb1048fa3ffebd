package smtp

import (
	"html"
	"regexp"
	"strings"
)

var (
	paragraphSplit = regexp.MustCompile(`\n[ \t]*\n+`)
	urlPattern     = regexp.MustCompile(`(?i)\b(?:https?|ftp)://[^\s<>"]+|\bwww\.[^\s<>"]+`)
)

// textToHTML 将纯文本转换为简单的 HTML：转义特殊字符，空行分段，
// 换行转为 <br/>，并为 URL 生成链接。
func textToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.Trim(text, "\n")
	if strings.TrimSpace(text) == "" {
		return ""
	}

	var b strings.Builder
	for _, para := range paragraphSplit.Split(text, -1) {
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			lines[i] = linkify(html.EscapeString(line))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br/>"))
		b.WriteString("</p>")
	}
	return b.String()
}

// linkify 为已转义文本中的 URL 加上 <a> 标签。
func linkify(escaped string) string {
	return urlPattern.ReplaceAllStringFunc(escaped, func(match string) string {
		// 句末标点不属于链接
		trimmed := strings.TrimRight(match, ".,;:!?)'")
		rest := match[len(trimmed):]

		href := trimmed
		if strings.HasPrefix(strings.ToLower(href), "www.") {
			href = "http://" + href
		}
		return `<a href="` + href + `">` + trimmed + `</a>` + rest
	})
}

package security

import (
	"html"
	"regexp"
	"strings"
)

// Sanitizer 负责清理用户文本中的版本控制合并冲突残留，
// 并在写入前转义不安全的标记。
//
// 历史数据损坏曾把未解决的合并冲突标记（<<<<<<< HEAD / ======= /
// >>>>>>> <hex>）带进邮件字段，清理逻辑需要同时处理成对的完整块
// 和落单的残片。Clean 满足幂等性：Clean(Clean(x)) == Clean(x)。
type Sanitizer struct {
	fullBlock   *regexp.Regexp
	headBlock   *regexp.Regexp
	tailBlock   *regexp.Regexp
	startMarker *regexp.Regexp
	sepMarker   *regexp.Regexp
	endMarker   *regexp.Regexp
	whitespace  *regexp.Regexp
}

// NewSanitizer 创建文本清理器。
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		fullBlock:   regexp.MustCompile(`(?s)<<<<<<< HEAD.*?=======.*?>>>>>>> [a-f0-9]+`),
		headBlock:   regexp.MustCompile(`(?s)<<<<<<< HEAD.*?=======`),
		tailBlock:   regexp.MustCompile(`(?s)=======.*?>>>>>>> [a-f0-9]+`),
		startMarker: regexp.MustCompile(`<<<<<<< HEAD`),
		sepMarker:   regexp.MustCompile(`=======`),
		endMarker:   regexp.MustCompile(`>>>>>>> [a-f0-9]+`),
		whitespace:  regexp.MustCompile(`\s+`),
	}
}

// Clean 去除文本中的合并冲突标记并规整空白。
//
// 依次删除完整的三段式冲突块、带分隔符的残块以及落单的
// 起始/分隔/结束标记，最后把连续空白折叠为单个空格并去掉首尾空白。
func (s *Sanitizer) Clean(text string) string {
	if text == "" {
		return text
	}

	text = s.fullBlock.ReplaceAllString(text, "")
	text = s.headBlock.ReplaceAllString(text, "")
	text = s.tailBlock.ReplaceAllString(text, "")
	text = s.startMarker.ReplaceAllString(text, "")
	text = s.sepMarker.ReplaceAllString(text, "")
	text = s.endMarker.ReplaceAllString(text, "")

	text = s.whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// EscapeHTML 转义 HTML 标记。
//
// 在写入时调用一次，存储后的文本即是渲染安全的，读路径不再转义。
func (s *Sanitizer) EscapeHTML(text string) string {
	return html.EscapeString(text)
}

// Corrupted 判断文本是否仍残留冲突标记，用于存量数据的修复扫描。
func (s *Sanitizer) Corrupted(text string) bool {
	return strings.Contains(text, "<<<<<<< HEAD") ||
		strings.Contains(text, "=======") ||
		strings.Contains(text, ">>>>>>> ")
}

package security

import (
	"regexp"
	"strings"
)

// ContentFilter 入站邮件内容过滤器。
//
// 仅用于 SMTP 入站通道：Web 端提交的内容在写入前已经整体转义，
// 而外部投递的邮件原文需要先做一轮恶意内容与垃圾邮件检查。
type ContentFilter struct {
	maliciousPatterns []*regexp.Regexp
	spamKeywords      []string
}

// NewContentFilter 创建内容过滤器。
func NewContentFilter() *ContentFilter {
	return &ContentFilter{
		maliciousPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)onload\s*=`),
			regexp.MustCompile(`(?i)onerror\s*=`),
			regexp.MustCompile(`(?i)eval\s*\(`),
			regexp.MustCompile(`(?i)document\.cookie`),
			regexp.MustCompile(`(?i)<iframe[^>]*>`),
			regexp.MustCompile(`(?i)<object[^>]*>`),
			regexp.MustCompile(`(?i)<embed[^>]*>`),
		},
		spamKeywords: []string{
			"viagra", "casino", "lottery", "winner", "congratulations",
			"free money", "click here", "limited time", "act now",
			"guaranteed", "no risk", "earn money", "work from home",
		},
	}
}

// Allow 判断入站内容是否可以投递，拒绝时返回原因。
func (cf *ContentFilter) Allow(content string) (bool, string) {
	for _, pattern := range cf.maliciousPatterns {
		if pattern.MatchString(content) {
			return false, "malicious content detected: " + pattern.String()
		}
	}

	contentLower := strings.ToLower(content)
	spamCount := 0
	for _, keyword := range cf.spamKeywords {
		if strings.Contains(contentLower, keyword) {
			spamCount++
		}
	}
	if spamCount >= 3 {
		return false, "spam content detected: multiple spam keywords found"
	}

	return true, ""
}

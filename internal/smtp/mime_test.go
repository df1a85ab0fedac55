package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmail(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		raw := []byte("From: Carol <carol@elsewhere.com>\r\n" +
			"To: alice@roxmail.in\r\n" +
			"Subject: hello\r\n" +
			"\r\n" +
			"plain body\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "hello", parsed.Subject)
		assert.Equal(t, "carol@elsewhere.com", parsed.From)
		assert.Equal(t, "Carol", parsed.SenderName)
		assert.Contains(t, parsed.Text, "plain body")
	})

	t.Run("multipart 提取文本与 HTML", func(t *testing.T) {
		raw := []byte("From: carol@elsewhere.com\r\n" +
			"To: alice@roxmail.in\r\n" +
			"Subject: mixed\r\n" +
			"Content-Type: multipart/alternative; boundary=xyz\r\n" +
			"\r\n" +
			"--xyz\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"text version\r\n" +
			"--xyz\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"\r\n" +
			"<p>html version</p>\r\n" +
			"--xyz--\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Contains(t, parsed.Text, "text version")
		assert.Contains(t, parsed.HTML, "html version")
	})

	t.Run("附件被丢弃", func(t *testing.T) {
		raw := []byte("From: carol@elsewhere.com\r\n" +
			"Subject: with attachment\r\n" +
			"Content-Type: multipart/mixed; boundary=abc\r\n" +
			"\r\n" +
			"--abc\r\n" +
			"Content-Type: text/plain\r\n" +
			"\r\n" +
			"see attached\r\n" +
			"--abc\r\n" +
			"Content-Type: application/pdf\r\n" +
			"Content-Disposition: attachment; filename=\"doc.pdf\"\r\n" +
			"\r\n" +
			"%PDF-1.4 fake\r\n" +
			"--abc--\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Contains(t, parsed.Text, "see attached")
		assert.NotContains(t, parsed.Text, "PDF")
	})

	t.Run("RFC 2047 头部解码", func(t *testing.T) {
		raw := []byte("From: carol@elsewhere.com\r\n" +
			"Subject: =?UTF-8?B?5L2g5aW9?=\r\n" +
			"\r\n" +
			"body\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "你好", parsed.Subject)
	})

	t.Run("quoted-printable 正文解码", func(t *testing.T) {
		raw := []byte("From: carol@elsewhere.com\r\n" +
			"Subject: qp\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"Content-Transfer-Encoding: quoted-printable\r\n" +
			"\r\n" +
			"caf=C3=A9\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Contains(t, parsed.Text, "café")
	})

	t.Run("iso-2022-jp 正文转码", func(t *testing.T) {
		raw := []byte("From: carol@elsewhere.com\r\n" +
			"Subject: jis\r\n" +
			"Content-Type: text/plain; charset=iso-2022-jp\r\n" +
			"\r\n" +
			"\x1b$B$3$s$K$A$O\x1b(B\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Contains(t, parsed.Text, "こんにちは")
	})

	t.Run("euc-jp 正文转码", func(t *testing.T) {
		raw := []byte("From: carol@elsewhere.com\r\n" +
			"Subject: euc\r\n" +
			"Content-Type: text/plain; charset=euc-jp\r\n" +
			"\r\n" +
			"\xa4\xb3\xa4\xf3\xa4\xcb\xa4\xc1\xa4\xcf\r\n")

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Contains(t, parsed.Text, "こんにちは")
	})

	t.Run("损坏的头部返回错误", func(t *testing.T) {
		_, err := ParseEmail([]byte("not an email"))
		assert.Error(t, err)
	})
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "alice@roxmail.in", normalizeAddress(" <Alice@Roxmail.IN> "))
	assert.Equal(t, "bob@roxmail.in", normalizeAddress("bob@roxmail.in"))
}

func TestConnectionLimiter(t *testing.T) {
	t.Run("超过并发上限拒绝", func(t *testing.T) {
		limiter := NewConnectionLimiter(2, 100)
		assert.True(t, limiter.Acquire())
		assert.True(t, limiter.Acquire())
		assert.False(t, limiter.Acquire())

		limiter.Release()
		assert.True(t, limiter.Acquire())
	})

	t.Run("Release 不会把计数减成负数", func(t *testing.T) {
		limiter := NewConnectionLimiter(1, 100)
		limiter.Release()
		assert.Equal(t, 0, limiter.Current())
	})
}

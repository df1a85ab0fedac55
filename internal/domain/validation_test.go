package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{"常规地址", "alice@roxmail.in", true},
		{"带子域名", "alice@mail.roxmail.in", true},
		{"带数字", "alice123@roxmail.in", true},
		{"带点号", "alice.liddell@roxmail.in", true},
		{"带加号标签", "alice+tag@roxmail.in", true},
		{"缺少 @", "aliceroxmail.in", false},
		{"缺少域名", "alice@", false},
		{"缺少本地部分", "@roxmail.in", false},
		{"顶级域过短", "alice@roxmail.i", false},
		{"空地址", "", false},
		{"含空格", "alice liddell@roxmail.in", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateSubject(t *testing.T) {
	t.Run("空主题合法", func(t *testing.T) {
		assert.NoError(t, ValidateSubject(""))
	})

	t.Run("刚好到上限", func(t *testing.T) {
		assert.NoError(t, ValidateSubject(strings.Repeat("a", MaxSubjectLength)))
	})

	t.Run("超出上限报错", func(t *testing.T) {
		err := ValidateSubject(strings.Repeat("a", MaxSubjectLength+1))
		assert.Error(t, err)
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, "subject", ve.Field)
	})

	t.Run("按字符数而非字节数计", func(t *testing.T) {
		assert.NoError(t, ValidateSubject(strings.Repeat("汉", MaxSubjectLength)))
	})
}

func TestValidateBody(t *testing.T) {
	t.Run("空正文合法", func(t *testing.T) {
		assert.NoError(t, ValidateBody(""))
	})

	t.Run("超出上限报错", func(t *testing.T) {
		err := ValidateBody(strings.Repeat("a", MaxBodyLength+1))
		var ve *ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, "body", ve.Field)
	})
}

func TestMakePreview(t *testing.T) {
	t.Run("短正文原样返回", func(t *testing.T) {
		assert.Equal(t, "hello", MakePreview("hello"))
	})

	t.Run("长正文截断并追加省略号", func(t *testing.T) {
		preview := MakePreview(strings.Repeat("a", PreviewLength+10))
		assert.Equal(t, strings.Repeat("a", PreviewLength)+"...", preview)
	})

	t.Run("多字节字符不被截成半个", func(t *testing.T) {
		preview := MakePreview(strings.Repeat("汉", PreviewLength+1))
		assert.Equal(t, strings.Repeat("汉", PreviewLength)+"...", preview)
	})
}

func TestTruncateUserAgent(t *testing.T) {
	t.Run("短 UA 原样返回", func(t *testing.T) {
		assert.Equal(t, "Mozilla/5.0", TruncateUserAgent("Mozilla/5.0"))
	})

	t.Run("超长 UA 截断", func(t *testing.T) {
		ua := TruncateUserAgent(strings.Repeat("x", MaxUserAgentLength*2))
		assert.Len(t, ua, MaxUserAgentLength)
	})
}

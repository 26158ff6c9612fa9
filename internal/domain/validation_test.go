package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHandle(t *testing.T) {
	assert.Equal(t, "mailbot", NormalizeHandle("  MailBot  "))
	assert.Equal(t, "a_b_c", NormalizeHandle("A_B_C"))
}

func TestValidateHandle(t *testing.T) {
	cases := []struct {
		name    string
		address string
		want    error
	}{
		{"合法地址", "mail_bot_9", nil},
		{"最短合法长度", "abc", nil},
		{"过短", "ab", ErrAddressTooShort},
		{"过长", strings.Repeat("a", 65), ErrAddressTooLong},
		{"最长合法长度", strings.Repeat("a", 64), nil},
		{"连字符非法", "mail-bot", ErrAddressCharset},
		{"大写非法", "MailBot", ErrAddressCharset},
		{"空格非法", "mail bot", ErrAddressCharset},
		{"点号非法", "mail.bot", ErrAddressCharset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ValidateHandle(tc.address))
		})
	}
}

func TestLocalPart(t *testing.T) {
	assert.Equal(t, "mailbot", LocalPart("MailBot@bots.example.com"))
	assert.Equal(t, "mailbot", LocalPart("  mailbot@bots.example.com  "))
	assert.Equal(t, "bare", LocalPart("bare"))
	assert.Equal(t, "", LocalPart("@bots.example.com"))
	assert.Equal(t, "", LocalPart(""))
	// 只认第一个 @
	assert.Equal(t, "a", LocalPart("a@b@c"))
}

func TestQuotaDate(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)

	t.Run("配额日按 UTC 计算", func(t *testing.T) {
		// 本地已是 2 日凌晨，UTC 仍在 1 日
		local := time.Date(2026, 9, 2, 6, 0, 0, 0, loc)
		assert.Equal(t, "2026-09-01", QuotaDate(local))
	})

	t.Run("下一个 UTC 日起点", func(t *testing.T) {
		at := time.Date(2026, 9, 1, 23, 59, 59, 0, time.UTC)
		assert.Equal(t, time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC), NextUTCDay(at))
	})
}

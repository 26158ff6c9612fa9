package domain

import (
	"errors"
	"strings"
)

// 地址验证相关的错误定义
var (
	ErrAddressTooShort = errors.New("handle too short (min 3 chars)")
	ErrAddressTooLong  = errors.New("handle too long (max 64 chars)")
	ErrAddressCharset  = errors.New("handle may only contain a-z, 0-9 and underscore")
)

// 地址长度限制
const (
	MinHandleLength = 3
	MaxHandleLength = 64 // RFC 5322 本地部分上限
)

// NormalizeHandle 规范化候选地址：去除首尾空白并折叠为小写
func NormalizeHandle(candidate string) string {
	return strings.ToLower(strings.TrimSpace(candidate))
}

// ValidateHandle 验证已规范化的地址格式
//
// 规则：长度 3-64，字符集仅限 [a-z0-9_]
func ValidateHandle(address string) error {
	if len(address) < MinHandleLength {
		return ErrAddressTooShort
	}
	if len(address) > MaxHandleLength {
		return ErrAddressTooLong
	}
	for _, r := range address {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return ErrAddressCharset
		}
	}
	return nil
}

// LocalPart 提取收件地址中第一个 @ 之前的本地部分并折叠为小写
func LocalPart(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.IndexByte(address, '@'); i >= 0 {
		address = address[:i]
	}
	return strings.ToLower(address)
}

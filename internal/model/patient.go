package model

import (
	"fmt"
	"strings"
)

// FirstName はフルネームの最初の空白区切りトークンを返す。
func FirstName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// DigitsOnly は文字列から数字以外を取り除く。
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MaskPhone は電話番号の中央3桁を伏せた "(519) ***-0123" 形式を返す。
// ログ出力用。
func MaskPhone(phone string) string {
	d := DigitsOnly(phone)
	if len(d) != 10 {
		return "***"
	}
	return fmt.Sprintf("(%s) ***-%s", d[0:3], d[6:])
}

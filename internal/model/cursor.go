package model

import "strings"

// CompareCursor は2つの不透明カーソルを比較する。
// 両方が10進数文字列であれば数値として、それ以外は辞書順で比較する。
// 戻り値は a<b で負、a==b で0、a>b で正。
func CompareCursor(a, b string) int {
	if isDecimal(a) && isDecimal(b) {
		a = strings.TrimLeft(a, "0")
		b = strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

// CursorOf はメディアIDから比較用カーソルを取り出す。
// 上流のメディアIDは "<media>_<owner>" 形式のため、先頭部分を使用する。
func CursorOf(mediaID string) string {
	if i := strings.IndexByte(mediaID, '_'); i > 0 {
		return mediaID[:i]
	}
	return mediaID
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/mediahook/internal/model"
)

// ContentSanitizerService は上流メディアのキャプションとURLを表示前に安全化する。
type ContentSanitizerService interface {
	// SanitizeMedia はキャプションから全てのマークアップを除去し、
	// https以外の画像URL・リンクを空にした複製を返す。入力は変更しない。
	SanitizeMedia(items []model.MediaItem) []model.MediaItem
}

// contentSanitizer はbluemondayのStrictPolicyでキャプションをプレーンテキスト化する。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeMedia はContentSanitizerServiceを実装する。
func (s *contentSanitizer) SanitizeMedia(items []model.MediaItem) []model.MediaItem {
	out := make([]model.MediaItem, len(items))
	for i, item := range items {
		item.Caption = s.SanitizeText(item.Caption)
		item.Username = s.SanitizeText(item.Username)
		if !isHTTPS(item.ImageURL) {
			item.ImageURL = ""
		}
		if !isHTTPS(item.Link) {
			item.Link = ""
		}
		out[i] = item
	}
	return out
}

// SanitizeText はマークアップを除去したプレーンテキストを返す。
// StrictPolicyはエンティティをエスケープして返すため、最後にアンエスケープする。
func (s *contentSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

func isHTTPS(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, "https") && u.Host != ""
}

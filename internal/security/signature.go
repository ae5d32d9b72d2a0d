// Package security は通知の真正性検証と外部コンテンツの安全化を提供する。
package security

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// SignatureHeader は上流プラットフォームが署名を載せるHTTPヘッダー名。
const SignatureHeader = "X-Hub-Signature"

// Verify は生ペイロードのHMAC-SHA1署名を共有シークレットで検証する。
// 16進エンコードした計算値と提供された署名を定数時間で比較する。
// ペイロードまたは署名が空の場合は常にfalseを返す。
func Verify(rawPayload []byte, providedSignature, sharedSecret string) bool {
	if len(rawPayload) == 0 {
		return false
	}
	provided := strings.ToLower(strings.TrimSpace(providedSignature))
	// "sha1=" プレフィックス付きの形式も受け付ける
	provided = strings.TrimPrefix(provided, "sha1=")
	if provided == "" {
		return false
	}
	expected := Sign(rawPayload, sharedSecret)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Sign は生ペイロードのHMAC-SHA1署名を16進文字列で返す。
func Sign(rawPayload []byte, sharedSecret string) string {
	mac := hmac.New(sha1.New, []byte(sharedSecret))
	mac.Write(rawPayload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Package validation содержит проверки подлинности входящих данных.
package validation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignPayload возвращает HMAC-SHA256 тела запроса в шестнадцатеричном виде.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// IsValidSignature проверяет подпись, вычисленную по исходным байтам тела.
// Тело не должно разбираться и сериализоваться заново до проверки.
func IsValidSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}

	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(strings.TrimSpace(signature)), []byte(expected))
}

package gatewayhttp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignHex returns the lowercase hex HMAC-SHA256 of payload under secret.
func SignHex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHex compares signature with HMAC-SHA256(secret, payload) in constant time.
func VerifyHex(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(SignHex(secret, payload)), []byte(signature))
}

package midtrans

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureKey вычисляет подпись уведомления: hex(sha512(order_id+status_code+gross_amount+server_key)).
func SignatureKey(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature сравнивает подпись за постоянное время. Регистр hex-строки не важен.
func VerifySignature(orderID, statusCode, grossAmount, signature, serverKey string) bool {
	if signature == "" || serverKey == "" {
		return false
	}
	expected := SignatureKey(orderID, statusCode, grossAmount, serverKey)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

package predict

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// signRequest computes the maker venue's HMAC header value. The
// message is timestamp + method + path + body; the shared secret is
// URL-safe base64, as is the output.
func signRequest(secret, timestamp, method, path, body string) (string, error) {
	secretBytes, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(timestamp + method + path + body))

	return base64.URLEncoding.EncodeToString(h.Sum(nil)), nil
}

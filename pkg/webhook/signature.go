package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// verifySignature checks the signature header a sender computed over the
// raw request body against the route's shared secret. Comparison is
// constant time; unknown algorithms never verify.
func verifySignature(body string, signature string, secret string, algorithm string) bool {
	var expected string
	switch algorithm {
	case "sha256":
		expected = computeHMACSHA256(body, secret)
	case "sha1":
		expected = computeHMACSHA1(body, secret)
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// computeHMACSHA256 produces a GitHub-style "sha256=<hex>" signature.
func computeHMACSHA256(body string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(body))
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(h.Sum(nil)))
}

// computeHMACSHA1 produces the legacy "sha1=<hex>" form some senders
// still use.
func computeHMACSHA1(body string, secret string) string {
	h := hmac.New(sha1.New, []byte(secret))
	h.Write([]byte(body))
	return fmt.Sprintf("sha1=%s", hex.EncodeToString(h.Sum(nil)))
}

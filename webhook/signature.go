// Package webhook authenticates and applies configuration-update events
// from the control plane.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sign computes the hex HMAC-SHA256 signature the control plane attaches
// to webhook bodies. The HMAC key is the hex-encoded SHA-256 of the
// shared secret, not the raw secret; both sides must derive it the same
// way or signatures will never match.
func Sign(body []byte, secret string) string {
	hashedKey := sha256.Sum256([]byte(secret))
	key := []byte(hex.EncodeToString(hashedKey[:]))

	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature authenticates body under the
// shared secret. Signatures of the wrong length are rejected up front;
// equal-length comparison is constant-time so timing cannot leak the
// position of the first differing byte.
func VerifySignature(body []byte, signature, secret string) bool {
	expected := Sign(body, secret)
	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

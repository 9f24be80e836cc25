package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrSignatureInvalid is returned when signature verification fails. The
// request is rejected before the event is stored or queued.
var ErrSignatureInvalid = errors.New("webhook signature verification failed")

// VerifySignature checks an HMAC-SHA256 signature over the exact raw request
// bytes against the partner's shared secret. The header value may carry an
// optional "sha256=" prefix (any case). An empty secret means the source has
// opted out of signing and verification trivially passes; a configured secret
// with a missing signature always fails.
func VerifySignature(body []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return true
	}
	if signatureHeader == "" {
		return false
	}

	sig := signatureHeader
	if len(sig) > 7 && strings.EqualFold(sig[:7], "sha256=") {
		sig = sig[7:]
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(sig)))
}

// Sign computes the signature a partner would send for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// HashSource hashes a partner source identifier so it can travel in queue
// attributes and logs without exposing the raw value.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

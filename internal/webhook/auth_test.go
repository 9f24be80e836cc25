package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func rawHex(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"patient.updated","id":"p1"}`)
	secret := "whsec_test"

	cases := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{"bare hex", rawHex(body, secret), secret, true},
		{"sha256 prefix", "sha256=" + rawHex(body, secret), secret, true},
		{"uppercase prefix", "SHA256=" + rawHex(body, secret), secret, true},
		{"wrong secret", rawHex(body, "other"), secret, false},
		{"missing signature", "", secret, false},
		{"garbage signature", "deadbeef", secret, false},
		{"no secret configured", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifySignature(body, tc.signature, tc.secret); got != tc.want {
				t.Errorf("VerifySignature(%q, %q) = %v, want %v", tc.signature, tc.secret, got, tc.want)
			}
		})
	}
}

func TestVerifySignatureUsesRawBytes(t *testing.T) {
	body := []byte(`{"b":2,"a":1}`)
	reordered := []byte(`{"a":1,"b":2}`)
	secret := "whsec_test"

	sig := rawHex(body, secret)
	if !VerifySignature(body, sig, secret) {
		t.Error("expected signature over the exact bytes to verify")
	}
	if VerifySignature(reordered, sig, secret) {
		t.Error("expected re-serialized body to fail verification")
	}
}

func TestSignRoundTrip(t *testing.T) {
	body := []byte("payload")
	if !VerifySignature(body, Sign(body, "s"), "s") {
		t.Error("expected Sign output to verify")
	}
}

func TestHashSourceStable(t *testing.T) {
	a, b := HashSource("epic-prod"), HashSource("epic-prod")
	if a != b {
		t.Error("expected a stable hash")
	}
	if a == "epic-prod" {
		t.Error("expected the raw source id to be hidden")
	}
	if HashSource("cerner") == a {
		t.Error("expected distinct sources to hash differently")
	}
}

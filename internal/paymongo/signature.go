package paymongo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// VerifyWebhookSignature checks the Paymongo-Signature header against the raw
// request body. The header carries a timestamp and per-mode digests
// (t=...,te=...,li=...); the signed message is "<t>.<body>" and either the
// test or live digest may match.
func VerifyWebhookSignature(secret, header string, body []byte) error {
	if secret == "" {
		return errors.New("webhook secret not configured")
	}
	var ts, testSig, liveSig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "te":
			testSig = v
		case "li":
			liveSig = v
		}
	}
	if ts == "" || (testSig == "" && liveSig == "") {
		return errors.New("malformed signature header")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if hmac.Equal([]byte(want), []byte(testSig)) || hmac.Equal([]byte(want), []byte(liveSig)) {
		return nil
	}
	return errors.New("signature mismatch")
}

// Package webhook ingests meeting provider events and applies them to the live session.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries "v0=<hex digest>".
	SignatureHeader = "x-zm-signature"
	// TimestampHeader carries the unix seconds the signature was computed at.
	TimestampHeader = "x-zm-request-timestamp"

	signatureVersion = "v0"
)

var (
	ErrMissingSignature = errors.New("missing signature headers")
	ErrStaleTimestamp   = errors.New("request timestamp outside tolerance")
	ErrBadSignature     = errors.New("signature mismatch")
)

// Verifier checks provider signatures with a shared secret.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier. A zero tolerance disables the timestamp age check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// ChallengeResponse computes the hex HMAC of the provider's plain token.
func (v *Verifier) ChallengeResponse(plainToken string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(plainToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the header value for body at timestamp.
func (v *Verifier) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(signatureVersion + ":" + timestamp + ":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the raw body and timestamp.
func (v *Verifier) Verify(timestamp, signature string, body []byte) error {
	if timestamp == "" || signature == "" {
		return ErrMissingSignature
	}
	if v.tolerance > 0 {
		secs, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
		if err != nil {
			return ErrStaleTimestamp
		}
		age := v.now().Sub(time.Unix(secs, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return ErrStaleTimestamp
		}
	}
	expected := v.Sign(timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Package totp generates the 6-digit one-time codes used to claim a grant.
// Codes are derived RFC 6238 style: HMAC-SHA512 over the current 30-second
// period, keyed by the server secret plus the (grant, email) pair, with
// standard dynamic truncation down to 6 decimal digits.
package totp

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	Digits = 6
	Period = 30 * time.Second
)

// Key derives the per-identity HMAC key. Binding the grant id and email into
// the key means a code issued for one grant can never validate another.
func Key(secret, grantID, email string) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write([]byte(grantID))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(email))
	return mac.Sum(nil)
}

// Code computes the 6-digit code for the period containing now.
func Code(key []byte, now time.Time) string {
	counter := uint64(now.Unix()) / uint64(Period/time.Second)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha512.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", Digits, value%1000000)
}

// Equal compares two codes in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

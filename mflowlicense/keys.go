package mflowlicense

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"strings"
)

const (
	defaultKeyPrefix = "MFLOW"

	// macPrefixLen is the number of HMAC output bytes encoded into the key.
	// 9 bytes encode to 15 unpadded base32 characters, of which the first
	// 12 form the three 4-character key blocks.
	macPrefixLen = 9
)

// NormalizeEmail canonicalizes an email for use as a record key and as
// derivation input: trimmed and lower-cased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CanonicalKey canonicalizes a license key for comparison: trimmed and
// upper-cased. Keys must survive display and copy/paste, so the verifying
// side never depends on case or surrounding whitespace.
func CanonicalKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// DeriverOption configures a Deriver.
type DeriverOption func(*Deriver)

// WithKeyPrefix sets the literal prefix of derived keys. Default: "MFLOW".
func WithKeyPrefix(prefix string) DeriverOption {
	return func(d *Deriver) {
		d.prefix = strings.ToUpper(strings.TrimSpace(prefix))
	}
}

// Deriver mints license keys from (email, device id) pairs using
// HMAC-SHA256 with an injected secret. Derivation is deterministic and
// total: the same inputs always produce the same key, and no state is
// kept between calls. A Deriver is safe for concurrent use.
type Deriver struct {
	secret []byte
	prefix string
}

// NewDeriver creates a Deriver with the given HMAC secret. The secret is
// configuration, loaded at process start; it must not be empty.
func NewDeriver(secret []byte, opts ...DeriverOption) (*Deriver, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("key derivation secret must not be empty")
	}
	d := &Deriver{
		secret: append([]byte(nil), secret...),
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Prefix returns the literal prefix of keys minted by this Deriver.
func (d *Deriver) Prefix() string {
	return d.prefix
}

// Derive computes the license key for an email and device identifier:
// PREFIX-XXXX-XXXX-XXXX, where the X blocks are the first 12 unpadded
// base32 characters of HMAC-SHA256(secret, email|device).
func (d *Deriver) Derive(email, deviceID string) string {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(NormalizeEmail(email) + "|" + deviceID))
	digest := mac.Sum(nil)

	code := base32.StdEncoding.EncodeToString(digest[:macPrefixLen])
	code = strings.ToUpper(strings.TrimRight(code, "="))
	return fmt.Sprintf("%s-%s-%s-%s", d.prefix, code[0:4], code[4:8], code[8:12])
}

// Verify reports whether a claimed key matches the key derived for
// (email, deviceID). The comparison is constant-time over the canonical
// key bytes so verification leaks no timing signal about the expected key.
func (d *Deriver) Verify(email, claimedKey, deviceID string) bool {
	expected := []byte(d.Derive(email, deviceID))
	claimed := []byte(CanonicalKey(claimedKey))
	return subtle.ConstantTimeCompare(expected, claimed) == 1
}

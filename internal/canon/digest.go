package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests. The version suffix leaves room for an
// algorithm migration.
const (
	DomainConfig = "runlog/config/v1"
)

// DigestLength is the length of a hex-encoded digest.
const DigestLength = sha256.Size * 2

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ConfigDigest computes the fixed-length configuration digest recorded on a
// run. Two configurations that differ only in key order or whitespace produce
// the same digest.
func ConfigDigest(config any) (string, error) {
	data, err := Marshal(config)
	if err != nil {
		return "", fmt.Errorf("config digest: %w", err)
	}
	return hashWithDomain(DomainConfig, data), nil
}

// ValidDigest reports whether s has the shape of a digest produced by this
// package: DigestLength lowercase hex characters.
func ValidDigest(s string) bool {
	if len(s) != DigestLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

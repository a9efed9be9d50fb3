// Package licensekey generates and validates license keys in the
// TBR-XXXX-XXXX-XXXX-XXXX format.
package licensekey

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Alphabet is the 32-symbol key alphabet. Easily-confused characters
// (I, O, 0, 1) are excluded.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	// Prefix identifies timber inventory license keys
	Prefix = "TBR"

	segments      = 4
	segmentLength = 4
)

var keyPattern = regexp.MustCompile(`^TBR(-[A-HJ-NP-Z2-9]{4}){4}$`)

// Generate returns a new random license key
func Generate() (string, error) {
	raw := make([]byte, segments*segmentLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	var b strings.Builder
	b.WriteString(Prefix)
	for i, c := range raw {
		if i%segmentLength == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(Alphabet[int(c)%len(Alphabet)])
	}
	return b.String(), nil
}

// Valid reports whether s is a well-formed license key
func Valid(s string) bool {
	return keyPattern.MatchString(s)
}

// Normalize uppercases a key and trims surrounding whitespace so that
// client-typed keys compare equal to stored ones
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Package certcode formats certificate numbers and generates public verification codes.
package certcode

import (
	"crypto/rand"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Alphabet excludes the visually ambiguous characters 0, O, 1 and I.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCodeLength = 12
	groupSize         = 4

	PrefixCertificate = "CERT"
	PrefixTranscript  = "TRANS"
)

var certificateNumberPattern = regexp.MustCompile(`^(CERT|TRANS)-\d{4}-\d{6}$`)

// PrefixFor maps a certificate type to its number prefix.
func PrefixFor(certType string) string {
	if strings.EqualFold(certType, "transcript") {
		return PrefixTranscript
	}
	return PrefixCertificate
}

// CertificateNumber renders {PREFIX}-{year}-{sequence:06d}. It does not guarantee uniqueness;
// the sequence must come from a single atomic counter.
func CertificateNumber(prefix string, year int, sequence int64) string {
	return fmt.Sprintf("%s-%d-%06d", strings.ToUpper(prefix), year, sequence)
}

// IsCertificateNumber reports whether input looks like a certificate number.
func IsCertificateNumber(input string) bool {
	return certificateNumberPattern.MatchString(strings.ToUpper(strings.TrimSpace(input)))
}

// Generator draws verification codes from a random source.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a generator backed by crypto/rand. A nil reader uses crypto/rand.
func NewGenerator(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

// VerificationCode returns a code of length characters grouped in hyphenated blocks of four.
func (g *Generator) VerificationCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultCodeLength
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	raw := make([]byte, length)
	for i, b := range buf {
		// len(Alphabet) divides 256 so the modulo is unbiased.
		raw[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return group(string(raw)), nil
}

var defaultGenerator = NewGenerator(nil)

// VerificationCode generates a code using crypto/rand.
func VerificationCode(length int) (string, error) {
	return defaultGenerator.VerificationCode(length)
}

// NormalizeCode uppercases input, drops whitespace and hyphens, and regroups into blocks of four.
func NormalizeCode(input string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(input) {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '_', '\u2010', '\u2011', '\u2012', '\u2013', '\u2014':
			continue
		}
		b.WriteRune(r)
	}
	return group(b.String())
}

// ValidCode reports whether a normalized code only uses the alphabet and has complete groups.
func ValidCode(code string) bool {
	if code == "" {
		return false
	}
	raw := strings.ReplaceAll(code, "-", "")
	if len(raw) == 0 || len(raw)%groupSize != 0 {
		return false
	}
	for _, r := range raw {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return group(raw) == code
}

func group(raw string) string {
	if len(raw) <= groupSize {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw) + len(raw)/groupSize)
	for i := 0; i < len(raw); i++ {
		if i > 0 && i%groupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

package service

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
)

// Crockford base32: no I, L, O or U, so codes survive being read aloud.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// newGiftCardCode returns GC-XXXX-XXXX-XXXX carrying 60 random bits.
func newGiftCardCode() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating gift card code: %w", err)
	}
	n := binary.BigEndian.Uint64(buf[:])

	var b strings.Builder
	b.Grow(17)
	b.WriteString("GC")
	for i := range 12 {
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(crockford[n&31])
		n >>= 5
	}
	return b.String(), nil
}

// normalizeCode upper-cases a code and maps the Crockford look-alikes.
func normalizeCode(code string) string {
	return strings.NewReplacer("O", "0", "I", "1", "L", "1").Replace(strings.ToUpper(strings.TrimSpace(code)))
}

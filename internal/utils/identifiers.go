package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

// No 0/O/1/I so numbers survive being read over the phone.
const orderAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const maxTrackingLength = 20

// NewOrderNumber returns PREFIX-YYMMDD-XXXXXX. Uniqueness is enforced by the
// database; callers regenerate on a unique violation.
func NewOrderNumber(prefix string, now time.Time) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = "ORD"
	}
	return prefix + "-" + now.Format("060102") + "-" + randomString(orderAlphabet, 6)
}

// NewTrackingNumber builds a NinjaVan requested tracking number: the shipper
// prefix followed by random digits, capped at 20 characters.
func NewTrackingNumber(prefix string) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	digits := maxTrackingLength - len(prefix)
	if digits > 10 {
		digits = 10
	}
	return prefix + randomString("0123456789", digits)
}

func randomString(alphabet string, n int) string {
	var sb strings.Builder
	sb.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		sb.WriteByte(alphabet[idx.Int64()])
	}
	return sb.String()
}

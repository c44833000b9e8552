package order

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint derives the idempotency key for order creation from the user,
// the cart contents, and the coupon. Retried createOrder calls with an
// unchanged cart produce the same key and hit the repository's uniqueness
// constraint instead of creating a second order. Item order is canonicalized
// so the key does not depend on cart iteration order.
func Fingerprint(userID string, items []Item, couponCode string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = fmt.Sprintf("%s:%d:%s", item.CourseID, item.Quantity, item.UnitPrice)
	}
	sort.Strings(lines)

	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{'\n'})
	h.Write([]byte(strings.Join(lines, "\n")))
	h.Write([]byte{'\n'})
	h.Write([]byte(couponCode))
	return hex.EncodeToString(h.Sum(nil))
}

package hash

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/shopspring/decimal"
)

// GenesisSentinel is the previous_hash carried by the first ledger entry.
const GenesisSentinel = "GENESIS"

// Fingerprint pseudonymizes a citizen identifier with an unsalted SHA-256.
// The same citizen always maps to the same fingerprint; auditing relies on
// that linkability, so no salt is added.
func Fingerprint(citizenID string) string {
	sum := sha256.Sum256([]byte(citizenID))
	return hex.EncodeToString(sum[:])
}

// CanonicalAmount renders an amount as the exact string hashed into ledger
// entries: integral values without a decimal point, fractional values in
// their minimal decimal form. A verifier must reproduce this string byte for
// byte to agree with the producer.
func CanonicalAmount(amount decimal.Decimal) string {
	if amount.IsInteger() {
		return amount.Truncate(0).String()
	}
	return amount.String()
}

// EntryHash computes the chained hash of a ledger entry from its fields in
// fixed concatenation order.
func EntryHash(timestamp, fingerprint, schemeID string, amount decimal.Decimal, previousHash string) string {
	record := timestamp + fingerprint + schemeID + CanonicalAmount(amount) + previousHash
	sum := sha256.Sum256([]byte(record))
	return hex.EncodeToString(sum[:])
}

// Truncate shortens a hex digest for display, appending an ellipsis. Digests
// shorter than n are returned unchanged.
func Truncate(digest string, n int) string {
	if len(digest) <= n {
		return digest
	}
	return digest[:n] + "..."
}

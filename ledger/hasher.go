package ledger

import "unicode/utf16"

// BucketCount is the number of vote buckets a poll's ledger is sharded into.
const BucketCount = 50

// Bucket maps a voter identity to its bucket in [0, BucketCount).
// The hash is the sum of the identity's UTF-16 code units, so an identity
// always lands in the same bucket for every poll.
func Bucket(identity string) int {
	sum := 0
	for _, unit := range utf16.Encode([]rune(identity)) {
		sum += int(unit)
	}
	return sum % BucketCount
}

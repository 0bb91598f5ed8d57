package service

import (
	"context"
	"strconv"
	"strings"
)

// BatchNumberPrefix is the counter prefix used for generated batch numbers
const BatchNumberPrefix = "BN"

// batchNumberWidth is the minimum number of base36 digits in a batch number
const batchNumberWidth = 6

// SequenceGenerator turns counter values into compact identifiers
type SequenceGenerator struct {
	counters CounterStore
}

// NewSequenceGenerator creates a new sequence generator
func NewSequenceGenerator(counters CounterStore) *SequenceGenerator {
	return &SequenceGenerator{counters: counters}
}

// Next returns the next identifier for prefix, e.g. BN-00000A.
func (g *SequenceGenerator) Next(ctx context.Context, prefix string) (string, error) {
	n, err := g.counters.Next(ctx, prefix)
	if err != nil {
		return "", err
	}
	return FormatSequence(prefix, n), nil
}

// FormatSequence renders n as upper-case base36, left-padded with zeros.
// Values wider than the padding are kept whole, so ordering by counter value
// is preserved but lexical ordering is only guaranteed up to 36^6-1.
func FormatSequence(prefix string, n int64) string {
	digits := strings.ToUpper(strconv.FormatInt(n, 36))
	if len(digits) < batchNumberWidth {
		digits = strings.Repeat("0", batchNumberWidth-len(digits)) + digits
	}
	return prefix + "-" + digits
}

// Package natsort provides the natural ordering used for sorting search
// results and paginating stored records. Runs of digits compare by numeric
// value, so "item9" sorts before "item10".
package natsort

import (
	"fmt"
	"strconv"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Collator compares strings naturally. It is not safe for concurrent use;
// create one per sort.
type Collator struct {
	c *collate.Collator
}

// New creates a natural-order collator.
func New() *Collator {
	return &Collator{c: collate.New(language.Und, collate.Numeric, collate.IgnoreCase)}
}

// Compare returns -1, 0 or 1 comparing a and b in natural order. Nil values
// compare as the empty string.
func (n *Collator) Compare(a, b any) int {
	return n.c.CompareString(String(a), String(b))
}

// Compare is a convenience for one-off comparisons.
func Compare(a, b any) int {
	return New().Compare(a, b)
}

// String renders a field value for comparison.
func String(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

package reconcile

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var quantityPattern = regexp.MustCompile(`(?i)([-+]?\d+(?:,\d{3})*(?:\.\d+)?)\s*(%|percent\b|per cent\b|percentage points?\b|trillion\b|billion\b|million\b|thousand\b|tn\b|bn\b|mln\b|mn\b|[kmbt]\b)?`)

var scales = map[string]float64{
	"thousand": 1e3, "k": 1e3,
	"million": 1e6, "mn": 1e6, "mln": 1e6, "m": 1e6,
	"billion": 1e9, "bn": 1e9, "b": 1e9,
	"trillion": 1e12, "tn": 1e12, "t": 1e12,
}

// quantity is the numeric reading of a metric string
type quantity struct {
	value   float64 // scaled, absolute
	base    float64 // as written, absolute
	scaled  bool
	percent bool
}

// parseQuantity reads the first number in s with its unit, e.g.
// "$123.5B" -> 123.5e9 and "8.2 percent" -> 8.2%
func parseQuantity(s string) (quantity, bool) {
	m := quantityPattern.FindStringSubmatch(s)
	if m == nil {
		return quantity{}, false
	}

	base, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return quantity{}, false
	}
	base = math.Abs(base)

	q := quantity{value: base, base: base}
	unit := strings.ToLower(m[2])
	switch {
	case unit == "%" || strings.HasPrefix(unit, "percent") || unit == "per cent":
		q.percent = true
	case unit != "":
		if scale, ok := scales[unit]; ok {
			q.value = base * scale
			q.scaled = true
		}
	}
	return q, true
}

// matches reports whether two readings denote the same amount. An unscaled
// number also matches the written figure of a scaled one, so "123.5" agrees
// with "$123.5 billion".
func (q quantity) matches(other quantity) bool {
	if q.percent != other.percent {
		return false
	}
	if approxEqual(q.value, other.value) {
		return true
	}
	if !q.scaled || !other.scaled {
		return approxEqual(q.base, other.base)
	}
	return false
}

func approxEqual(a, b float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	largest := math.Max(math.Abs(a), math.Abs(b))
	return diff <= largest*0.005
}

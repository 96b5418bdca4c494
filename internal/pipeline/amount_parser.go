package pipeline

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// displayAmount matches display formatting such as "$1,200.50", "USD 900" or
// "900 EUR": one optional currency symbol or upper-case ISO code on either
// side of a number with thousands separators.
var displayAmount = regexp.MustCompile(`^(?:[$€£]|[A-Z]{3})?\s*([-0-9][-0-9.,_ ]*)\s*(?:[$€£]|[A-Z]{3})?$`)

// parseAmount reads a CRM amount string as decimal currency units. Anything
// unparsable, out of range, negative or non-finite reads as 0.
func parseAmount(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}

	v, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return sanitizeAmount(v)
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0
	}

	m := displayAmount.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	num := strings.NewReplacer(",", "", "_", "", " ", "").Replace(m[1])
	v, err = strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return sanitizeAmount(v)
}

func sanitizeAmount(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

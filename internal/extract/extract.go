// Package extract holds the pure, stateless translators that compute
// attribute values from source nodes. Nothing here touches the store or
// participates in staging; the engine calls these during discovery and
// stores the outputs as node attributes.
package extract

import (
	"fmt"
	"strconv"
	"strings"
)

// LotRoot derives the root lot identifier of a lot number. Sub-lots are
// suffixed with a dash-separated split code ("A1234-01" belongs to root
// "A1234"); a number without a split code is its own root.
func LotRoot(lotNumber string) string {
	n := strings.TrimSpace(lotNumber)
	if i := strings.LastIndex(n, "-"); i > 0 {
		suffix := n[i+1:]
		if suffix != "" && isDigits(suffix) {
			return n[:i]
		}
	}
	return n
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Ratio is a parsed measurement ratio such as "30 mg/5 mL".
type Ratio struct {
	NumeratorValue   float64
	NumeratorUnit    string
	DenominatorValue float64
	DenominatorUnit  string
}

// ParseRatio parses a "value unit/value unit" measurement string. The
// denominator may omit its value ("30 mg/mL" means per 1 mL).
func ParseRatio(s string) (Ratio, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return Ratio{}, fmt.Errorf("ratio %q: missing '/'", s)
	}

	nv, nu, err := parseQuantity(parts[0])
	if err != nil {
		return Ratio{}, fmt.Errorf("ratio %q numerator: %w", s, err)
	}
	dv, du, err := parseQuantity(parts[1])
	if err != nil {
		return Ratio{}, fmt.Errorf("ratio %q denominator: %w", s, err)
	}
	if du == "" {
		return Ratio{}, fmt.Errorf("ratio %q: denominator has no unit", s)
	}
	return Ratio{NumeratorValue: nv, NumeratorUnit: nu, DenominatorValue: dv, DenominatorUnit: du}, nil
}

// parseQuantity splits "30 mg" into value and unit. A bare unit gets the
// implicit value 1.
func parseQuantity(s string) (float64, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", fmt.Errorf("empty quantity")
	}

	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == '-') {
		i++
	}
	numPart := s[:i]
	unit := strings.TrimSpace(s[i:])

	if numPart == "" {
		return 1, unit, nil
	}
	v, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, "", fmt.Errorf("bad value %q: %w", numPart, err)
	}
	return v, unit, nil
}

// SubstanceCode normalizes a substance identifier for use as a reference
// natural key: registry codes are uppercased with internal whitespace
// removed; when no code is present the normalized name is used instead.
func SubstanceCode(code, name string) string {
	c := strings.ToUpper(strings.Join(strings.Fields(code), ""))
	if c != "" {
		return c
	}
	return strings.ToUpper(strings.Join(strings.Fields(name), " "))
}

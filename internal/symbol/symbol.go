// Package symbol handles ticker symbol normalization and validation.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// symbolRegex matches: {root}[.{class or venue}][-{series}]
// Examples: AAPL, BRK.B, VOD.L, BF-B
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}([.\-][A-Z0-9]{1,4})?$`)

// ErrInvalidSymbol is returned for tickers that do not match the accepted form.
var ErrInvalidSymbol = errors.New("symbol: invalid ticker")

// Normalize trims and upper-cases raw and validates the result.
func Normalize(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected e.g. AAPL or BRK.B)", ErrInvalidSymbol, raw)
	}
	return s, nil
}

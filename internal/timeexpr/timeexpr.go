// Package timeexpr resolves the time expressions accepted at the API boundary:
// relative offsets of the form -<N>{s,m,h,d}, or absolute ISO-8601 instants
// with a UTC designator. Every query resolves its expressions exactly once
// against a single "now" so sub-queries of one request agree on the clock.
package timeexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iotflow/tierflow/internal/domain"
)

// Default start expressions. DefaultRange backs single-device range queries,
// DefaultUserRange backs user-scoped multi-device queries.
const (
	DefaultRange     = "-1h"
	DefaultUserRange = "-24h"
)

var units = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// Resolve turns expr into an absolute UTC instant relative to now. An empty
// expr resolves to now itself, so "end defaults to now" falls out of the same
// path as explicit expressions.
func Resolve(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "now" {
		return now.UTC(), nil
	}

	if strings.HasPrefix(expr, "-") {
		d, err := parseRelative(expr[1:])
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(-d).UTC(), nil
	}

	t, err := time.Parse(time.RFC3339, expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimeExpression, expr)
	}
	return t.UTC(), nil
}

// ResolveOr resolves expr, substituting fallback when expr is empty.
func ResolveOr(expr, fallback string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(expr) == "" {
		expr = fallback
	}
	return Resolve(expr, now)
}

func parseRelative(body string) (time.Duration, error) {
	if len(body) < 2 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidTimeExpression, "-"+body)
	}

	unit, ok := units[body[len(body)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit in %q", domain.ErrInvalidTimeExpression, "-"+body)
	}

	n, err := strconv.Atoi(body[:len(body)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: offset must be a positive integer in %q", domain.ErrInvalidTimeExpression, "-"+body)
	}

	return time.Duration(n) * unit, nil
}

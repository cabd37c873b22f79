package address

import (
	"context"
	"regexp"
	"strings"
)

var zipRe = regexp.MustCompile(`\b\d{5}\b`)

// StaticValidator accepts any address that carries a street fragment and a
// five-digit zip. It exists for tests and for deployments without an
// upstream validation key.
type StaticValidator struct{}

func (StaticValidator) Validate(_ context.Context, addr string) (*Result, error) {
	trimmed := strings.TrimSpace(addr)
	zip := zipRe.FindString(trimmed)
	return &Result{
		Formatted: trimmed,
		ZipCode:   zip,
		Valid:     zip != "" && len(trimmed) > len(zip),
	}, nil
}

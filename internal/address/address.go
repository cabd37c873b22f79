// Package address validates and normalizes free-text service addresses.
package address

import "context"

// Result is the normalized form of a validated address.
type Result struct {
	Formatted string
	ZipCode   string
	Latitude  float64
	Longitude float64
	Valid     bool
}

// Validator checks a candidate address and returns its canonical form.
type Validator interface {
	Validate(ctx context.Context, addr string) (*Result, error)
}
